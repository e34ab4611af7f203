package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jacentio/lattice/cache"
	"github.com/jacentio/lattice/errs"
	"github.com/jacentio/lattice/ident"
	"github.com/jacentio/lattice/lock"
	"github.com/jacentio/lattice/schema"
)

// Store is the persistence orchestrator. It validates payloads, fills
// defaults, enforces uniqueness, serializes conflicting writes through
// the distributed lock manager, delegates to the storage driver, and
// emits change events after every successful mutation.
type Store struct {
	driver   Driver
	registry *schema.Registry
	locks    *lock.Manager
	events   *Dispatcher
	cache    cache.Cache
	config   Config
	logger   *slog.Logger
}

// Options configures a Store.
type Options struct {
	Driver   Driver
	Registry *schema.Registry
	Locks    *lock.Manager
	Events   *Dispatcher
	Cache    cache.Cache
	Config   Config
	Logger   *slog.Logger
}

// New creates a Store.
func New(opts Options) *Store {
	opts.Config.validate()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := opts.Events
	if events == nil {
		events = NewDispatcher(logger)
	}
	locks := opts.Locks
	if locks == nil {
		// Process-local fallback; production wiring passes a manager
		// over the shared cache.
		c := opts.Cache
		if c == nil {
			c = cache.NewMemory()
		}
		locks = lock.New(c, lock.DefaultConfig(), logger)
	}
	return &Store{
		driver:   opts.Driver,
		registry: opts.Registry,
		locks:    locks,
		events:   events,
		cache:    opts.Cache,
		config:   opts.Config,
		logger:   logger,
	}
}

// Events returns the change-event dispatcher.
func (s *Store) Events() *Dispatcher {
	return s.events
}

// Registry returns the schema registry.
func (s *Store) Registry() *schema.Registry {
	return s.registry
}

// typeOf resolves an id to its object type via the trailing code.
func (s *Store) typeOf(id string) (*schema.Type, error) {
	code, err := ident.Code(id)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeInvalidID, "invalid object id %q", id)
	}
	t, ok := s.registry.TypeByCode(code)
	if !ok {
		return nil, errs.New(errs.CodeUnknownType, "no object type for id code %q", code)
	}
	return t, nil
}

// CreateObject creates a new object: defaults are filled, the payload is
// dry-validated, unique values are reserved, the driver assigns the id,
// and a POST event is emitted.
func (s *Store) CreateObject(ctx context.Context, objectType string, payload Object, author *schema.Author) (Object, error) {
	t, ok := s.registry.Type(objectType)
	if !ok {
		return nil, errs.New(errs.CodeUnknownType, "unknown object type %q", objectType)
	}

	obj := make(Object, len(payload)+4)
	for k, v := range payload {
		obj[k] = v
	}

	// Defaults fill in field-name order so a DefaultFunc reading a
	// sibling defaulted field sees a deterministic view.
	names := make([]string, 0, len(t.Fields))
	for name := range t.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f := t.Fields[name]
		if f.Default == nil {
			continue
		}
		if v, present := obj[name]; present && v != nil {
			continue
		}
		obj[name] = f.Default(obj, author)
	}

	if err := s.validateObject(t, obj, false); err != nil {
		return nil, err
	}

	reserved, err := s.reserveUniques(ctx, t, obj)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	obj[schema.FieldObjectType] = objectType
	obj[schema.FieldCreatedAt] = now
	obj[schema.FieldUpdatedAt] = now

	var created Object
	err = s.withRetry(ctx, "create_object", func(ctx context.Context) error {
		var cerr error
		created, cerr = s.driver.CreateObject(ctx, objectType, obj)
		return cerr
	})
	if err != nil {
		s.releaseUniques(ctx, t.Name, reserved)
		if code := errs.Code(err); code != errs.CodeInternal && code != errs.CodeStorageFailed {
			return nil, err
		}
		return nil, errs.Wrap(err, errs.CodeCreationFailed, "failed to create %q object", objectType)
	}

	s.events.Dispatch(ctx, ChangeEvent{
		Method:  schema.MethodPost,
		Kind:    KindObject,
		Path:    objectType,
		Current: created,
	})
	return created, nil
}

// GetObject fetches an object by id.
func (s *Store) GetObject(ctx context.Context, id string) (Object, error) {
	if _, err := s.typeOf(id); err != nil {
		return nil, err
	}
	var obj Object
	err := s.withRetry(ctx, "get_object", func(ctx context.Context) error {
		var gerr error
		obj, gerr = s.driver.GetObject(ctx, id)
		return gerr
	})
	return obj, err
}

// UpdateObject applies a partial update: the payload is dry-validated,
// changed unique values transition atomically-per-field, the driver
// merges, and a PATCH event with both snapshots is emitted. The whole
// read-then-write runs under the object's distributed lock.
func (s *Store) UpdateObject(ctx context.Context, id string, partial Object) (Object, error) {
	t, err := s.typeOf(id)
	if err != nil {
		return nil, err
	}
	for name := range partial {
		if schema.IsFixedField(name) {
			return nil, errs.New(errs.CodeFieldUneditable, "field %q is not editable", name)
		}
	}
	if err := s.validateObject(t, partial, true); err != nil {
		return nil, err
	}

	var updated Object
	err = s.locks.WithLock(ctx, id, func(ctx context.Context) error {
		prev, gerr := s.fetch(ctx, id)
		if gerr != nil {
			return gerr
		}

		if uerr := s.transitionUniques(ctx, t, prev, partial); uerr != nil {
			return uerr
		}

		merge := make(Object, len(partial)+1)
		for k, v := range partial {
			merge[k] = v
		}
		merge[schema.FieldUpdatedAt] = time.Now().UTC().Format(time.RFC3339)

		werr := s.withRetry(ctx, "update_object", func(ctx context.Context) error {
			var uerr error
			updated, uerr = s.driver.UpdateObject(ctx, id, merge)
			return uerr
		})
		if werr != nil {
			if code := errs.Code(werr); code != errs.CodeInternal && code != errs.CodeStorageFailed {
				return werr
			}
			return errs.Wrap(werr, errs.CodeUpdateFailed, "failed to update object %q", id)
		}

		s.events.Dispatch(ctx, ChangeEvent{
			Method:   schema.MethodPatch,
			Kind:     KindObject,
			Path:     t.Name,
			Previous: prev,
			Current:  updated,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ReplaceObject overwrites an object with full-document semantics,
// preserving id, type, and creation time.
func (s *Store) ReplaceObject(ctx context.Context, id string, payload Object) (Object, error) {
	t, err := s.typeOf(id)
	if err != nil {
		return nil, err
	}
	if err := s.validateObject(t, payload, false); err != nil {
		return nil, err
	}

	var replaced Object
	err = s.locks.WithLock(ctx, id, func(ctx context.Context) error {
		prev, gerr := s.fetch(ctx, id)
		if gerr != nil {
			return gerr
		}

		if uerr := s.transitionUniques(ctx, t, prev, payload); uerr != nil {
			return uerr
		}
		// Unique values dropped by the replacement are released.
		for field, oldValue := range s.uniqueValues(t, prev) {
			if _, stillSet := payload[field]; stillSet {
				continue
			}
			if rerr := s.driver.RemoveUnique(ctx, t.Name, field, oldValue); rerr != nil {
				s.logger.Warn("failed to release unique value",
					"type", t.Name,
					"field", field,
					"error", rerr,
				)
			}
		}

		obj := make(Object, len(payload)+4)
		for k, v := range payload {
			obj[k] = v
		}
		obj[schema.FieldID] = id
		obj[schema.FieldObjectType] = t.Name
		obj[schema.FieldCreatedAt] = prev[schema.FieldCreatedAt]
		obj[schema.FieldUpdatedAt] = time.Now().UTC().Format(time.RFC3339)

		werr := s.withRetry(ctx, "replace_object", func(ctx context.Context) error {
			var rerr error
			replaced, rerr = s.driver.ReplaceObject(ctx, id, obj)
			return rerr
		})
		if werr != nil {
			if code := errs.Code(werr); code != errs.CodeInternal && code != errs.CodeStorageFailed {
				return werr
			}
			return errs.Wrap(werr, errs.CodeUpdateFailed, "failed to replace object %q", id)
		}

		s.events.Dispatch(ctx, ChangeEvent{
			Method:   schema.MethodPatch,
			Kind:     KindObject,
			Path:     t.Name,
			Previous: prev,
			Current:  replaced,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return replaced, nil
}

// DeleteObject soft-deletes an object: its unique values are released,
// deleted_at is set, and a DELETE event with both snapshots is emitted.
// The object is never physically removed here.
func (s *Store) DeleteObject(ctx context.Context, id string) (Object, error) {
	t, err := s.typeOf(id)
	if err != nil {
		return nil, err
	}

	var deleted Object
	err = s.locks.WithLock(ctx, id, func(ctx context.Context) error {
		prev, gerr := s.fetch(ctx, id)
		if gerr != nil {
			return gerr
		}

		for field, value := range s.uniqueValues(t, prev) {
			if rerr := s.driver.RemoveUnique(ctx, t.Name, field, value); rerr != nil {
				s.logger.Warn("failed to release unique value",
					"type", t.Name,
					"field", field,
					"error", rerr,
				)
			}
		}

		now := time.Now().UTC().Format(time.RFC3339)
		werr := s.withRetry(ctx, "delete_object", func(ctx context.Context) error {
			var derr error
			deleted, derr = s.driver.UpdateObject(ctx, id, Object{
				schema.FieldDeletedAt: now,
				schema.FieldUpdatedAt: now,
			})
			return derr
		})
		if werr != nil {
			if code := errs.Code(werr); code != errs.CodeInternal && code != errs.CodeStorageFailed {
				return werr
			}
			return errs.Wrap(werr, errs.CodeDeletionFailed, "failed to delete object %q", id)
		}

		s.events.Dispatch(ctx, ChangeEvent{
			Method:   schema.MethodDelete,
			Kind:     KindObject,
			Path:     t.Name,
			Previous: prev,
			Current:  deleted,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// QueryObjects scans objects of a type one page at a time.
func (s *Store) QueryObjects(ctx context.Context, objectType string, projection []string, afterCursor string) (*Page, error) {
	if _, ok := s.registry.Type(objectType); !ok {
		return nil, errs.New(errs.CodeUnknownType, "unknown object type %q", objectType)
	}
	var page *Page
	err := s.withRetry(ctx, "query_objects", func(ctx context.Context) error {
		var qerr error
		page, qerr = s.driver.QueryObjects(ctx, objectType, projection, afterCursor)
		return qerr
	})
	return page, err
}

// fetch gets an object through the retry wrapper.
func (s *Store) fetch(ctx context.Context, id string) (Object, error) {
	var obj Object
	err := s.withRetry(ctx, "get_object", func(ctx context.Context) error {
		var gerr error
		obj, gerr = s.driver.GetObject(ctx, id)
		return gerr
	})
	return obj, err
}

// uniqueValues extracts the present unique field values of an object as
// reservation strings.
func (s *Store) uniqueValues(t *schema.Type, obj Object) map[string]string {
	values := make(map[string]string)
	for name, f := range t.Fields {
		if !f.Unique {
			continue
		}
		if v, ok := obj[name]; ok && v != nil {
			values[name] = fmt.Sprint(v)
		}
	}
	return values
}

// reserveUniques reserves every unique value in obj. On conflict the
// reservations made so far are rolled back.
func (s *Store) reserveUniques(ctx context.Context, t *schema.Type, obj Object) (map[string]string, error) {
	reserved := make(map[string]string)
	for field, value := range s.uniqueValues(t, obj) {
		if err := s.driver.AddUnique(ctx, t.Name, field, value); err != nil {
			s.releaseUniques(ctx, t.Name, reserved)
			if errs.Is(err, errs.CodeUniqueField) {
				return nil, errs.Wrap(err, errs.CodeUniqueField, "value for unique field %q is already in use", field)
			}
			return nil, err
		}
		reserved[field] = value
	}
	return reserved, nil
}

// releaseUniques best-effort releases a set of reservations.
func (s *Store) releaseUniques(ctx context.Context, objectType string, reserved map[string]string) {
	for field, value := range reserved {
		if err := s.driver.RemoveUnique(ctx, objectType, field, value); err != nil {
			s.logger.Warn("failed to release unique value",
				"type", objectType,
				"field", field,
				"error", err,
			)
		}
	}
}

// transitionUniques reserves new unique values present in next and
// releases the old ones they replace. Unchanged values keep their
// reservation.
func (s *Store) transitionUniques(ctx context.Context, t *schema.Type, prev, next Object) error {
	prevValues := s.uniqueValues(t, prev)
	for field, newValue := range s.uniqueValues(t, next) {
		oldValue, had := prevValues[field]
		if had && oldValue == newValue {
			continue
		}
		if err := s.driver.AddUnique(ctx, t.Name, field, newValue); err != nil {
			if errs.Is(err, errs.CodeUniqueField) {
				return errs.Wrap(err, errs.CodeUniqueField, "value for unique field %q is already in use", field)
			}
			return err
		}
		if had {
			if err := s.driver.RemoveUnique(ctx, t.Name, field, oldValue); err != nil {
				s.logger.Warn("failed to release unique value",
					"type", t.Name,
					"field", field,
					"error", err,
				)
			}
		}
	}
	// Explicitly nulling a unique field clears the value, so its
	// reservation is released as well.
	for field, oldValue := range prevValues {
		if v, present := next[field]; !present || v != nil {
			continue
		}
		if err := s.driver.RemoveUnique(ctx, t.Name, field, oldValue); err != nil {
			s.logger.Warn("failed to release unique value",
				"type", t.Name,
				"field", field,
				"error", err,
			)
		}
	}
	return nil
}
