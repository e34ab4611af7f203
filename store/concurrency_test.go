package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jacentio/lattice/cache"
	"github.com/jacentio/lattice/driver/memory"
	"github.com/jacentio/lattice/lock"
	"github.com/jacentio/lattice/store"
)

// coldCache holds the first two LRange reads of one key until both
// readers have seen the empty cache, forcing the cold-read interleaving.
type coldCache struct {
	cache.Cache
	key     string
	reads   atomic.Int32
	arrived chan struct{}
	release chan struct{}
}

func (c *coldCache) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if key == c.key && c.reads.Add(1) <= 2 {
		c.arrived <- struct{}{}
		<-c.release
	}
	return c.Cache.LRange(ctx, key, start, stop)
}

func fastLockWorld(t *testing.T, c cache.Cache) *store.Store {
	t.Helper()
	registry := testRegistry(t)
	locks := lock.New(c, lock.Config{
		TTL:          time.Second,
		PollInterval: time.Millisecond,
		MaxWait:      5 * time.Second,
	}, nil)
	return store.New(store.Options{
		Driver:   memory.New(registry),
		Registry: registry,
		Locks:    locks,
		Cache:    c,
		Config:   store.DefaultConfig(),
	})
}

func TestGetEdges_ConcurrentColdReads(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory()
	gate := &coldCache{Cache: mem, arrived: make(chan struct{}, 2), release: make(chan struct{})}
	s := fastLockWorld(t, gate)

	post, err := s.CreateObject(ctx, "post", store.Object{"title": "t"}, author)
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	comment, err := s.CreateObject(ctx, "comment", store.Object{"text": "one"}, author)
	if err != nil {
		t.Fatalf("create comment: %v", err)
	}
	postID := post["id"].(string)
	commentID := comment["id"].(string)
	gate.key = "edges_" + postID + "_comments"
	if err := s.CreateEdge(ctx, postID, "comments", commentID); err != nil {
		t.Fatalf("create edge: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dsts, gerr := s.GetEdges(ctx, postID, "comments")
			if gerr != nil {
				t.Errorf("get edges: %v", gerr)
				return
			}
			if len(dsts) != 1 || dsts[0] != commentID {
				t.Errorf("expected [%s], got %v", commentID, dsts)
			}
		}()
	}
	<-gate.arrived
	<-gate.arrived
	close(gate.release)
	wg.Wait()

	// Both readers fetched from the driver, but only one populated the
	// index, so the cached list holds each destination exactly once.
	cached, err := mem.LRange(ctx, gate.key, 0, -1)
	if err != nil {
		t.Fatalf("lrange: %v", err)
	}
	if len(cached) != 1 || cached[0] != commentID {
		t.Errorf("expected single cached destination, got %v", cached)
	}
	dsts, err := s.GetEdges(ctx, postID, "comments")
	if err != nil {
		t.Fatalf("get edges: %v", err)
	}
	if len(dsts) != 1 || dsts[0] != commentID {
		t.Errorf("expected [%s] on warm read, got %v", commentID, dsts)
	}
}

func TestApplyCounterDeltas_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := fastLockWorld(t, cache.NewMemory())

	obj, err := s.CreateObject(ctx, "post", store.Object{"title": "t", "score": 5}, author)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := obj["id"].(string)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		delta, iters := int64(1), 8
		if i%2 == 1 {
			delta, iters = -1, 3
		}
		wg.Add(1)
		go func(delta int64, iters int) {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				if _, derr := s.ApplyCounterDeltas(ctx, id, map[string]int64{"score": delta}); derr != nil {
					t.Errorf("deltas: %v", derr)
					return
				}
			}
		}(delta, iters)
	}
	wg.Wait()

	got, err := s.GetObject(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// 5 + 4*8 - 4*3 with no lost update.
	if got["score"] != int64(25) {
		t.Errorf("expected score 25, got %v", got["score"])
	}
}
