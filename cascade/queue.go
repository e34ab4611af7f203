package cascade

import (
	"context"
	"sync"
)

// pool is a fixed-worker task queue whose backlog is unbounded, so a
// running task can always schedule more work without blocking a worker.
// Drain waits for the queue to empty including dynamically-added tasks.
type pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func(context.Context)
	wg     sync.WaitGroup
	closed bool
}

func newPool(workers int) *pool {
	p := &pool{}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *pool) worker() {
	for {
		p.mu.Lock()
		for len(p.tasks) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed && len(p.tasks) == 0 {
			p.mu.Unlock()
			return
		}
		task := p.tasks[0]
		p.tasks = p.tasks[1:]
		p.mu.Unlock()

		task(context.Background())
		p.wg.Done()
	}
}

// schedule enqueues a task. Safe to call from inside a running task.
func (p *pool) schedule(task func(context.Context)) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.tasks = append(p.tasks, task)
	p.cond.Signal()
	p.mu.Unlock()
}

// drain blocks until every scheduled task, including tasks scheduled by
// running tasks, has finished.
func (p *pool) drain() {
	p.wg.Wait()
}

// close stops the workers once the backlog is empty.
func (p *pool) close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}
