// Package scheduler implements cooperative multitasking on top of goroutines.
//
// Every fiber runs on its own goroutine, but only one fiber holds the worker at
// a time. A fiber gives the worker up only at explicit points: Reschedule
// (move to the back of the ready queue), Await (wait for an external event)
// or when its function returns. Code between those points runs to completion
// without interleaving with other fibers.
package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Scheduler hands a single logical worker to fibers in FIFO order.
type Scheduler struct {
	mu      sync.Mutex
	ready   []*Fiber
	running *Fiber

	nextID atomic.Uint64
	group  errgroup.Group
	logger *zap.Logger
}

// New creates an empty scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger.Named("scheduler")}
}

// Go starts fn in a new fiber. The fiber is queued behind every fiber that is
// already ready to run.
func (s *Scheduler) Go(name string, fn func(f *Fiber) error) *Fiber {
	f := &Fiber{
		id:    s.nextID.Add(1),
		name:  name,
		sched: s,
		wake:  make(chan struct{}, 1),
	}
	s.group.Go(func() (err error) {
		<-f.wake
		defer s.exit(f)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Fiber panicked", zap.Uint64("fiberID", f.id), zap.String("fiber", f.name), zap.Any("panic", r))
				err = fmt.Errorf("fiber %s panicked: %v", f.name, r)
			}
		}()
		return fn(f)
	})
	s.enqueue(f)
	return f
}

// Wait blocks until every fiber has finished and returns the first error any
// of them returned.
func (s *Scheduler) Wait() error {
	return s.group.Wait()
}

func (s *Scheduler) enqueue(f *Fiber) {
	s.mu.Lock()
	s.ready = append(s.ready, f)
	s.dispatchLocked()
	s.mu.Unlock()
}

// dispatchLocked passes the worker to the head of the ready queue if nobody
// holds it. Must be called with s.mu held.
func (s *Scheduler) dispatchLocked() {
	if s.running != nil || len(s.ready) == 0 {
		return
	}
	next := s.ready[0]
	s.ready[0] = nil
	s.ready = s.ready[1:]
	s.running = next
	next.wake <- struct{}{}
}

// release gives up the worker held by f.
func (s *Scheduler) release(f *Fiber, requeue bool) {
	s.mu.Lock()
	if s.running != f {
		s.mu.Unlock()
		panic(fmt.Sprintf("scheduler: fiber %s released the worker without holding it", f.name))
	}
	s.running = nil
	if requeue {
		s.ready = append(s.ready, f)
	}
	s.dispatchLocked()
	s.mu.Unlock()
}

func (s *Scheduler) exit(f *Fiber) {
	s.release(f, false)
}

// Ready reports how many fibers are waiting for the worker.
func (s *Scheduler) Ready() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ready)
}
