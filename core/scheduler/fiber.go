package scheduler

// Fiber is a lightweight execution context. Its local values are only touched
// by whichever fiber holds the worker, so they need no locking.
type Fiber struct {
	id     uint64
	name   string
	sched  *Scheduler
	wake   chan struct{}
	values map[any]any
}

// ID returns the fiber's scheduler-unique id.
func (f *Fiber) ID() uint64 { return f.id }

// Name returns the name given to Go.
func (f *Fiber) Name() string { return f.name }

// Value returns the fiber-local value stored under key, or nil.
func (f *Fiber) Value(key any) any {
	return f.values[key]
}

// SetValue stores a fiber-local value. A nil value removes the key.
func (f *Fiber) SetValue(key, val any) {
	if val == nil {
		delete(f.values, key)
		return
	}
	if f.values == nil {
		f.values = make(map[any]any)
	}
	f.values[key] = val
}

// Reschedule moves the fiber to the end of the ready queue, letting every
// fiber that is already runnable go first.
func (f *Fiber) Reschedule() {
	f.sched.release(f, true)
	<-f.wake
}

// Await gives up the worker until done is closed, then waits for its turn to
// run again.
func (f *Fiber) Await(done <-chan struct{}) {
	f.sched.release(f, false)
	<-done
	f.sched.enqueue(f)
	<-f.wake
}
