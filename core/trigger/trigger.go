// Package trigger holds ordered lists of callbacks fired at transaction and
// statement boundaries.
package trigger

import "fmt"

// Func is a trigger callback.
type Func[T any] func(arg T) error

type entry[T any] struct {
	name string
	fn   Func[T]
}

// List is an ordered set of triggers. The most recently added trigger runs
// first. The zero value is an empty list ready to use.
type List[T any] struct {
	entries []*entry[T]
}

// Add registers fn and returns a function that removes it again.
func (l *List[T]) Add(name string, fn Func[T]) (remove func()) {
	e := &entry[T]{name: name, fn: fn}
	l.entries = append(l.entries, e)
	return func() {
		for i, cur := range l.entries {
			if cur == e {
				l.entries = append(l.entries[:i], l.entries[i+1:]...)
				return
			}
		}
	}
}

// Empty reports whether no trigger is registered.
func (l *List[T]) Empty() bool {
	return len(l.entries) == 0
}

// Len returns the number of registered triggers.
func (l *List[T]) Len() int {
	return len(l.entries)
}

// Run invokes the triggers newest first and stops at the first failure. A
// trigger may remove itself while the list is running.
func (l *List[T]) Run(arg T) error {
	snapshot := make([]*entry[T], len(l.entries))
	copy(snapshot, l.entries)
	for i := len(snapshot) - 1; i >= 0; i-- {
		e := snapshot[i]
		if err := e.fn(arg); err != nil {
			return fmt.Errorf("trigger %q failed: %w", e.name, err)
		}
	}
	return nil
}
