package status

import "sync"

// List is an ordered key to Status mapping for one batch. Keys are the
// source paths of the batch, in registration order.
type List struct {
	mu     sync.Mutex
	order  []string
	items  map[string]*Status
	closed bool
}

// NewList creates an empty status list.
func NewList() *List {
	return &List{items: make(map[string]*Status)}
}

// Register creates the status for key. Registering an existing key grows
// its expected size instead, and keeps the first cancel callback unless none
// was set.
func (l *List) Register(key string, size int64, cancel CancelFunc) *Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	if st, ok := l.items[key]; ok {
		st.Grow(size)
		if cancel != nil {
			st.mu.Lock()
			if st.cancel == nil {
				st.cancel = cancel
			}
			st.mu.Unlock()
		}
		return st
	}

	st := &Status{key: key, size: size, cancel: cancel}
	l.items[key] = st
	l.order = append(l.order, key)
	return st
}

// Get returns the status registered under key, or nil.
func (l *List) Get(key string) *Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.items[key]
}

// Keys returns the registered keys in registration order.
func (l *List) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]string, len(l.order))
	copy(keys, l.order)
	return keys
}

// Statuses returns the registered statuses in registration order.
func (l *List) Statuses() []*Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Status, 0, len(l.order))
	for _, k := range l.order {
		out = append(out, l.items[k])
	}
	return out
}

// Len returns the number of registered items.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// Totals returns the summed progress and size of all items.
func (l *List) Totals() (progress, size int64) {
	for _, st := range l.Statuses() {
		progress += st.Progress()
		size += st.Size()
	}
	return progress, size
}

// Count returns the number of items in state s.
func (l *List) Count(s State) int {
	n := 0
	for _, st := range l.Statuses() {
		if st.State() == s {
			n++
		}
	}
	return n
}

// Closed reports whether Close has run.
func (l *List) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close ends the batch scope: every item that is still New or InProgress is
// interrupted, in registration order. Close is idempotent.
func (l *List) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	for _, st := range l.Statuses() {
		st.Interrupt()
	}
}
