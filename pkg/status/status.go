// Package status tracks the per-item state of a bulk catalog operation.
//
// A List is created for one batch (one download, upload or delete call) and
// holds one Status per source path. Closing the list forces every item that
// has not reached a terminal state to Interrupted, which runs the item's
// cancel callback so partial artifacts can be removed.
package status

import (
	"errors"
	"sync"
)

// State is the lifecycle state of a single transferred item.
type State int

// Item states. Done, Failed and Interrupted are terminal.
const (
	StateNew State = iota
	StateInProgress
	StateDone
	StateFailed
	StateInterrupted
)

// ErrTerminal is returned when a transition is requested on an item that
// already reached a terminal state.
var ErrTerminal = errors.New("operation status is terminal")

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateInProgress:
		return "IN_PROGRESS"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	case StateInterrupted:
		return "INTERRUPTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateInterrupted
}

// CancelFunc cleans up after an interrupted item. It receives the element
// that was in flight (a partial file path, a remote object path) or an empty
// string when nothing was started.
type CancelFunc func(element string)

// Status is the state of one item of a batch.
type Status struct {
	mu        sync.Mutex
	key       string
	state     State
	progress  int64
	size      int64
	current   string
	cancel    CancelFunc
	cancelled bool
}

// Key returns the source path the status was registered under.
func (s *Status) Key() string {
	return s.key
}

// State returns the current state.
func (s *Status) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Progress returns the number of bytes (or work units) completed.
func (s *Status) Progress() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Size returns the number of bytes (or work units) expected.
func (s *Status) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Current returns the element currently in flight.
func (s *Status) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Start moves a new item to InProgress. Starting an item that is already in
// progress is a no-op, so nested directory transfers can share one status.
func (s *Status) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return ErrTerminal
	}
	s.state = StateInProgress
	return nil
}

// Add accumulates completed work.
func (s *Status) Add(n int64) {
	s.mu.Lock()
	s.progress += n
	s.mu.Unlock()
}

// Grow increases the expected size.
func (s *Status) Grow(n int64) {
	s.mu.Lock()
	s.size += n
	s.mu.Unlock()
}

// SetCurrent records the element in flight. An empty string clears it.
func (s *Status) SetCurrent(element string) {
	s.mu.Lock()
	s.current = element
	s.mu.Unlock()
}

// SetCancel replaces the cleanup callback.
func (s *Status) SetCancel(cancel CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

// Done marks the item as successfully completed.
func (s *Status) Done() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return ErrTerminal
	}
	s.state = StateDone
	s.current = ""
	return nil
}

// Interrupt forces a non-terminal item to Interrupted and runs its cancel
// callback once. It is a no-op on terminal items.
func (s *Status) Interrupt() {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateInterrupted
	cancel, element := s.takeCancel()
	s.mu.Unlock()

	if cancel != nil {
		cancel(element)
	}
}

// Fail interrupts the item, running its cleanup, then marks it Failed.
func (s *Status) Fail() {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	cancel, element := s.takeCancel()
	s.state = StateFailed
	s.mu.Unlock()

	if cancel != nil {
		cancel(element)
	}
}

// takeCancel returns the callback if it has not run yet. Caller holds mu.
func (s *Status) takeCancel() (CancelFunc, string) {
	if s.cancelled || s.cancel == nil {
		return nil, ""
	}
	s.cancelled = true
	element := s.current
	s.current = ""
	return s.cancel, element
}
