package entitystore

import (
	"sync"
	"sync/atomic"
)

// Dispatcher is the write side of a store as seen by the query layer.
type Dispatcher interface {
	Dispatch(events ...Event)
	Snapshot() *State
}

// Store owns one normalized entity cache. It is the only writer of its state;
// reads go through Snapshot and never block writers.
type Store struct {
	mu        sync.Mutex
	state     atomic.Pointer[State]
	listeners []*listener
	nextID    uint64
	// pending holds published states not yet delivered to listeners. One
	// dispatching goroutine at a time drains it.
	pending  []*State
	draining bool
}

type listener struct {
	id uint64
	fn func(*State)
}

var _ Dispatcher = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	s := &Store{}
	s.state.Store(NewState())
	return s
}

// Snapshot returns the current immutable state.
func (s *Store) Snapshot() *State {
	if s == nil {
		return NewState()
	}
	state := s.state.Load()
	if state == nil {
		return NewState()
	}
	return state
}

// Dispatch applies events in order as one atomic step: readers observe either
// the state before the first event or after the last. Listeners are notified
// once per change, in publish order. When another dispatch is already
// notifying, that goroutine delivers the new state and Dispatch returns
// without waiting for it.
func (s *Store) Dispatch(events ...Event) {
	if s == nil || len(events) == 0 {
		return
	}
	s.mu.Lock()
	before := s.Snapshot()
	next := before
	for _, event := range events {
		next = Reduce(next, event)
	}
	if next == before {
		s.mu.Unlock()
		return
	}
	s.state.Store(next)
	s.pending = append(s.pending, next)
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	s.drain()
}

func (s *Store) drain() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		state := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		listeners := make([]*listener, len(s.listeners))
		copy(listeners, s.listeners)
		s.mu.Unlock()

		for _, l := range listeners {
			l.fn(state)
		}
	}
}

// Subscribe registers fn to run after every state change. Listeners run in
// registration order and receive states in the order they were published.
// The returned function removes the listener.
func (s *Store) Subscribe(fn func(*State)) func() {
	if s == nil || fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, &listener{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Reset drops every entity, bucket and status.
func (s *Store) Reset() {
	s.Dispatch(Reset{})
}
