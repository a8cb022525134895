// Package fsm is a small table-driven state machine used to validate the
// supervisor's upgrade phases.
package fsm

import (
	"fmt"
	"sync"
)

type State string
type Event string

// Handler is executed after a transition has been committed.
type Handler func(from, to State, event Event) error

// ErrInvalidTransition is returned by Fire when the current state has no
// transition for the event.
type ErrInvalidTransition struct {
	From  State
	Event Event
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition from %s via %s", e.From, e.Event)
}

type StateMachine struct {
	mu          sync.RWMutex
	current     State
	transitions map[State]map[Event]State
	callbacks   map[State]map[Event]Handler
	observers   []Handler
}

func New(initial State) *StateMachine {
	return &StateMachine{
		current:     initial,
		transitions: make(map[State]map[Event]State),
		callbacks:   make(map[State]map[Event]Handler),
	}
}

func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// Can reports whether event is valid in the current state.
func (sm *StateMachine) Can(event Event) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	_, ok := sm.transitions[sm.current][event]
	return ok
}

func (sm *StateMachine) AddTransition(from, to State, event Event, callback Handler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, ok := sm.transitions[from]; !ok {
		sm.transitions[from] = make(map[Event]State)
		sm.callbacks[from] = make(map[Event]Handler)
	}
	sm.transitions[from][event] = to
	sm.callbacks[from][event] = callback
}

// OnTransition registers a handler run after every committed transition.
func (sm *StateMachine) OnTransition(h Handler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.observers = append(sm.observers, h)
}

// Fire triggers a state transition. It is thread-safe.
// The new state is committed before any handler runs, so handlers observe
// the target state and may fire further events. A handler error is returned
// but does not roll the transition back.
func (sm *StateMachine) Fire(event Event) error {
	sm.mu.Lock()
	from := sm.current
	next, ok := sm.transitions[from][event]
	if !ok {
		sm.mu.Unlock()
		return &ErrInvalidTransition{From: from, Event: event}
	}
	sm.current = next
	handler := sm.callbacks[from][event]
	observers := append([]Handler(nil), sm.observers...)
	sm.mu.Unlock()

	for _, obs := range observers {
		if err := obs(from, next, event); err != nil {
			return err
		}
	}
	if handler != nil {
		return handler(from, next, event)
	}
	return nil
}
