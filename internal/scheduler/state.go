package scheduler

import "sync"

// CycleState tracks where a market's reconciliation cycle is. Transitions
// only move forward through one cycle and back to idle; an abort from
// fetching or deciding returns to idle without acting.
type CycleState string

const (
	StateIdle     CycleState = "idle"
	StateFetching CycleState = "fetching"
	StateDeciding CycleState = "deciding"
	StateActing   CycleState = "acting"
)

type Event string

const (
	EventTick    Event = "tick"
	EventFetched Event = "fetched"
	EventDecided Event = "decided"
	EventDone    Event = "done"
	EventAbort   Event = "abort"
)

type StateMachine struct {
	mu    sync.Mutex
	State CycleState
}

func NewStateMachine() *StateMachine {
	return &StateMachine{State: StateIdle}
}

func (s *StateMachine) Apply(event Event) CycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = nextState(s.State, event)
	return s.State
}

func (s *StateMachine) Current() CycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

func nextState(current CycleState, event Event) CycleState {
	switch current {
	case StateIdle:
		if event == EventTick {
			return StateFetching
		}
	case StateFetching:
		if event == EventFetched {
			return StateDeciding
		}
		if event == EventAbort {
			return StateIdle
		}
	case StateDeciding:
		if event == EventDecided {
			return StateActing
		}
		if event == EventAbort {
			return StateIdle
		}
	case StateActing:
		if event == EventDone {
			return StateIdle
		}
	}
	return current
}
