package download

import "sync/atomic"

// State is the lifecycle state of a transfer.
type State int32

const (
	StateRunning State = iota
	StatePaused
	StateCancelled
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCancelled:
		return "cancelled"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCancelled || s == StateCompleted || s == StateFailed
}

// stateMachine holds a State and only performs legal transitions. Every
// transition is a compare-and-swap, so the caller toggling pause and the
// worker finishing never overwrite each other.
type stateMachine struct {
	v atomic.Int32
}

func (m *stateMachine) load() State {
	return State(m.v.Load())
}

// move switches from -> to if the current state is from. Terminal states
// are never left.
func (m *stateMachine) move(from, to State) bool {
	if from.Terminal() {
		return false
	}
	return m.v.CompareAndSwap(int32(from), int32(to))
}

// settle ends a transfer that ran to its end as Completed or Failed. Those
// are only entered from Running, so a pause that landed after the last read
// is undone first.
func (m *stateMachine) settle(to State) bool {
	for {
		switch cur := m.load(); {
		case cur.Terminal():
			return false
		case cur == StatePaused:
			m.v.CompareAndSwap(int32(StatePaused), int32(StateRunning))
		case m.v.CompareAndSwap(int32(StateRunning), int32(to)):
			return true
		}
	}
}

// finish moves any non-terminal state to the terminal state to.
func (m *stateMachine) finish(to State) bool {
	for {
		cur := m.load()
		if cur.Terminal() {
			return false
		}
		if m.v.CompareAndSwap(int32(cur), int32(to)) {
			return true
		}
	}
}
