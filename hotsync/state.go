package hotsync

import "sync/atomic"

// ConnState is the lifecycle state of a Connection.
type ConnState uint32

const (
	NewState ConnState = iota
	HandshakingState
	ReadyState
	StartedState
	EndedState
)

func (s ConnState) String() string {
	switch s {
	case NewState:
		return "New"
	case HandshakingState:
		return "Handshaking"
	case ReadyState:
		return "Ready"
	case StartedState:
		return "Started"
	case EndedState:
		return "Ended"
	default:
		return "Unknown"
	}
}

// atomicConnState gates the Connection lifecycle. Every transition is a
// single compare-and-swap, so a transition racing with End loses.
type atomicConnState struct {
	state atomic.Uint32
}

// Get returns the current state.
func (st *atomicConnState) Get() ConnState {
	return ConnState(st.state.Load())
}

func (st *atomicConnState) transit(from, to ConnState) bool {
	return st.state.CompareAndSwap(uint32(from), uint32(to))
}

func (st *atomicConnState) ToHandshaking() bool {
	return st.transit(NewState, HandshakingState)
}

func (st *atomicConnState) ToReady() bool {
	return st.transit(HandshakingState, ReadyState)
}

func (st *atomicConnState) ToStarted() bool {
	return st.transit(ReadyState, StartedState)
}

// ToEnded moves to EndedState from any state and returns the state left.
func (st *atomicConnState) ToEnded() ConnState {
	return ConnState(st.state.Swap(uint32(EndedState)))
}
