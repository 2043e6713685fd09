package ws

import "sync/atomic"

// ConnState represents the current connection state of a websocket.
type ConnState int32

// Connection states for websocket lifecycle management.
const (
	// StateDisconnected indicates the websocket has never been connected or a dial failed.
	StateDisconnected ConnState = iota
	// StateConnecting indicates a caller-initiated dial is in progress.
	StateConnecting
	// StateOpen indicates the websocket has an active connection.
	StateOpen
	// StateReconnecting indicates the reconnection protocol is running after an unexpected close.
	StateReconnecting
	// StateClosing indicates Close was called and the close handshake is in progress.
	StateClosing
	// StateClosed indicates the websocket is closed; Connect may be called again.
	StateClosed
)

// String returns the string representation of the connection state.
func (s ConnState) String() string {
	return [...]string{
		"disconnected",
		"connecting",
		"open",
		"reconnecting",
		"closing",
		"closed",
	}[s]
}

// State provides thread-safe atomic access to a ConnState value.
type State struct {
	state atomic.Int32
}

// Load returns the current connection state.
func (s *State) Load() ConnState {
	return ConnState(s.state.Load())
}

// Store sets the connection state to the given value.
func (s *State) Store(state ConnState) {
	s.state.Store(int32(state))
}

// CompareAndSwap atomically compares the current state with old and swaps to new if equal.
// It returns true if the swap was performed.
func (s *State) CompareAndSwap(old, new ConnState) bool {
	return s.state.CompareAndSwap(int32(old), int32(new))
}
