// Package stream implements the Advanced Trade websocket client: channel
// descriptors, per-subscription handlers, the subscription registry and the
// Client that ties them to a single connection.
package stream

import (
	"context"

	"cbadv/internal/ws"
)

// ConnState is the connection state of a Client.
type ConnState = ws.ConnState

// Connection states.
const (
	StateDisconnected = ws.StateDisconnected
	StateConnecting   = ws.StateConnecting
	StateOpen         = ws.StateOpen
	StateReconnecting = ws.StateReconnecting
	StateClosing      = ws.StateClosing
	StateClosed       = ws.StateClosed
)

// Stream is the lifecycle surface shared by streaming clients.
type Stream interface {
	Connect(ctx context.Context, path string) error
	Close(ctx context.Context) error
	State() ConnState
}

var _ Stream = (*Client)(nil)
