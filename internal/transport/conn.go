// Package transport owns the single outbound WebSocket connection to
// the browser: bootstrap discovery, the two send primitives, per-session
// event subscriptions, and the raw incoming frame feed the Manager
// multiplexes alongside its own sources.
package transport

import (
	"context"

	"github.com/coder/websocket"
)

// WSConn is the minimal surface this package needs from a WebSocket
// connection. Abstracted so tests can supply an in-memory double.
type WSConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}
