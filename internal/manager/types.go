// Package manager implements the single coordinator actor that owns
// the browser connection, the tab registry, the waiter queue, the
// pending-reply table, and the health timer. It is the only code that
// ever touches a transport.Connection.
package manager

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OwnerID identifies one tab owner for event forwarding and liveness
// monitoring. Generated once per tab.Handle.
type OwnerID = uuid.UUID

// NewOwnerID returns a fresh owner identifier.
func NewOwnerID() OwnerID {
	return uuid.New()
}

// TabOptions carries the per-tab settings a create request may ask
// for and the Manager echoes back in its reply.
type TabOptions struct {
	// BlockedResources, if non-empty, seeds the tab's informational
	// interception bookkeeping. Enforcement itself is done by the tab
	// handle's own fetch state machine via ordinary commands; the
	// Manager never interprets this set.
	BlockedResources []string
}

// InterceptionMode mirrors the tab handle's fetch state machine state,
// recorded by the Manager for introspection only. See
// internal/tab/fetch.go for the authoritative state.
type InterceptionMode string

const (
	InterceptionOff              InterceptionMode = "off"
	InterceptionBlockingOnly     InterceptionMode = "blocking"
	InterceptionDownloadOnly     InterceptionMode = "download-capture"
	InterceptionBlockingDownload InterceptionMode = "blocking+download-capture"
)

// EventForward is delivered to a tab owner's inbox for every CDP event
// on its session.
type EventForward struct {
	Method  string
	Params  json.RawMessage
	Session string
}

// CreateRequest asks the Manager to open a new tab. Inbox and
// OwnerDone are supplied by the caller (a tab.Handle): Inbox receives
// forwarded events for the session this request creates, and OwnerDone
// signals owner exit when closed.
type CreateRequest struct {
	Owner     OwnerID
	Inbox     chan EventForward
	OwnerDone <-chan struct{}
	Options   TabOptions
	Timeout   time.Duration
	Reply     chan CreateReply
}

// CreateReply is the Manager's answer to a CreateRequest.
type CreateReply struct {
	Session string
	Target  string
	Context string
	Options TabOptions
	Err     error
}

// CommandRequest asks the Manager to forward one CDP command on an
// existing session.
type CommandRequest struct {
	Owner   OwnerID
	Session string
	Method  string
	Params  interface{}
	Timeout time.Duration
	Reply   chan CommandReply
}

// CommandReply is the Manager's answer to a CommandRequest.
type CommandReply struct {
	Result json.RawMessage
	Err    error
}

// CloseRequest asks the Manager to tear down a tab.
type CloseRequest struct {
	Session string
	Done    chan struct{}
}
