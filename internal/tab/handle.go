// Package tab implements the tab handle: the thin client each owner
// holds over the manager's messaging protocol, and the fetch
// interception state machine it hosts for its session.
package tab

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cdpfleet/cdpfleet/internal/manager"
	"github.com/cdpfleet/cdpfleet/internal/protocol"
)

// DefaultInboxCapacity bounds the channel the manager forwards events
// into for this owner; overflow is dropped the same way a session's
// event bus drops overflow inside the Connection.
const DefaultInboxCapacity = 64

// Options configures a tab created via Create.
type Options struct {
	BlockedResources []string
	Timeout          time.Duration
}

// Handle is the per-owner client over one manager session. It is not
// safe for concurrent use by multiple goroutines: like the source's
// actors, one owner drives one Handle from one logical thread of
// control. The one exception is Close: it may be called while another
// goroutine is blocked in WaitEvent or ExpectDownload, which then
// returns TAB_CLOSED.
type Handle struct {
	mgr     *manager.Manager
	owner   manager.OwnerID
	session string
	target  string
	context string

	inbox     chan manager.EventForward
	ownerDone chan struct{}

	fetch *fetchMachine
}

// Create asks the manager to open a new tab and returns a Handle bound
// to the resulting session.
func Create(mgr *manager.Manager, opts Options) (*Handle, error) {
	owner := manager.NewOwnerID()
	inbox := make(chan manager.EventForward, DefaultInboxCapacity)
	ownerDone := make(chan struct{})

	reply := mgr.Create(manager.CreateRequest{
		Owner:     owner,
		Inbox:     inbox,
		OwnerDone: ownerDone,
		Options:   manager.TabOptions{BlockedResources: opts.BlockedResources},
		Timeout:   opts.Timeout,
	})
	if reply.Err != nil {
		close(ownerDone)
		return nil, reply.Err
	}

	h := &Handle{
		mgr:       mgr,
		owner:     owner,
		session:   reply.Session,
		target:    reply.Target,
		context:   reply.Context,
		inbox:     inbox,
		ownerDone: ownerDone,
	}
	h.fetch = newFetchMachine(h)

	if len(opts.BlockedResources) > 0 {
		if err := h.fetch.blockResources(opts.BlockedResources); err != nil {
			h.Close()
			return nil, err
		}
	}

	return h, nil
}

// Session returns the CDP session identifier backing this handle.
func (h *Handle) Session() string { return h.session }

// Target returns the CDP target identifier backing this handle.
func (h *Handle) Target() string { return h.target }

// Context returns the browser context identifier backing this handle.
func (h *Handle) Context() string { return h.context }

// BlockResources updates the blocked resource-category set, entering
// or leaving the blocking dimension of the fetch state machine.
func (h *Handle) BlockResources(categories []string) error {
	return h.fetch.blockResources(categories)
}

// InterceptionState reports the fetch state machine's current
// composed state.
func (h *Handle) InterceptionState() InterceptionState {
	return h.fetch.State()
}

// Close tears down the tab and releases the owner's liveness monitor.
func (h *Handle) Close() {
	h.mgr.Close(h.session)
	close(h.ownerDone)
}

// Command performs one request/reply round-trip against the manager.
func (h *Handle) Command(method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	result := h.mgr.Command(manager.CommandRequest{
		Owner:   h.owner,
		Session: h.session,
		Method:  method,
		Params:  params,
		Timeout: timeout,
	})
	return result.Result, result.Err
}

// CommandCtx is Command with a context deadline instead of a bare
// duration, used by callers that already carry a context.
func (h *Handle) CommandCtx(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	deadline := 30 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		deadline = time.Until(dl)
	}
	return h.Command(method, params, deadline)
}

// WaitEvent blocks until an event matching method (and, if non-nil,
// accepted by predicate) is forwarded for this session, the fetch
// state machine fully absorbs the wait (never returns in that case by
// construction), the owner's bus closes, or timeout elapses.
func (h *Handle) WaitEvent(ctx context.Context, method string, predicate func(json.RawMessage) bool, timeout time.Duration) (json.RawMessage, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case fwd, ok := <-h.inbox:
			if !ok {
				return nil, fmt.Errorf("%s", protocol.Describe(protocol.TabClosed, "event bus closed", method))
			}
			if h.fetch.handle(fwd) {
				continue
			}
			if fwd.Method != method {
				continue
			}
			if predicate != nil && !predicate(fwd.Params) {
				continue
			}
			return fwd.Params, nil
		case <-deadline.C:
			return nil, fmt.Errorf("%s", protocol.Describe(protocol.Timeout, "wait for "+method+" timed out", method))
		case <-ctx.Done():
			return nil, fmt.Errorf("%s", protocol.Describe(protocol.Timeout, ctx.Err().Error(), method))
		}
	}
}
