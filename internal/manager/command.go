package manager

import (
	"fmt"

	"github.com/cdpfleet/cdpfleet/internal/protocol"
)

// handleCommand forwards one command to the browser without blocking
// the selection loop: the write is synchronous, but the reply is
// delivered later when its response frame is routed off the raw feed.
func (m *Manager) handleCommand(req CommandRequest) {
	if _, ok := m.tabs.get(req.Session); !ok {
		deliver(req.Reply, CommandReply{Err: fmt.Errorf("%s", protocol.Describe(protocol.TabClosed, "unknown session", req.Method))})
		return
	}
	if m.conn.Closed() {
		deliver(req.Reply, CommandReply{Err: fmt.Errorf("%s", protocol.Describe(protocol.CDPDisconnected, "connection closed", req.Method))})
		return
	}

	id, err := m.conn.SendAsync(req.Method, req.Params, req.Session)
	if err != nil {
		deliver(req.Reply, CommandReply{Err: err})
		return
	}

	m.pending.add(id, pendingReply{owner: req.Owner, method: req.Method, reply: req.Reply})
}
