package manager

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cdpfleet/cdpfleet/internal/protocol"
	"github.com/cdpfleet/cdpfleet/internal/transport"
)

// handleHealthCheck issues a lightweight Browser.getVersion call to
// verify the connection is still alive. On failure it tears down every
// piece of live state and bootstraps a fresh Connection against the
// same address; if that bootstrap fails the Manager itself returns an
// error so its supervisor can restart the whole process.
func (m *Manager) handleHealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, m.controlTimeout)
	_, err := m.conn.Send(checkCtx, "Browser.getVersion", nil, "", m.controlTimeout)
	cancel()
	if err == nil {
		m.routeDrained()
		return nil
	}

	m.log.Warn("health check failed, recovering connection", zap.Error(err))

	// 1. Fail every pending-reply entry with CDP_DISCONNECTED before
	// the tab table is cleared, so owners observe disconnection rather
	// than tab-closed on in-flight commands.
	m.pending.failAll("browser connection lost")

	// 2. Close every event bus and clear the tab table, owner index,
	// and monitor set. Closing each tab's inbox wakes any WaitEvent or
	// ExpectDownload call blocked on it with TAB_CLOSED instead of
	// leaving it to its own deadline.
	for _, rec := range m.tabs.clear() {
		m.conn.Unsubscribe(rec.session)
		close(rec.inbox)
	}
	m.monitors = make(map[OwnerID]<-chan struct{})

	// 3. Reject every waiter with CDP_DISCONNECTED.
	disconnected := fmt.Errorf("%s", protocol.Describe(protocol.CDPDisconnected, "browser connection lost", ""))
	for _, req := range m.waiters.drainAll() {
		deliverCreate(req.Reply, CreateReply{Err: disconnected})
	}

	// 4. Close the old Connection and bootstrap a new one against the
	// same address.
	_ = m.conn.Close()
	newConn, err := transport.Connect(ctx, m.addr, m.log)
	if err != nil {
		return fmt.Errorf("reconnect after health-check failure: %w", err)
	}
	m.conn = newConn
	return nil
}
