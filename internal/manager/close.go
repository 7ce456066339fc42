package manager

import (
	"context"
	"go.uber.org/zap"
)

// handleClose tears down one tab and attempts to serve the next
// waiter. Used for explicit close requests; handleOwnerExit calls
// closeTab for every session an exited owner held and then serves
// waiters itself.
func (m *Manager) handleClose(req CloseRequest) {
	m.closeTab(req.Session)
	m.serveWaiters()
}

// closeTab removes a tab's bookkeeping and tears down its browser-side
// resources. Errors from the browser side are tolerated: the target
// may already be gone, and closing bookkeeping for a tab that no
// longer exists is not itself a failure.
func (m *Manager) closeTab(session string) {
	rec, ok := m.tabs.remove(session)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.controlTimeout)
	defer cancel()

	if _, err := m.conn.Send(ctx, "Target.detachFromTarget", map[string]any{"sessionId": session}, "", m.controlTimeout); err != nil {
		m.log.Debug("close: detach failed", zap.String("session", session), zap.Error(err))
	}
	if _, err := m.conn.Send(ctx, "Target.closeTarget", map[string]any{"targetId": rec.target}, "", m.controlTimeout); err != nil {
		m.log.Debug("close: close target failed", zap.String("session", session), zap.Error(err))
	}
	if _, err := m.conn.Send(ctx, "Target.disposeBrowserContext", map[string]any{"browserContextId": rec.context}, "", m.controlTimeout); err != nil {
		m.log.Debug("close: dispose context failed", zap.String("session", session), zap.Error(err))
	}
	m.routeDrained()

	m.conn.Unsubscribe(session)
	close(rec.inbox)

	// If this was the owner's last tab, drop its liveness monitor now
	// rather than waiting on ownerDone: a fresh CreateRequest reusing
	// the same owner must be able to register a new monitor instead of
	// finding a stale entry already in the map.
	if !m.tabs.hasOwner(rec.owner) {
		delete(m.monitors, rec.owner)
	}
}

// serveWaiters admits queued create requests while the cap allows,
// discarding any waiter whose owner has already exited.
func (m *Manager) serveWaiters() {
	for m.maxTabs == 0 || m.tabs.count() < m.maxTabs {
		req, ok := m.waiters.popLive()
		if !ok {
			return
		}
		m.admitCreate(req)
	}
}
