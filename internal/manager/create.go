package manager

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cdpfleet/cdpfleet/internal/protocol"
)

// domainsToEnable are enabled on every new session. Failures here are
// logged and tolerated: a session missing one of these domains is
// still usable for the rest.
var domainsToEnable = []string{"Page.enable", "Runtime.enable", "Network.enable", "DOM.enable"}

// handleCreate admits a create request immediately if the tab cap has
// room, otherwise parks it as a waiter.
func (m *Manager) handleCreate(req CreateRequest) {
	if m.maxTabs > 0 && m.tabs.count() >= m.maxTabs {
		m.waiters.push(req)
		return
	}
	m.admitCreate(req)
}

// admitCreate performs the browser-side sequence that brings up a new
// tab: create an isolated browser context, create a target inside it,
// and attach to that target for a session. Any failure rolls back what
// had already succeeded, in reverse order.
func (m *Manager) admitCreate(req CreateRequest) {
	timeout := m.controlTimeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	contextID, err := m.createBrowserContext(ctx)
	if err != nil {
		m.routeDrained()
		deliverCreate(req.Reply, CreateReply{Err: err})
		return
	}

	targetID, err := m.createTarget(ctx, contextID)
	if err != nil {
		m.disposeBrowserContext(ctx, contextID)
		m.routeDrained()
		deliverCreate(req.Reply, CreateReply{Err: err})
		return
	}

	sessionID, err := m.attachToTarget(ctx, targetID)
	if err != nil {
		m.closeTarget(ctx, targetID)
		m.disposeBrowserContext(ctx, contextID)
		m.routeDrained()
		deliverCreate(req.Reply, CreateReply{Err: err})
		return
	}

	for _, method := range domainsToEnable {
		if _, err := m.conn.Send(ctx, method, nil, sessionID, m.controlTimeout); err != nil {
			m.log.Warn("domain enable failed", zap.String("session", sessionID), zap.String("method", method), zap.Error(err))
		}
	}

	m.routeDrained()

	busCh := m.conn.Subscribe(sessionID, 0)
	m.watchBus(sessionID, busCh)

	rec := &tabRecord{
		session:          sessionID,
		target:           targetID,
		context:          contextID,
		owner:            req.Owner,
		inbox:            req.Inbox,
		blockedResources: req.Options.BlockedResources,
		interception:     InterceptionOff,
	}
	m.tabs.add(rec)
	m.monitor(req.Owner, req.OwnerDone)

	deliverCreate(req.Reply, CreateReply{
		Session: sessionID,
		Target:  targetID,
		Context: contextID,
		Options: req.Options,
	})
}

func (m *Manager) createBrowserContext(ctx context.Context) (string, error) {
	result, err := m.conn.Send(ctx, "Target.createBrowserContext", map[string]any{"disposeOnDetach": true}, "", m.controlTimeout)
	if err != nil {
		return "", err
	}
	var parsed struct {
		BrowserContextID string `json:"browserContextId"`
	}
	if err := unmarshalResult(result, &parsed); err != nil {
		return "", fmt.Errorf("%s", protocol.Describe(protocol.CDPError, err.Error(), "Target.createBrowserContext"))
	}
	return parsed.BrowserContextID, nil
}

func (m *Manager) createTarget(ctx context.Context, browserContextID string) (string, error) {
	result, err := m.conn.Send(ctx, "Target.createTarget", map[string]any{
		"url":              "about:blank",
		"browserContextId": browserContextID,
	}, "", m.controlTimeout)
	if err != nil {
		return "", err
	}
	var parsed struct {
		TargetID string `json:"targetId"`
	}
	if err := unmarshalResult(result, &parsed); err != nil {
		return "", fmt.Errorf("%s", protocol.Describe(protocol.CDPError, err.Error(), "Target.createTarget"))
	}
	return parsed.TargetID, nil
}

func (m *Manager) attachToTarget(ctx context.Context, targetID string) (string, error) {
	result, err := m.conn.Send(ctx, "Target.attachToTarget", map[string]any{
		"targetId": targetID,
		"flatten":  true,
	}, "", m.controlTimeout)
	if err != nil {
		return "", err
	}
	var parsed struct {
		SessionID string `json:"sessionId"`
	}
	if err := unmarshalResult(result, &parsed); err != nil {
		return "", fmt.Errorf("%s", protocol.Describe(protocol.CDPError, err.Error(), "Target.attachToTarget"))
	}
	return parsed.SessionID, nil
}

func (m *Manager) closeTarget(ctx context.Context, targetID string) {
	if _, err := m.conn.Send(ctx, "Target.closeTarget", map[string]any{"targetId": targetID}, "", m.controlTimeout); err != nil {
		m.log.Debug("rollback: close target failed", zap.String("target", targetID), zap.Error(err))
	}
}

func (m *Manager) disposeBrowserContext(ctx context.Context, browserContextID string) {
	if _, err := m.conn.Send(ctx, "Target.disposeBrowserContext", map[string]any{"browserContextId": browserContextID}, "", m.controlTimeout); err != nil {
		m.log.Debug("rollback: dispose browser context failed", zap.String("context", browserContextID), zap.Error(err))
	}
}

// routeDrained delivers every response buffered during the sequence of
// blocking calls above to its pending command. Buffered responses must
// be routed after any sequence of blocking calls completes, or their
// callers would wait past their own deadline for replies already on
// the wire.
func (m *Manager) routeDrained() {
	for _, frame := range m.conn.DrainResponses() {
		m.routeReply(frame)
	}
}

func deliverCreate(ch chan CreateReply, reply CreateReply) {
	select {
	case ch <- reply:
	default:
	}
}
