package manager

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cdpfleet/cdpfleet/internal/protocol"
	"github.com/cdpfleet/cdpfleet/internal/transport"
)

// DefaultHealthInterval is the period between Browser.getVersion
// liveness checks, per spec.
const DefaultHealthInterval = 30 * time.Second

// DefaultControlTimeout bounds a blocking control-plane call issued by
// the Manager itself (create/close/health-check), distinct from the
// per-request timeout an owner supplies for its own commands.
const DefaultControlTimeout = 10 * time.Second

// Options configures a Manager.
type Options struct {
	// Addr is the browser discovery address, reused across reconnects.
	Addr string

	// MaxTabs caps concurrent tabs; 0 disables the cap.
	MaxTabs int

	// HealthInterval is the period between health checks. Zero selects
	// DefaultHealthInterval.
	HealthInterval time.Duration

	// ControlTimeout bounds the Manager's own blocking calls. Zero
	// selects DefaultControlTimeout.
	ControlTimeout time.Duration

	Log *zap.Logger
}

// busEvent is one frame pulled off a session's subscription channel,
// fanned in by that session's forwarder goroutine for the Run loop to
// select on as a single static case.
type busEvent struct {
	session string
	frame   protocol.Frame
}

// Manager is the single coordinator actor owning the Connection and
// every piece of shared state reachable from it; nothing outside the
// goroutine running Run ever touches that state directly.
type Manager struct {
	addr           string
	maxTabs        int
	healthInterval time.Duration
	controlTimeout time.Duration
	log            *zap.Logger

	conn *transport.Connection

	tabs     *tabRegistry
	pending  *pendingTable
	waiters  *waiterQueue
	monitors map[OwnerID]<-chan struct{}

	createCh    chan CreateRequest
	commandCh   chan CommandRequest
	closeCh     chan CloseRequest
	ownerExitCh chan OwnerID
	busEventsCh chan busEvent

	stopped chan struct{}
}

// New constructs a Manager around an already-established Connection.
// Use Dial to bootstrap and construct in one step.
func New(conn *transport.Connection, opts Options) *Manager {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	healthInterval := opts.HealthInterval
	if healthInterval <= 0 {
		healthInterval = DefaultHealthInterval
	}
	controlTimeout := opts.ControlTimeout
	if controlTimeout <= 0 {
		controlTimeout = DefaultControlTimeout
	}

	return &Manager{
		addr:           opts.Addr,
		maxTabs:        opts.MaxTabs,
		healthInterval: healthInterval,
		controlTimeout: controlTimeout,
		log:            log,
		conn:           conn,
		tabs:           newTabRegistry(),
		pending:        newPendingTable(),
		waiters:        newWaiterQueue(),
		monitors:       make(map[OwnerID]<-chan struct{}),
		createCh:       make(chan CreateRequest),
		commandCh:      make(chan CommandRequest),
		closeCh:        make(chan CloseRequest),
		ownerExitCh:    make(chan OwnerID, 16),
		busEventsCh:    make(chan busEvent, 256),
		stopped:        make(chan struct{}),
	}
}

// Dial bootstraps a Connection against addr and wraps it in a Manager
// ready to Run.
func Dial(ctx context.Context, opts Options) (*Manager, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := transport.Connect(ctx, opts.Addr, log)
	if err != nil {
		return nil, err
	}
	return New(conn, opts), nil
}

// Create submits a tab-creation request and blocks for its reply.
func (m *Manager) Create(req CreateRequest) CreateReply {
	if req.Reply == nil {
		req.Reply = make(chan CreateReply, 1)
	}
	select {
	case m.createCh <- req:
	case <-m.stopped:
		return CreateReply{Err: fmt.Errorf("%s", protocol.Describe(protocol.CDPDisconnected, "manager stopped", ""))}
	}
	return <-req.Reply
}

// Command submits a command request and blocks for its reply, or
// until req.Timeout elapses. The Manager's own loop never blocks on a
// command; this deadline is enforced here, by the caller.
func (m *Manager) Command(req CommandRequest) CommandReply {
	if req.Reply == nil {
		req.Reply = make(chan CommandReply, 1)
	}
	select {
	case m.commandCh <- req:
	case <-m.stopped:
		return CommandReply{Err: fmt.Errorf("%s", protocol.Describe(protocol.CDPDisconnected, "manager stopped", ""))}
	}

	if req.Timeout <= 0 {
		return <-req.Reply
	}
	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()
	select {
	case reply := <-req.Reply:
		return reply
	case <-timer.C:
		return CommandReply{Err: fmt.Errorf("%s", protocol.Describe(protocol.Timeout, fmt.Sprintf("%s timed out after %s", req.Method, req.Timeout), req.Method))}
	}
}

// Close submits a close request and blocks until the tab is torn down.
func (m *Manager) Close(session string) {
	req := CloseRequest{Session: session, Done: make(chan struct{})}
	select {
	case m.closeCh <- req:
		<-req.Done
	case <-m.stopped:
	}
}

// Run is the Manager's selection loop. It blocks until ctx is
// cancelled or a health-check bootstrap fails, at which point it
// returns a non-nil error so a supervisor can restart the process.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.stopped)

	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case req := <-m.createCh:
			m.handleCreate(req)

		case req := <-m.commandCh:
			m.handleCommand(req)

		case req := <-m.closeCh:
			m.handleClose(req)
			close(req.Done)

		case owner := <-m.ownerExitCh:
			m.handleOwnerExit(owner)

		case <-ticker.C:
			if err := m.handleHealthCheck(ctx); err != nil {
				return err
			}

		case raw, ok := <-m.conn.RawFrames():
			if !ok {
				continue
			}
			m.handleFrame(raw)

		case ev := <-m.busEventsCh:
			m.forwardEvent(ev)
		}
	}
}

// handleFrame routes one decoded reply frame to its pending owner.
// Event frames never reach here: PumpMessage routes them to session
// buses internally.
func (m *Manager) handleFrame(raw []byte) {
	frame, isReply := m.conn.PumpMessage(raw)
	if !isReply {
		return
	}
	m.routeReply(frame)
}

func (m *Manager) routeReply(frame protocol.Frame) {
	entry, ok := m.pending.take(frame.ID)
	if !ok {
		return
	}
	if frame.Kind == protocol.FrameErrorResponse {
		err := fmt.Errorf("%s", protocol.ClassifyAndDescribe(frame.Err.Message, entry.method))
		deliver(entry.reply, CommandReply{Err: err})
		return
	}
	deliver(entry.reply, CommandReply{Result: frame.Result})
}

// forwardEvent offers one event to its tab's owner, dropping it
// silently if the owner's inbox is full or the bus has since closed.
func (m *Manager) forwardEvent(ev busEvent) {
	rec, ok := m.tabs.get(ev.session)
	if !ok {
		return
	}
	fwd := EventForward{Method: ev.frame.Method, Params: ev.frame.Params, Session: ev.session}
	select {
	case rec.inbox <- fwd:
	default:
		m.log.Debug("owner inbox full, dropping event",
			zap.String("session", ev.session), zap.String("method", ev.frame.Method))
	}
}

// monitor starts a watcher goroutine for owner unless one is already
// registered in m.monitors. The goroutine feeds ownerExitCh when that
// owner's done channel closes, and exits once the Manager stops.
func (m *Manager) monitor(owner OwnerID, done <-chan struct{}) {
	if _, ok := m.monitors[owner]; ok {
		return
	}
	m.monitors[owner] = done
	go func() {
		select {
		case <-done:
		case <-m.stopped:
			return
		}
		select {
		case m.ownerExitCh <- owner:
		case <-m.stopped:
		}
	}()
}

// watchBus spawns the per-session forwarder goroutine that fans one
// subscription channel into the shared busEventsCh, and returns once
// the channel closes (on Unsubscribe or connection teardown).
func (m *Manager) watchBus(session string, ch <-chan protocol.Frame) {
	go func() {
		for frame := range ch {
			select {
			case m.busEventsCh <- busEvent{session: session, frame: frame}:
			case <-m.stopped:
				return
			}
		}
	}()
}
