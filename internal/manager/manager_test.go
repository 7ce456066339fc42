package manager

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cdpfleet/cdpfleet/internal/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// scriptedWSConn answers CDP commands according to a per-method script
// supplied by the test, simulating the browser side of the wire.
type scriptedWSConn struct {
	mu       sync.Mutex
	readCh   chan []byte
	closeCh  chan struct{}
	closed   bool
	handlers map[string]func(id int64, params json.RawMessage) []byte
}

func newScriptedWSConn() *scriptedWSConn {
	return &scriptedWSConn{
		readCh:   make(chan []byte, 64),
		closeCh:  make(chan struct{}),
		handlers: make(map[string]func(id int64, params json.RawMessage) []byte),
	}
}

func (s *scriptedWSConn) on(method string, reply func(id int64, params json.RawMessage) []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = reply
}

func (s *scriptedWSConn) pushEvent(frame []byte) {
	s.readCh <- frame
}

func (s *scriptedWSConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case msg, ok := <-s.readCh:
		if !ok {
			return 0, nil, errors.New("closed")
		}
		return websocket.MessageText, msg, nil
	case <-s.closeCh:
		return 0, nil, errors.New("closed")
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (s *scriptedWSConn) Write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	var req struct {
		ID     int64           `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}

	s.mu.Lock()
	handler := s.handlers[req.Method]
	s.mu.Unlock()
	if handler == nil {
		return nil
	}

	go func() {
		if reply := handler(req.ID, req.Params); reply != nil {
			s.readCh <- reply
		}
	}()
	return nil
}

func (s *scriptedWSConn) Close(code websocket.StatusCode, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.closeCh)
	}
	return nil
}

func resultFrame(id int64, result any) []byte {
	data, _ := json.Marshal(result)
	out, _ := json.Marshal(map[string]any{"id": id, "result": json.RawMessage(data)})
	return out
}

// wireTabCreation installs handlers answering the standard
// create-tab sequence with the given identifiers.
func wireTabCreation(ws *scriptedWSConn, contextID, targetID, sessionID string) {
	ws.on("Target.createBrowserContext", func(id int64, _ json.RawMessage) []byte {
		return resultFrame(id, map[string]string{"browserContextId": contextID})
	})
	ws.on("Target.createTarget", func(id int64, _ json.RawMessage) []byte {
		return resultFrame(id, map[string]string{"targetId": targetID})
	})
	ws.on("Target.attachToTarget", func(id int64, _ json.RawMessage) []byte {
		return resultFrame(id, map[string]string{"sessionId": sessionID})
	})
	for _, domain := range []string{"Page.enable", "Runtime.enable", "Network.enable", "DOM.enable"} {
		ws.on(domain, func(id int64, _ json.RawMessage) []byte {
			return resultFrame(id, map[string]string{})
		})
	}
}

func newTestManager(t *testing.T, ws *scriptedWSConn, opts Options) *Manager {
	t.Helper()
	conn := transport.New(ws, nil)
	t.Cleanup(func() { _ = conn.Close() })
	return New(conn, opts)
}

func runManager(t *testing.T, m *Manager) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestManager_SimpleCreate(t *testing.T) {
	t.Parallel()

	ws := newScriptedWSConn()
	wireTabCreation(ws, "ctx1", "t1", "s1")
	m := newTestManager(t, ws, Options{HealthInterval: time.Hour})
	runManager(t, m)

	reply := m.Create(CreateRequest{
		Owner:     NewOwnerID(),
		Inbox:     make(chan EventForward, 8),
		OwnerDone: make(chan struct{}),
		Timeout:   5 * time.Second,
	})
	require.NoError(t, reply.Err)
	assert.Equal(t, "s1", reply.Session)
	assert.Equal(t, "t1", reply.Target)
	assert.Equal(t, "ctx1", reply.Context)
}

func TestManager_CommandMultiplexing(t *testing.T) {
	t.Parallel()

	ws := newScriptedWSConn()
	wireTabCreation(ws, "ctxA", "tA", "sA")
	m := newTestManager(t, ws, Options{HealthInterval: time.Hour})
	runManager(t, m)

	createReply := m.Create(CreateRequest{
		Owner:     NewOwnerID(),
		Inbox:     make(chan EventForward, 8),
		OwnerDone: make(chan struct{}),
		Timeout:   5 * time.Second,
	})
	require.NoError(t, createReply.Err)
	session := createReply.Session

	// Two commands answered out of order: B's response arrives before
	// A's, by id rather than send order.
	var idA int64
	var mu sync.Mutex
	ws.on("Emulation.setScriptA", func(id int64, _ json.RawMessage) []byte {
		mu.Lock()
		idA = id
		mu.Unlock()
		return nil // delay A's reply until B's is delivered
	})
	ws.on("Emulation.setScriptB", func(id int64, _ json.RawMessage) []byte {
		return resultFrame(id, map[string]string{"which": "B"})
	})

	replyA := make(chan CommandReply, 1)
	replyB := make(chan CommandReply, 1)

	go func() {
		replyA <- m.Command(CommandRequest{Session: session, Method: "Emulation.setScriptA", Timeout: 5 * time.Second})
	}()
	time.Sleep(20 * time.Millisecond)
	go func() {
		replyB <- m.Command(CommandRequest{Session: session, Method: "Emulation.setScriptB", Timeout: 5 * time.Second})
	}()

	select {
	case rb := <-replyB:
		require.NoError(t, rb.Err)
		assert.Contains(t, string(rb.Result), "B")
	case <-time.After(2 * time.Second):
		t.Fatal("B never replied")
	}

	// Now let A's reply arrive.
	mu.Lock()
	a := idA
	mu.Unlock()
	require.NotZero(t, a)
	ws.pushEvent(resultFrame(a, map[string]string{"which": "A"}))

	select {
	case ra := <-replyA:
		require.NoError(t, ra.Err)
		assert.Contains(t, string(ra.Result), "A")
	case <-time.After(2 * time.Second):
		t.Fatal("A never replied")
	}
}

func TestManager_CapAndWaiter(t *testing.T) {
	t.Parallel()

	ws := newScriptedWSConn()
	seq := []struct{ ctx, target, session string }{
		{"ctx1", "t1", "s1"},
		{"ctx2", "t2", "s2"},
	}
	var idx int
	var mu sync.Mutex
	ws.on("Target.createBrowserContext", func(id int64, _ json.RawMessage) []byte {
		mu.Lock()
		c := seq[idx].ctx
		mu.Unlock()
		return resultFrame(id, map[string]string{"browserContextId": c})
	})
	ws.on("Target.createTarget", func(id int64, _ json.RawMessage) []byte {
		mu.Lock()
		tgt := seq[idx].target
		mu.Unlock()
		return resultFrame(id, map[string]string{"targetId": tgt})
	})
	ws.on("Target.attachToTarget", func(id int64, _ json.RawMessage) []byte {
		mu.Lock()
		s := seq[idx].session
		idx++
		mu.Unlock()
		return resultFrame(id, map[string]string{"sessionId": s})
	})
	for _, domain := range []string{"Page.enable", "Runtime.enable", "Network.enable", "DOM.enable", "Target.detachFromTarget", "Target.closeTarget", "Target.disposeBrowserContext"} {
		ws.on(domain, func(id int64, _ json.RawMessage) []byte {
			return resultFrame(id, map[string]string{})
		})
	}

	m := newTestManager(t, ws, Options{HealthInterval: time.Hour, MaxTabs: 1})
	runManager(t, m)

	owner1Done := make(chan struct{})
	reply1 := m.Create(CreateRequest{
		Owner:     NewOwnerID(),
		Inbox:     make(chan EventForward, 8),
		OwnerDone: owner1Done,
		Timeout:   5 * time.Second,
	})
	require.NoError(t, reply1.Err)
	assert.Equal(t, "s1", reply1.Session)

	owner2Reply := make(chan CreateReply, 1)
	go func() {
		owner2Reply <- m.Create(CreateRequest{
			Owner:     NewOwnerID(),
			Inbox:     make(chan EventForward, 8),
			OwnerDone: make(chan struct{}),
			Timeout:   5 * time.Second,
		})
	}()

	// Owner 2's create must not complete while the cap is full.
	select {
	case <-owner2Reply:
		t.Fatal("second create completed before a slot freed")
	case <-time.After(100 * time.Millisecond):
	}

	close(owner1Done)

	select {
	case r2 := <-owner2Reply:
		require.NoError(t, r2.Err)
		assert.Equal(t, "s2", r2.Session)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never served after owner 1 exited")
	}
}

func TestManager_HealthCheckFailureDisconnectsPending(t *testing.T) {
	t.Parallel()

	ws := newScriptedWSConn()
	wireTabCreation(ws, "ctx1", "t1", "s1")
	m := newTestManager(t, ws, Options{HealthInterval: 30 * time.Millisecond, ControlTimeout: 50 * time.Millisecond})
	runManager(t, m)

	createReply := m.Create(CreateRequest{
		Owner:     NewOwnerID(),
		Inbox:     make(chan EventForward, 8),
		OwnerDone: make(chan struct{}),
		Timeout:   5 * time.Second,
	})
	require.NoError(t, createReply.Err)

	ws.on("Emulation.setScriptA", func(id int64, _ json.RawMessage) []byte {
		return nil // never answered: still pending when health check fails
	})
	// Browser.getVersion is left unhandled too, so the ticker-driven
	// health check times out and drives the disconnect path below.

	pendingReplyCh := make(chan CommandReply, 1)
	go func() {
		pendingReplyCh <- m.Command(CommandRequest{Session: createReply.Session, Method: "Emulation.setScriptA", Timeout: 5 * time.Second})
	}()

	select {
	case r := <-pendingReplyCh:
		require.Error(t, r.Err)
		assert.Contains(t, r.Err.Error(), "CDP_DISCONNECTED")
	case <-time.After(3 * time.Second):
		t.Fatal("pending command never failed after health-check failure")
	}
}

func TestManager_UnknownSessionCommandFails(t *testing.T) {
	t.Parallel()

	ws := newScriptedWSConn()
	m := newTestManager(t, ws, Options{HealthInterval: time.Hour})
	runManager(t, m)

	reply := m.Command(CommandRequest{Session: "does-not-exist", Method: "Page.navigate", Timeout: time.Second})
	require.Error(t, reply.Err)
	assert.Contains(t, reply.Err.Error(), "TAB_CLOSED")
}

// TestManager_OwnerReuseAfterClose covers reusing one OwnerID across
// two tabs created in sequence. Closing the first tab must drop its
// owner's liveness monitor immediately, not leave a stale entry
// pointing at the first tab's done channel: otherwise the second tab's
// own done channel would never get registered, and closing it would
// never tear the second tab down.
func TestManager_OwnerReuseAfterClose(t *testing.T) {
	t.Parallel()

	ws := newScriptedWSConn()
	seq := []struct{ ctx, target, session string }{
		{"ctx1", "t1", "s1"},
		{"ctx2", "t2", "s2"},
	}
	var idx int
	var mu sync.Mutex
	ws.on("Target.createBrowserContext", func(id int64, _ json.RawMessage) []byte {
		mu.Lock()
		c := seq[idx].ctx
		mu.Unlock()
		return resultFrame(id, map[string]string{"browserContextId": c})
	})
	ws.on("Target.createTarget", func(id int64, _ json.RawMessage) []byte {
		mu.Lock()
		tgt := seq[idx].target
		mu.Unlock()
		return resultFrame(id, map[string]string{"targetId": tgt})
	})
	ws.on("Target.attachToTarget", func(id int64, _ json.RawMessage) []byte {
		mu.Lock()
		s := seq[idx].session
		idx++
		mu.Unlock()
		return resultFrame(id, map[string]string{"sessionId": s})
	})
	for _, domain := range []string{"Page.enable", "Runtime.enable", "Network.enable", "DOM.enable", "Target.detachFromTarget", "Target.closeTarget", "Target.disposeBrowserContext"} {
		ws.on(domain, func(id int64, _ json.RawMessage) []byte {
			return resultFrame(id, map[string]string{})
		})
	}

	m := newTestManager(t, ws, Options{HealthInterval: time.Hour})
	runManager(t, m)

	owner := NewOwnerID()

	reply1 := m.Create(CreateRequest{
		Owner:     owner,
		Inbox:     make(chan EventForward, 8),
		OwnerDone: make(chan struct{}),
		Timeout:   5 * time.Second,
	})
	require.NoError(t, reply1.Err)
	assert.Equal(t, "s1", reply1.Session)

	m.Close(reply1.Session)

	doneB := make(chan struct{})
	reply2 := m.Create(CreateRequest{
		Owner:     owner,
		Inbox:     make(chan EventForward, 8),
		OwnerDone: doneB,
		Timeout:   5 * time.Second,
	})
	require.NoError(t, reply2.Err)
	assert.Equal(t, "s2", reply2.Session)

	close(doneB)

	require.Eventually(t, func() bool {
		r := m.Command(CommandRequest{Session: reply2.Session, Method: "Page.navigate", Timeout: time.Second})
		return r.Err != nil
	}, 2*time.Second, 10*time.Millisecond, "second tab was never torn down after its owner's done channel closed")
}
