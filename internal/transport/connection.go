package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/cdpfleet/cdpfleet/internal/protocol"
)

// DefaultSubscriptionCapacity is the default bound on a per-session
// event bus. Overflow drops the newest event; subscribers that cannot
// keep up lose events but never block the connection.
const DefaultSubscriptionCapacity = 64

// rawFrameQueueCapacity bounds the channel the reader goroutine
// publishes onto. It only needs to absorb the gap between frames
// arriving and the Manager (or a blocking Send) servicing them.
const rawFrameQueueCapacity = 256

// ErrClosed is returned by any send attempted after the connection has
// latched closed.
var ErrClosed = errors.New("connection closed")

// Connection owns the single outbound stream to the browser. Only the
// Manager is meant to hold one; tab handles never touch it directly.
type Connection struct {
	ws    WSConn
	codec *protocol.Codec
	log   *zap.Logger

	writeMu sync.Mutex

	rawCh chan []byte

	closed   atomic.Bool
	closedCh chan struct{}
	closeErr error
	closeMu  sync.Mutex
	readDone chan struct{}

	busMu sync.Mutex
	buses map[string]*sessionBus

	browserMu     sync.Mutex
	browserEvents []protocol.Frame

	bufferedMu sync.Mutex
	buffered   map[int64]protocol.Frame
}

type sessionBus struct {
	ch chan protocol.Frame
}

// New wraps an already-dialed WebSocket connection, starting its
// single reader goroutine.
func New(ws WSConn, log *zap.Logger) *Connection {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Connection{
		ws:       ws,
		codec:    protocol.NewCodec(),
		log:      log,
		rawCh:    make(chan []byte, rawFrameQueueCapacity),
		closedCh: make(chan struct{}),
		readDone: make(chan struct{}),
		buses:    make(map[string]*sessionBus),
		buffered: make(map[int64]protocol.Frame),
	}
	go c.readLoop()
	return c
}

// Connect bootstraps discovery against addr and dials the resulting
// WebSocket, returning a ready Connection.
func Connect(ctx context.Context, addr string, log *zap.Logger) (*Connection, error) {
	wsURL, err := Bootstrap(ctx, addr)
	if err != nil {
		return nil, err
	}
	ws, err := Dial(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	return New(ws, log), nil
}

// readLoop is the connection's sole reader of the underlying stream.
// It runs until a read fails, at which point it latches closed and
// tears down every subscription.
func (c *Connection) readLoop() {
	defer close(c.readDone)

	ctx := context.Background()
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			c.latchClosed(err)
			return
		}

		select {
		case c.rawCh <- data:
		case <-c.closedCh:
			return
		}
	}
}

func (c *Connection) latchClosed(err error) {
	if c.closed.Swap(true) {
		return
	}
	c.closeMu.Lock()
	c.closeErr = err
	c.closeMu.Unlock()
	close(c.closedCh)

	c.busMu.Lock()
	for id, bus := range c.buses {
		close(bus.ch)
		delete(c.buses, id)
	}
	c.busMu.Unlock()
}

// RawFrames exposes the incoming frame feed for a multiplexing caller
// (the Manager) to select on alongside its own sources.
func (c *Connection) RawFrames() <-chan []byte {
	return c.rawCh
}

// PumpMessage decodes one frame taken off RawFrames(). Event frames
// are routed internally to session buses (or the session-less browser
// event buffer); response/error-response frames are returned to the
// caller for routing against its own pending-reply table.
func (c *Connection) PumpMessage(data []byte) (frame protocol.Frame, isReply bool) {
	frame = protocol.Decode(data)
	switch frame.Kind {
	case protocol.FrameResponse, protocol.FrameErrorResponse:
		return frame, true
	case protocol.FrameEvent:
		c.dispatchEvent(frame)
		return frame, false
	default:
		c.log.Debug("dropped unclassifiable frame", zap.ByteString("raw", frame.Raw))
		return frame, false
	}
}

func (c *Connection) dispatchEvent(frame protocol.Frame) {
	if frame.SessionID == "" {
		c.browserMu.Lock()
		c.browserEvents = append(c.browserEvents, frame)
		c.browserMu.Unlock()
		return
	}

	c.busMu.Lock()
	bus, ok := c.buses[frame.SessionID]
	c.busMu.Unlock()
	if !ok {
		// Unknown session: silently dropped per the dispatch rule.
		return
	}

	select {
	case bus.ch <- frame:
	default:
		c.log.Debug("session event bus full, dropping newest event",
			zap.String("session", frame.SessionID), zap.String("method", frame.Method))
	}
}

// SendAsync encodes and writes a command without waiting for its
// response. The caller must record the returned id to match the
// response frame when it later arrives off RawFrames/PumpMessage.
func (c *Connection) SendAsync(method string, params interface{}, session string) (id int64, err error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}

	data, id, err := c.codec.Encode(method, params, session)
	if err != nil {
		return 0, err
	}

	c.writeMu.Lock()
	err = c.ws.Write(context.Background(), websocket.MessageText, data)
	c.writeMu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", method, err)
	}
	return id, nil
}

// Send writes a command and blocks until its matching response frame
// arrives, the connection closes, or timeout elapses. Event frames and
// non-matching response frames encountered while draining are never
// dropped: events are routed as usual, and non-matching responses are
// buffered for DrainResponses.
func (c *Connection) Send(ctx context.Context, method string, params interface{}, session string, timeout time.Duration) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	data, id, err := c.codec.Encode(method, params, session)
	if err != nil {
		return nil, err
	}

	c.writeMu.Lock()
	err = c.ws.Write(ctx, websocket.MessageText, data)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case raw, ok := <-c.rawCh:
			if !ok {
				return nil, ErrClosed
			}
			frame, isReply := c.PumpMessage(raw)
			if !isReply {
				continue
			}
			if frame.ID != id {
				c.bufferedMu.Lock()
				c.buffered[frame.ID] = frame
				c.bufferedMu.Unlock()
				continue
			}
			if frame.Kind == protocol.FrameErrorResponse {
				return nil, fmt.Errorf("%s", protocol.ClassifyAndDescribe(frame.Err.Message, method))
			}
			return frame.Result, nil
		case <-c.closedCh:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %s", protocol.Timeout, ctx.Err())
		case <-deadline.C:
			return nil, fmt.Errorf("%s: %s timed out after %s", protocol.Timeout, method, timeout)
		}
	}
}

// DrainResponses returns and clears every response frame that arrived
// for a different identifier during a blocking Send call.
func (c *Connection) DrainResponses() []protocol.Frame {
	c.bufferedMu.Lock()
	defer c.bufferedMu.Unlock()

	if len(c.buffered) == 0 {
		return nil
	}
	out := make([]protocol.Frame, 0, len(c.buffered))
	for id, frame := range c.buffered {
		out = append(out, frame)
		delete(c.buffered, id)
	}
	return out
}

// DrainBrowserEvents returns and clears every session-less event seen
// so far.
func (c *Connection) DrainBrowserEvents() []protocol.Frame {
	c.browserMu.Lock()
	defer c.browserMu.Unlock()

	if len(c.browserEvents) == 0 {
		return nil
	}
	out := c.browserEvents
	c.browserEvents = nil
	return out
}

// Subscribe creates a bounded per-session event bus. capacity<=0 uses
// DefaultSubscriptionCapacity.
func (c *Connection) Subscribe(session string, capacity int) <-chan protocol.Frame {
	if capacity <= 0 {
		capacity = DefaultSubscriptionCapacity
	}
	bus := &sessionBus{ch: make(chan protocol.Frame, capacity)}

	c.busMu.Lock()
	c.buses[session] = bus
	c.busMu.Unlock()

	return bus.ch
}

// Unsubscribe destroys a session's event bus, closing its channel so
// any forwarder goroutine reading it observes the closure.
func (c *Connection) Unsubscribe(session string) {
	c.busMu.Lock()
	bus, ok := c.buses[session]
	if ok {
		delete(c.buses, session)
	}
	c.busMu.Unlock()

	if ok {
		close(bus.ch)
	}
}

// Close latches the connection closed, closes the underlying stream,
// and waits for the reader goroutine to exit.
func (c *Connection) Close() error {
	if c.closed.Swap(true) {
		<-c.readDone
		return nil
	}
	close(c.closedCh)

	c.busMu.Lock()
	for id, bus := range c.buses {
		close(bus.ch)
		delete(c.buses, id)
	}
	c.busMu.Unlock()

	err := c.ws.Close(websocket.StatusNormalClosure, "connection closing")
	<-c.readDone
	return err
}

// Err returns the error that caused the connection to latch closed, if
// any.
func (c *Connection) Err() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closeErr
}

// Closed reports whether the connection has latched closed.
func (c *Connection) Closed() bool {
	return c.closed.Load()
}
