package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/coder/websocket"

	"github.com/cdpfleet/cdpfleet/internal/protocol"
)

// discoveryPayload is the body of GET /json/version.
type discoveryPayload struct {
	WebSocketURL string `json:"webSocketDebuggerUrl"`
}

// Bootstrap issues the discovery HTTP GET against the browser and
// returns the browser-level WebSocket URL it advertises. Any failure
// mode (transport error, non-2xx status, missing or unparseable
// payload) is reported as a CDP_CONNECTION_FAILED error string.
func Bootstrap(ctx context.Context, addr string) (string, error) {
	url := fmt.Sprintf("http://%s/json/version", addr)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", connFailed(fmt.Errorf("build discovery request: %w", err))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", connFailed(fmt.Errorf("discovery request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", connFailed(fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", connFailed(fmt.Errorf("read discovery response: %w", err))
	}

	var payload discoveryPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", connFailed(fmt.Errorf("parse discovery payload: %w", err))
	}
	if payload.WebSocketURL == "" {
		return "", connFailed(fmt.Errorf("discovery payload missing webSocketDebuggerUrl"))
	}

	return payload.WebSocketURL, nil
}

func connFailed(cause error) error {
	return fmt.Errorf("%s", string(protocol.CDPConnectionFailed)+": "+cause.Error())
}

// Dial opens the browser-level WebSocket named by a prior Bootstrap
// call.
func Dial(ctx context.Context, wsURL string) (WSConn, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, connFailed(fmt.Errorf("dial %s: %w", wsURL, err))
	}
	return conn, nil
}
