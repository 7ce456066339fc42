package tab

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cdpfleet/cdpfleet/internal/manager"
)

// InterceptionState names one of the four composed states of a
// session's fetch interception.
type InterceptionState string

const (
	Off              InterceptionState = "off"
	BlockingOnly     InterceptionState = "blocking"
	DownloadOnly     InterceptionState = "download-capture"
	BlockingDownload InterceptionState = "blocking+download-capture"
)

// DownloadResult is what ExpectDownload returns once a capture
// completes.
type DownloadResult struct {
	Data     []byte
	Filename string
	MimeType string
	Size     int
}

// fetchMachine composes resource blocking and in-memory download
// capture over the one CDP Fetch channel available to a session. The
// two features are tracked as independent booleans; InterceptionState
// is their composition.
type fetchMachine struct {
	h *Handle

	blocking      bool
	blockedSet    map[string]bool
	downloading   bool
	pendingResult chan DownloadResult
}

func newFetchMachine(h *Handle) *fetchMachine {
	return &fetchMachine{h: h, blockedSet: make(map[string]bool)}
}

// State reports the machine's current composed state.
func (f *fetchMachine) State() InterceptionState {
	switch {
	case f.blocking && f.downloading:
		return BlockingDownload
	case f.blocking:
		return BlockingOnly
	case f.downloading:
		return DownloadOnly
	default:
		return Off
	}
}

// blockResources sets the blocked resource-category set, entering
// BlockingOnly (or Both, if a download capture is in progress) when
// non-empty, Off (or DownloadOnly) when empty.
func (f *fetchMachine) blockResources(categories []string) error {
	f.blockedSet = make(map[string]bool, len(categories))
	for _, c := range categories {
		f.blockedSet[c] = true
	}
	f.blocking = len(categories) > 0
	return f.reconfigure()
}

// beginExpectDownload enters DownloadOnly (or Both, if blocking is
// already active), enabling the browser's download-allow policy first.
func (f *fetchMachine) beginExpectDownload(ctx context.Context) error {
	if _, err := f.h.CommandCtx(ctx, "Browser.setDownloadBehavior", map[string]any{"behavior": "allow"}); err != nil {
		return err
	}
	f.downloading = true
	return f.reconfigure()
}

// endExpectDownload reverts to whatever steady state preceded the
// capture (BlockingOnly if blocking is still active, else Off).
func (f *fetchMachine) endExpectDownload() error {
	f.downloading = false
	return f.reconfigure()
}

// reconfigure disables Fetch and, if either feature is active,
// re-enables it with exactly the request/response stage patterns the
// current composed state calls for.
func (f *fetchMachine) reconfigure() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := f.h.CommandCtx(ctx, "Fetch.disable", nil); err != nil {
		return err
	}
	if !f.blocking && !f.downloading {
		return nil
	}

	var patterns []map[string]any
	if f.blocking {
		patterns = append(patterns, map[string]any{"urlPattern": "*", "requestStage": "Request"})
	}
	if f.downloading {
		patterns = append(patterns, map[string]any{"urlPattern": "*", "requestStage": "Response"})
	}

	_, err := f.h.CommandCtx(ctx, "Fetch.enable", map[string]any{"patterns": patterns})
	return err
}

// handle offers one forwarded event to the fetch state machine. It
// reports whether it consumed the event (always true for
// Fetch.requestPaused, always false otherwise) so WaitEvent's loop
// knows whether to keep waiting on the same call or hand the event to
// the caller's own filter.
func (f *fetchMachine) handle(fwd manager.EventForward) bool {
	if fwd.Method != "Fetch.requestPaused" {
		return false
	}
	f.handleRequestPaused(fwd.Params)
	return true
}

type requestPausedParams struct {
	RequestID          string            `json:"requestId"`
	Request            struct{ URL string `json:"url"` } `json:"request"`
	ResourceType       string            `json:"resourceType"`
	ResponseStatusCode int               `json:"responseStatusCode"`
	ResponseHeaders    []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"responseHeaders"`
}

func (f *fetchMachine) handleRequestPaused(raw json.RawMessage) {
	var params requestPausedParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	isResponseStage := params.ResponseStatusCode != 0 || len(params.ResponseHeaders) > 0

	if isResponseStage {
		f.handleResponseStage(ctx, params)
		return
	}
	f.handleRequestStage(ctx, params)
}

func (f *fetchMachine) handleResponseStage(ctx context.Context, params requestPausedParams) {
	headers := make(map[string]string, len(params.ResponseHeaders))
	for _, h := range params.ResponseHeaders {
		headers[h.Name] = h.Value
	}

	isDownload, filename, mimeType := detectDownload(headers)
	if !isDownload || !f.downloading {
		_, _ = f.h.CommandCtx(ctx, "Fetch.continueResponse", map[string]any{"requestId": params.RequestID})
		return
	}

	result, err := f.h.CommandCtx(ctx, "Fetch.getResponseBody", map[string]any{"requestId": params.RequestID})
	if err != nil {
		_, _ = f.h.CommandCtx(ctx, "Fetch.continueResponse", map[string]any{"requestId": params.RequestID})
		return
	}

	var body struct {
		Body          string `json:"body"`
		Base64Encoded bool   `json:"base64Encoded"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		_, _ = f.h.CommandCtx(ctx, "Fetch.continueResponse", map[string]any{"requestId": params.RequestID})
		return
	}

	data := []byte(body.Body)
	if body.Base64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body.Body)
		if err == nil {
			data = decoded
		}
	}

	_, _ = f.h.CommandCtx(ctx, "Fetch.fulfillRequest", map[string]any{
		"requestId":      params.RequestID,
		"responseCode":   200,
		"responseHeaders": []map[string]string{},
		"body":           "",
	})

	dr := DownloadResult{Data: data, Filename: filename, MimeType: mimeType, Size: len(data)}
	if f.pendingResult != nil {
		select {
		case f.pendingResult <- dr:
		default:
		}
	}
}

func (f *fetchMachine) handleRequestStage(ctx context.Context, params requestPausedParams) {
	if f.blocking && f.blockedSet[params.ResourceType] {
		_, _ = f.h.CommandCtx(ctx, "Fetch.failRequest", map[string]any{
			"requestId":   params.RequestID,
			"errorReason": "BlockedByClient",
		})
		return
	}
	_, _ = f.h.CommandCtx(ctx, "Fetch.continueRequest", map[string]any{"requestId": params.RequestID})
}

// ExpectDownload begins a download capture, runs action (which must
// trigger the download), and waits for either a captured response or
// timeout, reverting the state machine to its prior steady state
// before returning. If action returns an error, the wait aborts
// immediately with that error instead of waiting for a download.
func (h *Handle) ExpectDownload(ctx context.Context, action func() error, timeout time.Duration) (DownloadResult, error) {
	if err := h.fetch.beginExpectDownload(ctx); err != nil {
		return DownloadResult{}, err
	}
	resultCh := make(chan DownloadResult, 1)
	h.fetch.pendingResult = resultCh
	defer func() {
		h.fetch.pendingResult = nil
		_ = h.fetch.endExpectDownload()
	}()

	if action != nil {
		if err := action(); err != nil {
			return DownloadResult{}, err
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case dr := <-resultCh:
			return dr, nil
		case fwd, ok := <-h.inbox:
			if !ok {
				return DownloadResult{}, fmt.Errorf("%s", "TAB_CLOSED: event bus closed while waiting for download")
			}
			h.fetch.handle(fwd)
		case <-deadline.C:
			return DownloadResult{}, fmt.Errorf("DOWNLOAD_TIMEOUT: no matching response within %s", timeout)
		case <-ctx.Done():
			return DownloadResult{}, fmt.Errorf("DOWNLOAD_TIMEOUT: %s", ctx.Err())
		}
	}
}
