package protocol

import (
	"encoding/json"
	"testing"
)

func TestCodec_EncodeAssignsIncreasingIDs(t *testing.T) {
	t.Parallel()

	c := NewCodec()
	var lastID int64
	for i := 0; i < 100; i++ {
		_, id, err := c.Encode("Page.enable", nil, "")
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if id <= lastID {
			t.Fatalf("expected strictly increasing ids, got %d after %d", id, lastID)
		}
		lastID = id
	}
}

func TestCodec_EncodeOmitsEmptyParamsAndSession(t *testing.T) {
	t.Parallel()

	c := NewCodec()
	data, _, err := c.Encode("Browser.getVersion", nil, "")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["params"]; ok {
		t.Errorf("expected params to be omitted, got %s", decoded["params"])
	}
	if _, ok := decoded["sessionId"]; ok {
		t.Errorf("expected sessionId to be omitted, got %s", decoded["sessionId"])
	}
}

func TestCodec_EncodeIncludesSessionAndParams(t *testing.T) {
	t.Parallel()

	c := NewCodec()
	data, id, err := c.Encode("Page.navigate", map[string]string{"url": "https://example.com"}, "sess-1")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.ID != id || req.Method != "Page.navigate" || req.SessionID != "sess-1" {
		t.Fatalf("unexpected request: %+v", req)
	}
}
