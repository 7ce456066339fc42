// Package protocol implements the CDP wire codec: encoding of outgoing
// commands and classification of incoming frames into response,
// error-response, event, or unknown.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Request is an outgoing CDP command.
type Request struct {
	ID        int64       `json:"id"`
	Method    string      `json:"method"`
	Params    interface{} `json:"params,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
}

// Error is a CDP protocol error as carried in an error-response frame.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("CDP error(%d): %s", e.Code, e.Message)
}

const defaultErrorMessage = "Unknown CDP error"

// FrameKind discriminates a decoded incoming frame.
type FrameKind int

const (
	// FrameUnknown is any frame that does not match the response, error
	// response, or event shapes, including undecodable input.
	FrameUnknown FrameKind = iota
	FrameResponse
	FrameErrorResponse
	FrameEvent
)

// Frame is the decoded result of Decode. Exactly one of the typed
// fields is populated, selected by Kind.
type Frame struct {
	Kind FrameKind

	// Populated for FrameResponse / FrameErrorResponse.
	ID     int64
	Result json.RawMessage
	Err    *Error

	// Populated for FrameEvent.
	Method    string
	Params    json.RawMessage
	SessionID string

	// Raw holds the original bytes. Always populated for FrameUnknown;
	// kept for every kind so callers can log the wire form on demand.
	Raw []byte
}

// wireMessage is the superset shape used to sniff an incoming frame
// before classifying it. CDP frames are duck-typed on the wire: a
// frame with a non-zero id is a response (or error-response if it
// carries an error), and a frame with a method but no id is an event.
type wireMessage struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	Result    json.RawMessage `json:"result"`
	Error     *wireError      `json:"error"`
	Params    json.RawMessage `json:"params"`
	SessionID string          `json:"sessionId"`
}

type wireError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Decode classifies a raw incoming CDP frame. It never errors: frames
// it cannot make sense of come back as FrameUnknown with Raw set.
func Decode(data []byte) Frame {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Frame{Kind: FrameUnknown, Raw: data}
	}

	if msg.ID != 0 {
		if msg.Error != nil {
			message := msg.Error.Message
			if message == "" {
				message = defaultErrorMessage
			}
			return Frame{
				Kind: FrameErrorResponse,
				ID:   msg.ID,
				Err: &Error{
					Code:    msg.Error.Code,
					Message: message,
					Data:    msg.Error.Data,
				},
				Raw: data,
			}
		}
		result := msg.Result
		if result == nil {
			result = json.RawMessage("{}")
		}
		return Frame{Kind: FrameResponse, ID: msg.ID, Result: result, Raw: data}
	}

	if msg.Method != "" {
		params := msg.Params
		if params == nil {
			params = json.RawMessage("{}")
		}
		return Frame{
			Kind:      FrameEvent,
			Method:    msg.Method,
			Params:    params,
			SessionID: msg.SessionID,
			Raw:       data,
		}
	}

	return Frame{Kind: FrameUnknown, Raw: data}
}
