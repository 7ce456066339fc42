package protocol

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync/atomic"
)

// Codec assigns monotone request identifiers and encodes outgoing CDP
// commands. It is safe for concurrent use; the identifier counter is
// the only state it carries.
type Codec struct {
	nextID atomic.Int64
}

// NewCodec returns a Codec whose first assigned identifier is 1.
func NewCodec() *Codec {
	return &Codec{}
}

// Encode assigns the next identifier and marshals a command frame.
// params of nil (or an empty map/slice) is omitted from the wire form;
// session of "" means a browser-level command and is also omitted.
func (c *Codec) Encode(method string, params interface{}, session string) (data []byte, id int64, err error) {
	id = c.nextID.Add(1)
	if v := reflect.ValueOf(params); (v.Kind() == reflect.Map || v.Kind() == reflect.Slice) && v.Len() == 0 {
		params = nil
	}
	req := Request{
		ID:        id,
		Method:    method,
		Params:    params,
		SessionID: session,
	}
	data, err = json.Marshal(req)
	if err != nil {
		return nil, id, fmt.Errorf("protocol: encode %s: %w", method, err)
	}
	return data, id, nil
}
