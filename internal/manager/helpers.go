package manager

import "encoding/json"

// unmarshalResult decodes a command's raw JSON result into dst. An
// empty result is decoded as "{}", so it is not an error and leaves
// dst's fields at their zero values.
func unmarshalResult(result json.RawMessage, dst any) error {
	if len(result) == 0 {
		result = []byte("{}")
	}
	return json.Unmarshal(result, dst)
}
