package httpapi

import "encoding/json"

func jsonUnmarshal(raw []byte, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
