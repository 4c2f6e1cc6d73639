package activity

import (
	"bytes"
	"encoding/json"
	"maps"
	"reflect"
)

// decodeObject decodes the keys listed in targets and returns every other key.
// A listed value that does not fit its Go type is returned with the rest so it
// is re-emitted unchanged.
func decodeObject(data []byte, targets map[string]any) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}

	var extra map[string]json.RawMessage
	for key, value := range fields {
		if target, ok := targets[key]; ok {
			if err := json.Unmarshal(value, target); err == nil {
				continue
			}
			reflect.ValueOf(target).Elem().SetZero()
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[key] = bytes.Clone(value)
	}

	return extra, nil
}

// encodeObject encodes modeled and adds the extra keys it does not already
// carry.
func encodeObject(modeled any, extra map[string]json.RawMessage) ([]byte, error) {
	encoded, err := json.Marshal(modeled)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return encoded, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &merged); err != nil {
		return nil, err
	}
	for key, value := range extra {
		if _, ok := merged[key]; ok {
			continue
		}
		merged[key] = value
	}

	return json.Marshal(merged)
}

// sameJSON reports whether a and b encode the same JSON value.
func sameJSON(a, b []byte) bool {
	var left, right any
	if json.Unmarshal(a, &left) != nil || json.Unmarshal(b, &right) != nil {
		return false
	}

	return reflect.DeepEqual(left, right)
}

// scalarText returns a JSON string unquoted and any other value as written.
func scalarText(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}

	return string(raw)
}

func cloneExtra(extra map[string]json.RawMessage) map[string]json.RawMessage {
	if extra == nil {
		return nil
	}

	return maps.Clone(extra)
}
