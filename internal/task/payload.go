package task

import (
	"github.com/bytedance/sonic"

	"main/internal/schema"
)

// EncodePayload serializes a structured payload for persistence. The
// stored form is always JSON, never a host-language literal.
func EncodePayload(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, &schema.ValidationError{Reason: "payload not serializable: " + err.Error()}
	}
	return data, nil
}

// DecodePayload parses a persisted payload. Unparseable data is a hard
// validation error; it is never silently replaced with an empty map,
// since that would mask corruption in the store.
func DecodePayload(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, &schema.ValidationError{Reason: "unparseable payload: " + err.Error()}
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
