// ABOUTME: Envelope encoding for named messages carried as google.protobuf.Struct frames.
// ABOUTME: Payloads travel as JSON values converted with protojson.

package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	fieldName    = "name"
	fieldPayload = "payload"
)

// ErrMissingName is returned when a frame has no message name.
var ErrMissingName = errors.New("wire: frame missing message name")

// Encode wraps payload into a frame named name. A nil payload is encoded as JSON null.
func Encode(name string, payload any) (*structpb.Struct, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrMissingName
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", name, err)
	}

	value := &structpb.Value{}
	if err := protojson.Unmarshal(data, value); err != nil {
		return nil, fmt.Errorf("converting %s payload: %w", name, err)
	}

	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			fieldName:    structpb.NewStringValue(name),
			fieldPayload: value,
		},
	}, nil
}

// Decode splits a frame into its message name and raw JSON payload.
func Decode(frame *structpb.Struct) (string, json.RawMessage, error) {
	fields := frame.GetFields()
	name := strings.TrimSpace(fields[fieldName].GetStringValue())
	if name == "" {
		return "", nil, ErrMissingName
	}

	value, ok := fields[fieldPayload]
	if !ok || value == nil {
		return name, json.RawMessage("null"), nil
	}

	data, err := protojson.Marshal(value)
	if err != nil {
		return name, nil, fmt.Errorf("converting %s payload: %w", name, err)
	}
	return name, json.RawMessage(data), nil
}
