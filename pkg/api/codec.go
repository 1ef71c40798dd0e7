// Package api defines the accountantbot.v1 RPC messages exchanged over
// Connect. Messages are plain structs carried by a JSON codec.
package api

import (
	"encoding/json"
	"fmt"
)

// CodecName replaces Connect's built-in protobuf JSON codec.
const CodecName = "json"

// JSONCodec marshals messages with encoding/json.
type JSONCodec struct{}

func (JSONCodec) Name() string {
	return CodecName
}

func (JSONCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (JSONCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("failed to decode %T: %w", msg, err)
	}
	return nil
}
