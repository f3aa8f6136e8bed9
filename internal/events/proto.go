package events

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

// EncodeProto renders ev as a serialized google.protobuf.Struct. This is
// the frame format on the Redis bus and the WebSocket feed.
func EncodeProto(ev domain.Event) ([]byte, error) {
	s, err := structpb.NewStruct(ev.Fields())
	if err != nil {
		return nil, fmt.Errorf("events: encode %s: %w", ev.Kind, err)
	}
	b, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("events: marshal %s: %w", ev.Kind, err)
	}
	return b, nil
}

// DecodeProto parses a frame produced by EncodeProto back into its field
// map.
func DecodeProto(b []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("events: unmarshal frame: %w", err)
	}
	return s.AsMap(), nil
}
