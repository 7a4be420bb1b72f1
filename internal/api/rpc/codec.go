package rpc

import "encoding/json"

// jsonCodec lets Connect handlers exchange plain JSON-tagged structs. The
// codecs that ship with connect-go only accept protobuf messages; the
// JobService types are hand-written.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	// An empty body decodes to the zero request.
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, msg)
}
