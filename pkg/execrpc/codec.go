package execrpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec is a grpc encoding.Codec for the hand-written structs in this
// package. Production systems with generated protobuf stubs would register
// the default proto codec instead; since the wire encoding of a plan
// fragment is explicitly out of scope (spec.md §1), this module speaks gRPC
// transport with a JSON payload rather than fabricate a protoc-generated
// package.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
