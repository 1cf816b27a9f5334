package installer

import "encoding/json"

// jsonCodec lets GRPCNotifier call the installer service without a
// protoc-generated stub: StageUpdate's request and response are plain JSON
// documents carried over the gRPC wire via grpc.ForceCodec, rather than
// protobuf. The installer service belongs to another codebase, and this
// keeps its contract decoupled from any .proto toolchain here.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "json"
}
