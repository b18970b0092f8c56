package validator

import "encoding/json"

// jsonCodec lets the validator client run over google.golang.org/grpc
// without a protoc-generated protobuf stub: it marshals the plain
// structs in internal/validatorpb as JSON instead of wire-format
// protobuf. grpc's codec is pluggable by design (the same mechanism
// grpc-gateway uses for JSON transcoding), so this keeps the real gRPC
// transport, framing, and stream multiplexing while sidestepping the
// unavailable protoc step. See DESIGN.md for the full rationale.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "json"
}
