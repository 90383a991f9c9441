// Package proto registers the wire codec shared by proto/node and
// proto/agent. Neither the hypervisor nor the guest agent RPC surfaces
// ship generated .pb.go stubs — see DESIGN.md's "gRPC service surfaces
// without protoc" entry — so every message type here is a plain Go
// struct and the codec below marshals with encoding/json under the
// wire name "proto", the name grpc uses by default for the content
// subtype. This keeps google.golang.org/grpc itself — ClientConn,
// bidirectional/server streams, interceptors, codes/status — as the
// genuine transport, with JSON standing in for the wire format a real
// protoc-gen-go pass would produce.
package proto

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const Name = "proto"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return Name }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Codec returns the shared codec instance. Servers pass it through
// grpc.ForceServerCodec and clients through grpc.ForceCodec so the
// JSON marshaling applies regardless of which codec registry the grpc
// runtime consults by default.
func Codec() encoding.Codec { return jsonCodec{} }

// Message is implemented by every request/response/event type in
// proto/node and proto/agent. It carries no behavior; it exists so the
// generated-style service descriptors below can be typed against a
// common interface the way protoc-gen-go-grpc's message interface is.
type Message interface {
	isSandchestMessage()
}
