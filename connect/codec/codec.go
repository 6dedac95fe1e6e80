// Package codec implements the Connect serialization registry
// (spec.md §4.2, component C2): the protobuf-binary and canonical-JSON
// codec pair, each bound to a unary and a streaming content-type.
package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Content-type families (spec.md §4.2).
const (
	UnaryProto     = "application/proto"
	UnaryJSON      = "application/json"
	StreamingProto = "application/connect+proto"
	StreamingJSON  = "application/connect+json"
)

// Name identifies a codec family independent of unary/streaming framing.
type Name string

// The two codec families Connect defines.
const (
	Proto Name = "proto"
	JSON  Name = "json"
)

// Codec serializes and deserializes a single Protobuf message. It is
// the "injected serializer" spec.md §1 assumes the engine is handed:
// the engine never depends on a specific .proto-generated type, only on
// proto.Message.
type Codec interface {
	Name() Name
	UnaryContentType() string
	StreamingContentType() string
	Marshal(msg proto.Message) ([]byte, error)
	Unmarshal(data []byte, msg proto.Message) error
}

type protoCodec struct{}

func (protoCodec) Name() Name { return Proto }
func (protoCodec) UnaryContentType() string { return UnaryProto }
func (protoCodec) StreamingContentType() string { return StreamingProto }
func (protoCodec) Marshal(msg proto.Message) ([]byte, error) {
	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}
	return data, nil
}

func (protoCodec) Unmarshal(data []byte, msg proto.Message) error {
	if err := proto.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("protobuf unmarshal: %w", err)
	}
	return nil
}

// jsonCodec uses protojson rather than encoding/json: Connect's "canonical
// JSON" is protobuf's canonical JSON mapping (field name casing, enum
// string values, well-known-type shims), which only protojson produces.
type jsonCodec struct {
	marshalOpts   protojson.MarshalOptions
	unmarshalOpts protojson.UnmarshalOptions
}

func newJSONCodec() jsonCodec {
	return jsonCodec{
		marshalOpts:   protojson.MarshalOptions{EmitUnpopulated: false},
		unmarshalOpts: protojson.UnmarshalOptions{DiscardUnknown: true},
	}
}

func (jsonCodec) Name() Name { return JSON }
func (jsonCodec) UnaryContentType() string { return UnaryJSON }
func (jsonCodec) StreamingContentType() string { return StreamingJSON }

func (c jsonCodec) Marshal(msg proto.Message) ([]byte, error) {
	data, err := c.marshalOpts.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	return data, nil
}

func (c jsonCodec) Unmarshal(data []byte, msg proto.Message) error {
	if len(data) == 0 {
		return nil
	}
	if err := c.unmarshalOpts.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("json unmarshal: %w", err)
	}
	return nil
}

// Registry is the process-wide, immutable-after-init {protobuf,json}
// codec pair, looked up by content-type family.
type Registry struct {
	byName        map[Name]Codec
	byContentType map[string]Codec
}

// NewRegistry returns a Registry preloaded with Proto and JSON.
func NewRegistry() *Registry {
	r := &Registry{
		byName:        make(map[Name]Codec, 2),
		byContentType: make(map[string]Codec, 4),
	}
	for _, c := range []Codec{protoCodec{}, newJSONCodec()} {
		r.byName[c.Name()] = c
		r.byContentType[c.UnaryContentType()] = c
		r.byContentType[c.StreamingContentType()] = c
	}
	return r
}

// ByName looks up a codec by family name.
func (r *Registry) ByName(name Name) (Codec, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// ByContentType looks up a codec by either its unary or streaming
// content-type string.
func (r *Registry) ByContentType(contentType string) (Codec, bool) {
	c, ok := r.byContentType[contentType]
	return c, ok
}

// Default is the registry used when callers don't configure their own.
var Default = NewRegistry()
