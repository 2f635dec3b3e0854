// Package encoding holds the payload codecs negotiated by content subtype and
// the string-to-scalar conversions shared by path, query, and form binding.
package encoding

import (
	"github.com/golang/protobuf/jsonpb"
	"github.com/jhump/protoreflect/dynamic"
)

const (
	JsonSubType = "json"
	FormSubType = "x-www-form-urlencoded"
)

// Codec translates between a raw payload and a dynamic message. Codecs work
// on whole payloads only; merging path captures and query parameters into the
// message is the request binder's job.
type Codec interface {
	Marshal(msg *dynamic.Message) ([]byte, error)
	Unmarshal(data []byte, msg *dynamic.Message) error
	Subtype() string
}

// Registry is one gateway's codec set, built from that gateway's marshal
// options. Each gateway owns its registry, so constructing a second gateway
// with different options cannot reconfigure the first.
type Registry struct {
	codecs map[string]Codec
}

// TODO 支持xml html
func NewRegistry(marshalOpt *jsonpb.Marshaler, unmarshalOpt *jsonpb.Unmarshaler) *Registry {
	form := &formCodec{
		unmarshalOpt: unmarshalOpt,
	}
	json := &jsonCodec{
		marshalOpt:   marshalOpt,
		unmarshalOpt: unmarshalOpt,
	}
	return &Registry{codecs: map[string]Codec{
		form.Subtype(): form,
		json.Subtype(): json,
	}}
}

func (r *Registry) BySubtype(subtype string) Codec {
	return r.codecs[subtype]
}
