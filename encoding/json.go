package encoding

import (
	"github.com/golang/protobuf/jsonpb"
	"github.com/jhump/protoreflect/dynamic"
)

type jsonCodec struct {
	marshalOpt   *jsonpb.Marshaler
	unmarshalOpt *jsonpb.Unmarshaler
}

func (c jsonCodec) Marshal(msg *dynamic.Message) ([]byte, error) {
	return msg.MarshalJSONPB(c.marshalOpt)
}

func (c jsonCodec) Unmarshal(data []byte, msg *dynamic.Message) error {
	return msg.UnmarshalJSONPB(c.unmarshalOpt, data)
}

func (jsonCodec) Subtype() string {
	return JsonSubType
}
