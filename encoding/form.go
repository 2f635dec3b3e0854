package encoding

import (
	"fmt"
	"net/url"

	"github.com/golang/protobuf/jsonpb"
	"github.com/jhump/protoreflect/dynamic"
)

type formCodec struct {
	unmarshalOpt *jsonpb.Unmarshaler
}

func (formCodec) Marshal(_ *dynamic.Message) ([]byte, error) {
	return nil, fmt.Errorf("form: marshal not supported")
}

// Unmarshal binds top-level fields from an urlencoded body. Repeated fields
// take every value of the key, scalar fields take the first.
func (c formCodec) Unmarshal(data []byte, msg *dynamic.Message) error {
	vs, err := url.ParseQuery(string(data))
	if err != nil {
		return err
	}
	for k, v := range vs {
		if len(v) == 0 {
			continue
		}
		fd := msg.GetMessageDescriptor().FindFieldByName(k)
		if fd == nil {
			if c.unmarshalOpt.AllowUnknownFields {
				continue
			}
			return fmt.Errorf("message type %s has no known field named %s", msg.GetMessageDescriptor().GetFullyQualifiedName(), k)
		}
		if fd.IsRepeated() {
			for _, one := range v {
				val, err := DecodeScalar(fd, one)
				if err != nil {
					return err
				}
				if err := msg.TryAddRepeatedField(fd, val); err != nil {
					return fmt.Errorf("add field %s: %w", k, err)
				}
			}
			continue
		}
		val, err := DecodeScalar(fd, v[0])
		if err != nil {
			return err
		}
		if err := msg.TrySetField(fd, val); err != nil {
			return fmt.Errorf("set field %s: %w", k, err)
		}
	}
	return nil
}

func (formCodec) Subtype() string {
	return FormSubType
}
