package encoding

import (
	"fmt"
	"strconv"

	"github.com/jhump/protoreflect/desc"
	"google.golang.org/protobuf/types/descriptorpb"
)

// DecodeScalar converts one captured string into the Go value dynamic
// messages expect for the field's type. Enums resolve by value name first,
// then by number. Message and group fields cannot be decoded from a string.
func DecodeScalar(fd *desc.FieldDescriptor, val string) (interface{}, error) {
	switch fd.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_ENUM:
		if vd := fd.GetEnumType().FindValueByName(val); vd != nil {
			return vd.GetNumber(), nil
		}
		if n, err := strconv.ParseInt(val, 10, 32); err == nil {
			return int32(n), nil
		}
		return nil, fmt.Errorf("%q is not a value of enum %s", val, fd.GetEnumType().GetFullyQualifiedName())
	case descriptorpb.FieldDescriptorProto_TYPE_BOOL:
		switch val {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("%q is not a bool", val)
	case descriptorpb.FieldDescriptorProto_TYPE_BYTES:
		return []byte(val), nil
	case descriptorpb.FieldDescriptorProto_TYPE_STRING:
		return val, nil
	case descriptorpb.FieldDescriptorProto_TYPE_FLOAT:
		f, err := strconv.ParseFloat(val, 32)
		if err != nil {
			return nil, fmt.Errorf("%q is not a float: %w", val, err)
		}
		return float32(f), nil
	case descriptorpb.FieldDescriptorProto_TYPE_DOUBLE:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a double: %w", val, err)
		}
		return f, nil
	case descriptorpb.FieldDescriptorProto_TYPE_INT32,
		descriptorpb.FieldDescriptorProto_TYPE_SINT32,
		descriptorpb.FieldDescriptorProto_TYPE_SFIXED32:
		i, err := strconv.ParseInt(val, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%q is not an int32: %w", val, err)
		}
		return int32(i), nil
	case descriptorpb.FieldDescriptorProto_TYPE_UINT32,
		descriptorpb.FieldDescriptorProto_TYPE_FIXED32:
		i, err := strconv.ParseUint(val, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%q is not a uint32: %w", val, err)
		}
		return uint32(i), nil
	case descriptorpb.FieldDescriptorProto_TYPE_INT64,
		descriptorpb.FieldDescriptorProto_TYPE_SINT64,
		descriptorpb.FieldDescriptorProto_TYPE_SFIXED64:
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an int64: %w", val, err)
		}
		return i, nil
	case descriptorpb.FieldDescriptorProto_TYPE_UINT64,
		descriptorpb.FieldDescriptorProto_TYPE_FIXED64:
		i, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a uint64: %w", val, err)
		}
		return i, nil
	default:
		return nil, fmt.Errorf("cannot decode %s field %s from a string", fd.GetType(), fd.GetFullyQualifiedName())
	}
}
