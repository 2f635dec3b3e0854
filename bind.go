package restbridge

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/lemon-1997/restbridge/encoding"
)

// bindRequest builds the input message for one exchange, or for one element
// of a request stream: body first, path captures on top of it, then query
// parameters into fields nothing has set yet.
//
// A binding with body "*" covers the whole message, so the query step is
// skipped for it entirely. A binding with no body selector still binds a
// non-empty body as the whole message; the selector only redirects where the
// payload lands, it is not a gate on reading it.
func bindRequest(b *Binding, codec encoding.Codec, body []byte, pathParams map[string]string, query url.Values) (*dynamic.Message, error) {
	msg := dynamic.NewMessage(b.Method.GetInputType())
	if err := bindBody(b, codec, body, msg); err != nil {
		return nil, err
	}
	for key, raw := range pathParams {
		if err := bindPathParam(msg, key, raw); err != nil {
			return nil, err
		}
	}
	if !b.BodyIsWhole() {
		if err := bindQuery(msg, query); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

func bindBody(b *Binding, codec encoding.Codec, body []byte, msg *dynamic.Message) error {
	if len(body) == 0 {
		return nil
	}
	if b.Body == nil || b.BodyIsWhole() {
		if err := codec.Unmarshal(body, msg); err != nil {
			return &BindError{Err: fmt.Errorf("%w: %v", ErrMalformedBody, err)}
		}
		return nil
	}
	leaf := b.Body[len(b.Body)-1]
	sub := dynamic.NewMessage(leaf.GetMessageType())
	if err := codec.Unmarshal(body, sub); err != nil {
		return &BindError{Field: fieldPath(b.Body), Err: fmt.Errorf("%w: %v", ErrMalformedBody, err)}
	}
	parent, err := messageAt(msg, b.Body[:len(b.Body)-1])
	if err != nil {
		return err
	}
	if err := parent.TrySetField(leaf, sub); err != nil {
		return &BindError{Field: fieldPath(b.Body), Err: fmt.Errorf("%w: %v", ErrTypeMismatch, err)}
	}
	return nil
}

func bindPathParam(msg *dynamic.Message, key, raw string) error {
	fields, err := fieldsByPath(msg.GetMessageDescriptor(), strings.Split(key, "."))
	if err != nil {
		return &BindError{Field: key, Value: raw, Err: err}
	}
	parent, err := messageAt(msg, fields[:len(fields)-1])
	if err != nil {
		return err
	}
	return setScalar(parent, fields[len(fields)-1], key, raw)
}

func bindQuery(msg *dynamic.Message, query url.Values) error {
	for key, values := range query {
		if len(values) == 0 {
			continue
		}
		fields, err := fieldsByPath(msg.GetMessageDescriptor(), strings.Split(key, "."))
		if err != nil {
			// not a field of the request message, ignored
			continue
		}
		parent, err := messageAt(msg, fields[:len(fields)-1])
		if err != nil {
			return err
		}
		leaf := fields[len(fields)-1]
		if parent.HasField(leaf) {
			// body or path got here first
			continue
		}
		if leaf.IsRepeated() {
			for _, one := range values {
				val, err := encoding.DecodeScalar(leaf, one)
				if err != nil {
					return &BindError{Field: key, Value: one, Err: fmt.Errorf("%w: %v", ErrTypeMismatch, err)}
				}
				if err := parent.TryAddRepeatedField(leaf, val); err != nil {
					return &BindError{Field: key, Value: one, Err: fmt.Errorf("%w: %v", ErrTypeMismatch, err)}
				}
			}
			continue
		}
		if err := setScalar(parent, leaf, key, values[0]); err != nil {
			return err
		}
	}
	return nil
}

func setScalar(parent *dynamic.Message, leaf *desc.FieldDescriptor, key, raw string) error {
	val, err := encoding.DecodeScalar(leaf, raw)
	if err != nil {
		return &BindError{Field: key, Value: raw, Err: fmt.Errorf("%w: %v", ErrTypeMismatch, err)}
	}
	if err := parent.TrySetField(leaf, val); err != nil {
		return &BindError{Field: key, Value: raw, Err: fmt.Errorf("%w: %v", ErrTypeMismatch, err)}
	}
	return nil
}

// messageAt walks to the message holding the path's leaf, creating empty
// intermediate messages as it goes.
func messageAt(msg *dynamic.Message, path []*desc.FieldDescriptor) (*dynamic.Message, error) {
	cur := msg
	for _, fd := range path {
		if !cur.HasField(fd) {
			next := dynamic.NewMessage(fd.GetMessageType())
			if err := cur.TrySetField(fd, next); err != nil {
				return nil, &BindError{Field: fd.GetName(), Err: fmt.Errorf("%w: %v", ErrTypeMismatch, err)}
			}
			cur = next
			continue
		}
		v, err := cur.TryGetField(fd)
		if err != nil {
			return nil, &BindError{Field: fd.GetName(), Err: err}
		}
		next, ok := v.(*dynamic.Message)
		if !ok {
			return nil, &BindError{Field: fd.GetName(), Err: ErrNotAMessage}
		}
		cur = next
	}
	return cur, nil
}

func fieldPath(fields []*desc.FieldDescriptor) string {
	names := make([]string, len(fields))
	for i, fd := range fields {
		names[i] = fd.GetName()
	}
	return strings.Join(names, ".")
}
