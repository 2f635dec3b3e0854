package restbridge

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/jhump/protoreflect/desc"
	"github.com/lemon-1997/restbridge/httprule"
	"google.golang.org/genproto/googleapis/api/annotations"
	"google.golang.org/protobuf/proto"
)

// Binding is one compiled route: an HTTP verb and path template tied to an
// RPC method, with the body and response_body selections resolved against the
// method's message types.
type Binding struct {
	Method     *desc.MethodDescriptor
	HTTPMethod string
	Template   *httprule.Template

	// Body selects what the request body binds to. nil means the body is
	// not read, an empty slice means the whole request message ("*"), a
	// non-empty slice is the resolved field path.
	Body []*desc.FieldDescriptor

	// ResponseBody, when set, is the response field sent instead of the
	// whole response message.
	ResponseBody *desc.FieldDescriptor

	// Index is the rule's position on the method: 0 for the primary rule,
	// additional_bindings follow in declaration order.
	Index int
}

// HasBody reports whether the binding reads the request body at all.
func (b *Binding) HasBody() bool {
	return b.Body != nil
}

// BodyIsWhole reports whether the body maps onto the whole request message.
func (b *Binding) BodyIsWhole() bool {
	return b.Body != nil && len(b.Body) == 0
}

// ExtractBindings compiles the method's google.api.http annotation into
// bindings, primary rule first, additional_bindings in declaration order.
// Methods without the annotation yield no bindings and no error.
//
// https://github.com/googleapis/googleapis/blob/master/google/api/http.proto
func ExtractBindings(method *desc.MethodDescriptor) ([]*Binding, error) {
	opts := method.GetMethodOptions()
	if opts == nil || !proto.HasExtension(opts, annotations.E_Http) {
		return nil, nil
	}
	rule, ok := proto.GetExtension(opts, annotations.E_Http).(*annotations.HttpRule)
	if !ok || rule == nil {
		return nil, nil
	}
	rules := append([]*annotations.HttpRule{rule}, rule.GetAdditionalBindings()...)
	bindings := make([]*Binding, 0, len(rules))
	for i, r := range rules {
		if i > 0 && len(r.GetAdditionalBindings()) > 0 {
			return nil, &BindingError{Method: method.GetFullyQualifiedName(), Err: ErrNestedBindings}
		}
		b, err := buildBinding(method, r, i)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	return bindings, nil
}

func buildBinding(method *desc.MethodDescriptor, rule *annotations.HttpRule, index int) (*Binding, error) {
	name := method.GetFullyQualifiedName()
	httpMethod, path, err := rulePattern(rule)
	if err != nil {
		return nil, &BindingError{Method: name, Err: err}
	}
	tmpl, err := httprule.Parse(path)
	if err != nil {
		return nil, &BindingError{Method: name, Template: path, Err: err}
	}

	in := method.GetInputType()
	for _, v := range tmpl.Variables() {
		if _, err := fieldsByPath(in, strings.Split(v, ".")); err != nil {
			return nil, &BindingError{Method: name, Template: path, Err: err}
		}
	}

	b := &Binding{
		Method:     method,
		HTTPMethod: httpMethod,
		Template:   tmpl,
		Index:      index,
	}

	switch body := rule.GetBody(); body {
	case "":
	case "*":
		b.Body = []*desc.FieldDescriptor{}
	default:
		fields, err := fieldsByPath(in, strings.Split(body, "."))
		if err != nil {
			return nil, &BindingError{Method: name, Template: path, Err: err}
		}
		leaf := fields[len(fields)-1]
		if leaf.IsRepeated() || leaf.GetMessageType() == nil {
			return nil, &BindingError{
				Method:   name,
				Template: path,
				Err:      fmt.Errorf("body field %q of %s: %w", body, in.GetFullyQualifiedName(), ErrNotAMessage),
			}
		}
		b.Body = fields
	}

	if rb := rule.GetResponseBody(); rb != "" {
		out := method.GetOutputType()
		fd := out.FindFieldByName(rb)
		if fd == nil {
			return nil, &BindingError{
				Method:   name,
				Template: path,
				Err:      fmt.Errorf("response_body: %s has no field %q: %w", out.GetFullyQualifiedName(), rb, ErrUnknownField),
			}
		}
		b.ResponseBody = fd
	}
	return b, nil
}

func rulePattern(rule *annotations.HttpRule) (string, string, error) {
	switch p := rule.GetPattern().(type) {
	case *annotations.HttpRule_Get:
		return http.MethodGet, p.Get, nil
	case *annotations.HttpRule_Put:
		return http.MethodPut, p.Put, nil
	case *annotations.HttpRule_Post:
		return http.MethodPost, p.Post, nil
	case *annotations.HttpRule_Delete:
		return http.MethodDelete, p.Delete, nil
	case *annotations.HttpRule_Patch:
		return http.MethodPatch, p.Patch, nil
	case *annotations.HttpRule_Custom:
		return strings.ToUpper(p.Custom.GetKind()), p.Custom.GetPath(), nil
	}
	return "", "", ErrMissingPattern
}

// fieldsByPath resolves a dotted field path against a message type. Every
// hop before the last must be a singular message field. The caller decides
// what the leaf may be.
func fieldsByPath(md *desc.MessageDescriptor, path []string) ([]*desc.FieldDescriptor, error) {
	fields := make([]*desc.FieldDescriptor, 0, len(path))
	cur := md
	for i, name := range path {
		fd := cur.FindFieldByName(name)
		if fd == nil {
			return nil, fmt.Errorf("%s has no field %q: %w", cur.GetFullyQualifiedName(), name, ErrUnknownField)
		}
		fields = append(fields, fd)
		if i == len(path)-1 {
			break
		}
		if fd.IsRepeated() || fd.GetMessageType() == nil {
			return nil, fmt.Errorf("field %q of %s: %w", name, cur.GetFullyQualifiedName(), ErrNotAMessage)
		}
		cur = fd.GetMessageType()
	}
	return fields, nil
}
