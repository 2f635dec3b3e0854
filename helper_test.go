package restbridge

import (
	"testing"

	"github.com/golang/protobuf/jsonpb"
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/builder"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/lemon-1997/restbridge/encoding"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/api/annotations"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

type greeterMethod struct {
	name         string
	rule         *annotations.HttpRule
	clientStream bool
	serverStream bool
}

// buildGreeter assembles the test service. Every method shares the same
// request and reply so tests can mix method shapes freely:
//
//	message Address { string city; int32 zip; }
//	message HelloRequest {
//	  string first_name; string last_name; string salutation;
//	  int32 age; repeated string tags; Address address;
//	}
//	message HelloReply { string message; Address address; }
func buildGreeter(t *testing.T, methods ...greeterMethod) *desc.ServiceDescriptor {
	t.Helper()
	addr := builder.NewMessage("Address").
		AddField(builder.NewField("city", builder.FieldTypeString())).
		AddField(builder.NewField("zip", builder.FieldTypeInt32()))
	req := builder.NewMessage("HelloRequest").
		AddField(builder.NewField("first_name", builder.FieldTypeString())).
		AddField(builder.NewField("last_name", builder.FieldTypeString())).
		AddField(builder.NewField("salutation", builder.FieldTypeString())).
		AddField(builder.NewField("age", builder.FieldTypeInt32())).
		AddField(builder.NewField("tags", builder.FieldTypeString()).SetRepeated()).
		AddField(builder.NewField("address", builder.FieldTypeMessage(addr)))
	resp := builder.NewMessage("HelloReply").
		AddField(builder.NewField("message", builder.FieldTypeString())).
		AddField(builder.NewField("address", builder.FieldTypeMessage(addr)))
	svc := builder.NewService("Greeter")
	for _, m := range methods {
		mb := builder.NewMethod(m.name,
			builder.RpcTypeMessage(req, m.clientStream),
			builder.RpcTypeMessage(resp, m.serverStream))
		if m.rule != nil {
			opts := &descriptorpb.MethodOptions{}
			proto.SetExtension(opts, annotations.E_Http, m.rule)
			mb.SetOptions(opts)
		}
		svc.AddMethod(mb)
	}
	fd, err := builder.NewFile("greeter.proto").
		SetProto3(true).
		SetPackageName("test.v1").
		AddMessage(addr).
		AddMessage(req).
		AddMessage(resp).
		AddService(svc).
		Build()
	require.NoError(t, err)
	sd := fd.FindService("test.v1.Greeter")
	require.NotNil(t, sd)
	return sd
}

// buildMethod is the single-method shortcut most tests want.
func buildMethod(t *testing.T, rule *annotations.HttpRule) *desc.MethodDescriptor {
	t.Helper()
	return buildGreeter(t, greeterMethod{name: "SayHello", rule: rule}).GetMethods()[0]
}

func extractOne(t *testing.T, rule *annotations.HttpRule) *Binding {
	t.Helper()
	bindings, err := ExtractBindings(buildMethod(t, rule))
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	return bindings[0]
}

func getRule(path string) *annotations.HttpRule {
	return &annotations.HttpRule{Pattern: &annotations.HttpRule_Get{Get: path}}
}

func postRule(path, body string) *annotations.HttpRule {
	return &annotations.HttpRule{Pattern: &annotations.HttpRule_Post{Post: path}, Body: body}
}

// jsonCodec builds a registry with gateway defaults (strict JSON) and returns
// the JSON codec.
func jsonCodec(t *testing.T) encoding.Codec {
	t.Helper()
	reg := encoding.NewRegistry(&jsonpb.Marshaler{OrigName: true, EmitDefaults: true}, &jsonpb.Unmarshaler{})
	return reg.BySubtype(encoding.JsonSubType)
}

// newTestGateway isolates each test behind its own metrics registry.
func newTestGateway(t *testing.T, opts ...GatewayOption) *Gateway {
	t.Helper()
	opts = append([]GatewayOption{WithMetricsRegisterer(prometheus.NewRegistry())}, opts...)
	return NewGateway(opts...)
}

// reply builds an output message carrying just the message field.
func reply(t *testing.T, method *desc.MethodDescriptor, text string) *dynamic.Message {
	t.Helper()
	m := dynamic.NewMessage(method.GetOutputType())
	require.NoError(t, m.TrySetFieldByName("message", text))
	return m
}
