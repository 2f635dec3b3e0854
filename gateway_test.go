package restbridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/protobuf/jsonpb"
	"github.com/golang/protobuf/proto"
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/api/annotations"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/descriptorpb"
)

func TestGatewayUnaryGet(t *testing.T) {
	sd := buildGreeter(t, greeterMethod{name: "SayHello", rule: getRule("/v1/hello/{first_name}")})
	g := newTestGateway(t, WithTimeout(5*time.Second))
	require.NoError(t, g.RegisterService(sd))
	g.SetInvoker(&fakeInvoker{
		header: metadata.Pairs("x-session", "abc123"),
		unary: func(ctx context.Context, method *desc.MethodDescriptor, req proto.Message) (proto.Message, error) {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			md, _ := metadata.FromOutgoingContext(ctx)
			assert.Equal(t, []string{"tok"}, md.Get("token"))
			dm := req.(*dynamic.Message)
			assert.Equal(t, "John", dm.GetFieldByName("first_name"))
			assert.Equal(t, "Mr.", dm.GetFieldByName("salutation"))
			return reply(t, method, "Hello John"), nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/hello/John?salutation=Mr.", nil)
	req.Header.Set("Grpc-Metadata-Token", "tok")
	rec := httptest.NewRecorder()
	g.Handler()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"Hello John","address":null}`, rec.Body.String())
	assert.Equal(t, "abc123", rec.Header().Get("Grpc-Metadata-X-Session"))

	id := rec.Header().Get("X-Request-Id")
	require.NotEmpty(t, id)
	_, err := ulid.ParseStrict(id)
	require.NoError(t, err)
}

func TestGatewayUnaryPostFullBody(t *testing.T) {
	sd := buildGreeter(t, greeterMethod{name: "SayHello", rule: postRule("/v1/hello", "*")})
	g := newTestGateway(t)
	require.NoError(t, g.RegisterService(sd))
	g.SetInvoker(&fakeInvoker{
		unary: func(ctx context.Context, method *desc.MethodDescriptor, req proto.Message) (proto.Message, error) {
			dm := req.(*dynamic.Message)
			assert.Equal(t, "Ann", dm.GetFieldByName("first_name"))
			assert.Equal(t, int32(30), dm.GetFieldByName("age"))
			// body "*" owns the whole message, the query must not leak in
			assert.False(t, dm.HasFieldName("salutation"))
			return reply(t, method, "Hello Ann"), nil
		},
	})

	body := strings.NewReader(`{"first_name":"Ann","age":30}`)
	rec := httptest.NewRecorder()
	g.Handler()(rec, httptest.NewRequest(http.MethodPost, "/v1/hello?salutation=Mr.", body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Hello Ann")
}

func TestGatewayUnaryFormEncodedBody(t *testing.T) {
	sd := buildGreeter(t, greeterMethod{name: "SayHello", rule: postRule("/v1/hello", "*")})
	g := newTestGateway(t)
	require.NoError(t, g.RegisterService(sd))
	g.SetInvoker(&fakeInvoker{
		unary: func(ctx context.Context, method *desc.MethodDescriptor, req proto.Message) (proto.Message, error) {
			dm := req.(*dynamic.Message)
			assert.Equal(t, "Ann", dm.GetFieldByName("first_name"))
			assert.Equal(t, int32(30), dm.GetFieldByName("age"))
			assert.Equal(t, []interface{}{"a", "b"}, dm.GetFieldByName("tags"))
			return reply(t, method, "Hello Ann"), nil
		},
	})

	body := strings.NewReader("first_name=Ann&age=30&tags=a&tags=b")
	req := httptest.NewRequest(http.MethodPost, "/v1/hello", body)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	g.Handler()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Hello Ann")
}

func TestGatewayEscapedPathCaptures(t *testing.T) {
	sd := buildGreeter(t, greeterMethod{name: "SayHello", rule: getRule("/v1/hello/{first_name}")})
	g := newTestGateway(t)
	require.NoError(t, g.RegisterService(sd))
	var got string
	g.SetInvoker(&fakeInvoker{
		unary: func(ctx context.Context, method *desc.MethodDescriptor, req proto.Message) (proto.Message, error) {
			got = req.(*dynamic.Message).GetFieldByName("first_name").(string)
			return reply(t, method, "hi"), nil
		},
	})

	// captures decode exactly once: a literal percent survives, a
	// double-encoded value loses one layer, an encoded slash stays inside
	// its segment instead of splitting the path
	tests := []struct {
		path string
		want string
	}{
		{"/v1/hello/100%25", "100%"},
		{"/v1/hello/John%2520Doe", "John%20Doe"},
		{"/v1/hello/a%2Fb", "a/b"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		g.Handler()(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		require.Equal(t, http.StatusOK, rec.Code, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestGatewayRouteNotFound(t *testing.T) {
	sd := buildGreeter(t, greeterMethod{name: "SayHello", rule: getRule("/v1/hello/{first_name}")})
	g := newTestGateway(t)
	require.NoError(t, g.RegisterService(sd))
	g.SetInvoker(&fakeInvoker{})

	rec := httptest.NewRecorder()
	g.Handler()(rec, httptest.NewRequest(http.MethodGet, "/v2/unknown", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGatewayBindErrorIsBadRequest(t *testing.T) {
	sd := buildGreeter(t, greeterMethod{name: "SayHello", rule: getRule("/v1/hello/{first_name}")})
	g := newTestGateway(t)
	require.NoError(t, g.RegisterService(sd))
	g.SetInvoker(&fakeInvoker{})

	rec := httptest.NewRecorder()
	g.Handler()(rec, httptest.NewRequest(http.MethodGet, "/v1/hello/John?age=zzz", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	code, msg := decodeErrorPayload(t, rec.Body.Bytes())
	assert.Equal(t, int(codes.InvalidArgument), code)
	assert.Contains(t, msg, "age")
}

func TestGatewayBackendErrorMapsStatus(t *testing.T) {
	sd := buildGreeter(t, greeterMethod{name: "SayHello", rule: getRule("/v1/hello/{first_name}")})
	g := newTestGateway(t)
	require.NoError(t, g.RegisterService(sd))
	g.SetInvoker(&fakeInvoker{
		unary: func(ctx context.Context, method *desc.MethodDescriptor, req proto.Message) (proto.Message, error) {
			return nil, status.Error(codes.NotFound, "nope")
		},
	})

	rec := httptest.NewRecorder()
	g.Handler()(rec, httptest.NewRequest(http.MethodGet, "/v1/hello/John", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	code, msg := decodeErrorPayload(t, rec.Body.Bytes())
	assert.Equal(t, int(codes.NotFound), code)
	assert.Equal(t, "nope", msg)
}

func TestGatewayResponseBuildFailureJSONError(t *testing.T) {
	sd := buildGreeter(t, greeterMethod{name: "SayHello", rule: getRule("/v1/hello/{first_name}")})
	g := newTestGateway(t)
	require.NoError(t, g.RegisterService(sd))
	g.SetInvoker(&fakeInvoker{
		unary: func(ctx context.Context, method *desc.MethodDescriptor, req proto.Message) (proto.Message, error) {
			// wrong message type, cannot convert to the declared output
			return &descriptorpb.DescriptorProto{}, nil
		},
	})

	rec := httptest.NewRecorder()
	g.Handler()(rec, httptest.NewRequest(http.MethodGet, "/v1/hello/John", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	code, msg := decodeErrorPayload(t, rec.Body.Bytes())
	assert.Equal(t, int(codes.Internal), code)
	assert.Contains(t, msg, "build response")
}

func TestGatewayResponseBodyField(t *testing.T) {
	rule := &annotations.HttpRule{
		Pattern:      &annotations.HttpRule_Get{Get: "/v1/hello/{first_name}"},
		ResponseBody: "address",
	}
	sd := buildGreeter(t, greeterMethod{name: "SayHello", rule: rule})
	g := newTestGateway(t)
	require.NoError(t, g.RegisterService(sd))
	g.SetInvoker(&fakeInvoker{
		unary: func(ctx context.Context, method *desc.MethodDescriptor, req proto.Message) (proto.Message, error) {
			out := dynamic.NewMessage(method.GetOutputType())
			addrField := method.GetOutputType().FindFieldByName("address")
			addr := dynamic.NewMessage(addrField.GetMessageType())
			addr.SetFieldByName("city", "Oslo")
			addr.SetFieldByName("zip", int32(7))
			out.SetFieldByName("address", addr)
			return out, nil
		},
	})

	rec := httptest.NewRecorder()
	g.Handler()(rec, httptest.NewRequest(http.MethodGet, "/v1/hello/John", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"city":"Oslo","zip":7}`, rec.Body.String())
}

func TestGatewaysKeepTheirOwnMarshalers(t *testing.T) {
	sd := buildGreeter(t, greeterMethod{name: "SayHello", rule: getRule("/v1/hello/{first_name}")})
	serve := func(g *Gateway) string {
		require.NoError(t, g.RegisterService(sd))
		g.SetInvoker(&fakeInvoker{
			unary: func(ctx context.Context, method *desc.MethodDescriptor, req proto.Message) (proto.Message, error) {
				return reply(t, method, "hi"), nil
			},
		})
		rec := httptest.NewRecorder()
		g.Handler()(rec, httptest.NewRequest(http.MethodGet, "/v1/hello/John", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		return rec.Body.String()
	}

	sparse := newTestGateway(t, WithMarshaler(&jsonpb.Marshaler{OrigName: true}))
	full := newTestGateway(t)

	// constructing the second gateway must not reconfigure the first
	assert.JSONEq(t, `{"message":"hi"}`, serve(sparse))
	assert.JSONEq(t, `{"message":"hi","address":null}`, serve(full))
}

func TestGatewayNoInvoker(t *testing.T) {
	sd := buildGreeter(t, greeterMethod{name: "SayHello", rule: getRule("/v1/hello/{first_name}")})
	g := newTestGateway(t)
	require.NoError(t, g.RegisterService(sd))

	rec := httptest.NewRecorder()
	g.Handler()(rec, httptest.NewRequest(http.MethodGet, "/v1/hello/John", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGatewayCustomErrorDecoder(t *testing.T) {
	sd := buildGreeter(t, greeterMethod{name: "SayHello", rule: getRule("/v1/hello/{first_name}")})
	g := newTestGateway(t, WithErrDecode(func(w http.ResponseWriter, err error) {
		w.WriteHeader(http.StatusTeapot)
	}))
	require.NoError(t, g.RegisterService(sd))
	g.SetInvoker(&fakeInvoker{
		unary: func(ctx context.Context, method *desc.MethodDescriptor, req proto.Message) (proto.Message, error) {
			return nil, status.Error(codes.Internal, "boom")
		},
	})

	rec := httptest.NewRecorder()
	g.Handler()(rec, httptest.NewRequest(http.MethodGet, "/v1/hello/John", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
}

func TestGatewayRegisterServiceBadAnnotation(t *testing.T) {
	sd := buildGreeter(t, greeterMethod{name: "SayHello", rule: getRule("/v1/hello/{nope}")})
	g := newTestGateway(t)

	err := g.RegisterService(sd)
	require.Error(t, err)
	var be *BindingError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "test.v1.Greeter.SayHello", be.Method)
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestGatewayCountsRequests(t *testing.T) {
	sd := buildGreeter(t, greeterMethod{name: "SayHello", rule: getRule("/v1/hello/{first_name}")})
	g := newTestGateway(t)
	require.NoError(t, g.RegisterService(sd))
	g.SetInvoker(&fakeInvoker{
		unary: func(ctx context.Context, method *desc.MethodDescriptor, req proto.Message) (proto.Message, error) {
			return reply(t, method, "hi"), nil
		},
	})

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		g.Handler()(rec, httptest.NewRequest(http.MethodGet, "/v1/hello/John", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := httptest.NewRecorder()
	g.Handler()(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	got := testutil.ToFloat64(g.metrics.requestsTotal.WithLabelValues("GET", "/v1/hello/{first_name}", "200"))
	assert.Equal(t, 3.0, got)
	got = testutil.ToFloat64(g.metrics.requestsTotal.WithLabelValues("GET", "unmatched", "404"))
	assert.Equal(t, 1.0, got)
}

func TestGatewayRequestIDsAreUnique(t *testing.T) {
	sd := buildGreeter(t, greeterMethod{name: "SayHello", rule: getRule("/v1/hello/{first_name}")})
	g := newTestGateway(t)
	require.NoError(t, g.RegisterService(sd))
	g.SetInvoker(&fakeInvoker{
		unary: func(ctx context.Context, method *desc.MethodDescriptor, req proto.Message) (proto.Message, error) {
			return reply(t, method, "hi"), nil
		},
	})

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		g.Handler()(rec, httptest.NewRequest(http.MethodGet, "/v1/hello/John", nil))
		id := rec.Header().Get("X-Request-Id")
		require.NotEmpty(t, id)
		require.False(t, seen[id])
		seen[id] = true
	}
}
