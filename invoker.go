package restbridge

import (
	"context"

	"github.com/golang/protobuf/proto"
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic/grpcdynamic"
	"google.golang.org/grpc"
)

// Invoker dispatches RPCs described only by their descriptors.
type Invoker interface {
	Invoke(ctx context.Context, method *desc.MethodDescriptor, req proto.Message, opts ...grpc.CallOption) (proto.Message, error)
	InvokeServerStream(ctx context.Context, method *desc.MethodDescriptor, req proto.Message, opts ...grpc.CallOption) (ResponseStream, error)
	InvokeClientStream(ctx context.Context, method *desc.MethodDescriptor, opts ...grpc.CallOption) (RequestStream, error)
	InvokeBidiStream(ctx context.Context, method *desc.MethodDescriptor, opts ...grpc.CallOption) (DuplexStream, error)
}

// ResponseStream reads messages from a server streaming call until io.EOF.
type ResponseStream interface {
	RecvMsg() (proto.Message, error)
}

// RequestStream feeds messages into a client streaming call. CloseAndReceive
// half closes the stream and waits for the single response.
type RequestStream interface {
	SendMsg(m proto.Message) error
	CloseAndReceive() (proto.Message, error)
}

// DuplexStream carries both directions of a bidi call.
type DuplexStream interface {
	SendMsg(m proto.Message) error
	CloseSend() error
	RecvMsg() (proto.Message, error)
}

type stubInvoker struct {
	stub grpcdynamic.Stub
}

// NewInvoker wraps a grpc channel with descriptor driven dispatch.
func NewInvoker(channel grpcdynamic.Channel) Invoker {
	return &stubInvoker{stub: grpcdynamic.NewStub(channel)}
}

func (s *stubInvoker) Invoke(ctx context.Context, method *desc.MethodDescriptor, req proto.Message, opts ...grpc.CallOption) (proto.Message, error) {
	return s.stub.InvokeRpc(ctx, method, req, opts...)
}

func (s *stubInvoker) InvokeServerStream(ctx context.Context, method *desc.MethodDescriptor, req proto.Message, opts ...grpc.CallOption) (ResponseStream, error) {
	stream, err := s.stub.InvokeRpcServerStream(ctx, method, req, opts...)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (s *stubInvoker) InvokeClientStream(ctx context.Context, method *desc.MethodDescriptor, opts ...grpc.CallOption) (RequestStream, error) {
	stream, err := s.stub.InvokeRpcClientStream(ctx, method, opts...)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (s *stubInvoker) InvokeBidiStream(ctx context.Context, method *desc.MethodDescriptor, opts ...grpc.CallOption) (DuplexStream, error) {
	stream, err := s.stub.InvokeRpcBidiStream(ctx, method, opts...)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
