package restbridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/protobuf/jsonpb"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/jhump/protoreflect/desc"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/lemon-1997/restbridge/encoding"
	"github.com/lemon-1997/restbridge/internal/ids"
)

type Gateway struct {
	opts    gatewayOptions
	codecs  *encoding.Registry
	invoker Invoker
	metrics *gatewayMetrics
	tracer  trace.Tracer

	mu       sync.Mutex
	bindings []*Binding
	table    atomic.Pointer[RouteTable]
}

type GatewayOption func(*gatewayOptions)

type ErrorDecodeFunc func(w http.ResponseWriter, err error)

type gatewayOptions struct {
	log                   *slog.Logger
	timeout               time.Duration
	marshaler             *jsonpb.Marshaler
	unmarshaler           *jsonpb.Unmarshaler
	incomingHeaderMatcher runtime.HeaderMatcherFunc
	outgoingHeaderMatcher runtime.HeaderMatcherFunc
	errDecoder            ErrorDecodeFunc
	grpcOpts              []grpc.DialOption
	streamBuffer          int
	maxElementBytes       int
	registerer            prometheus.Registerer
	tracing               bool
}

func WithLogger(logger *slog.Logger) GatewayOption {
	return func(o *gatewayOptions) {
		o.log = logger
	}
}

func WithMarshaler(m *jsonpb.Marshaler) GatewayOption {
	return func(o *gatewayOptions) {
		o.marshaler = m
	}
}

func WithUnmarshaler(m *jsonpb.Unmarshaler) GatewayOption {
	return func(o *gatewayOptions) {
		o.unmarshaler = m
	}
}

func WithIncomingHeaderMatcher(f runtime.HeaderMatcherFunc) GatewayOption {
	return func(o *gatewayOptions) {
		o.incomingHeaderMatcher = f
	}
}

func WithOutgoingHeaderMatcher(f runtime.HeaderMatcherFunc) GatewayOption {
	return func(o *gatewayOptions) {
		o.outgoingHeaderMatcher = f
	}
}

// WithTimeout bounds unary calls. Streaming exchanges are not subject to it,
// they live until either side ends the stream.
func WithTimeout(d time.Duration) GatewayOption {
	return func(o *gatewayOptions) {
		o.timeout = d
	}
}

func WithErrDecode(f ErrorDecodeFunc) GatewayOption {
	return func(o *gatewayOptions) {
		o.errDecoder = f
	}
}

func WithGrpcOpts(opts ...grpc.DialOption) GatewayOption {
	return func(o *gatewayOptions) {
		o.grpcOpts = opts
	}
}

// WithStreamBuffer sets how many in-flight elements each stream direction may
// hold before backpressure.
func WithStreamBuffer(n int) GatewayOption {
	return func(o *gatewayOptions) {
		o.streamBuffer = n
	}
}

// WithMaxElementBytes caps a single NDJSON line on request streams.
func WithMaxElementBytes(n int) GatewayOption {
	return func(o *gatewayOptions) {
		o.maxElementBytes = n
	}
}

func WithMetricsRegisterer(r prometheus.Registerer) GatewayOption {
	return func(o *gatewayOptions) {
		o.registerer = r
	}
}

func WithTracing() GatewayOption {
	return func(o *gatewayOptions) {
		o.tracing = true
	}
}

func NewGateway(opts ...GatewayOption) *Gateway {
	options := gatewayOptions{
		log:                   slog.New(slog.NewTextHandler(os.Stdout, nil)),
		timeout:               time.Second * 10,
		marshaler:             &jsonpb.Marshaler{OrigName: true, EmitDefaults: true},
		unmarshaler:           &jsonpb.Unmarshaler{},
		incomingHeaderMatcher: runtime.DefaultHeaderMatcher,
		outgoingHeaderMatcher: DefaultHeaderMatcher,
		errDecoder:            DefaultHTTPError,
		grpcOpts: []grpc.DialOption{
			grpc.WithBlock(),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
		streamBuffer:    16,
		maxElementBytes: 4 << 20,
	}
	for _, o := range opts {
		o(&options)
	}
	g := &Gateway{
		opts:    options,
		codecs:  encoding.NewRegistry(options.marshaler, options.unmarshaler),
		metrics: newGatewayMetrics(options.registerer),
	}
	if options.tracing {
		g.tracer = otel.Tracer("restbridge")
	}
	if err := g.metrics.register(); err != nil {
		options.log.Warn("register metrics", "err", err)
	}
	g.table.Store(NewRouteTable(options.log))
	return g
}

// RegisterService adds the http bindings of every annotated method to the
// route table. Bindings keep registration order, earlier ones win on overlap.
func (g *Gateway) RegisterService(sd *desc.ServiceDescriptor) error {
	var fresh []*Binding
	for _, method := range sd.GetMethods() {
		bs, err := ExtractBindings(method)
		if err != nil {
			return err
		}
		fresh = append(fresh, bs...)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bindings = append(g.bindings, fresh...)
	g.rebuildLocked()
	return nil
}

func (g *Gateway) replaceBindings(bindings []*Binding) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bindings = bindings
	g.rebuildLocked()
}

func (g *Gateway) rebuildLocked() {
	table := NewRouteTable(g.opts.log)
	for _, b := range g.bindings {
		table.Add(b)
	}
	g.table.Store(table)
}

// SetInvoker points the gateway at a backend. Call it before serving traffic.
func (g *Gateway) SetInvoker(inv Invoker) {
	g.invoker = inv
}

func (g *Gateway) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := ids.New()
		w.Header().Set("X-Request-Id", requestID)
		log := g.opts.log.With("request_id", requestID)

		b, params, ok := g.table.Load().Match(r.Method, r.URL.EscapedPath())
		if !ok {
			log.Warn("route not found", "method", r.Method, "path", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			g.metrics.observeRequest(r.Method, "unmatched", http.StatusNotFound, time.Since(start))
			return
		}
		if g.invoker == nil {
			log.Error("no invoker configured")
			w.WriteHeader(http.StatusServiceUnavailable)
			g.metrics.observeRequest(r.Method, b.Template.Raw, http.StatusServiceUnavailable, time.Since(start))
			return
		}

		ctx := metadata.NewOutgoingContext(r.Context(), g.metadataFromHeaders(r.Header))
		if g.tracer != nil {
			var span trace.Span
			ctx, span = g.tracer.Start(ctx, b.Method.GetFullyQualifiedName())
			span.SetAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", b.Template.Raw),
				attribute.String("request.id", requestID),
			)
			defer span.End()
		}

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		if b.Method.IsClientStreaming() || b.Method.IsServerStreaming() {
			g.metrics.streamOpened()
			defer g.metrics.streamClosed()
		}

		var err error
		switch {
		case b.Method.IsClientStreaming() && b.Method.IsServerStreaming():
			err = g.serveBidiStream(ctx, rec, r, b, params)
		case b.Method.IsClientStreaming():
			err = g.serveClientStream(ctx, rec, r, b, params)
		case b.Method.IsServerStreaming():
			err = g.serveServerStream(ctx, rec, r, b, params)
		default:
			err = g.serveUnary(ctx, rec, r, b, params)
		}
		if err != nil {
			log.Error("serve request", "rpc", b.Method.GetFullyQualifiedName(), "err", err)
			g.opts.errDecoder(rec, err)
		}
		g.metrics.observeRequest(r.Method, b.Template.Raw, rec.code, time.Since(start))
	}
}

func (g *Gateway) serveUnary(ctx context.Context, w http.ResponseWriter, r *http.Request, b *Binding, pathParams map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, g.opts.timeout)
	defer cancel()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("read body error: %v", err)
	}
	defer r.Body.Close()
	msg, err := bindRequest(b, g.codecForRequest(r, "Content-Type"), data, pathParams, r.URL.Query())
	if err != nil {
		return err
	}
	md := metadata.New(make(map[string]string))
	res, err := g.invoker.Invoke(ctx, b.Method, msg, grpc.Header(&md))
	if err != nil {
		return err
	}
	for k, vs := range g.headersFromMetadata(md) {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	return g.writeUnary(w, r, b, res)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (g *Gateway) metadataFromHeaders(raw map[string][]string) metadata.MD {
	md := make(map[string][]string)
	for k, v := range raw {
		key, ok := g.opts.incomingHeaderMatcher(k)
		if !ok {
			continue
		}
		newKey := strings.ToLower(key)
		// https://github.com/grpc/grpc-go/blob/master/internal/transport/http2_server.go#L417
		if newKey == "connection" {
			continue
		}
		md[newKey] = v
	}
	return md
}

func (g *Gateway) headersFromMetadata(md metadata.MD) map[string][]string {
	header := make(map[string][]string)
	for k, vs := range md {
		if h, ok := g.opts.outgoingHeaderMatcher(k); ok {
			header[h] = vs
		}
	}
	return header
}

func DefaultHeaderMatcher(key string) (string, bool) {
	return fmt.Sprintf("%s%s", runtime.MetadataHeaderPrefix, key), true
}
