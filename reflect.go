package restbridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
)

// DiscoveryClient keeps a gateway's routes in sync with a reflecting backend.
// It lists the server's services, extracts their http bindings, and rebuilds
// the route table whenever the connection comes back ready.
type DiscoveryClient struct {
	log     *slog.Logger
	conn    *grpc.ClientConn
	gateway *Gateway
	cancel  context.CancelFunc
}

// NewDiscoveryClient dials target, installs the connection as the gateway's
// invoker, and starts watching the schema.
func NewDiscoveryClient(ctx context.Context, target string, g *Gateway) (*DiscoveryClient, error) {
	conn, err := grpc.DialContext(ctx, target, g.opts.grpcOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client: %v", err)
	}
	c, cancel := context.WithCancel(context.Background())
	d := &DiscoveryClient{
		log:     g.opts.log,
		conn:    conn,
		gateway: g,
		cancel:  cancel,
	}
	g.SetInvoker(NewInvoker(conn))
	d.watch(c)
	return d, nil
}

func (c *DiscoveryClient) Close() error {
	c.cancel()
	return c.conn.Close()
}

// https://github.com/googleapis/googleapis/blob/master/google/api/http.proto#L46
func (c *DiscoveryClient) discover(ctx context.Context) ([]*Binding, error) {
	client := grpcreflect.NewClientAuto(ctx, c.conn)
	defer client.Reset()
	services, err := client.ListServices()
	if err != nil {
		return nil, fmt.Errorf("failed to ListServices: %v", err)
	}
	var bindings []*Binding
	for _, srv := range services {
		srvDesc, err := client.ResolveService(srv)
		if err != nil {
			return nil, fmt.Errorf("failed to ResolveService: %v", err)
		}
		for _, method := range srvDesc.GetMethods() {
			bs, err := ExtractBindings(method)
			if err != nil {
				// one bad annotation should not take every route down
				c.log.Error("build route fail", "err", err)
				continue
			}
			bindings = append(bindings, bs...)
		}
	}
	return bindings, nil
}

func (c *DiscoveryClient) watch(ctx context.Context) {
	bindings, err := c.discover(ctx)
	if err != nil {
		c.log.Error("update routes fail", "err", err)
	} else {
		c.gateway.replaceBindings(bindings)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			c.conn.WaitForStateChange(ctx, c.conn.GetState())
			if c.conn.GetState() != connectivity.Ready {
				continue
			}
			bindings, err := c.discover(ctx)
			if err != nil {
				c.log.Error("update routes fail", "err", err)
				continue
			}
			c.gateway.replaceBindings(bindings)
			c.log.Info("update routes", "target", c.conn.Target())
		}
	}()
}
