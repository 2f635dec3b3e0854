package restbridge

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/golang/protobuf/proto"
	"github.com/jhump/protoreflect/dynamic"

	"github.com/lemon-1997/restbridge/encoding"
)

const scanInitialBuffer = 64 * 1024

// scanElements turns an NDJSON request body into bound input messages. Blank
// lines are skipped, and every element gets the same path captures and query
// parameters overlaid. The out channel closes only on clean EOF; failures go
// to errs with out left open.
func scanElements(ctx context.Context, body io.Reader, b *Binding, codec encoding.Codec, pathParams map[string]string, query url.Values, maxBytes int, out chan<- *dynamic.Message, errs chan<- error) {
	initial := scanInitialBuffer
	if maxBytes < initial {
		// the scanner takes the larger of cap and max as its limit
		initial = maxBytes
	}
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, initial), maxBytes)
	idx := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		msg, err := bindRequest(b, codec, line, pathParams, query)
		if err != nil {
			errs <- &StreamError{Index: idx, Err: fmt.Errorf("%w: %v", ErrMalformedElement, err)}
			return
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
		idx++
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			err = ErrElementTooLarge
		}
		errs <- &StreamError{Index: idx, Err: err}
		return
	}
	close(out)
}

// recvElements drains a response stream into out, closing it only when the
// server finished cleanly.
func recvElements(ctx context.Context, stream ResponseStream, out chan<- proto.Message, errs chan<- error) {
	for {
		msg, err := stream.RecvMsg()
		if errors.Is(err, io.EOF) {
			close(out)
			return
		}
		if err != nil {
			errs <- err
			return
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) serveClientStream(ctx context.Context, w http.ResponseWriter, r *http.Request, b *Binding, pathParams map[string]string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := g.invoker.InvokeClientStream(ctx, b.Method)
	if err != nil {
		return err
	}
	out := make(chan *dynamic.Message, g.opts.streamBuffer)
	errs := make(chan error, 1)
	go scanElements(ctx, r.Body, b, g.codecForRequest(r, "Content-Type"), pathParams, r.URL.Query(), g.opts.maxElementBytes, out, errs)
send:
	for {
		select {
		case msg, ok := <-out:
			if !ok {
				break send
			}
			if err := stream.SendMsg(msg); err != nil {
				if errors.Is(err, io.EOF) {
					// server closed early, its verdict comes from CloseAndReceive
					break send
				}
				return err
			}
			g.metrics.elementIn()
		case err := <-errs:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	res, err := stream.CloseAndReceive()
	if err != nil {
		return err
	}
	return g.writeUnary(w, r, b, res)
}

func (g *Gateway) serveServerStream(ctx context.Context, w http.ResponseWriter, r *http.Request, b *Binding, pathParams map[string]string) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("read body error: %v", err)
	}
	msg, err := bindRequest(b, g.codecForRequest(r, "Content-Type"), data, pathParams, r.URL.Query())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := g.invoker.InvokeServerStream(ctx, b.Method, msg)
	if err != nil {
		return err
	}
	out := make(chan proto.Message, g.opts.streamBuffer)
	errs := make(chan error, 1)
	go recvElements(ctx, stream, out, errs)
	return g.writeElements(ctx, w, b, out, errs)
}

func (g *Gateway) serveBidiStream(ctx context.Context, w http.ResponseWriter, r *http.Request, b *Binding, pathParams map[string]string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := g.invoker.InvokeBidiStream(ctx, b.Method)
	if err != nil {
		return err
	}
	in := make(chan *dynamic.Message, g.opts.streamBuffer)
	out := make(chan proto.Message, g.opts.streamBuffer)
	errs := make(chan error, 3)
	go scanElements(ctx, r.Body, b, g.codecForRequest(r, "Content-Type"), pathParams, r.URL.Query(), g.opts.maxElementBytes, in, errs)
	go func() {
		for {
			select {
			case msg, ok := <-in:
				if !ok {
					if err := stream.CloseSend(); err != nil {
						errs <- err
					}
					return
				}
				if err := stream.SendMsg(msg); err != nil {
					// receive side surfaces the real failure
					if !errors.Is(err, io.EOF) {
						errs <- err
					}
					return
				}
				g.metrics.elementIn()
			case <-ctx.Done():
				return
			}
		}
	}()
	go recvElements(ctx, stream, out, errs)
	return g.writeElements(ctx, w, b, out, errs)
}

// writeElements streams response messages to the client as NDJSON lines,
// flushing after each one. It returns a non-nil error only while the header
// is still unwritten; later failures become a trailing error line.
func (g *Gateway) writeElements(ctx context.Context, w http.ResponseWriter, b *Binding, out <-chan proto.Message, errs <-chan error) error {
	codec := g.codecs.BySubtype(encoding.JsonSubType)
	flusher, _ := w.(http.Flusher)
	wrote := false
	fail := func(err error) error {
		if !wrote {
			return err
		}
		writeErrorLine(w, err)
		return nil
	}
	for {
		select {
		case m, ok := <-out:
			if !ok {
				if !wrote {
					writeStreamHeader(w)
				}
				return nil
			}
			val, err := responseValue(b, m)
			if err != nil {
				return fail(err)
			}
			buf, err := marshalValue(codec, val)
			if err != nil {
				return fail(err)
			}
			if !wrote {
				writeStreamHeader(w)
				wrote = true
			}
			if _, err := w.Write(append(buf, '\n')); err != nil {
				g.opts.log.Error("write stream element", "err", err)
				return nil
			}
			if flusher != nil {
				flusher.Flush()
			}
			g.metrics.elementOut()
		case err := <-errs:
			return fail(err)
		case <-ctx.Done():
			return fail(ctx.Err())
		}
	}
}
