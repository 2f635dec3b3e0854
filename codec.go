package restbridge

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang/protobuf/proto"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"

	"github.com/lemon-1997/restbridge/encoding"
	"github.com/lemon-1997/restbridge/internal/jsoncodec"
)

const ndjsonContentType = "application/x-ndjson"

func (g *Gateway) codecForRequest(r *http.Request, name string) encoding.Codec {
	for _, accept := range r.Header[name] {
		codec := g.codecs.BySubtype(contentSubtype(accept))
		if codec != nil {
			return codec
		}
	}
	return g.codecs.BySubtype(encoding.JsonSubType)
}

func contentSubtype(contentType string) string {
	left := strings.Index(contentType, "/")
	if left == -1 {
		return ""
	}
	right := strings.Index(contentType, ";")
	if right == -1 {
		right = len(contentType)
	}
	if right < left {
		return ""
	}
	return contentType[left+1 : right]
}

// writeUnary renders one unary response. Build and marshal failures return
// before anything is committed, so the caller's error decoder still owns the
// status line and the JSON error body.
func (g *Gateway) writeUnary(w http.ResponseWriter, r *http.Request, b *Binding, msg proto.Message) error {
	codec := g.codecForRequest(r, "Accept")
	val, err := responseValue(b, msg)
	if err != nil {
		return fmt.Errorf("failed to build response: %v", err)
	}
	buf, err := marshalValue(codec, val)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %v", err)
	}
	w.Header().Set("Content-Type", "application/"+codec.Subtype())
	w.WriteHeader(http.StatusOK)
	if _, err = w.Write(buf); err != nil {
		g.opts.log.Error("write response", "err", err)
	}
	return nil
}

// responseValue projects the RPC output onto the value the HTTP body should
// carry, honoring the binding's response_body field when one is declared.
func responseValue(b *Binding, msg proto.Message) (interface{}, error) {
	dm, err := asDynamic(b.Method.GetOutputType(), msg)
	if err != nil {
		return nil, err
	}
	if b.ResponseBody == nil {
		return dm, nil
	}
	return dm.TryGetField(b.ResponseBody)
}

func asDynamic(md *desc.MessageDescriptor, msg proto.Message) (*dynamic.Message, error) {
	if dm, ok := msg.(*dynamic.Message); ok {
		return dm, nil
	}
	dm := dynamic.NewMessage(md)
	if err := dm.ConvertFrom(msg); err != nil {
		return nil, fmt.Errorf("convert output message error: %v", err)
	}
	return dm, nil
}

func marshalValue(codec encoding.Codec, val interface{}) ([]byte, error) {
	switch v := val.(type) {
	case *dynamic.Message:
		return codec.Marshal(v)
	case []interface{}:
		parts := make([][]byte, 0, len(v))
		for _, item := range v {
			buf, err := marshalValue(codec, item)
			if err != nil {
				return nil, err
			}
			parts = append(parts, buf)
		}
		joined := bytes.Join(parts, []byte(","))
		return append(append([]byte("["), joined...), ']'), nil
	default:
		return jsoncodec.Marshal(val)
	}
}

type errorPayload struct {
	Code    uint32   `json:"code"`
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func errorBody(err error) errorPayload {
	st := statusOf(err)
	p := errorPayload{
		Code:    uint32(st.Code()),
		Status:  st.Code().String(),
		Message: st.Message(),
	}
	for _, d := range st.Proto().GetDetails() {
		p.Details = append(p.Details, d.GetTypeUrl())
	}
	return p
}

// DefaultHTTPError maps the error's grpc code to an HTTP status and writes a
// JSON body with the code and message.
func DefaultHTTPError(w http.ResponseWriter, err error) {
	st := statusOf(err)
	body, mErr := jsoncodec.Marshal(errorBody(err))
	if mErr != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))
	w.Write(body)
}

func writeStreamHeader(w http.ResponseWriter) {
	w.Header().Set("Content-Type", ndjsonContentType)
	w.WriteHeader(http.StatusOK)
}

// writeErrorLine reports a mid-stream failure after headers are committed.
// The error travels as a final NDJSON line since the status line is gone.
func writeErrorLine(w http.ResponseWriter, err error) {
	line, mErr := jsoncodec.Marshal(map[string]errorPayload{"error": errorBody(err)})
	if mErr != nil {
		return
	}
	line = append(line, '\n')
	w.Write(line)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
