// Package jsoncodec is the JSON entry point for everything that is not a
// protobuf payload (error bodies, bare response_body values). Proto messages
// keep going through jsonpb.
package jsoncodec

import "github.com/bytedance/sonic"

func Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}
