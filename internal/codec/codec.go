// Package codec is the JSON codec for every payload that crosses the store or
// a pub/sub channel. It is backed by sonic in std-compatible mode so records
// written here stay readable by encoding/json consumers.
package codec

import (
	"io"

	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func MarshalString(v any) (string, error) {
	return api.MarshalToString(v)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

func UnmarshalString(data string, v any) error {
	return api.UnmarshalFromString(data, v)
}

// NewDecoder reads one JSON value at a time from r, for HTTP bodies.
func NewDecoder(r io.Reader) sonic.Decoder {
	return api.NewDecoder(r)
}
