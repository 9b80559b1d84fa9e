package logstream

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/roboto-ai/topicdata/pkg/models"
)

// Message encodings with built-in decoders.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// Schema describes the schema record attached to a channel. It is the zero
// value for schemaless channels.
type Schema struct {
	Name     string
	Encoding string
	Data     []byte
}

// Decoder turns one message payload into a native value that the message
// path extractor can walk.
type Decoder interface {
	Decode(data []byte) (any, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(data []byte) (any, error)

func (f DecoderFunc) Decode(data []byte) (any, error) { return f(data) }

// DecoderFactory returns a decoder for channels it understands.
type DecoderFactory interface {
	DecoderFor(encoding string, schema Schema) (Decoder, bool)
}

// Registry resolves decoders by asking each factory in order. The first
// factory that accepts an encoding wins.
type Registry struct {
	factories []DecoderFactory
}

// NewRegistry fixes the factory order.
func NewRegistry(factories ...DecoderFactory) *Registry {
	return &Registry{factories: append([]DecoderFactory(nil), factories...)}
}

// DefaultRegistry decodes JSON and msgpack messages.
func DefaultRegistry() *Registry {
	return NewRegistry(JSONFactory{}, MsgpackFactory{})
}

// With returns a registry that consults extra factories before r's.
func (r *Registry) With(factories ...DecoderFactory) *Registry {
	all := append(append([]DecoderFactory(nil), factories...), r.factories...)
	return &Registry{factories: all}
}

// Lookup returns the first decoder accepting the encoding.
func (r *Registry) Lookup(encoding string, schema Schema) (Decoder, bool) {
	for _, f := range r.factories {
		if d, ok := f.DecoderFor(encoding, schema); ok {
			return d, true
		}
	}
	return nil, false
}

var jsonAPI = sonic.Config{UseInt64: true}.Froze()

// JSONFactory decodes "json" messages into map[string]any.
type JSONFactory struct{}

func (JSONFactory) DecoderFor(encoding string, _ Schema) (Decoder, bool) {
	if !strings.EqualFold(encoding, EncodingJSON) {
		return nil, false
	}
	return DecoderFunc(decodeJSON), true
}

func decodeJSON(data []byte) (any, error) {
	var v any
	if err := jsonAPI.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: decode json message: %v", models.ErrMalformed, err)
	}
	return v, nil
}

// MsgpackFactory decodes "msgpack" messages into map[string]any.
type MsgpackFactory struct{}

func (MsgpackFactory) DecoderFor(encoding string, _ Schema) (Decoder, bool) {
	if !strings.EqualFold(encoding, EncodingMsgpack) {
		return nil, false
	}
	return DecoderFunc(decodeMsgpack), true
}

func decodeMsgpack(data []byte) (any, error) {
	var v any
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: decode msgpack message: %v", models.ErrMalformed, err)
	}
	return v, nil
}
