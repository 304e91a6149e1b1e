package codec

import "github.com/vmihailenco/msgpack/v5"

type msgpackMarshaler struct{}

func (msgpackMarshaler) Marshal(v any) ([]byte, error)   { return msgpack.Marshal(v) }
func (msgpackMarshaler) Unmarshal(b []byte, v any) error { return msgpack.Unmarshal(b, v) }

// Msgpack is a Codec that serializes values using vmihailenco/msgpack/v5.
// The zero value is ready to use.
//
// Use `msgpack:"fieldName"` tags if you need explicit control; JSON tags are
// not consulted.
type Msgpack[V any] struct{}

var _ Codec[struct{}] = Msgpack[struct{}]{}

func (Msgpack[V]) Encode(v V) ([]byte, error) { return msgpackMarshaler{}.Marshal(v) }
func (Msgpack[V]) Decode(b []byte) (V, error) {
	var v V
	err := msgpackMarshaler{}.Unmarshal(b, &v)
	return v, err
}
