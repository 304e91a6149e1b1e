package codec

import (
	"bytes"
	"encoding/json"
)

type jsonMarshaler struct{}

func (jsonMarshaler) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (jsonMarshaler) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }

// jsonNumberMarshaler decodes numbers in interface slots as json.Number, so
// Polymorphic can re-decode them into their recorded type without going
// through float64.
type jsonNumberMarshaler struct{ jsonMarshaler }

func (jsonNumberMarshaler) Unmarshal(b []byte, v any) error {
	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()
	return d.Decode(v)
}

// JSON is a Codec backed by encoding/json. The zero value is ready to use.
type JSON[V any] struct{}

var _ Codec[struct{}] = JSON[struct{}]{}

func (JSON[V]) Encode(v V) ([]byte, error) { return jsonMarshaler{}.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := jsonMarshaler{}.Unmarshal(b, &v)
	return v, err
}
