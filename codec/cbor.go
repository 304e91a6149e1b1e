package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var mapStringAny = reflect.TypeOf(map[string]any(nil))

type cborMarshaler struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func (m cborMarshaler) Marshal(v any) ([]byte, error)   { return m.enc.Marshal(v) }
func (m cborMarshaler) Unmarshal(b []byte, v any) error { return m.dec.Unmarshal(b, v) }

func newCBORMarshaler(deterministic bool) (cborMarshaler, error) {
	var eo cbor.EncOptions
	if deterministic {
		eo = cbor.CoreDetEncOptions()
	} else {
		eo = cbor.PreferredUnsortedEncOptions()
	}
	eo.Time = cbor.TimeRFC3339Nano

	em, err := eo.EncMode()
	if err != nil {
		return cborMarshaler{}, err
	}
	// decode maps as map[string]any so nested documents match JSON behavior
	dm, err := (cbor.DecOptions{DefaultMapType: mapStringAny}).DecMode()
	if err != nil {
		return cborMarshaler{}, err
	}
	return cborMarshaler{enc: em, dec: dm}, nil
}

// defaultCBOR is built once at init and is immutable afterwards.
var defaultCBOR = func() cborMarshaler {
	m, err := newCBORMarshaler(false)
	if err != nil {
		panic(err)
	}
	return m
}()

// CBOR is a Codec that serializes values using fxamacker/cbor.
// The zero value is NOT ready to use. Construct with NewCBOR or MustCBOR.
//
// Deterministic encoding uses CoreDetEncOptions (RFC 8949) for byte-stable
// output; otherwise PreferredUnsortedEncOptions. Times use RFC3339Nano.
type CBOR[V any] struct {
	m cborMarshaler
}

var _ Codec[struct{}] = CBOR[struct{}]{}

func NewCBOR[V any](deterministic bool) (CBOR[V], error) {
	m, err := newCBORMarshaler(deterministic)
	if err != nil {
		return CBOR[V]{}, err
	}
	return CBOR[V]{m: m}, nil
}

// MustCBOR is like NewCBOR but panics on error.
func MustCBOR[V any](deterministic bool) CBOR[V] {
	c, err := NewCBOR[V](deterministic)
	if err != nil {
		panic(err)
	}
	return c
}

func (c CBOR[V]) Encode(v V) ([]byte, error) { return c.m.Marshal(v) }
func (c CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	err := c.m.Unmarshal(b, &v)
	return v, err
}
