package codec

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/unkn0wn-root/lockcache/internal/wire"
)

type address struct {
	City string `json:"city" msgpack:"city" cbor:"city"`
	Zip  string `json:"zip" msgpack:"zip" cbor:"zip"`
}

type customer struct {
	Name    string    `json:"name" msgpack:"name" cbor:"name"`
	Address address   `json:"address" msgpack:"address" cbor:"address"`
	Since   time.Time `json:"since" msgpack:"since" cbor:"since"`
}

// envelope carries values of any registered type.
type envelope struct {
	Kind    string `json:"kind" msgpack:"kind" cbor:"kind"`
	Payload any    `json:"payload" msgpack:"payload" cbor:"payload"`
}

func newTestPolymorphic(t *testing.T, f Format) *Polymorphic {
	t.Helper()
	reg := NewTypeRegistry()
	MustRegister[customer](reg, "customer")
	MustRegister[order](reg, "order")
	MustRegister[address](reg, "address")
	MustRegister[envelope](reg, "envelope")
	MustRegister[*wrapperspb.StringValue](reg, "pb.string")
	p, err := NewPolymorphic(reg, f)
	if err != nil {
		t.Fatalf("NewPolymorphic: %v", err)
	}
	return p
}

// TestPolymorphicPreservesConcreteType verifies heterogeneous values decode
// back to the exact runtime type (value vs pointer included) in every format.
func TestPolymorphicPreservesConcreteType(t *testing.T) {
	since := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	values := []any{
		customer{Name: "Ada", Address: address{City: "London", Zip: "N1"}, Since: since},
		&customer{Name: "Grace", Address: address{City: "Arlington", Zip: "22201"}, Since: since},
		order{ID: "o-1", Total: 3.5, Tags: []string{"x"}},
		"plain string",
		int64(42),
		true,
		[]string{"a", "b"},
		wrapperspb.String("proto value"),

		// values behind interface-typed slots keep their types too
		envelope{Kind: "c", Payload: address{City: "L", Zip: "Z"}},
		envelope{Kind: "p", Payload: &address{City: "P", Zip: "1"}},
		envelope{Kind: "n", Payload: 7},
		envelope{Kind: "nil"},
		envelope{Kind: "outer", Payload: envelope{Kind: "inner", Payload: int64(1) << 60}},
		map[string]any{"n": 1, "f": 1.5, "s": "x", "a": address{City: "M"}, "l": []any{int64(2), "y"}},
		[]any{1, address{Zip: "Z"}, map[string]any{"f": 2.25, "e": envelope{Kind: "deep", Payload: []string{"a"}}}},
	}

	for _, f := range []Format{FormatJSON, FormatCBOR, FormatMsgpack} {
		p := newTestPolymorphic(t, f)
		t.Run(f.String(), func(t *testing.T) {
			for _, v := range values {
				b, err := p.Encode(v)
				if err != nil {
					t.Fatalf("Encode(%T): %v", v, err)
				}
				got, err := p.Decode(b)
				if err != nil {
					t.Fatalf("Decode(%T): %v", v, err)
				}
				if reflect.TypeOf(got) != reflect.TypeOf(v) {
					t.Fatalf("type changed: got %T want %T", got, v)
				}
				if m, ok := v.(proto.Message); ok {
					if !proto.Equal(m, got.(proto.Message)) {
						t.Fatalf("proto mismatch: got %v want %v", got, v)
					}
					continue
				}
				if !reflect.DeepEqual(normalize(got), normalize(v)) {
					t.Fatalf("value mismatch: got %#v want %#v", got, v)
				}
			}
		})
	}
}

// normalize strips monotonic/location details that formats legitimately drop.
func normalize(v any) any {
	switch x := v.(type) {
	case customer:
		x.Since = x.Since.UTC()
		return x
	case *customer:
		c := *x
		c.Since = c.Since.UTC()
		return c
	default:
		return v
	}
}

func TestPolymorphicErrors(t *testing.T) {
	p := newTestPolymorphic(t, FormatJSON)

	if _, err := p.Encode(nil); !errors.Is(err, ErrNilValue) {
		t.Fatalf("nil: %v", err)
	}
	var nilCustomer *customer
	if _, err := p.Encode(nilCustomer); !errors.Is(err, ErrNilValue) {
		t.Fatalf("typed nil: %v", err)
	}
	type unknown struct{ X int }
	if _, err := p.Encode(unknown{X: 1}); !errors.Is(err, ErrUnregisteredType) {
		t.Fatalf("unregistered: %v", err)
	}

	// a payload written by a process that knew a type this one does not
	other := NewTypeRegistry()
	MustRegister[unknown](other, "unknown")
	writer, _ := NewPolymorphic(other, FormatJSON)
	b, err := writer.Encode(unknown{X: 1})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := p.Decode(b); !errors.Is(err, ErrUnknownTypeName) {
		t.Fatalf("unknown name: %v", err)
	}

	if _, err := p.Decode([]byte("{\"not\":\"framed\"}")); err == nil {
		t.Fatalf("expected error on unframed payload")
	}
}

func TestPolymorphicNestedErrors(t *testing.T) {
	p := newTestPolymorphic(t, FormatJSON)

	type hidden struct{ X int }
	if _, err := p.Encode(envelope{Kind: "x", Payload: hidden{X: 1}}); !errors.Is(err, ErrUnregisteredType) {
		t.Fatalf("unregistered nested type: %v", err)
	}
	if _, err := p.Encode(map[string]any{"k": []any{hidden{}}}); !errors.Is(err, ErrUnregisteredType) {
		t.Fatalf("unregistered deep type: %v", err)
	}

	reg := NewTypeRegistry()
	MustRegister[map[int]any](reg, "intmap")
	ip, _ := NewPolymorphic(reg, FormatJSON)
	if _, err := ip.Encode(map[int]any{1: "x"}); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("non-string keys: %v", err)
	}

	// a nested type table that no longer fits the payload
	b, err := p.Encode(envelope{Kind: "c", Payload: address{City: "L"}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, name, _, payload, _ := wire.DecodeTyped(b)
	bad := encodeSlots([]slot{{path: []step{{kind: stepKey, key: "payload"}}, name: "address"}})
	if _, err := p.Decode(wire.EncodeTyped(byte(FormatJSON), name, bad, payload)); !errors.Is(err, wire.ErrCorrupt) {
		t.Fatalf("mismatched path: %v", err)
	}
	if _, err := p.Decode(wire.EncodeTyped(byte(FormatJSON), name, []byte{5}, payload)); !errors.Is(err, wire.ErrCorrupt) {
		t.Fatalf("truncated table: %v", err)
	}
}

func TestSlotTableRoundTrip(t *testing.T) {
	in := []slot{
		{path: nil, name: "int"},
		{path: []step{{kind: stepIndex, index: 1}, {kind: stepKey, key: "a"}}, name: "*address"},
		{path: []step{{kind: stepKey, key: ""}, {kind: stepIndex, index: 300}}, name: "list"},
	}
	out, err := decodeSlots(encodeSlots(in))
	if err != nil {
		t.Fatalf("decodeSlots: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d slots", len(out))
	}
	for i := range in {
		if out[i].name != in[i].name || len(out[i].path) != len(in[i].path) {
			t.Fatalf("slot %d = %+v want %+v", i, out[i], in[i])
		}
		for j := range in[i].path {
			if out[i].path[j] != in[i].path[j] {
				t.Fatalf("slot %d step %d = %+v want %+v", i, j, out[i].path[j], in[i].path[j])
			}
		}
	}
	if encodeSlots(nil) != nil {
		t.Fatal("no slots must encode to nothing")
	}
}

func TestRegisterConflicts(t *testing.T) {
	reg := NewTypeRegistry()
	if err := Register[customer](reg, "customer"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := Register[*customer](reg, "customer"); err != nil {
		t.Fatalf("re-register pointer form must be a no-op: %v", err)
	}
	if err := Register[order](reg, "customer"); !errors.Is(err, ErrDuplicateType) {
		t.Fatalf("name conflict: %v", err)
	}
	if err := Register[customer](reg, "client"); !errors.Is(err, ErrDuplicateType) {
		t.Fatalf("type conflict: %v", err)
	}
	if err := Register[order](reg, "*order"); err == nil {
		t.Fatalf("names starting with * must be rejected")
	}
}

func TestNewPolymorphicValidation(t *testing.T) {
	if _, err := NewPolymorphic(nil, FormatJSON); err == nil {
		t.Fatalf("expected error for nil registry")
	}
	if _, err := NewPolymorphic(NewTypeRegistry(), FormatProto); err == nil {
		t.Fatalf("FormatProto must not be selectable as default format")
	}
}
