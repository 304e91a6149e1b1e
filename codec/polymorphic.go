package codec

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"

	"github.com/unkn0wn-root/lockcache/internal/wire"
)

var (
	ErrNilValue         = errors.New("codec: nil value")
	ErrUnregisteredType = errors.New("codec: unregistered type")
	ErrUnknownTypeName  = errors.New("codec: unknown type name")
	ErrDuplicateType    = errors.New("codec: type already registered")
)

const pointerMarker = "*"

// TypeRegistry maps stable names to concrete Go types so that a payload
// written by one process decodes to the same type in another. Names, not
// reflect paths, are persisted: renaming a Go type keeps old entries readable.
type TypeRegistry struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

// NewTypeRegistry returns a registry preloaded with common builtin types.
func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
	_ = Register[string](r, "string")
	_ = Register[bool](r, "bool")
	_ = Register[int](r, "int")
	_ = Register[int64](r, "int64")
	_ = Register[uint64](r, "uint64")
	_ = Register[float64](r, "float64")
	_ = Register[[]byte](r, "bytes")
	_ = Register[[]string](r, "strings")
	_ = Register[time.Time](r, "time")
	_ = Register[map[string]any](r, "map")
	_ = Register[[]any](r, "list")
	return r
}

// Register binds name to T. Registering *T and T is equivalent: both the value
// and the pointer form round-trip once either is registered.
func Register[T any](r *TypeRegistry, name string) error {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if name == "" || strings.HasPrefix(name, pointerMarker) {
		return fmt.Errorf("codec: invalid type name %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byName[name]; ok && prev != t {
		return fmt.Errorf("%w: %q is %s", ErrDuplicateType, name, prev)
	}
	if prev, ok := r.byType[t]; ok && prev != name {
		return fmt.Errorf("%w: %s is %q", ErrDuplicateType, t, prev)
	}
	r.byName[name] = t
	r.byType[t] = name
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister[T any](r *TypeRegistry, name string) {
	if err := Register[T](r, name); err != nil {
		panic(err)
	}
}

func (r *TypeRegistry) nameOf(t reflect.Type) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.byType[t]
	return n, ok
}

func (r *TypeRegistry) typeOf(name string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// Polymorphic is a Codec[any] that records the concrete type of every value
// next to its payload, so heterogeneous values sharing a cache decode back
// to exactly the type that was stored. Values nested in interface-typed
// fields, map values and slice elements keep their types too; every such
// value must be of a registered type. Construct once and share; it holds no
// mutable state beyond the registry.
type Polymorphic struct {
	types  *TypeRegistry
	format Format
}

var _ Codec[any] = (*Polymorphic)(nil)

// NewPolymorphic builds the codec. format selects the inner encoding for
// non-proto values; FormatProto is not accepted here.
func NewPolymorphic(types *TypeRegistry, format Format) (*Polymorphic, error) {
	if types == nil {
		return nil, errors.New("codec: nil type registry")
	}
	if _, err := format.marshaler(); err != nil {
		return nil, err
	}
	return &Polymorphic{types: types, format: format}, nil
}

// Types exposes the registry so callers can register more types later.
func (p *Polymorphic) Types() *TypeRegistry { return p.types }

func (p *Polymorphic) Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, ErrNilValue
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, ErrNilValue
	}
	name, err := p.typeName(rv.Type())
	if err != nil {
		return nil, err
	}

	if m, ok := v.(proto.Message); ok {
		payload, err := proto.Marshal(m)
		if err != nil {
			return nil, err
		}
		return wire.EncodeTyped(byte(FormatProto), name, nil, payload), nil
	}

	m, _ := p.format.marshaler()
	payload, err := m.Marshal(v)
	if err != nil {
		return nil, err
	}
	c := slotCollector{p: p}
	if err := c.walk(rv, nil); err != nil {
		return nil, err
	}
	return wire.EncodeTyped(byte(p.format), name, encodeSlots(c.slots), payload), nil
}

func (p *Polymorphic) Decode(b []byte) (any, error) {
	f, name, meta, payload, err := wire.DecodeTyped(b)
	if err != nil {
		return nil, err
	}
	t, ptr, err := p.lookup(name)
	if err != nil {
		return nil, err
	}

	target := reflect.New(t)
	if Format(f) == FormatProto {
		m, ok := target.Interface().(proto.Message)
		if !ok {
			return nil, fmt.Errorf("codec: %s does not implement proto.Message", t)
		}
		if err := proto.Unmarshal(payload, m); err != nil {
			return nil, err
		}
		return result(target, ptr), nil
	}

	m, err := Format(f).marshaler()
	if err != nil {
		return nil, err
	}
	if err := m.Unmarshal(payload, target.Interface()); err != nil {
		return nil, err
	}
	slots, err := decodeSlots(meta)
	if err != nil {
		return nil, err
	}
	if len(slots) > 0 {
		root, err := p.restore(target.Elem(), slots, m)
		if err != nil {
			return nil, err
		}
		target.Elem().Set(root)
	}
	return result(target, ptr), nil
}

// typeName returns the persisted name of t, marking pointer types.
func (p *Polymorphic) typeName(t reflect.Type) (string, error) {
	ptr := t.Kind() == reflect.Pointer
	if ptr {
		t = t.Elem()
	}
	name, ok := p.types.nameOf(t)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnregisteredType, t)
	}
	if ptr {
		name = pointerMarker + name
	}
	return name, nil
}

func (p *Polymorphic) lookup(name string) (t reflect.Type, ptr bool, err error) {
	ptr = strings.HasPrefix(name, pointerMarker)
	t, ok := p.types.typeOf(strings.TrimPrefix(name, pointerMarker))
	if !ok {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownTypeName, name)
	}
	return t, ptr, nil
}

func result(target reflect.Value, ptr bool) any {
	if ptr {
		return target.Interface()
	}
	return target.Elem().Interface()
}
