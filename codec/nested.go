package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/unkn0wn-root/lockcache/internal/wire"
)

// Values held in interface-typed slots (an `any` struct field, map value or
// slice element) decode as generic maps and numbers in every inner format.
// Polymorphic therefore records the registered type of each such value next
// to its Go path, and on decode re-decodes the generic value found at that
// path into the recorded type. Parents are recorded before their children,
// so by the time a child is restored its container already has its concrete
// type.

// ErrUnsupportedType is returned for values whose nested types cannot be
// recorded, such as interface values stored under non-string map keys.
var ErrUnsupportedType = errors.New("codec: unsupported nested type")

const maxSlotDepth = 256

type stepKind byte

const (
	stepIndex stepKind = iota // struct field or slice/array element
	stepKey                   // map key
)

type step struct {
	kind  stepKind
	index int
	key   string
}

type slot struct {
	path []step
	name string // registered name, pointerMarker-prefixed for pointers
}

// ==============================
// Encode side
// ==============================

type slotCollector struct {
	p     *Polymorphic
	slots []slot
}

func (c *slotCollector) walk(v reflect.Value, path []step) error {
	if len(path) > maxSlotDepth {
		return fmt.Errorf("%w: nested deeper than %d", ErrUnsupportedType, maxSlotDepth)
	}
	if !mayHoldInterface(v.Type()) {
		return nil
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		e := v.Elem()
		if e.Kind() == reflect.Pointer && e.IsNil() {
			return nil
		}
		name, err := c.p.typeName(e.Type())
		if err != nil {
			return err
		}
		c.slots = append(c.slots, slot{path: slices.Clone(path), name: name})
		return c.walk(e, path)

	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return c.walk(v.Elem(), path)

	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if err := c.walk(v.Field(i), append(path, step{kind: stepIndex, index: i})); err != nil {
				return err
			}
		}

	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := c.walk(v.Index(i), append(path, step{kind: stepIndex, index: i})); err != nil {
				return err
			}
		}

	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("%w: %s holds interface values under non-string keys", ErrUnsupportedType, v.Type())
		}
		it := v.MapRange()
		for it.Next() {
			if err := c.walk(it.Value(), append(path, step{kind: stepKey, key: it.Key().String()})); err != nil {
				return err
			}
		}
	}
	return nil
}

var holdsInterface sync.Map // reflect.Type -> bool

// mayHoldInterface reports whether a value of type t can reach an
// interface-typed slot through exported fields, elements or map values.
func mayHoldInterface(t reflect.Type) bool {
	if v, ok := holdsInterface.Load(t); ok {
		return v.(bool)
	}
	r := reachesInterface(t, make(map[reflect.Type]bool))
	holdsInterface.Store(t, r)
	return r
}

func reachesInterface(t reflect.Type, seen map[reflect.Type]bool) bool {
	if seen[t] {
		return false
	}
	seen[t] = true

	switch t.Kind() {
	case reflect.Interface:
		return true
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return reachesInterface(t.Elem(), seen)
	case reflect.Map:
		return reachesInterface(t.Elem(), seen)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if f := t.Field(i); f.IsExported() && reachesInterface(f.Type, seen) {
				return true
			}
		}
	}
	return false
}

// ==============================
// Decode side
// ==============================

// restore re-types every recorded slot inside root and returns the result.
func (p *Polymorphic) restore(root reflect.Value, slots []slot, m marshaler) (reflect.Value, error) {
	for _, s := range slots {
		leaf := func(v reflect.Value) (reflect.Value, error) { return p.retype(v, s.name, m) }
		nv, err := rewrite(root, s.path, leaf)
		if err != nil {
			return root, err
		}
		root = nv
	}
	return root, nil
}

// rewrite returns v with the value at path replaced by leaf(value). Values
// that are not addressable (struct copies held in interfaces) are copied.
// Missing or nil intermediates mean the inner format dropped the value; the
// slot is skipped.
func rewrite(v reflect.Value, path []step, leaf func(reflect.Value) (reflect.Value, error)) (reflect.Value, error) {
	if len(path) == 0 {
		return leaf(v)
	}
	s := path[0]

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v, nil
		}
		nv, err := rewrite(v.Elem(), path, leaf)
		if err != nil {
			return v, err
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(nv)
		return out, nil

	case reflect.Pointer:
		if v.IsNil() {
			return v, nil
		}
		nv, err := rewrite(v.Elem(), path, leaf)
		if err != nil {
			return v, err
		}
		v.Elem().Set(nv)
		return v, nil

	case reflect.Struct:
		if s.kind != stepIndex || s.index >= v.NumField() || !v.Type().Field(s.index).IsExported() {
			return v, badPath(v.Type())
		}
		cp := reflect.New(v.Type()).Elem()
		cp.Set(v)
		f := cp.Field(s.index)
		nv, err := rewrite(f, path[1:], leaf)
		if err != nil {
			return v, err
		}
		f.Set(nv)
		return cp, nil

	case reflect.Array:
		if s.kind != stepIndex || s.index >= v.Len() {
			return v, badPath(v.Type())
		}
		cp := reflect.New(v.Type()).Elem()
		cp.Set(v)
		e := cp.Index(s.index)
		nv, err := rewrite(e, path[1:], leaf)
		if err != nil {
			return v, err
		}
		e.Set(nv)
		return cp, nil

	case reflect.Slice:
		if s.kind != stepIndex {
			return v, badPath(v.Type())
		}
		if s.index >= v.Len() {
			return v, nil
		}
		e := v.Index(s.index)
		nv, err := rewrite(e, path[1:], leaf)
		if err != nil {
			return v, err
		}
		e.Set(nv)
		return v, nil

	case reflect.Map:
		if s.kind != stepKey || v.Type().Key().Kind() != reflect.String {
			return v, badPath(v.Type())
		}
		k := reflect.ValueOf(s.key).Convert(v.Type().Key())
		e := v.MapIndex(k)
		if !e.IsValid() {
			return v, nil
		}
		nv, err := rewrite(e, path[1:], leaf)
		if err != nil {
			return v, err
		}
		v.SetMapIndex(k, nv)
		return v, nil
	}
	return v, badPath(v.Type())
}

func badPath(t reflect.Type) error {
	return fmt.Errorf("%w: nested type path does not fit %s", wire.ErrCorrupt, t)
}

// retype re-decodes the generic value held by the interface slot v into the
// type registered as name.
func (p *Polymorphic) retype(v reflect.Value, name string, m marshaler) (reflect.Value, error) {
	if v.Kind() != reflect.Interface || v.IsNil() {
		return v, nil
	}
	t, ptr, err := p.lookup(name)
	if err != nil {
		return v, err
	}
	b, err := m.Marshal(v.Elem().Interface())
	if err != nil {
		return v, err
	}
	target := reflect.New(t)
	if err := m.Unmarshal(b, target.Interface()); err != nil {
		return v, err
	}
	val := target
	if !ptr {
		val = target.Elem()
	}
	if !val.Type().AssignableTo(v.Type()) {
		return v, fmt.Errorf("%w: %s does not fit %s", wire.ErrCorrupt, val.Type(), v.Type())
	}
	out := reflect.New(v.Type()).Elem()
	out.Set(val)
	return out, nil
}

// ==============================
// Slot table
// ==============================
//
// count(uvarint) then per slot: nlen(uvarint) | name | steps(uvarint) and per
// step: kind(1) | index(uvarint) or klen(uvarint) | key

func encodeSlots(slots []slot) []byte {
	if len(slots) == 0 {
		return nil
	}
	b := binary.AppendUvarint(nil, uint64(len(slots)))
	for _, s := range slots {
		b = binary.AppendUvarint(b, uint64(len(s.name)))
		b = append(b, s.name...)
		b = binary.AppendUvarint(b, uint64(len(s.path)))
		for _, st := range s.path {
			b = append(b, byte(st.kind))
			if st.kind == stepKey {
				b = binary.AppendUvarint(b, uint64(len(st.key)))
				b = append(b, st.key...)
				continue
			}
			b = binary.AppendUvarint(b, uint64(st.index))
		}
	}
	return b
}

type slotReader struct {
	b   []byte
	err error
}

func (r *slotReader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.b)
	if n <= 0 {
		r.err = wire.ErrCorrupt
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *slotReader) bytes(n uint64) []byte {
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.b)) {
		r.err = wire.ErrCorrupt
		return nil
	}
	out := r.b[:n]
	r.b = r.b[n:]
	return out
}

func decodeSlots(b []byte) ([]slot, error) {
	if len(b) == 0 {
		return nil, nil
	}
	r := &slotReader{b: b}
	n := r.uvarint()
	// every slot takes at least two bytes
	if r.err == nil && n > uint64(len(r.b)) {
		return nil, wire.ErrCorrupt
	}
	slots := make([]slot, 0, n)
	for i := uint64(0); i < n && r.err == nil; i++ {
		s := slot{name: string(r.bytes(r.uvarint()))}
		steps := r.uvarint()
		if r.err == nil && (steps > maxSlotDepth+1 || steps > uint64(len(r.b))) {
			return nil, wire.ErrCorrupt
		}
		for j := uint64(0); j < steps && r.err == nil; j++ {
			kind := r.bytes(1)
			if r.err != nil {
				break
			}
			switch stepKind(kind[0]) {
			case stepIndex:
				idx := r.uvarint()
				if idx > uint64(maxInt) {
					return nil, wire.ErrCorrupt
				}
				s.path = append(s.path, step{kind: stepIndex, index: int(idx)})
			case stepKey:
				s.path = append(s.path, step{kind: stepKey, key: string(r.bytes(r.uvarint()))})
			default:
				return nil, wire.ErrCorrupt
			}
		}
		slots = append(slots, s)
	}
	if r.err != nil || len(r.b) != 0 {
		return nil, wire.ErrCorrupt
	}
	return slots, nil
}

const maxInt = int(^uint(0) >> 1)
