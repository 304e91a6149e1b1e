// Package wire frames byte payloads stored by lockcache.
//
// Typed:  magic(4) | ver(1) | kind(1=typed) | fmt(1) | tlen(u16 be) | type(tlen) | payload
// Nested: magic(4) | ver(1) | kind(3=nested) | fmt(1) | tlen(u16 be) | type(tlen) | mlen(u32 be) | meta(mlen) | payload
// Expiry: magic(4) | ver(1) | kind(2=expiry) | exp(i64 be, unix nanos; 0 = never) | payload
//
// A nested frame is a typed frame whose meta block describes the concrete
// types of values nested inside the payload. Frames without meta stay typed.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version    byte = 1
	kindTyped  byte = 1
	kindExpiry byte = 2
	kindNested byte = 3
)

var (
	ErrCorrupt = errors.New("lockcache: corrupt entry")
	magic4     = [...]byte{'L', 'C', 'K', 'C'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// EncodeTyped frames payload with the name of its concrete type and the
// inner format it was encoded with. meta is opaque to this package; an empty
// meta produces a plain typed frame.
func EncodeTyped(format byte, typeName string, meta, payload []byte) []byte {
	if l := len(typeName); l == 0 || l > 0xFFFF {
		panic("lockcache: invalid type name length")
	}
	if uint64(len(meta)) > 0xFFFFFFFF {
		panic("lockcache: meta block too large")
	}

	kind := kindTyped
	size := 4 + 1 + 1 + 1 + 2 + len(typeName) + len(payload)
	if len(meta) > 0 {
		kind = kindNested
		size += 4 + len(meta)
	}

	var buf bytes.Buffer
	buf.Grow(size)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kind)
	buf.WriteByte(format)

	var u2 [2]byte
	binary.BigEndian.PutUint16(u2[:], uint16(len(typeName)))
	buf.Write(u2[:])
	buf.WriteString(typeName)

	if kind == kindNested {
		var u4 [4]byte
		binary.BigEndian.PutUint32(u4[:], uint32(len(meta)))
		buf.Write(u4[:])
		buf.Write(meta)
	}

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeTyped parses a typed or nested frame. meta is nil for typed frames.
func DecodeTyped(b []byte) (format byte, typeName string, meta, payload []byte, err error) {
	const hdr = 4 + 1 + 1 + 1 + 2
	if len(b) < hdr || !hasMagic(b) || b[4] != version || (b[5] != kindTyped && b[5] != kindNested) {
		return 0, "", nil, nil, ErrCorrupt
	}
	kind := b[5]
	format = b[6]
	off := 7

	tlen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if tlen == 0 || tlen > len(b)-off {
		return 0, "", nil, nil, ErrCorrupt
	}
	typeName = string(b[off : off+tlen])
	off += tlen

	if kind == kindNested {
		if len(b)-off < 4 {
			return 0, "", nil, nil, ErrCorrupt
		}
		mlen := uint64(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		if mlen == 0 || mlen > uint64(len(b)-off) {
			return 0, "", nil, nil, ErrCorrupt
		}
		meta = b[off : off+int(mlen)]
		off += int(mlen)
	}

	return format, typeName, meta, b[off:], nil
}

// EncodeExpiry prefixes payload with an absolute expiry in unix nanoseconds.
// expiresAt == 0 means the entry never expires.
func EncodeExpiry(expiresAt int64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindExpiry)

	var u8 [8]byte
	binary.BigEndian.PutUint64(u8[:], uint64(expiresAt))
	buf.Write(u8[:])

	buf.Write(payload)
	return buf.Bytes()
}

func DecodeExpiry(b []byte) (expiresAt int64, payload []byte, err error) {
	const hdr = 4 + 1 + 1 + 8
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindExpiry {
		return 0, nil, ErrCorrupt
	}
	expiresAt = int64(binary.BigEndian.Uint64(b[6:14]))
	return expiresAt, b[hdr:], nil
}
