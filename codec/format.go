package codec

import "fmt"

// Format names the inner encoding of a Polymorphic payload. The byte is
// persisted in every typed frame, so values never change meaning.
type Format byte

const (
	FormatJSON    Format = 1
	FormatCBOR    Format = 2
	FormatMsgpack Format = 3
	FormatProto   Format = 4 // chosen automatically for proto.Message values
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatCBOR:
		return "cbor"
	case FormatMsgpack:
		return "msgpack"
	case FormatProto:
		return "proto"
	default:
		return fmt.Sprintf("format(%d)", byte(f))
	}
}

// ParseFormat maps a config string onto a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "json":
		return FormatJSON, nil
	case "cbor":
		return FormatCBOR, nil
	case "msgpack":
		return FormatMsgpack, nil
	default:
		return 0, fmt.Errorf("codec: unknown format %q", s)
	}
}

// marshaler is the untyped core shared by the typed codecs and Polymorphic.
type marshaler interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(b []byte, v any) error
}

func (f Format) marshaler() (marshaler, error) {
	switch f {
	case FormatJSON:
		return jsonNumberMarshaler{}, nil
	case FormatCBOR:
		return defaultCBOR, nil
	case FormatMsgpack:
		return msgpackMarshaler{}, nil
	default:
		return nil, fmt.Errorf("codec: no marshaler for %s", f)
	}
}
