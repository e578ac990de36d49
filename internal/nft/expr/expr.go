package expr

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// Any is an nf_tables expression.
type Any interface {
	// Name is the kernel expression name, e.g. "meta" or "cmp".
	Name() string

	encode(ae *netlink.AttributeEncoder) error
}

// ErrUnknownKind is returned by Decode for expression names it cannot map.
var ErrUnknownKind = errors.New("unknown expression kind")

// EncodingError reports an expression that cannot be encoded as built.
type EncodingError struct {
	Kind   string
	Field  string
	Reason string
}

func (e *EncodingError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s expression: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s expression: %s: %s", e.Kind, e.Field, e.Reason)
}

func missing(kind, field string) error {
	return &EncodingError{Kind: kind, Field: field, Reason: "required"}
}

func invalid(kind, field, format string, args ...any) error {
	return &EncodingError{Kind: kind, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Encode writes e into ae as the body of an NFTA_LIST_ELEM attribute.
func Encode(ae *netlink.AttributeEncoder, e Any) error {
	if e == nil {
		return &EncodingError{Kind: "<nil>", Reason: "nil expression"}
	}
	kind := e.Name()
	if !Supported(kind) {
		return &EncodingError{Kind: kind, Reason: "not available for target version " + TargetVersion}
	}

	ae.String(unix.NFTA_EXPR_NAME, kind)
	ae.Nested(unix.NFTA_EXPR_DATA, e.encode)
	return nil
}

// Marshal returns the NFTA_LIST_ELEM body for e.
func Marshal(e Any) ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	ae.ByteOrder = binary.BigEndian
	if err := Encode(ae, e); err != nil {
		return nil, err
	}
	return ae.Encode()
}

// Unmarshal is the inverse of Marshal.
func Unmarshal(b []byte) (Any, error) {
	ad, err := netlink.NewAttributeDecoder(b)
	if err != nil {
		return nil, err
	}
	ad.ByteOrder = binary.BigEndian
	return Decode(ad)
}

// Decode reads one NFTA_LIST_ELEM body.
func Decode(ad *netlink.AttributeDecoder) (Any, error) {
	var (
		name string
		data []byte
	)
	for ad.Next() {
		switch ad.Type() {
		case unix.NFTA_EXPR_NAME:
			name = ad.String()
		case unix.NFTA_EXPR_DATA:
			data = ad.Bytes()
		}
	}
	if err := ad.Err(); err != nil {
		return nil, err
	}

	fn, ok := decoders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	dd, err := netlink.NewAttributeDecoder(data)
	if err != nil {
		return nil, fmt.Errorf("%s expression: %w", name, err)
	}
	dd.ByteOrder = binary.BigEndian
	e, err := fn(dd)
	if err != nil {
		return nil, fmt.Errorf("%s expression: %w", name, err)
	}
	return e, nil
}

type decodable interface {
	Any
	decode(ad *netlink.AttributeDecoder) error
}

func decodeAs[T decodable](newFn func() T) func(*netlink.AttributeDecoder) (Any, error) {
	return func(ad *netlink.AttributeDecoder) (Any, error) {
		e := newFn()
		if err := e.decode(ad); err != nil {
			return nil, err
		}
		return e, nil
	}
}

var decoders = map[string]func(*netlink.AttributeDecoder) (Any, error){
	"meta":      decodeAs(func() *Meta { return &Meta{} }),
	"payload":   decodePayload,
	"ct":        decodeAs(func() *Ct { return &Ct{} }),
	"immediate": decodeImmediate,
	"bitwise":   decodeAs(func() *Bitwise { return &Bitwise{} }),
	"cmp":       decodeAs(func() *Cmp { return &Cmp{} }),
	"counter":   decodeAs(func() *Counter { return &Counter{} }),
	"log":       decodeAs(func() *Log { return &Log{} }),
	"lookup":    decodeAs(func() *Lookup { return &Lookup{} }),
	"nat":       decodeAs(func() *Nat { return &Nat{} }),
	"masq":      decodeAs(func() *Masquerade { return &Masquerade{} }),
	"reject":    decodeAs(func() *Reject { return &Reject{} }),
	"socket":    decodeAs(func() *Socket { return &Socket{} }),
	"fib":       decodeAs(func() *Fib { return &Fib{} }),
	"limit":     decodeAs(func() *Limit { return &Limit{} }),
}

// encodeData writes a NFTA_DATA_VALUE nest.
func encodeData(ae *netlink.AttributeEncoder, typ uint16, b []byte) {
	ae.Nested(typ, func(nae *netlink.AttributeEncoder) error {
		nae.Bytes(unix.NFTA_DATA_VALUE, b)
		return nil
	})
}

// decodeData reads the NFTA_DATA_VALUE out of the current nested attribute.
func decodeData(ad *netlink.AttributeDecoder) []byte {
	var out []byte
	ad.Nested(func(nad *netlink.AttributeDecoder) error {
		for nad.Next() {
			if nad.Type() == unix.NFTA_DATA_VALUE {
				out = nad.Bytes()
			}
		}
		return nad.Err()
	})
	return out
}
