// Package match builds the expression sequences of common rule matches.
package match

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"grimm.is/nftwire/internal/nft"
	"grimm.is/nftwire/internal/nft/expr"
	"grimm.is/nftwire/internal/validation"
)

// Direction selects the source or destination side of a packet.
type Direction bool

const (
	Source      Direction = true
	Destination Direction = false
)

func addrField(v6 bool, dir Direction) expr.HeaderField {
	switch {
	case v6 && dir == Source:
		return expr.IPv6Saddr
	case v6:
		return expr.IPv6Daddr
	case dir == Source:
		return expr.IPv4Saddr
	}
	return expr.IPv4Daddr
}

// nfproto guards a match on the IP version, which matters in inet, bridge
// and netdev tables that see both.
func nfproto(v6 bool) []expr.Any {
	proto := byte(unix.NFPROTO_IPV4)
	if v6 {
		proto = unix.NFPROTO_IPV6
	}
	return []expr.Any{
		&expr.Meta{Key: expr.MetaNFProto, Register: expr.Reg1},
		&expr.Cmp{Op: expr.CmpEq, Register: expr.Reg1, Data: []byte{proto}},
	}
}

// IP matches a source or destination address or CIDR range.
func IP(cidr string, dir Direction) ([]expr.Any, error) {
	prefix, err := validation.ParseIPOrCIDR(cidr)
	if err != nil {
		return nil, err
	}
	v6 := prefix.Addr().Is6()
	field := addrField(v6, dir)

	exprs := nfproto(v6)
	exprs = append(exprs, &expr.Payload{Field: field, Register: expr.Reg1})
	if !prefix.IsSingleIP() {
		exprs = append(exprs, &expr.Bitwise{
			SourceRegister: expr.Reg1,
			DestRegister:   expr.Reg1,
			Len:            field.Len,
			Mask:           mask(prefix),
			Xor:            make([]byte, field.Len),
		})
	}
	return append(exprs, &expr.Cmp{Op: expr.CmpEq, Register: expr.Reg1, Data: expr.Addr(prefix.Addr())}), nil
}

func mask(p netip.Prefix) []byte {
	m := make([]byte, p.Addr().BitLen()/8)
	for i := 0; i < p.Bits(); i++ {
		m[i/8] |= 0x80 >> (i % 8)
	}
	return m
}

// Set matches addresses or interface names against a named set. The key
// type of s picks the field loaded.
func Set(s *nft.Set, dir Direction, invert bool) ([]expr.Any, error) {
	if s == nil {
		return nil, fmt.Errorf("no set")
	}
	var exprs []expr.Any
	switch s.KeyType.Magic {
	case nft.TypeIPAddr.Magic:
		exprs = nfproto(false)
		exprs = append(exprs, &expr.Payload{Field: addrField(false, dir), Register: expr.Reg1})
	case nft.TypeIP6Addr.Magic:
		exprs = nfproto(true)
		exprs = append(exprs, &expr.Payload{Field: addrField(true, dir), Register: expr.Reg1})
	case nft.TypeInetService.Magic:
		return nil, fmt.Errorf("set %s: port sets need a protocol, use PortSet", s.Name)
	case nft.TypeIFName.Magic:
		key := expr.MetaOIFName
		if dir == Source {
			key = expr.MetaIIFName
		}
		exprs = []expr.Any{&expr.Meta{Key: key, Register: expr.Reg1}}
	default:
		return nil, fmt.Errorf("set %s: unsupported key type %q", s.Name, s.KeyType.Name)
	}
	l := s.Lookup(expr.Reg1)
	l.Invert = invert
	return append(exprs, l), nil
}

// PortSet matches the tcp, udp or sctp port against a set of
// inet_service keys, with the protocol check in front.
func PortSet(proto string, s *nft.Set, dir Direction, invert bool) ([]expr.Any, error) {
	if s == nil {
		return nil, fmt.Errorf("no set")
	}
	if s.KeyType.Magic != nft.TypeInetService.Magic {
		return nil, fmt.Errorf("set %s: key type %q is not a port", s.Name, s.KeyType.Name)
	}
	exprs, err := transport(proto)
	if err != nil {
		return nil, err
	}
	field := expr.TCPDport
	if dir == Source {
		field = expr.TCPSport
	}
	l := s.Lookup(expr.Reg1)
	l.Invert = invert
	return append(exprs, &expr.Payload{Field: field, Register: expr.Reg1}, l), nil
}

// Interface matches the input (Source) or output (Destination) interface
// name. A trailing "*" matches every name with that prefix.
func Interface(name string, dir Direction) ([]expr.Any, error) {
	key := expr.MetaOIFName
	if dir == Source {
		key = expr.MetaIIFName
	}

	data := expr.IfName(name)
	if prefix, ok := strings.CutSuffix(name, "*"); ok {
		if prefix == "" {
			return nil, fmt.Errorf("interface wildcard needs a prefix")
		}
		if err := validation.ValidateInterfaceName(prefix); err != nil {
			return nil, err
		}
		data = expr.IfNamePrefix(prefix)
	} else if err := validation.ValidateInterfaceName(name); err != nil {
		return nil, err
	}

	return []expr.Any{
		&expr.Meta{Key: key, Register: expr.Reg1},
		&expr.Cmp{Op: expr.CmpEq, Register: expr.Reg1, Data: data},
	}, nil
}

// InterfaceIndex matches the input (Source) or output (Destination)
// interface by index. Unlike a name match it stops matching once the
// interface is deleted and recreated.
func InterfaceIndex(index int, dir Direction) ([]expr.Any, error) {
	if index <= 0 {
		return nil, fmt.Errorf("invalid interface index %d", index)
	}
	key := expr.MetaOIF
	if dir == Source {
		key = expr.MetaIIF
	}
	return []expr.Any{
		&expr.Meta{Key: key, Register: expr.Reg1},
		&expr.Cmp{Op: expr.CmpEq, Register: expr.Reg1, Data: expr.IfIndex(uint32(index))},
	}, nil
}

// Protocol matches the transport protocol by name.
func Protocol(proto string) ([]expr.Any, error) {
	n, err := validation.ProtocolNumber(proto)
	if err != nil {
		return nil, err
	}
	return []expr.Any{
		&expr.Meta{Key: expr.MetaL4Proto, Register: expr.Reg1},
		&expr.Cmp{Op: expr.CmpEq, Register: expr.Reg1, Data: []byte{n}},
	}, nil
}

// transport is the meta l4proto guard for protocols that carry ports.
// Their port fields share the tcp offsets.
func transport(proto string) ([]expr.Any, error) {
	switch strings.ToLower(proto) {
	case "tcp", "udp", "sctp":
	default:
		return nil, fmt.Errorf("protocol %s has no ports", proto)
	}
	return Protocol(proto)
}

// Port matches a tcp, udp or sctp port, with the protocol check in front.
func Port(proto string, port int, dir Direction) ([]expr.Any, error) {
	if err := validation.ValidatePortNumber(port); err != nil {
		return nil, err
	}
	exprs, err := transport(proto)
	if err != nil {
		return nil, err
	}
	field := expr.TCPDport
	if dir == Source {
		field = expr.TCPSport
	}
	return append(exprs,
		&expr.Payload{Field: field, Register: expr.Reg1},
		&expr.Cmp{Op: expr.CmpEq, Register: expr.Reg1, Data: expr.Port(uint16(port))},
	), nil
}

// Limit parses a rate such as "10/second" or "100/m". Burst equals the
// rate.
func Limit(s string) (*expr.Limit, error) {
	rateStr, unitStr, ok := strings.Cut(s, "/")
	if !ok {
		return nil, fmt.Errorf("invalid rate limit %q: want <rate>/<unit>", s)
	}
	rate, err := strconv.ParseUint(rateStr, 10, 32)
	if err != nil || rate == 0 {
		return nil, fmt.Errorf("invalid rate limit %q: bad rate", s)
	}

	var unit expr.LimitUnit
	switch strings.ToLower(unitStr) {
	case "second", "sec", "s":
		unit = expr.LimitUnitSecond
	case "minute", "min", "m":
		unit = expr.LimitUnitMinute
	case "hour", "h":
		unit = expr.LimitUnitHour
	case "day", "d":
		unit = expr.LimitUnitDay
	case "week", "w":
		unit = expr.LimitUnitWeek
	default:
		return nil, fmt.Errorf("invalid rate limit %q: unknown unit %q", s, unitStr)
	}

	return &expr.Limit{
		Type:  expr.LimitTypePkts,
		Rate:  rate,
		Unit:  unit,
		Burst: uint32(rate),
	}, nil
}
