package expr

import (
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// PayloadBase is the header an offset is relative to.
type PayloadBase uint32

const (
	PayloadBaseLL        PayloadBase = unix.NFT_PAYLOAD_LL_HEADER
	PayloadBaseNetwork   PayloadBase = unix.NFT_PAYLOAD_NETWORK_HEADER
	PayloadBaseTransport PayloadBase = unix.NFT_PAYLOAD_TRANSPORT_HEADER
)

// HeaderField locates a protocol header field.
type HeaderField struct {
	Base   PayloadBase
	Offset uint32
	Len    uint32
}

// Well known header fields. Fields from different protocols at the same
// place in the same header (TCP and UDP ports) are equal values.
var (
	EthDaddr     = HeaderField{PayloadBaseLL, 0, 6}
	EthSaddr     = HeaderField{PayloadBaseLL, 6, 6}
	EthType      = HeaderField{PayloadBaseLL, 12, 2}
	IPv4TTL      = HeaderField{PayloadBaseNetwork, 8, 1}
	IPv4Protocol = HeaderField{PayloadBaseNetwork, 9, 1}
	IPv4Saddr    = HeaderField{PayloadBaseNetwork, 12, 4}
	IPv4Daddr    = HeaderField{PayloadBaseNetwork, 16, 4}
	IPv6NextHdr  = HeaderField{PayloadBaseNetwork, 6, 1}
	IPv6HopLimit = HeaderField{PayloadBaseNetwork, 7, 1}
	IPv6Saddr    = HeaderField{PayloadBaseNetwork, 8, 16}
	IPv6Daddr    = HeaderField{PayloadBaseNetwork, 24, 16}
	TCPSport     = HeaderField{PayloadBaseTransport, 0, 2}
	TCPDport     = HeaderField{PayloadBaseTransport, 2, 2}
	UDPSport     = HeaderField{PayloadBaseTransport, 0, 2}
	UDPDport     = HeaderField{PayloadBaseTransport, 2, 2}
	UDPLen       = HeaderField{PayloadBaseTransport, 4, 2}
	ICMPv6Type   = HeaderField{PayloadBaseTransport, 0, 1}
	ICMPv6Code   = HeaderField{PayloadBaseTransport, 1, 1}
	ICMPv6Cksum  = HeaderField{PayloadBaseTransport, 2, 2}
)

var knownFields = []HeaderField{
	EthDaddr, EthSaddr, EthType,
	IPv4TTL, IPv4Protocol, IPv4Saddr, IPv4Daddr,
	IPv6NextHdr, IPv6HopLimit, IPv6Saddr, IPv6Daddr,
	TCPSport, TCPDport, UDPLen,
	ICMPv6Type, ICMPv6Code,
}

func isKnownField(f HeaderField) bool {
	for _, k := range knownFields {
		if k == f {
			return true
		}
	}
	return false
}

// Payload loads a well known header field into Register.
type Payload struct {
	Field    HeaderField
	Register Register
}

func (*Payload) Name() string { return "payload" }

func (e *Payload) encode(ae *netlink.AttributeEncoder) error {
	if e.Field.Len == 0 {
		return missing("payload", "field")
	}
	raw := RawPayload{
		Base:         e.Field.Base,
		Offset:       e.Field.Offset,
		Len:          e.Field.Len,
		DestRegister: e.Register,
	}
	return raw.encode(ae)
}

// RawPayload reads or writes Len bytes at Offset of the Base header. With
// SourceRegister set the expression writes the register into the packet
// and may request a checksum fixup.
type RawPayload struct {
	Base   PayloadBase
	Offset uint32
	Len    uint32

	DestRegister   Register
	SourceRegister Register
	CsumType       uint32
	CsumOffset     uint32
	CsumFlags      uint32
}

func (*RawPayload) Name() string { return "payload" }

func (e *RawPayload) encode(ae *netlink.AttributeEncoder) error {
	if e.Len == 0 {
		return missing("payload", "len")
	}
	if e.Base > PayloadBaseTransport {
		return invalid("payload", "base", "unknown base %d", uint32(e.Base))
	}

	if e.SourceRegister != RegVerdict {
		if e.DestRegister != RegVerdict {
			return invalid("payload", "register", "load and write registers are exclusive")
		}
		if err := checkRegister("payload", "source register", e.SourceRegister); err != nil {
			return err
		}
		ae.Uint32(unix.NFTA_PAYLOAD_SREG, uint32(e.SourceRegister))
	} else {
		if err := checkRegister("payload", "register", e.DestRegister); err != nil {
			return err
		}
		ae.Uint32(unix.NFTA_PAYLOAD_DREG, uint32(e.DestRegister))
	}
	ae.Uint32(unix.NFTA_PAYLOAD_BASE, uint32(e.Base))
	ae.Uint32(unix.NFTA_PAYLOAD_OFFSET, e.Offset)
	ae.Uint32(unix.NFTA_PAYLOAD_LEN, e.Len)

	if e.SourceRegister != RegVerdict && e.CsumType != 0 {
		ae.Uint32(unix.NFTA_PAYLOAD_CSUM_TYPE, e.CsumType)
		ae.Uint32(unix.NFTA_PAYLOAD_CSUM_OFFSET, e.CsumOffset)
		if e.CsumFlags != 0 {
			ae.Uint32(unix.NFTA_PAYLOAD_CSUM_FLAGS, e.CsumFlags)
		}
	}
	return nil
}

func (e *RawPayload) decode(ad *netlink.AttributeDecoder) error {
	for ad.Next() {
		switch ad.Type() {
		case unix.NFTA_PAYLOAD_DREG:
			e.DestRegister = Register(ad.Uint32())
		case unix.NFTA_PAYLOAD_SREG:
			e.SourceRegister = Register(ad.Uint32())
		case unix.NFTA_PAYLOAD_BASE:
			e.Base = PayloadBase(ad.Uint32())
		case unix.NFTA_PAYLOAD_OFFSET:
			e.Offset = ad.Uint32()
		case unix.NFTA_PAYLOAD_LEN:
			e.Len = ad.Uint32()
		case unix.NFTA_PAYLOAD_CSUM_TYPE:
			e.CsumType = ad.Uint32()
		case unix.NFTA_PAYLOAD_CSUM_OFFSET:
			e.CsumOffset = ad.Uint32()
		case unix.NFTA_PAYLOAD_CSUM_FLAGS:
			e.CsumFlags = ad.Uint32()
		}
	}
	return ad.Err()
}

// decodePayload yields a Payload for loads of a known field and a
// RawPayload for everything else.
func decodePayload(ad *netlink.AttributeDecoder) (Any, error) {
	raw := &RawPayload{}
	if err := raw.decode(ad); err != nil {
		return nil, err
	}
	f := HeaderField{Base: raw.Base, Offset: raw.Offset, Len: raw.Len}
	if raw.SourceRegister == RegVerdict && isKnownField(f) {
		return &Payload{Field: f, Register: raw.DestRegister}, nil
	}
	return raw, nil
}
