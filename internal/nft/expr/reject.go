package expr

import (
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// RejectType selects how a rejected packet is answered.
type RejectType uint32

const (
	RejectICMPUnreach  RejectType = unix.NFT_REJECT_ICMP_UNREACH
	RejectTCPReset     RejectType = unix.NFT_REJECT_TCP_RST
	RejectICMPXUnreach RejectType = unix.NFT_REJECT_ICMPX_UNREACH
)

// Family independent ICMPX codes for RejectICMPXUnreach.
const (
	ICMPXNoRoute         uint8 = 0
	ICMPXPortUnreach     uint8 = 1
	ICMPXHostUnreach     uint8 = 2
	ICMPXAdminProhibited uint8 = 3
)

// Reject drops the packet and answers with an ICMP error or a TCP reset.
// Code is the ICMP (or ICMPX) code and is ignored for TCP resets.
type Reject struct {
	Type RejectType
	Code uint8
}

func (*Reject) Name() string { return "reject" }

func (e *Reject) encode(ae *netlink.AttributeEncoder) error {
	if e.Type > RejectICMPXUnreach {
		return invalid("reject", "type", "unknown type %d", uint32(e.Type))
	}
	if e.Type == RejectICMPXUnreach && e.Code > ICMPXAdminProhibited {
		return invalid("reject", "code", "unknown icmpx code %d", e.Code)
	}
	ae.Uint32(unix.NFTA_REJECT_TYPE, uint32(e.Type))
	ae.Uint8(unix.NFTA_REJECT_ICMP_CODE, e.Code)
	return nil
}

func (e *Reject) decode(ad *netlink.AttributeDecoder) error {
	for ad.Next() {
		switch ad.Type() {
		case unix.NFTA_REJECT_TYPE:
			e.Type = RejectType(ad.Uint32())
		case unix.NFTA_REJECT_ICMP_CODE:
			e.Code = ad.Uint8()
		}
	}
	return ad.Err()
}
