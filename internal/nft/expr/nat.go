package expr

import (
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// NATType selects source or destination translation.
type NATType uint32

const (
	NATTypeSNAT NATType = unix.NFT_NAT_SNAT
	NATTypeDNAT NATType = unix.NFT_NAT_DNAT
)

// NATFamily is the address family of the translated addresses.
type NATFamily uint32

const (
	NATFamilyIPv4 NATFamily = unix.NFPROTO_IPV4
	NATFamilyIPv6 NATFamily = unix.NFPROTO_IPV6
)

// NATFlags are the NF_NAT_RANGE_* flags.
type NATFlags uint32

const (
	NATFlagMapIPs           NATFlags = 0x01
	NATFlagProtoSpecified   NATFlags = 0x02
	NATFlagProtoRandom      NATFlags = 0x04
	NATFlagPersistent       NATFlags = 0x08
	NATFlagProtoRandomFully NATFlags = 0x10
)

// Nat rewrites addresses and/or ports using values previously loaded into
// registers. At least one of RegAddrMin and RegProtoMin must be set.
type Nat struct {
	Type        NATType
	Family      NATFamily
	RegAddrMin  Register
	RegAddrMax  Register
	RegProtoMin Register
	RegProtoMax Register
	Flags       NATFlags
}

func (*Nat) Name() string { return "nat" }

func (e *Nat) encode(ae *netlink.AttributeEncoder) error {
	if e.Type != NATTypeSNAT && e.Type != NATTypeDNAT {
		return invalid("nat", "type", "unknown type %d", uint32(e.Type))
	}
	if e.Family != NATFamilyIPv4 && e.Family != NATFamilyIPv6 {
		return invalid("nat", "family", "must be ipv4 or ipv6")
	}
	if e.RegAddrMin == RegVerdict && e.RegProtoMin == RegVerdict {
		return missing("nat", "address or port register")
	}
	if e.RegAddrMax != RegVerdict && e.RegAddrMin == RegVerdict {
		return missing("nat", "addr min register")
	}
	if e.RegProtoMax != RegVerdict && e.RegProtoMin == RegVerdict {
		return missing("nat", "proto min register")
	}
	for _, r := range []struct {
		field string
		reg   Register
	}{
		{"addr min register", e.RegAddrMin},
		{"addr max register", e.RegAddrMax},
		{"proto min register", e.RegProtoMin},
		{"proto max register", e.RegProtoMax},
	} {
		if err := checkOptionalRegister("nat", r.field, r.reg); err != nil {
			return err
		}
	}

	ae.Uint32(unix.NFTA_NAT_TYPE, uint32(e.Type))
	ae.Uint32(unix.NFTA_NAT_FAMILY, uint32(e.Family))
	if e.RegAddrMin != RegVerdict {
		ae.Uint32(unix.NFTA_NAT_REG_ADDR_MIN, uint32(e.RegAddrMin))
	}
	if e.RegAddrMax != RegVerdict {
		ae.Uint32(unix.NFTA_NAT_REG_ADDR_MAX, uint32(e.RegAddrMax))
	}
	if e.RegProtoMin != RegVerdict {
		ae.Uint32(unix.NFTA_NAT_REG_PROTO_MIN, uint32(e.RegProtoMin))
	}
	if e.RegProtoMax != RegVerdict {
		ae.Uint32(unix.NFTA_NAT_REG_PROTO_MAX, uint32(e.RegProtoMax))
	}
	if e.Flags != 0 {
		ae.Uint32(unix.NFTA_NAT_FLAGS, uint32(e.Flags))
	}
	return nil
}

func (e *Nat) decode(ad *netlink.AttributeDecoder) error {
	for ad.Next() {
		switch ad.Type() {
		case unix.NFTA_NAT_TYPE:
			e.Type = NATType(ad.Uint32())
		case unix.NFTA_NAT_FAMILY:
			e.Family = NATFamily(ad.Uint32())
		case unix.NFTA_NAT_REG_ADDR_MIN:
			e.RegAddrMin = Register(ad.Uint32())
		case unix.NFTA_NAT_REG_ADDR_MAX:
			e.RegAddrMax = Register(ad.Uint32())
		case unix.NFTA_NAT_REG_PROTO_MIN:
			e.RegProtoMin = Register(ad.Uint32())
		case unix.NFTA_NAT_REG_PROTO_MAX:
			e.RegProtoMax = Register(ad.Uint32())
		case unix.NFTA_NAT_FLAGS:
			e.Flags = NATFlags(ad.Uint32())
		}
	}
	return ad.Err()
}

// Masquerade source-translates to the address of the output interface.
type Masquerade struct {
	Flags       NATFlags
	RegProtoMin Register
	RegProtoMax Register
}

func (*Masquerade) Name() string { return "masq" }

func (e *Masquerade) encode(ae *netlink.AttributeEncoder) error {
	if e.RegProtoMax != RegVerdict && e.RegProtoMin == RegVerdict {
		return missing("masq", "proto min register")
	}
	if err := checkOptionalRegister("masq", "proto min register", e.RegProtoMin); err != nil {
		return err
	}
	if err := checkOptionalRegister("masq", "proto max register", e.RegProtoMax); err != nil {
		return err
	}

	if e.Flags != 0 {
		ae.Uint32(unix.NFTA_MASQ_FLAGS, uint32(e.Flags))
	}
	if e.RegProtoMin != RegVerdict {
		ae.Uint32(unix.NFTA_MASQ_REG_PROTO_MIN, uint32(e.RegProtoMin))
	}
	if e.RegProtoMax != RegVerdict {
		ae.Uint32(unix.NFTA_MASQ_REG_PROTO_MAX, uint32(e.RegProtoMax))
	}
	return nil
}

func (e *Masquerade) decode(ad *netlink.AttributeDecoder) error {
	for ad.Next() {
		switch ad.Type() {
		case unix.NFTA_MASQ_FLAGS:
			e.Flags = NATFlags(ad.Uint32())
		case unix.NFTA_MASQ_REG_PROTO_MIN:
			e.RegProtoMin = Register(ad.Uint32())
		case unix.NFTA_MASQ_REG_PROTO_MAX:
			e.RegProtoMax = Register(ad.Uint32())
		}
	}
	return ad.Err()
}
