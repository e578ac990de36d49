package expr

import (
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// Bitwise computes dreg = (sreg & Mask) ^ Xor over Len bytes.
type Bitwise struct {
	SourceRegister Register
	DestRegister   Register
	Len            uint32
	Mask           []byte
	Xor            []byte
}

func (*Bitwise) Name() string { return "bitwise" }

func (e *Bitwise) encode(ae *netlink.AttributeEncoder) error {
	if err := checkRegister("bitwise", "source register", e.SourceRegister); err != nil {
		return err
	}
	if err := checkRegister("bitwise", "dest register", e.DestRegister); err != nil {
		return err
	}
	if e.Len == 0 {
		return missing("bitwise", "len")
	}
	if len(e.Mask) != int(e.Len) || len(e.Xor) != int(e.Len) {
		return invalid("bitwise", "mask", "mask (%d) and xor (%d) must both be %d bytes", len(e.Mask), len(e.Xor), e.Len)
	}

	ae.Uint32(unix.NFTA_BITWISE_SREG, uint32(e.SourceRegister))
	ae.Uint32(unix.NFTA_BITWISE_DREG, uint32(e.DestRegister))
	ae.Uint32(unix.NFTA_BITWISE_LEN, e.Len)
	encodeData(ae, unix.NFTA_BITWISE_MASK, e.Mask)
	encodeData(ae, unix.NFTA_BITWISE_XOR, e.Xor)
	return nil
}

func (e *Bitwise) decode(ad *netlink.AttributeDecoder) error {
	for ad.Next() {
		switch ad.Type() {
		case unix.NFTA_BITWISE_SREG:
			e.SourceRegister = Register(ad.Uint32())
		case unix.NFTA_BITWISE_DREG:
			e.DestRegister = Register(ad.Uint32())
		case unix.NFTA_BITWISE_LEN:
			e.Len = ad.Uint32()
		case unix.NFTA_BITWISE_MASK:
			e.Mask = decodeData(ad)
		case unix.NFTA_BITWISE_XOR:
			e.Xor = decodeData(ad)
		}
	}
	return ad.Err()
}
