package expr

import (
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

const lookupFlagInvert = 1 // NFT_LOOKUP_F_INV

// Lookup matches SourceRegister against the members of a set. With IsMap
// the mapped data is loaded into DestRegister; RegVerdict is a valid
// destination there and makes a verdict map jump. Sets created in the same
// batch are referenced by SetID.
type Lookup struct {
	SourceRegister Register
	DestRegister   Register
	IsMap          bool
	SetName        string
	SetID          uint32
	Invert         bool
}

func (*Lookup) Name() string { return "lookup" }

func (e *Lookup) encode(ae *netlink.AttributeEncoder) error {
	if e.SetName == "" {
		return missing("lookup", "set name")
	}
	if err := checkRegister("lookup", "source register", e.SourceRegister); err != nil {
		return err
	}
	if err := checkOptionalRegister("lookup", "dest register", e.DestRegister); err != nil {
		return err
	}
	if !e.IsMap && e.DestRegister != RegVerdict {
		return invalid("lookup", "dest register", "only valid for map lookups")
	}
	if e.IsMap && e.Invert {
		return invalid("lookup", "invert", "map lookups cannot be inverted")
	}

	ae.String(unix.NFTA_LOOKUP_SET, e.SetName)
	if e.SetID != 0 {
		ae.Uint32(unix.NFTA_LOOKUP_SET_ID, e.SetID)
	}
	ae.Uint32(unix.NFTA_LOOKUP_SREG, uint32(e.SourceRegister))
	if e.IsMap {
		ae.Uint32(unix.NFTA_LOOKUP_DREG, uint32(e.DestRegister))
	}
	if e.Invert {
		ae.Uint32(unix.NFTA_LOOKUP_FLAGS, lookupFlagInvert)
	}
	return nil
}

func (e *Lookup) decode(ad *netlink.AttributeDecoder) error {
	for ad.Next() {
		switch ad.Type() {
		case unix.NFTA_LOOKUP_SET:
			e.SetName = ad.String()
		case unix.NFTA_LOOKUP_SET_ID:
			e.SetID = ad.Uint32()
		case unix.NFTA_LOOKUP_SREG:
			e.SourceRegister = Register(ad.Uint32())
		case unix.NFTA_LOOKUP_DREG:
			e.DestRegister = Register(ad.Uint32())
			e.IsMap = true
		case unix.NFTA_LOOKUP_FLAGS:
			e.Invert = ad.Uint32()&lookupFlagInvert != 0
		}
	}
	return ad.Err()
}
