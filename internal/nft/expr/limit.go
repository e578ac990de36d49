package expr

import (
	"fmt"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// LimitType selects whether Rate counts packets or bytes.
type LimitType uint32

const (
	LimitTypePkts     LimitType = unix.NFT_LIMIT_PKTS
	LimitTypePktBytes LimitType = unix.NFT_LIMIT_PKT_BYTES
)

// LimitUnit is the period Rate is measured over, in seconds.
type LimitUnit uint64

const (
	LimitUnitSecond LimitUnit = 1
	LimitUnitMinute LimitUnit = 60
	LimitUnitHour   LimitUnit = 60 * 60
	LimitUnitDay    LimitUnit = 60 * 60 * 24
	LimitUnitWeek   LimitUnit = 60 * 60 * 24 * 7
)

func (u LimitUnit) String() string {
	switch u {
	case LimitUnitSecond:
		return "second"
	case LimitUnitMinute:
		return "minute"
	case LimitUnitHour:
		return "hour"
	case LimitUnitDay:
		return "day"
	case LimitUnitWeek:
		return "week"
	}
	return fmt.Sprintf("%ds", uint64(u))
}

const limitFlagInvert = 1 // NFT_LIMIT_F_INV

// Limit matches while traffic stays under Rate per Unit. Over inverts
// the match.
type Limit struct {
	Type  LimitType
	Rate  uint64
	Unit  LimitUnit
	Burst uint32
	Over  bool
}

func (*Limit) Name() string { return "limit" }

func (e *Limit) encode(ae *netlink.AttributeEncoder) error {
	if e.Rate == 0 {
		return missing("limit", "rate")
	}
	if e.Unit == 0 {
		return missing("limit", "unit")
	}
	if e.Type != LimitTypePkts && e.Type != LimitTypePktBytes {
		return invalid("limit", "type", "unknown type %d", uint32(e.Type))
	}

	ae.Uint64(unix.NFTA_LIMIT_RATE, e.Rate)
	ae.Uint64(unix.NFTA_LIMIT_UNIT, uint64(e.Unit))
	ae.Uint32(unix.NFTA_LIMIT_BURST, e.Burst)
	ae.Uint32(unix.NFTA_LIMIT_TYPE, uint32(e.Type))
	if e.Over {
		ae.Uint32(unix.NFTA_LIMIT_FLAGS, limitFlagInvert)
	}
	return nil
}

func (e *Limit) decode(ad *netlink.AttributeDecoder) error {
	for ad.Next() {
		switch ad.Type() {
		case unix.NFTA_LIMIT_RATE:
			e.Rate = ad.Uint64()
		case unix.NFTA_LIMIT_UNIT:
			e.Unit = LimitUnit(ad.Uint64())
		case unix.NFTA_LIMIT_BURST:
			e.Burst = ad.Uint32()
		case unix.NFTA_LIMIT_TYPE:
			e.Type = LimitType(ad.Uint32())
		case unix.NFTA_LIMIT_FLAGS:
			e.Over = ad.Uint32()&limitFlagInvert != 0
		}
	}
	return ad.Err()
}
