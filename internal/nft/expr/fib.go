package expr

import (
	"github.com/mdlayher/netlink"
)

// Attribute numbers from enum nft_fib_attributes.
const (
	nftaFibDreg   = 1
	nftaFibResult = 2
	nftaFibFlags  = 3
)

// FibResult selects what a route lookup returns.
type FibResult uint32

const (
	FibResultOIF      FibResult = 1
	FibResultOIFName  FibResult = 2
	FibResultAddrType FibResult = 3
)

// FibFlags select the lookup keys.
type FibFlags uint32

const (
	FibFlagSaddr   FibFlags = 1 << 0
	FibFlagDaddr   FibFlags = 1 << 1
	FibFlagMark    FibFlags = 1 << 2
	FibFlagIIF     FibFlags = 1 << 3
	FibFlagOIF     FibFlags = 1 << 4
	FibFlagPresent FibFlags = 1 << 5
)

// Fib performs a route lookup on the packet and loads the result into
// Register. Exactly one of FibFlagSaddr and FibFlagDaddr must be set.
type Fib struct {
	Register Register
	Result   FibResult
	Flags    FibFlags
}

func (*Fib) Name() string { return "fib" }

func (e *Fib) encode(ae *netlink.AttributeEncoder) error {
	if err := checkRegister("fib", "register", e.Register); err != nil {
		return err
	}
	if e.Result < FibResultOIF || e.Result > FibResultAddrType {
		return invalid("fib", "result", "unknown result %d", uint32(e.Result))
	}
	addr := e.Flags & (FibFlagSaddr | FibFlagDaddr)
	if addr == 0 || addr == FibFlagSaddr|FibFlagDaddr {
		return invalid("fib", "flags", "exactly one of saddr and daddr is required")
	}
	if e.Flags&FibFlagIIF != 0 && e.Flags&FibFlagOIF != 0 {
		return invalid("fib", "flags", "iif and oif are exclusive")
	}

	ae.Uint32(nftaFibDreg, uint32(e.Register))
	ae.Uint32(nftaFibResult, uint32(e.Result))
	ae.Uint32(nftaFibFlags, uint32(e.Flags))
	return nil
}

func (e *Fib) decode(ad *netlink.AttributeDecoder) error {
	for ad.Next() {
		switch ad.Type() {
		case nftaFibDreg:
			e.Register = Register(ad.Uint32())
		case nftaFibResult:
			e.Result = FibResult(ad.Uint32())
		case nftaFibFlags:
			e.Flags = FibFlags(ad.Uint32())
		}
	}
	return ad.Err()
}
