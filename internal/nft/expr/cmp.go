package expr

import (
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// CmpOp is a comparison operator.
type CmpOp uint32

const (
	CmpEq  CmpOp = unix.NFT_CMP_EQ
	CmpNeq CmpOp = unix.NFT_CMP_NEQ
	CmpLt  CmpOp = unix.NFT_CMP_LT
	CmpLte CmpOp = unix.NFT_CMP_LTE
	CmpGt  CmpOp = unix.NFT_CMP_GT
	CmpGte CmpOp = unix.NFT_CMP_GTE
)

func (op CmpOp) String() string {
	switch op {
	case CmpEq:
		return "=="
	case CmpNeq:
		return "!="
	case CmpLt:
		return "<"
	case CmpLte:
		return "<="
	case CmpGt:
		return ">"
	case CmpGte:
		return ">="
	}
	return "?"
}

// Cmp compares Register against Data and breaks out of the rule when the
// comparison is false.
type Cmp struct {
	Op       CmpOp
	Register Register
	Data     []byte
}

func (*Cmp) Name() string { return "cmp" }

func (e *Cmp) encode(ae *netlink.AttributeEncoder) error {
	if err := checkRegister("cmp", "register", e.Register); err != nil {
		return err
	}
	if len(e.Data) == 0 {
		return missing("cmp", "data")
	}
	if e.Op > CmpGte {
		return invalid("cmp", "op", "unknown operator %d", uint32(e.Op))
	}

	ae.Uint32(unix.NFTA_CMP_SREG, uint32(e.Register))
	ae.Uint32(unix.NFTA_CMP_OP, uint32(e.Op))
	encodeData(ae, unix.NFTA_CMP_DATA, e.Data)
	return nil
}

func (e *Cmp) decode(ad *netlink.AttributeDecoder) error {
	for ad.Next() {
		switch ad.Type() {
		case unix.NFTA_CMP_SREG:
			e.Register = Register(ad.Uint32())
		case unix.NFTA_CMP_OP:
			e.Op = CmpOp(ad.Uint32())
		case unix.NFTA_CMP_DATA:
			e.Data = decodeData(ad)
		}
	}
	return ad.Err()
}
