package expr

import (
	"fmt"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// VerdictKind is a verdict code as the kernel stores it.
type VerdictKind int32

const (
	VerdictDrop     VerdictKind = 0
	VerdictAccept   VerdictKind = 1
	VerdictQueue    VerdictKind = 3
	VerdictContinue VerdictKind = unix.NFT_CONTINUE
	VerdictBreak    VerdictKind = unix.NFT_BREAK
	VerdictJump     VerdictKind = unix.NFT_JUMP
	VerdictGoto     VerdictKind = unix.NFT_GOTO
	VerdictReturn   VerdictKind = unix.NFT_RETURN
)

func (k VerdictKind) String() string {
	switch k {
	case VerdictDrop:
		return "drop"
	case VerdictAccept:
		return "accept"
	case VerdictQueue:
		return "queue"
	case VerdictContinue:
		return "continue"
	case VerdictBreak:
		return "break"
	case VerdictJump:
		return "jump"
	case VerdictGoto:
		return "goto"
	case VerdictReturn:
		return "return"
	}
	return fmt.Sprintf("verdict(%d)", int32(k))
}

// Immediate loads constant Data into Register.
type Immediate struct {
	Register Register
	Data     []byte
}

func (*Immediate) Name() string { return "immediate" }

func (e *Immediate) encode(ae *netlink.AttributeEncoder) error {
	if err := checkRegister("immediate", "register", e.Register); err != nil {
		return err
	}
	if len(e.Data) == 0 {
		return missing("immediate", "data")
	}
	ae.Uint32(unix.NFTA_IMMEDIATE_DREG, uint32(e.Register))
	encodeData(ae, unix.NFTA_IMMEDIATE_DATA, e.Data)
	return nil
}

// Verdict ends rule evaluation. Jump and Goto need a target Chain.
type Verdict struct {
	Kind  VerdictKind
	Chain string
}

func (*Verdict) Name() string { return "immediate" }

func (e *Verdict) validate() error {
	switch e.Kind {
	case VerdictJump, VerdictGoto:
		if e.Chain == "" {
			return missing("verdict", "chain")
		}
	case VerdictDrop, VerdictAccept, VerdictQueue, VerdictContinue, VerdictBreak, VerdictReturn:
		if e.Chain != "" {
			return invalid("verdict", "chain", "only jump and goto take a chain")
		}
	default:
		return invalid("verdict", "kind", "unknown verdict %d", int32(e.Kind))
	}
	return nil
}

func (e *Verdict) encode(ae *netlink.AttributeEncoder) error {
	if err := e.validate(); err != nil {
		return err
	}
	ae.Uint32(unix.NFTA_IMMEDIATE_DREG, uint32(RegVerdict))
	ae.Nested(unix.NFTA_IMMEDIATE_DATA, func(nae *netlink.AttributeEncoder) error {
		return EncodeVerdictData(nae, e)
	})
	return nil
}

// EncodeVerdictData writes v as an NFTA_DATA_VERDICT nest. Set elements of
// verdict maps carry their data in this form.
func EncodeVerdictData(ae *netlink.AttributeEncoder, v *Verdict) error {
	if err := v.validate(); err != nil {
		return err
	}
	ae.Nested(unix.NFTA_DATA_VERDICT, func(nae *netlink.AttributeEncoder) error {
		nae.Uint32(unix.NFTA_VERDICT_CODE, uint32(v.Kind))
		if v.Chain != "" {
			nae.String(unix.NFTA_VERDICT_CHAIN, v.Chain)
		}
		return nil
	})
	return nil
}

// DecodeData reads the attributes of an NFTA_*_DATA nest. Exactly one of
// the results is set: a plain value or a verdict.
func DecodeData(ad *netlink.AttributeDecoder) ([]byte, *Verdict, error) {
	var (
		value []byte
		v     *Verdict
	)
	for ad.Next() {
		switch ad.Type() {
		case unix.NFTA_DATA_VALUE:
			value = ad.Bytes()
		case unix.NFTA_DATA_VERDICT:
			v = &Verdict{}
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				for nad.Next() {
					switch nad.Type() {
					case unix.NFTA_VERDICT_CODE:
						v.Kind = VerdictKind(int32(nad.Uint32()))
					case unix.NFTA_VERDICT_CHAIN:
						v.Chain = nad.String()
					}
				}
				return nad.Err()
			})
		}
	}
	return value, v, ad.Err()
}

// decodeImmediate yields a Verdict for loads into the verdict register and
// an Immediate otherwise.
func decodeImmediate(ad *netlink.AttributeDecoder) (Any, error) {
	var (
		reg     Register
		value   []byte
		verdict *Verdict
	)
	for ad.Next() {
		switch ad.Type() {
		case unix.NFTA_IMMEDIATE_DREG:
			reg = Register(ad.Uint32())
		case unix.NFTA_IMMEDIATE_DATA:
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				var err error
				value, verdict, err = DecodeData(nad)
				return err
			})
		}
	}
	if err := ad.Err(); err != nil {
		return nil, err
	}

	if reg == RegVerdict {
		if verdict == nil {
			return nil, fmt.Errorf("verdict register load without verdict data")
		}
		return verdict, nil
	}
	return &Immediate{Register: reg, Data: value}, nil
}
