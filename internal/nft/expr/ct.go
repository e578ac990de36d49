package expr

import (
	"github.com/google/nftables/binaryutil"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// CtKey selects the conntrack field a Ct expression reads or writes.
type CtKey uint32

const (
	CtState      CtKey = unix.NFT_CT_STATE
	CtDirection  CtKey = unix.NFT_CT_DIRECTION
	CtStatus     CtKey = unix.NFT_CT_STATUS
	CtMark       CtKey = unix.NFT_CT_MARK
	CtSecmark    CtKey = unix.NFT_CT_SECMARK
	CtExpiration CtKey = unix.NFT_CT_EXPIRATION
	CtHelper     CtKey = unix.NFT_CT_HELPER
	CtL3Protocol CtKey = unix.NFT_CT_L3PROTOCOL
	CtProtocol   CtKey = unix.NFT_CT_PROTOCOL
	CtProtoSrc   CtKey = unix.NFT_CT_PROTO_SRC
	CtProtoDst   CtKey = unix.NFT_CT_PROTO_DST
	CtLabels     CtKey = unix.NFT_CT_LABELS
	CtPkts       CtKey = unix.NFT_CT_PKTS
	CtBytes      CtKey = unix.NFT_CT_BYTES
	CtZone       CtKey = unix.NFT_CT_ZONE
)

// Conntrack state bits as loaded by Ct{Key: CtState}.
const (
	CtStateBitInvalid     uint32 = 1
	CtStateBitEstablished uint32 = 2
	CtStateBitRelated     uint32 = 4
	CtStateBitNew         uint32 = 8
	CtStateBitUntracked   uint32 = 64
)

// CtStates returns the host order bitmask for the given state bits, the
// form Bitwise and Cmp expect after a CtState load.
func CtStates(bits ...uint32) []byte {
	var v uint32
	for _, b := range bits {
		v |= b
	}
	return binaryutil.NativeEndian.PutUint32(v)
}

// Ct loads a conntrack field into Register, or writes it with
// SourceRegister set (ct mark set).
type Ct struct {
	Key            CtKey
	Register       Register
	SourceRegister bool
}

func (*Ct) Name() string { return "ct" }

func (e *Ct) encode(ae *netlink.AttributeEncoder) error {
	if err := checkRegister("ct", "register", e.Register); err != nil {
		return err
	}
	if e.SourceRegister {
		ae.Uint32(unix.NFTA_CT_SREG, uint32(e.Register))
	} else {
		ae.Uint32(unix.NFTA_CT_DREG, uint32(e.Register))
	}
	ae.Uint32(unix.NFTA_CT_KEY, uint32(e.Key))
	return nil
}

func (e *Ct) decode(ad *netlink.AttributeDecoder) error {
	for ad.Next() {
		switch ad.Type() {
		case unix.NFTA_CT_DREG:
			e.Register = Register(ad.Uint32())
		case unix.NFTA_CT_SREG:
			e.Register = Register(ad.Uint32())
			e.SourceRegister = true
		case unix.NFTA_CT_KEY:
			e.Key = CtKey(ad.Uint32())
		}
	}
	return ad.Err()
}
