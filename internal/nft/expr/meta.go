package expr

import (
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// MetaKey selects the packet metadata a Meta expression reads or writes.
type MetaKey uint32

const (
	MetaLen        MetaKey = unix.NFT_META_LEN
	MetaProtocol   MetaKey = unix.NFT_META_PROTOCOL
	MetaPriority   MetaKey = unix.NFT_META_PRIORITY
	MetaMark       MetaKey = unix.NFT_META_MARK
	MetaIIF        MetaKey = unix.NFT_META_IIF
	MetaOIF        MetaKey = unix.NFT_META_OIF
	MetaIIFName    MetaKey = unix.NFT_META_IIFNAME
	MetaOIFName    MetaKey = unix.NFT_META_OIFNAME
	MetaIIFType    MetaKey = unix.NFT_META_IIFTYPE
	MetaOIFType    MetaKey = unix.NFT_META_OIFTYPE
	MetaSKUID      MetaKey = unix.NFT_META_SKUID
	MetaSKGID      MetaKey = unix.NFT_META_SKGID
	MetaNFTrace    MetaKey = unix.NFT_META_NFTRACE
	MetaRTClassID  MetaKey = unix.NFT_META_RTCLASSID
	MetaSecmark    MetaKey = unix.NFT_META_SECMARK
	MetaNFProto    MetaKey = unix.NFT_META_NFPROTO
	MetaL4Proto    MetaKey = unix.NFT_META_L4PROTO
	MetaBRIIIFName MetaKey = unix.NFT_META_BRI_IIFNAME
	MetaBRIOIFName MetaKey = unix.NFT_META_BRI_OIFNAME
	MetaPktType    MetaKey = unix.NFT_META_PKTTYPE
	MetaCPU        MetaKey = unix.NFT_META_CPU
	MetaIIFGroup   MetaKey = unix.NFT_META_IIFGROUP
	MetaOIFGroup   MetaKey = unix.NFT_META_OIFGROUP
	MetaCgroup     MetaKey = unix.NFT_META_CGROUP
	MetaPRandom    MetaKey = unix.NFT_META_PRANDOM
)

// Meta loads packet metadata into Register, or with SourceRegister set,
// writes Register into the metadata field (e.g. meta mark set).
type Meta struct {
	Key            MetaKey
	Register       Register
	SourceRegister bool
}

func (*Meta) Name() string { return "meta" }

func (e *Meta) encode(ae *netlink.AttributeEncoder) error {
	if err := checkRegister("meta", "register", e.Register); err != nil {
		return err
	}
	if e.SourceRegister {
		ae.Uint32(unix.NFTA_META_SREG, uint32(e.Register))
	} else {
		ae.Uint32(unix.NFTA_META_DREG, uint32(e.Register))
	}
	ae.Uint32(unix.NFTA_META_KEY, uint32(e.Key))
	return nil
}

func (e *Meta) decode(ad *netlink.AttributeDecoder) error {
	for ad.Next() {
		switch ad.Type() {
		case unix.NFTA_META_DREG:
			e.Register = Register(ad.Uint32())
		case unix.NFTA_META_SREG:
			e.Register = Register(ad.Uint32())
			e.SourceRegister = true
		case unix.NFTA_META_KEY:
			e.Key = MetaKey(ad.Uint32())
		}
	}
	return ad.Err()
}
