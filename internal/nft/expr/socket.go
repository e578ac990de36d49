package expr

import (
	"github.com/mdlayher/netlink"
)

// Attribute numbers from enum nft_socket_attributes.
const (
	nftaSocketKey   = 1
	nftaSocketDreg  = 2
	nftaSocketLevel = 3
)

// SocketKey selects what a Socket expression loads.
type SocketKey uint32

const (
	SocketKeyTransparent SocketKey = 0
	SocketKeyMark        SocketKey = 1
	SocketKeyWildcard    SocketKey = 2
	SocketKeyCgroupv2    SocketKey = 3
)

// Socket loads an attribute of the local socket matching the packet.
// Level is the cgroup v2 ancestor level and only valid with
// SocketKeyCgroupv2.
type Socket struct {
	Key      SocketKey
	Register Register
	Level    uint32
}

func (*Socket) Name() string { return "socket" }

func (e *Socket) encode(ae *netlink.AttributeEncoder) error {
	if err := checkRegister("socket", "register", e.Register); err != nil {
		return err
	}
	if e.Key > SocketKeyCgroupv2 {
		return invalid("socket", "key", "unknown key %d", uint32(e.Key))
	}
	if e.Level != 0 && e.Key != SocketKeyCgroupv2 {
		return invalid("socket", "level", "only valid for cgroupv2")
	}

	ae.Uint32(nftaSocketKey, uint32(e.Key))
	ae.Uint32(nftaSocketDreg, uint32(e.Register))
	if e.Key == SocketKeyCgroupv2 {
		ae.Uint32(nftaSocketLevel, e.Level)
	}
	return nil
}

func (e *Socket) decode(ad *netlink.AttributeDecoder) error {
	for ad.Next() {
		switch ad.Type() {
		case nftaSocketKey:
			e.Key = SocketKey(ad.Uint32())
		case nftaSocketDreg:
			e.Register = Register(ad.Uint32())
		case nftaSocketLevel:
			e.Level = ad.Uint32()
		}
	}
	return ad.Err()
}
