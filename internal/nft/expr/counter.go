package expr

import (
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// Counter counts packets and bytes. Non-zero values seed the counter.
type Counter struct {
	Bytes   uint64
	Packets uint64
}

func (*Counter) Name() string { return "counter" }

func (e *Counter) encode(ae *netlink.AttributeEncoder) error {
	if e.Bytes != 0 {
		ae.Uint64(unix.NFTA_COUNTER_BYTES, e.Bytes)
	}
	if e.Packets != 0 {
		ae.Uint64(unix.NFTA_COUNTER_PACKETS, e.Packets)
	}
	return nil
}

func (e *Counter) decode(ad *netlink.AttributeDecoder) error {
	for ad.Next() {
		switch ad.Type() {
		case unix.NFTA_COUNTER_BYTES:
			e.Bytes = ad.Uint64()
		case unix.NFTA_COUNTER_PACKETS:
			e.Packets = ad.Uint64()
		}
	}
	return ad.Err()
}
