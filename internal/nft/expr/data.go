package expr

import (
	"net/netip"

	"github.com/google/nftables/binaryutil"
)

// IfName returns compare data for an exact interface name match. The
// trailing NUL stops the kernel from treating name as a prefix.
func IfName(name string) []byte {
	return append([]byte(name), 0)
}

// IfNameLen is the kernel's fixed interface name size (IFNAMSIZ).
const IfNameLen = 16

// IfNameKey returns name padded to IfNameLen, the layout of ifname set keys.
func IfNameKey(name string) []byte {
	b := make([]byte, IfNameLen)
	copy(b, name)
	return b
}

// IfNamePrefix returns compare data matching every interface whose name
// starts with prefix ("eth" matches eth0, eth1, ...).
func IfNamePrefix(prefix string) []byte {
	return []byte(prefix)
}

// IfIndex returns compare data for an interface index, in host byte order.
func IfIndex(i uint32) []byte {
	return binaryutil.NativeEndian.PutUint32(i)
}

// Port returns a transport port in network byte order.
func Port(p uint16) []byte {
	return binaryutil.BigEndian.PutUint16(p)
}

// Mark returns a packet or conntrack mark in host byte order.
func Mark(m uint32) []byte {
	return binaryutil.NativeEndian.PutUint32(m)
}

// Addr returns the raw bytes of an address: 4 for IPv4 (including
// IPv4-mapped IPv6), 16 for IPv6.
func Addr(a netip.Addr) []byte {
	a = a.Unmap()
	return a.AsSlice()
}
