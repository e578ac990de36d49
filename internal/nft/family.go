package nft

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// Family is an nf_tables address family (NFPROTO_*).
type Family uint8

const (
	FamilyUnspec Family = unix.NFPROTO_UNSPEC
	FamilyINet   Family = unix.NFPROTO_INET
	FamilyIPv4   Family = unix.NFPROTO_IPV4
	FamilyARP    Family = unix.NFPROTO_ARP
	FamilyNetdev Family = unix.NFPROTO_NETDEV
	FamilyBridge Family = unix.NFPROTO_BRIDGE
	FamilyIPv6   Family = unix.NFPROTO_IPV6
)

var familyNames = map[Family]string{
	FamilyUnspec: "unspec",
	FamilyINet:   "inet",
	FamilyIPv4:   "ip",
	FamilyARP:    "arp",
	FamilyNetdev: "netdev",
	FamilyBridge: "bridge",
	FamilyIPv6:   "ip6",
}

// String returns the nft(8) keyword for the family.
func (f Family) String() string {
	if s, ok := familyNames[f]; ok {
		return s
	}
	return fmt.Sprintf("family(%d)", uint8(f))
}

// ParseFamily accepts the nft(8) family keywords.
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(s) {
	case "inet":
		return FamilyINet, nil
	case "ip", "ipv4":
		return FamilyIPv4, nil
	case "ip6", "ipv6":
		return FamilyIPv6, nil
	case "arp":
		return FamilyARP, nil
	case "bridge":
		return FamilyBridge, nil
	case "netdev":
		return FamilyNetdev, nil
	case "", "all", "unspec":
		return FamilyUnspec, nil
	}
	return FamilyUnspec, fmt.Errorf("unknown family %q", s)
}

// tableFamily reports whether f can own a table.
func (f Family) tableFamily() bool {
	return f != FamilyUnspec && familyNames[f] != ""
}
