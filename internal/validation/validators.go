package validation

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"
)

// Kernel limits from include/uapi/linux/netfilter/nf_tables.h and if.h.
const (
	// MaxObjectNameLen is NFT_NAME_MAXLEN minus the terminating NUL.
	MaxObjectNameLen = 255
	// MaxInterfaceNameLen is IFNAMSIZ minus the terminating NUL.
	MaxInterfaceNameLen = 15
	// MaxLogPrefixLen is NF_LOG_PREFIXLEN minus the terminating NUL.
	MaxLogPrefixLen = 127
)

var (
	// Valid interface name: alphanumeric, dash, underscore, dot (for VLANs), max 15 chars
	interfaceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,15}$`)

	// Set names as used by the set manager; anonymous sets (__set%d) also match.
	setNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateObjectName validates a table, chain, set or flowtable name. The
// kernel accepts any bytes except NUL, up to NFT_NAME_MAXLEN.
func ValidateObjectName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name cannot be empty", kind)
	}
	if len(name) > MaxObjectNameLen {
		return fmt.Errorf("%s name too long (max %d bytes): %d", kind, MaxObjectNameLen, len(name))
	}
	if strings.IndexByte(name, 0) >= 0 {
		return fmt.Errorf("%s name contains a NUL byte", kind)
	}
	return nil
}

// ValidateSetName validates a set name for the set manager, which is
// stricter than the kernel.
func ValidateSetName(name string) error {
	if err := ValidateObjectName("set", name); err != nil {
		return err
	}
	if !setNameRegex.MatchString(name) {
		return fmt.Errorf("invalid set name: %s (must be alphanumeric with -_)", name)
	}
	return nil
}

// ValidateInterfaceName validates a network interface name
func ValidateInterfaceName(name string) error {
	if name == "" {
		return fmt.Errorf("interface name cannot be empty")
	}

	if len(name) > MaxInterfaceNameLen {
		return fmt.Errorf("interface name too long (max %d characters): %s", MaxInterfaceNameLen, name)
	}

	if !interfaceNameRegex.MatchString(name) {
		return fmt.Errorf("invalid interface name: %s (must be alphanumeric with -_.)", name)
	}

	return nil
}

// ValidateLogPrefix validates a log expression prefix.
func ValidateLogPrefix(prefix string) error {
	if len(prefix) > MaxLogPrefixLen {
		return fmt.Errorf("log prefix too long (max %d bytes)", MaxLogPrefixLen)
	}
	if strings.IndexByte(prefix, 0) >= 0 {
		return fmt.Errorf("log prefix contains a NUL byte")
	}
	return nil
}

// ParseIPOrCIDR parses an address or CIDR range into a prefix. A bare
// address becomes a full-length prefix.
func ParseIPOrCIDR(s string) (netip.Prefix, error) {
	if s == "" {
		return netip.Prefix{}, fmt.Errorf("IP/CIDR cannot be empty")
	}

	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid CIDR: %w", err)
		}
		return p.Masked(), nil
	}

	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid IP address: %s", s)
	}
	a = a.Unmap()
	return netip.PrefixFrom(a, a.BitLen()), nil
}

// ValidatePortNumber validates a port number
func ValidatePortNumber(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be 1-65535)", port)
	}
	return nil
}

// ProtocolNumber maps a transport protocol name to its IP protocol number.
func ProtocolNumber(proto string) (uint8, error) {
	switch strings.ToLower(proto) {
	case "icmp":
		return 1, nil
	case "tcp":
		return 6, nil
	case "udp":
		return 17, nil
	case "gre":
		return 47, nil
	case "esp":
		return 50, nil
	case "ah":
		return 51, nil
	case "icmpv6":
		return 58, nil
	case "sctp":
		return 132, nil
	}
	return 0, fmt.Errorf("invalid protocol: %s (must be one of: icmp, tcp, udp, gre, esp, ah, icmpv6, sctp)", proto)
}
