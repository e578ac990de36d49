package expr

import (
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/nftwire/internal/validation"
)

// LogLevel is a syslog level.
type LogLevel uint32

const (
	LogLevelEmerg LogLevel = iota
	LogLevelAlert
	LogLevelCrit
	LogLevelErr
	LogLevelWarning
	LogLevelNotice
	LogLevelInfo
	LogLevelDebug
	LogLevelAudit
)

// LogFlags select extra packet details for the kernel log target.
type LogFlags uint32

const (
	LogFlagTCPSeq    LogFlags = 0x01
	LogFlagTCPOpt    LogFlags = 0x02
	LogFlagIPOpt     LogFlags = 0x04
	LogFlagUID       LogFlags = 0x08
	LogFlagMACDecode LogFlags = 0x20
)

// Log logs matching packets. With Group set the packets go to that nflog
// group; otherwise they go to the kernel log at Level. Snaplen and
// QThreshold apply to nflog only.
type Log struct {
	Group      *uint16
	Prefix     string
	Level      *LogLevel
	Flags      LogFlags
	Snaplen    uint32
	QThreshold uint16
}

func (*Log) Name() string { return "log" }

func (e *Log) encode(ae *netlink.AttributeEncoder) error {
	if e.Group != nil && (e.Level != nil || e.Flags != 0) {
		return invalid("log", "group", "nflog group excludes level and flags")
	}
	if e.Group == nil && (e.Snaplen != 0 || e.QThreshold != 0) {
		return missing("log", "group")
	}
	if e.Level != nil && *e.Level > LogLevelAudit {
		return invalid("log", "level", "unknown level %d", uint32(*e.Level))
	}
	if err := validation.ValidateLogPrefix(e.Prefix); err != nil {
		return invalid("log", "prefix", "%v", err)
	}

	if e.Group != nil {
		ae.Uint16(unix.NFTA_LOG_GROUP, *e.Group)
	}
	if e.Prefix != "" {
		ae.String(unix.NFTA_LOG_PREFIX, e.Prefix)
	}
	if e.Snaplen != 0 {
		ae.Uint32(unix.NFTA_LOG_SNAPLEN, e.Snaplen)
	}
	if e.QThreshold != 0 {
		ae.Uint16(unix.NFTA_LOG_QTHRESHOLD, e.QThreshold)
	}
	if e.Level != nil {
		ae.Uint32(unix.NFTA_LOG_LEVEL, uint32(*e.Level))
	}
	if e.Flags != 0 {
		ae.Uint32(unix.NFTA_LOG_FLAGS, uint32(e.Flags))
	}
	return nil
}

func (e *Log) decode(ad *netlink.AttributeDecoder) error {
	for ad.Next() {
		switch ad.Type() {
		case unix.NFTA_LOG_GROUP:
			g := ad.Uint16()
			e.Group = &g
		case unix.NFTA_LOG_PREFIX:
			e.Prefix = ad.String()
		case unix.NFTA_LOG_SNAPLEN:
			e.Snaplen = ad.Uint32()
		case unix.NFTA_LOG_QTHRESHOLD:
			e.QThreshold = ad.Uint16()
		case unix.NFTA_LOG_LEVEL:
			l := LogLevel(ad.Uint32())
			e.Level = &l
		case unix.NFTA_LOG_FLAGS:
			e.Flags = LogFlags(ad.Uint32())
		}
	}
	return ad.Err()
}
