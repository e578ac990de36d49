package logging

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"grimm.is/nftwire/internal/brand"
)

// SyslogConfig holds remote syslog settings.
type SyslogConfig struct {
	Host     string `hcl:"host" yaml:"host" json:"host"`
	Port     int    `hcl:"port,optional" yaml:"port" json:"port,omitempty"`
	Protocol string `hcl:"protocol,optional" yaml:"protocol" json:"protocol,omitempty"` // udp or tcp
	Tag      string `hcl:"tag,optional" yaml:"tag" json:"tag,omitempty"`
	Facility int    `hcl:"facility,optional" yaml:"facility" json:"facility,omitempty"`
}

// DefaultSyslogConfig returns sensible defaults.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Port:     514,
		Protocol: "udp",
		Tag:      brand.LowerName,
		Facility: 1, // LOG_USER
	}
}

func (c *SyslogConfig) applyDefaults() {
	d := DefaultSyslogConfig()
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.Protocol == "" {
		c.Protocol = d.Protocol
	}
	if c.Tag == "" {
		c.Tag = d.Tag
	}
}

// SyslogWriter implements io.Writer and sends each write as one RFC 5424
// message to a remote syslog server. Over TCP messages are framed with an
// octet count (RFC 6587).
type SyslogWriter struct {
	mu       sync.Mutex
	conn     net.Conn
	config   SyslogConfig
	hostname string
}

// NewSyslogWriter connects to the configured server.
func NewSyslogWriter(cfg SyslogConfig) (*SyslogWriter, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("syslog host is required")
	}
	cfg.applyDefaults()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = brand.LowerName
	}

	w := &SyslogWriter{config: cfg, hostname: hostname}
	if err := w.dial(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *SyslogWriter) addr() string {
	return net.JoinHostPort(w.config.Host, strconv.Itoa(w.config.Port))
}

func (w *SyslogWriter) dial() error {
	conn, err := net.DialTimeout(w.config.Protocol, w.addr(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to syslog server %s: %w", w.addr(), err)
	}
	w.conn = conn
	return nil
}

// format renders p as "<PRI>1 TIMESTAMP HOSTNAME APP-NAME PROCID - - MSG".
func (w *SyslogWriter) format(p []byte, now time.Time) string {
	// severity 6 (info); the level is already part of the line
	priority := w.config.Facility*8 + 6
	msg := fmt.Sprintf("<%d>1 %s %s %s %d - - %s",
		priority, now.UTC().Format(time.RFC3339Nano), w.hostname, w.config.Tag, os.Getpid(), bytes.TrimRight(p, "\n"))
	if w.config.Protocol == "tcp" {
		msg = strconv.Itoa(len(msg)) + " " + msg
	}
	return msg
}

// Write implements io.Writer.
func (w *SyslogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		if err := w.dial(); err != nil {
			return 0, err
		}
	}

	if _, err := io.WriteString(w.conn, w.format(p, time.Now())); err != nil {
		w.conn.Close()
		w.conn = nil
		return 0, err
	}
	return len(p), nil
}

// Close closes the syslog connection.
func (w *SyslogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		err := w.conn.Close()
		w.conn = nil
		return err
	}
	return nil
}

// MultiWriter combines multiple io.Writers (e.g., stderr + syslog).
func MultiWriter(writers ...io.Writer) io.Writer {
	return io.MultiWriter(writers...)
}
