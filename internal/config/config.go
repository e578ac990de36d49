// Package config loads nftwire settings from an HCL, YAML or JSON file.
package config

import (
	"fmt"
	"os"
	"time"

	"grimm.is/nftwire/internal/logging"
)

// DefaultBatchPages is the default batch size limit in pages.
const DefaultBatchPages = 32

// Config holds the connection, logging and metrics settings.
type Config struct {
	// PageSize is the unit batch limits are expressed in. Zero means the
	// system page size.
	PageSize int `hcl:"page_size,optional" yaml:"page_size" json:"page_size,omitempty"`
	// BatchLimit caps the size of a batch in bytes. Zero means
	// DefaultBatchPages pages.
	BatchLimit int `hcl:"batch_limit,optional" yaml:"batch_limit" json:"batch_limit,omitempty"`
	// AckMarkers requests acks for batch begin and end markers. Needs
	// kernel 6.10 or later.
	AckMarkers bool `hcl:"ack_markers,optional" yaml:"ack_markers" json:"ack_markers,omitempty"`
	// Netns is a named network namespace, or an absolute path to one.
	Netns string `hcl:"netns,optional" yaml:"netns" json:"netns,omitempty"`
	// ReceiveTimeout bounds every commit and dump, e.g. "5s".
	ReceiveTimeout string `hcl:"receive_timeout,optional" yaml:"receive_timeout" json:"receive_timeout,omitempty"`

	Logging *LoggingConfig `hcl:"logging,block" yaml:"logging" json:"logging,omitempty"`
	Metrics *MetricsConfig `hcl:"metrics,block" yaml:"metrics" json:"metrics,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string                `hcl:"level,optional" yaml:"level" json:"level,omitempty"`
	JSON   bool                  `hcl:"json,optional" yaml:"json" json:"json,omitempty"`
	Syslog *logging.SyslogConfig `hcl:"syslog,block" yaml:"syslog" json:"syslog,omitempty"`
}

// MetricsConfig configures the prometheus collectors.
type MetricsConfig struct {
	Namespace string `hcl:"namespace,optional" yaml:"namespace" json:"namespace,omitempty"`
	// Listen is the address "nftwire serve" exposes /metrics on.
	Listen string `hcl:"listen,optional" yaml:"listen" json:"listen,omitempty"`
	// Interval between ruleset inventory scrapes, e.g. "30s".
	Interval string `hcl:"interval,optional" yaml:"interval" json:"interval,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.PageSize == 0 {
		c.PageSize = os.Getpagesize()
	}
	if c.BatchLimit == 0 {
		c.BatchLimit = c.PageSize * DefaultBatchPages
	}
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{}
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "nftwire"
	}
	if c.Metrics.Interval == "" {
		c.Metrics.Interval = "30s"
	}
}

// Timeout returns ReceiveTimeout as a duration; zero if unset.
func (c *Config) Timeout() time.Duration {
	if c.ReceiveTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.ReceiveTimeout)
	if err != nil {
		return 0
	}
	return d
}

// ScrapeInterval returns Metrics.Interval as a duration.
func (c *Config) ScrapeInterval() time.Duration {
	if c.Metrics == nil {
		return 0
	}
	d, _ := time.ParseDuration(c.Metrics.Interval)
	return d
}

// LoggerConfig translates the logging block into a logging.Config. The
// caller owns the syslog writer, if one is returned.
func (c *Config) LoggerConfig() (logging.Config, *logging.SyslogWriter, error) {
	lc := logging.DefaultConfig()
	if c.Logging == nil {
		return lc, nil, nil
	}
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return lc, nil, err
	}
	lc.Level = level
	lc.JSON = c.Logging.JSON

	if c.Logging.Syslog == nil {
		return lc, nil, nil
	}
	w, err := logging.NewSyslogWriter(*c.Logging.Syslog)
	if err != nil {
		return lc, nil, fmt.Errorf("syslog: %w", err)
	}
	lc.Output = logging.MultiWriter(lc.Output, w)
	return lc, w, nil
}
