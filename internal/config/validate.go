package config

import (
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"grimm.is/nftwire/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

var metricNameRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Smallest useful batch: begin and end marker plus one message.
const minBatchLimit = 1024

// Validate checks the config. Defaults must have been applied.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.PageSize <= 0 || c.PageSize&(c.PageSize-1) != 0 {
		add("page_size", "must be a positive power of two, got %d", c.PageSize)
	}
	if c.BatchLimit < minBatchLimit {
		add("batch_limit", "must be at least %d bytes, got %d", minBatchLimit, c.BatchLimit)
	}

	if c.ReceiveTimeout != "" {
		d, err := time.ParseDuration(c.ReceiveTimeout)
		switch {
		case err != nil:
			add("receive_timeout", "%v", err)
		case d < 0:
			add("receive_timeout", "must not be negative")
		}
	}

	if c.Netns != "" {
		if strings.Contains(c.Netns, "/") && !filepath.IsAbs(c.Netns) {
			add("netns", "must be a namespace name or an absolute path: %q", c.Netns)
		}
	}

	if c.Logging != nil {
		if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
			add("logging.level", "%v", err)
		}
		if s := c.Logging.Syslog; s != nil {
			if s.Host == "" {
				add("logging.syslog.host", "required")
			}
			if s.Protocol != "" && s.Protocol != "udp" && s.Protocol != "tcp" {
				add("logging.syslog.protocol", "must be udp or tcp, got %q", s.Protocol)
			}
			if s.Port < 0 || s.Port > 65535 {
				add("logging.syslog.port", "out of range: %d", s.Port)
			}
		}
	}

	if c.Metrics != nil {
		if !metricNameRegex.MatchString(c.Metrics.Namespace) {
			add("metrics.namespace", "invalid metric namespace %q", c.Metrics.Namespace)
		}
		if c.Metrics.Listen != "" {
			if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
				add("metrics.listen", "%v", err)
			}
		}
		if d, err := time.ParseDuration(c.Metrics.Interval); err != nil || d <= 0 {
			add("metrics.interval", "must be a positive duration, got %q", c.Metrics.Interval)
		}
	}

	return errs
}
