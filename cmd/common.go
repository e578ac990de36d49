// Package cmd implements the nftwire subcommands.
package cmd

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"grimm.is/nftwire/internal/brand"
	"grimm.is/nftwire/internal/config"
	"grimm.is/nftwire/internal/i18n"
	"grimm.is/nftwire/internal/logging"
	"grimm.is/nftwire/internal/nft"
)

// Printer localizes CLI output.
var Printer = i18n.NewCLIPrinter()

// Options are the flags every subcommand accepts.
type Options struct {
	ConfigFile string
	Netns      string
	Family     string
}

// Register adds the common flags to fs.
func (o *Options) Register(fs *flag.FlagSet) {
	fs.StringVar(&o.ConfigFile, "config", "", "Configuration file (default "+brand.GetConfigPath()+")")
	fs.StringVar(&o.Netns, "netns", "", "Network namespace name or path (overrides the config file)")
	fs.StringVar(&o.Family, "family", "inet", "Address family: inet, ip, ip6, arp, bridge, netdev")
}

func (o *Options) family() (nft.Family, error) {
	return nft.ParseFamily(o.Family)
}

func (o *Options) loadConfig() (*config.Config, error) {
	if o.ConfigFile != "" {
		return config.LoadFile(o.ConfigFile)
	}
	return config.Load()
}

// session is a loaded config, a configured logger and an open connection.
type session struct {
	cfg    *config.Config
	netns  string
	logger *logging.Logger
	conn   *nft.Conn
	syslog *logging.SyslogWriter
}

func openSession(o *Options, extra ...nft.Option) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	lc, sw, err := cfg.LoggerConfig()
	if err != nil {
		return nil, err
	}
	logger := logging.New(lc)
	logging.SetDefault(logger)

	ns := cfg.Netns
	if o.Netns != "" {
		ns = o.Netns
	}
	tr, err := dial(ns)
	if err != nil {
		if sw != nil {
			_ = sw.Close()
		}
		return nil, err
	}

	opts := []nft.Option{
		nft.WithLogger(logger.WithComponent("nft")),
		nft.WithBatchLimit(cfg.BatchLimit),
		nft.WithBatchMarkerAcks(cfg.AckMarkers),
		nft.WithTimeout(cfg.Timeout()),
	}
	opts = append(opts, extra...)

	return &session{
		cfg:    cfg,
		netns:  ns,
		logger: logger,
		conn:   nft.New(tr, opts...),
		syslog: sw,
	}, nil
}

func (s *session) Close() error {
	err := s.conn.Close()
	if s.syslog != nil {
		err = errors.Join(err, s.syslog.Close())
	}
	return err
}

// explain expands a commit error of batch b into one line per rejection.
func explain(err error, b *nft.Batch) error {
	var ce *nft.CommitError
	if !errors.As(err, &ce) {
		return err
	}
	var sb strings.Builder
	sb.WriteString(Printer.Sprintf(i18n.MsgRejected, len(ce.Rejections), b.Len()))
	for _, r := range ce.Rejections {
		fmt.Fprintf(&sb, "\n  %v", r)
	}
	return errors.New(sb.String())
}

// Fail prints err and exits.
func Fail(err error) {
	Printer.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
