package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/nftwire/internal/i18n"
	"grimm.is/nftwire/internal/metrics"
	"grimm.is/nftwire/internal/nft"
)

// DefaultListen is used when neither -listen nor the config sets one.
const DefaultListen = "127.0.0.1:9469"

// inventory is what the status page reads from.
type inventory interface {
	GetInventory() []metrics.TableInventory
	GetLastUpdate() time.Time
}

// RunServe exposes commit and ruleset metrics over HTTP until SIGINT or
// SIGTERM.
func RunServe(o *Options, listen string) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	preg := prometheus.NewRegistry()
	reg := metrics.NewRegistry(preg, cfg.Metrics.Namespace)

	s, err := openSession(o, nft.WithRecorder(reg))
	if err != nil {
		return err
	}
	defer s.Close()

	if listen == "" {
		listen = s.cfg.Metrics.Listen
	}
	if listen == "" {
		listen = DefaultListen
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector(reg, metrics.ConnSource(s.conn), s.logger.WithComponent("metrics"), s.cfg.ScrapeInterval())
	go collector.Start(ctx)

	srv := &http.Server{
		Addr:              listen,
		Handler:           serveMux(preg, collector),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Starting metrics server", "listen", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down metrics server")
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

func serveMux(g prometheus.Gatherer, inv inventory) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.Handle("/", i18n.Middleware(statusHandler(inv)))
	return mux
}

// statusHandler renders the last inventory as plain text in the
// language the client asked for.
func statusHandler(inv inventory) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		p := i18n.GetPrinter(r.Context())
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		last := inv.GetLastUpdate()
		if last.IsZero() {
			w.WriteHeader(http.StatusServiceUnavailable)
			p.Fprintln(w, "no inventory collected yet")
			return
		}

		var chains, rules, sets int
		tables := inv.GetInventory()
		for _, t := range tables {
			n := 0
			for _, c := range t.Chains {
				n += c
			}
			p.Fprintf(w, i18n.MsgTableLine+"\n", t.Family, t.Name, len(t.Chains), n, len(t.Sets))
			chains += len(t.Chains)
			rules += n
			sets += len(t.Sets)
		}
		p.Fprintf(w, i18n.MsgTables+"\n", len(tables), chains, rules, sets)
		p.Fprintf(w, "updated %s\n", last.UTC().Format(time.RFC3339))
	})
}
