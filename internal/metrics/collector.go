package metrics

import (
	"context"
	"sync"
	"time"

	"grimm.is/nftwire/internal/logging"
)

// TableInventory is the content of one table at collection time.
type TableInventory struct {
	Family string
	Name   string
	// Rules per chain name.
	Chains map[string]int
	// Elements per set name.
	Sets map[string]int
}

// Source produces an inventory of the ruleset, typically by dumping it
// over netlink.
type Source func(ctx context.Context) ([]TableInventory, error)

// Collector periodically takes an inventory and updates the ruleset gauges.
type Collector struct {
	registry *Registry
	source   Source
	logger   *logging.Logger
	interval time.Duration
	timeout  time.Duration

	mu         sync.RWMutex
	lastUpdate time.Time
	last       []TableInventory
}

// NewCollector creates a new metrics collector.
func NewCollector(reg *Registry, src Source, logger *logging.Logger, interval time.Duration) *Collector {
	if logger == nil {
		logger = logging.WithComponent("metrics")
	}
	return &Collector{
		registry: reg,
		source:   src,
		logger:   logger,
		interval: interval,
		timeout:  10 * time.Second,
	}
}

// Start collects once, then on every interval until ctx is done.
func (c *Collector) Start(ctx context.Context) {
	c.logger.Info("Starting metrics collector", "interval", c.interval.String())

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.Collect(ctx); err != nil {
			c.logger.Warn("Failed to collect ruleset inventory", "error", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			c.logger.Info("Stopping metrics collector")
			return
		}
	}
}

// Collect takes one inventory and replaces the gauge values with it.
func (c *Collector) Collect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	inv, err := c.source(ctx)
	if err != nil {
		c.registry.ScrapeErrors.Inc()
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Reset so deleted objects disappear.
	c.registry.Tables.Reset()
	c.registry.Chains.Reset()
	c.registry.Rules.Reset()
	c.registry.SetElements.Reset()

	for _, t := range inv {
		c.registry.Tables.WithLabelValues(t.Family).Inc()
		c.registry.Chains.WithLabelValues(t.Family, t.Name).Set(float64(len(t.Chains)))
		for chain, n := range t.Chains {
			c.registry.Rules.WithLabelValues(t.Family, t.Name, chain).Set(float64(n))
		}
		for set, n := range t.Sets {
			c.registry.SetElements.WithLabelValues(t.Family, t.Name, set).Set(float64(n))
		}
	}

	c.lastUpdate = time.Now()
	c.last = inv
	c.registry.LastScrape.Set(float64(c.lastUpdate.Unix()))
	return nil
}

// GetLastUpdate returns the time of the last successful collection.
func (c *Collector) GetLastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// GetInventory returns the last collected inventory.
func (c *Collector) GetInventory() []TableInventory {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}
