package metrics

import (
	"context"
	"time"

	"github.com/cuemby/pipewatch/pkg/types"
)

// StateReader is the read side of the store the collector samples
type StateReader interface {
	ListPipelines(ctx context.Context) ([]*types.Pipeline, error)
	ListFailures(ctx context.Context) ([]*types.FailureRecord, error)
	Ping(ctx context.Context) error
}

// Collector samples store-derived gauges and store health on an interval
type Collector struct {
	store    StateReader
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store StateReader, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		store:    store,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.store.Ping(ctx); err != nil {
		UpdateComponent(ComponentStore, false, err.Error())
		return
	}
	UpdateComponent(ComponentStore, true, "")

	c.collectPipelineMetrics(ctx)
	c.collectFailureMetrics(ctx)
}

func (c *Collector) collectPipelineMetrics(ctx context.Context) {
	pipelines, err := c.store.ListPipelines(ctx)
	if err != nil {
		return
	}
	PipelinesStored.Set(float64(len(pipelines)))
}

func (c *Collector) collectFailureMetrics(ctx context.Context) {
	failures, err := c.store.ListFailures(ctx)
	if err != nil {
		return
	}
	FailuresUnresolved.Set(float64(len(failures)))
}
