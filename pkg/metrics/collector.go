package metrics

import (
	"time"

	"github.com/cuemby/enkf/pkg/types"
)

// StatusSource exposes the last run status of every ensemble member
type StatusSource interface {
	Statuses() []types.MemberStatus
}

// Collector periodically samples member statuses into gauges
type Collector struct {
	source   StatusSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source StatusSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
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

// Collect takes one sample
func (c *Collector) Collect() {
	statuses := c.source.Statuses()
	EnsembleSize.Set(float64(len(statuses)))

	counts := map[types.RunStatus]int{
		types.RunStatusPending:     0,
		types.RunStatusOK:          0,
		types.RunStatusFailure:     0,
		types.RunStatusLoadFailure: 0,
		types.RunStatusInactive:    0,
	}
	for _, s := range statuses {
		counts[s.Status]++
	}
	for status, n := range counts {
		MembersByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
}
