// Package bench aggregates decision latency and verdict counts into the
// trust-spec report. Only aggregates leave this package; no per-request data
// and no agent identifiers.
package bench

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/edon-ai/edon/internal/model"
)

// Latency targets in milliseconds for the decision overhead.
const (
	TargetLocalMS   = 25.0
	TargetNetworkMS = 50.0
)

// maxSamples bounds the in-memory latency window.
const maxSamples = 10000

// Collector records decision latencies in a fixed-size ring.
type Collector struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
	started time.Time
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		samples: make([]float64, maxSamples),
		started: time.Now(),
	}
}

// Record adds one decision latency.
func (c *Collector) Record(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples[c.next] = ms
	c.next++
	if c.next == len(c.samples) {
		c.next = 0
		c.full = true
	}
}

// Uptime reports how long the collector has been running.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.started)
}

// Latency summarizes the recorded window against the targets.
func (c *Collector) Latency() model.LatencySummary {
	c.mu.Lock()
	n := c.next
	if c.full {
		n = len(c.samples)
	}
	window := make([]float64, n)
	copy(window, c.samples[:n])
	c.mu.Unlock()

	summary := model.LatencySummary{
		TargetLocalMS:   TargetLocalMS,
		TargetNetworkMS: TargetNetworkMS,
	}
	if len(window) == 0 {
		summary.MeetsTargets = true
		return summary
	}
	sort.Float64s(window)
	summary.MedianMS = percentile(window, 0.50)
	summary.P95MS = percentile(window, 0.95)
	summary.P99MS = percentile(window, 0.99)
	summary.MeetsTargets = summary.MedianMS <= TargetLocalMS && summary.P95MS <= TargetNetworkMS
	return summary
}

// percentile reads the p-th percentile from sorted samples.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// BlockRate reduces verdict:reason counts into the block-rate summary.
func BlockRate(counts map[string]int64) model.BlockRateSummary {
	var summary model.BlockRateSummary
	for key, n := range counts {
		summary.TotalDecisions += n
		verdict, _, _ := strings.Cut(key, ":")
		switch model.Verdict(verdict) {
		case model.VerdictBlock:
			summary.BlockCount += n
		case model.VerdictAllow:
			summary.AllowCount += n
		}
	}
	if summary.TotalDecisions > 0 {
		summary.BlockPercentage = 100 * float64(summary.BlockCount) / float64(summary.TotalDecisions)
	}
	return summary
}

// TrustSpec assembles the full report.
func TrustSpec(latency model.LatencySummary, blockRate model.BlockRateSummary, bypass model.BypassScore) model.TrustSpec {
	return model.TrustSpec{
		LatencyOverhead:  latency,
		BlockRate:        blockRate,
		BypassResistance: bypass,
	}
}
