package bench_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/edon-ai/edon/internal/bench"
	"github.com/edon-ai/edon/internal/model"
)

func TestLatencyEmptyWindow(t *testing.T) {
	c := bench.NewCollector()

	s := c.Latency()
	assert.True(t, s.MeetsTargets)
	assert.Zero(t, s.MedianMS)
	assert.Equal(t, bench.TargetLocalMS, s.TargetLocalMS)
	assert.Equal(t, bench.TargetNetworkMS, s.TargetNetworkMS)
}

func TestLatencyPercentiles(t *testing.T) {
	c := bench.NewCollector()
	for i := 1; i <= 100; i++ {
		c.Record(time.Duration(i) * time.Millisecond)
	}

	s := c.Latency()
	assert.InDelta(t, 50.0, s.MedianMS, 1.0)
	assert.InDelta(t, 95.0, s.P95MS, 1.0)
	assert.InDelta(t, 99.0, s.P99MS, 1.0)
	// p95 of 95ms exceeds the 50ms network target.
	assert.False(t, s.MeetsTargets)
}

func TestLatencyMeetsTargets(t *testing.T) {
	c := bench.NewCollector()
	for i := 0; i < 100; i++ {
		c.Record(5 * time.Millisecond)
	}

	s := c.Latency()
	assert.InDelta(t, 5.0, s.MedianMS, 0.01)
	assert.True(t, s.MeetsTargets)
}

func TestLatencySubMillisecondResolution(t *testing.T) {
	c := bench.NewCollector()
	c.Record(250 * time.Microsecond)

	s := c.Latency()
	assert.InDelta(t, 0.25, s.MedianMS, 0.001)
}

func TestBlockRate(t *testing.T) {
	counts := map[string]int64{
		"ALLOW:APPROVED":        70,
		"BLOCK:SCOPE_VIOLATION": 20,
		"BLOCK:CRITICAL_RISK":   5,
		"ESCALATE:CONFIRM":      5,
	}

	s := bench.BlockRate(counts)
	assert.Equal(t, int64(100), s.TotalDecisions)
	assert.Equal(t, int64(70), s.AllowCount)
	assert.Equal(t, int64(25), s.BlockCount)
	assert.InDelta(t, 25.0, s.BlockPercentage, 0.001)
}

func TestBlockRateEmpty(t *testing.T) {
	s := bench.BlockRate(nil)
	assert.Zero(t, s.TotalDecisions)
	assert.Zero(t, s.BlockPercentage)
}

func TestTrustSpecAssembly(t *testing.T) {
	lat := model.LatencySummary{MedianMS: 3, MeetsTargets: true}
	blk := model.BlockRateSummary{TotalDecisions: 10, BlockCount: 1, BlockPercentage: 10}
	byp := model.BypassScore{Score: 90, Level: "excellent"}

	spec := bench.TrustSpec(lat, blk, byp)
	assert.Equal(t, lat, spec.LatencyOverhead)
	assert.Equal(t, blk, spec.BlockRate)
	assert.Equal(t, byp, spec.BypassResistance)
}
