package latency

import (
	"context"
	"sync"
	"time"

	"github.com/floppyhammer/electric-maple/pkg/logger"
	"github.com/floppyhammer/electric-maple/pkg/monitoring"
)

const (
	bitrateWindow = 5 * time.Second
	bitratePeriod = time.Second
)

// Latency thresholds splitting the stream into four bitrate tiers.
// The step function keys on the worst latency seen in the rolling window,
// not the mean: a single bad spike is what overflows client buffers.
var tierThresholds = [3]time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	300 * time.Millisecond,
}

// tierScale maps a tier to its share of the configured full bitrate.
var tierScale = [4]float64{1.0, 0.75, 0.5, 0.25}

type stampedSample struct {
	at      time.Time
	latency time.Duration
}

// BitrateController steps the encoder bitrate down as worst-case latency
// grows. It runs independently of the jitter policy on purpose; the two
// directives are tuned separately.
type BitrateController struct {
	mu      sync.Mutex
	samples []stampedSample

	full  int
	tier  int
	apply func(bps int)
	log   *logger.Logger
}

// NewBitrateController builds a controller around the configured full
// bitrate in bps. apply receives each new bitrate directive.
func NewBitrateController(fullBitrate int, apply func(bps int), log *logger.Logger) *BitrateController {
	return &BitrateController{
		full:  fullBitrate,
		tier:  -1,
		apply: apply,
		log:   log.Extend(log.With().Str("c", "bitrate")),
	}
}

// Observe records one end-to-end latency measurement.
func (c *BitrateController) Observe(latency time.Duration) {
	c.observeAt(latency, time.Now())
}

func (c *BitrateController) observeAt(latency time.Duration, at time.Time) {
	c.mu.Lock()
	c.samples = append(c.samples, stampedSample{at: at, latency: latency})
	c.mu.Unlock()
}

// Run evaluates once per second until the context is cancelled.
func (c *BitrateController) Run(ctx context.Context) error {
	ticker := time.NewTicker(bitratePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Evaluate(time.Now())
		}
	}
}

// Evaluate prunes the rolling window and emits a directive on tier change.
func (c *BitrateController) Evaluate(now time.Time) {
	c.mu.Lock()
	cutoff := now.Add(-bitrateWindow)
	kept := c.samples[:0]
	var worst time.Duration
	hasSamples := false
	for _, s := range c.samples {
		if s.at.Before(cutoff) {
			continue
		}
		kept = append(kept, s)
		hasSamples = true
		if s.latency > worst {
			worst = s.latency
		}
	}
	c.samples = kept
	c.mu.Unlock()

	if !hasSamples {
		return
	}
	tier := tierFor(worst)
	if tier == c.tier {
		return
	}
	bps := int(float64(c.full) * tierScale[tier])
	c.log.Info().Msgf("worst latency %v, bitrate tier %d -> %d (%d bps)", worst, c.tier, tier, bps)
	c.tier = tier
	monitoring.BitrateTier.Set(float64(bps))
	c.apply(bps)
}

func tierFor(worst time.Duration) int {
	for i, threshold := range tierThresholds {
		if worst < threshold {
			return i
		}
	}
	return len(tierThresholds)
}
