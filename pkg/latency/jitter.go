package latency

import (
	"context"
	"math"
	"time"

	"github.com/floppyhammer/electric-maple/pkg/config"
	"github.com/floppyhammer/electric-maple/pkg/logger"
	"github.com/floppyhammer/electric-maple/pkg/monitoring"
)

// JitterController turns the mean latency of each evaluation window into a
// jitter buffer depth directive. The response is asymmetric: the target
// jumps up the moment conditions worsen, but only decays by a fixed step
// per period when they improve.
type JitterController struct {
	window *Window
	conf   config.Latency
	apply  func(time.Duration)
	log    *logger.Logger

	current time.Duration
}

// NewJitterController builds a controller that calls apply with every new
// buffer depth directive. apply runs on the controller goroutine and must
// not block.
func NewJitterController(window *Window, conf config.Latency, apply func(time.Duration), log *logger.Logger) *JitterController {
	return &JitterController{
		window: window,
		conf:   conf,
		apply:  apply,
		log:    log.Extend(log.With().Str("c", "jitter")),
	}
}

// Run evaluates once per period until the context is cancelled.
func (c *JitterController) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.conf.EvaluationPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Evaluate()
		}
	}
}

// Evaluate drains the window and recomputes the buffer depth.
// An empty window (no frames this period) leaves the directive unchanged.
func (c *JitterController) Evaluate() {
	samples := c.window.Drain()
	if len(samples) == 0 {
		return
	}
	mean := Mean(samples)
	monitoring.FrameLatency.Set(float64(mean) / float64(time.Millisecond))

	target := time.Duration(math.Round(float64(mean)*1.5/float64(time.Millisecond))) * time.Millisecond
	decayed := c.current - time.Duration(c.conf.DecayStepMs)*time.Millisecond
	next := target
	if decayed > next {
		next = decayed
	}
	if next < 0 {
		next = 0
	}
	if next == c.current {
		return
	}
	c.log.Debug().Msgf("mean latency %v over %d frames, jitter buffer %v -> %v",
		mean, len(samples), c.current, next)
	c.current = next
	monitoring.JitterTarget.Set(float64(next) / float64(time.Millisecond))
	c.apply(next)
}

// Current returns the last emitted directive.
func (c *JitterController) Current() time.Duration { return c.current }
