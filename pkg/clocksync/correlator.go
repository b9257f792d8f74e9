// Package clocksync estimates the offset between a remote peer's monotonic
// clock and the local one, so remote timestamps embedded in frame metadata
// can be compared against local receive times.
package clocksync

import (
	"sync"
	"time"

	"github.com/floppyhammer/electric-maple/pkg/logger"
)

// maxSamples bounds the sliding set of network correlation samples.
const maxSamples = 8

var epoch = time.Now()

// MonotonicNow returns nanoseconds on the local monotonic clock.
// All timestamps handled by this package use this clock.
func MonotonicNow() int64 { return int64(time.Since(epoch)) }

type sample struct {
	offset time.Duration
	rtt    time.Duration
}

// Correlator holds the current remote−local clock offset estimate.
// Network samples from the time service are preferred; a one-shot fallback
// derived from the first frame metadata fills the gap until the first
// network sample lands. Offset readers never block.
type Correlator struct {
	mu sync.Mutex

	samples  []sample
	offset   time.Duration
	network  bool
	fallback bool

	log *logger.Logger
}

func NewCorrelator(log *logger.Logger) *Correlator {
	return &Correlator{log: log.Extend(log.With().Str("c", "clock"))}
}

// Offset returns the current remote−local estimate.
// Zero means no estimate exists yet; callers must treat it as unknown.
func (c *Correlator) Offset() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// RemoteToLocal translates a remote monotonic timestamp (ns) into the local
// monotonic timeline. ok is false while no offset estimate exists.
func (c *Correlator) RemoteToLocal(remote int64) (local int64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.network && !c.fallback {
		return 0, false
	}
	return remote - int64(c.offset), true
}

// AddNetworkSample records one NTP-style exchange result. The estimate
// follows the lowest-round-trip sample in the sliding set, since queueing
// delay only ever inflates the apparent offset error.
func (c *Correlator) AddNetworkSample(offset, rtt time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples = append(c.samples, sample{offset: offset, rtt: rtt})
	if len(c.samples) > maxSamples {
		c.samples = c.samples[1:]
	}
	best := c.samples[0]
	for _, s := range c.samples[1:] {
		if s.rtt < best.rtt {
			best = s
		}
	}
	if !c.network {
		c.log.Info().Msgf("first network clock sample, offset %v rtt %v", best.offset, best.rtt)
	}
	c.network = true
	c.offset = best.offset
}

// SetFallback installs the coarse one-shot estimate taken from the first
// frame metadata: the remote pushed the frame at remote pipeline time
// pushClock, we received it at localReceive, and the remote reported its
// system−pipeline delta as remoteClockOffset. Ignored once any estimate
// (network or earlier fallback) exists.
func (c *Correlator) SetFallback(localReceive, pushClock, remoteClockOffset int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.network || c.fallback {
		return
	}
	c.fallback = true
	c.offset = -time.Duration((localReceive - pushClock) - remoteClockOffset)
	c.log.Info().Msgf("using fallback clock offset %v until time service responds", c.offset)
}
