package latency

import (
	"testing"
	"time"

	"github.com/floppyhammer/electric-maple/pkg/config"
	"github.com/floppyhammer/electric-maple/pkg/logger"
)

func newJitter(t *testing.T, w *Window) (*JitterController, *[]time.Duration) {
	t.Helper()
	var emitted []time.Duration
	c := NewJitterController(w, config.Latency{
		EvaluationPeriod: 3 * time.Second,
		DecayStepMs:      10,
	}, func(d time.Duration) { emitted = append(emitted, d) }, logger.Default())
	return c, &emitted
}

func TestJitterGrowsImmediately(t *testing.T) {
	var w Window
	c, emitted := newJitter(t, &w)

	w.Add(50 * time.Millisecond)
	w.Add(150 * time.Millisecond) // mean 100ms, target 150ms
	c.Evaluate()

	if c.Current() != 150*time.Millisecond {
		t.Fatalf("buffer = %v, want 150ms", c.Current())
	}
	if len(*emitted) != 1 || (*emitted)[0] != 150*time.Millisecond {
		t.Fatalf("directives = %v", *emitted)
	}
}

func TestJitterDecaysGradually(t *testing.T) {
	var w Window
	c, _ := newJitter(t, &w)

	w.Add(133340 * time.Microsecond) // target ~200ms
	c.Evaluate()
	if got := c.Current(); got != 200*time.Millisecond {
		t.Fatalf("initial buffer = %v, want 200ms", got)
	}

	// Mean drops to 50ms: the 75ms target is far below, but the buffer
	// only shrinks by the decay step.
	w.Add(50 * time.Millisecond)
	c.Evaluate()
	if got := c.Current(); got != 190*time.Millisecond {
		t.Fatalf("buffer after improvement = %v, want 190ms", got)
	}

	// Repeated good periods keep walking it down.
	w.Add(50 * time.Millisecond)
	c.Evaluate()
	if got := c.Current(); got != 180*time.Millisecond {
		t.Fatalf("buffer = %v, want 180ms", got)
	}
}

func TestJitterEmptyWindowHoldsDirective(t *testing.T) {
	var w Window
	c, emitted := newJitter(t, &w)

	w.Add(100 * time.Millisecond)
	c.Evaluate()
	before := c.Current()

	c.Evaluate() // nothing arrived this period
	if c.Current() != before {
		t.Fatalf("directive moved to %v on an empty window", c.Current())
	}
	if len(*emitted) != 1 {
		t.Fatalf("directives = %v, want exactly one", *emitted)
	}
}

func TestWindowDrainClears(t *testing.T) {
	var w Window
	w.Add(time.Millisecond)
	w.Add(3 * time.Millisecond)
	if got := Mean(w.Drain()); got != 2*time.Millisecond {
		t.Fatalf("mean = %v, want 2ms", got)
	}
	if got := w.Drain(); len(got) != 0 {
		t.Fatalf("window kept %d samples after drain", len(got))
	}
	if Mean(nil) != 0 {
		t.Fatal("mean of empty set not zero")
	}
}

func TestBitrateTiers(t *testing.T) {
	tests := []struct {
		worst time.Duration
		tier  int
	}{
		{10 * time.Millisecond, 0},
		{99 * time.Millisecond, 0},
		{100 * time.Millisecond, 1},
		{199 * time.Millisecond, 1},
		{200 * time.Millisecond, 2},
		{299 * time.Millisecond, 2},
		{300 * time.Millisecond, 3},
		{time.Second, 3},
	}
	for _, test := range tests {
		if got := tierFor(test.worst); got != test.tier {
			t.Errorf("tierFor(%v) = %d, want %d", test.worst, got, test.tier)
		}
	}
}

func TestBitrateStepsOnWorstCase(t *testing.T) {
	var emitted []int
	c := NewBitrateController(8_000_000, func(bps int) { emitted = append(emitted, bps) }, logger.Default())

	now := time.Now()
	c.observeAt(50*time.Millisecond, now)
	c.Evaluate(now)
	if len(emitted) != 1 || emitted[0] != 8_000_000 {
		t.Fatalf("directives = %v, want full bitrate", emitted)
	}

	// One spike drags the whole window down a tier.
	c.observeAt(250*time.Millisecond, now.Add(time.Second))
	c.observeAt(40*time.Millisecond, now.Add(time.Second))
	c.Evaluate(now.Add(time.Second))
	if len(emitted) != 2 || emitted[1] != 4_000_000 {
		t.Fatalf("directives = %v, want half bitrate after spike", emitted)
	}

	// Same tier next tick: no duplicate directive.
	c.Evaluate(now.Add(2 * time.Second))
	if len(emitted) != 2 {
		t.Fatalf("directives = %v, duplicate emitted", emitted)
	}

	// Once the spike ages past the rolling window the tier recovers.
	c.observeAt(30*time.Millisecond, now.Add(7*time.Second))
	c.Evaluate(now.Add(7 * time.Second))
	if len(emitted) != 3 || emitted[2] != 8_000_000 {
		t.Fatalf("directives = %v, want recovery to full bitrate", emitted)
	}
}

func TestBitrateEmptyWindowHolds(t *testing.T) {
	var emitted []int
	c := NewBitrateController(1_000_000, func(bps int) { emitted = append(emitted, bps) }, logger.Default())
	c.Evaluate(time.Now())
	if len(emitted) != 0 {
		t.Fatalf("directives = %v with no samples", emitted)
	}
}
