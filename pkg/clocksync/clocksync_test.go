package clocksync

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/floppyhammer/electric-maple/pkg/logger"
)

func TestCorrelatorUnknownUntilSampled(t *testing.T) {
	c := NewCorrelator(logger.Default())
	if got := c.Offset(); got != 0 {
		t.Fatalf("offset before any sample = %v, want 0", got)
	}
	if _, ok := c.RemoteToLocal(123); ok {
		t.Fatal("RemoteToLocal reported ok with no estimate")
	}
}

func TestCorrelatorPrefersLowestRTT(t *testing.T) {
	c := NewCorrelator(logger.Default())
	c.AddNetworkSample(100*time.Millisecond, 30*time.Millisecond)
	c.AddNetworkSample(50*time.Millisecond, 5*time.Millisecond)
	c.AddNetworkSample(200*time.Millisecond, 80*time.Millisecond)
	if got := c.Offset(); got != 50*time.Millisecond {
		t.Fatalf("offset = %v, want 50ms from the lowest-rtt sample", got)
	}
	local, ok := c.RemoteToLocal(int64(time.Second))
	if !ok {
		t.Fatal("RemoteToLocal not ok after samples")
	}
	if want := int64(950 * time.Millisecond); local != want {
		t.Fatalf("RemoteToLocal = %d, want %d", local, want)
	}
}

func TestCorrelatorSampleWindowSlides(t *testing.T) {
	c := NewCorrelator(logger.Default())
	// An old minimum must age out once maxSamples newer ones arrive.
	c.AddNetworkSample(time.Millisecond, time.Millisecond)
	for i := 0; i < maxSamples; i++ {
		c.AddNetworkSample(70*time.Millisecond, 20*time.Millisecond)
	}
	if got := c.Offset(); got != 70*time.Millisecond {
		t.Fatalf("offset = %v, want 70ms after old sample aged out", got)
	}
}

func TestCorrelatorFallbackIsOneShot(t *testing.T) {
	c := NewCorrelator(logger.Default())
	c.SetFallback(1000, 400, 100)
	first := c.Offset()
	if first == 0 {
		t.Fatal("fallback did not set an offset")
	}
	if want := -time.Duration((1000 - 400) - 100); first != want {
		t.Fatalf("fallback offset = %v, want %v", first, want)
	}
	c.SetFallback(9000, 1, 1)
	if got := c.Offset(); got != first {
		t.Fatalf("second fallback changed offset from %v to %v", first, got)
	}
	// A network sample always overrides the fallback.
	c.AddNetworkSample(33*time.Millisecond, time.Millisecond)
	if got := c.Offset(); got != 33*time.Millisecond {
		t.Fatalf("network sample did not override fallback, offset = %v", got)
	}
	c.SetFallback(5, 5, 5)
	if got := c.Offset(); got != 33*time.Millisecond {
		t.Fatalf("fallback overrode network estimate, offset = %v", got)
	}
}

func TestTimeServiceExchange(t *testing.T) {
	log := logger.Default()
	server, err := NewTimeServer(0, log)
	if err != nil {
		t.Fatalf("time server: %v", err)
	}
	defer server.Close()
	server.Run()

	port := server.Addr().(*net.UDPAddr).Port
	conn, err := net.Dial("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	offset, rtt, err := query(conn)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	// Same host, same monotonic clock: the offset must be tiny and the
	// round trip positive.
	if offset < -100*time.Millisecond || offset > 100*time.Millisecond {
		t.Fatalf("loopback offset = %v, want near zero", offset)
	}
	if rtt < 0 || rtt > time.Second {
		t.Fatalf("loopback rtt = %v", rtt)
	}

	server.Close()
	select {
	case <-server.Done:
	case <-time.After(time.Second):
		t.Fatal("server did not stop after Close")
	}
}
