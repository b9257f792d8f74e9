package clocksync

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/floppyhammer/electric-maple/pkg/logger"
)

const (
	queryInterval = time.Second
	queryTimeout  = 500 * time.Millisecond
)

// TimeClient polls a TimeServer and feeds offset samples to a Correlator.
type TimeClient struct {
	address string
	cor     *Correlator
	log     *logger.Logger
}

func NewTimeClient(address string, cor *Correlator, log *logger.Logger) *TimeClient {
	return &TimeClient{
		address: address,
		cor:     cor,
		log:     log.Extend(log.With().Str("c", "time")),
	}
}

// Run polls until the context is cancelled. Failed queries are logged and
// retried on the next tick; the correlator keeps its last good estimate.
func (c *TimeClient) Run(ctx context.Context) error {
	conn, err := net.Dial("udp", c.address)
	if err != nil {
		return fmt.Errorf("time service dial %s: %w", c.address, err)
	}
	defer func() { _ = conn.Close() }()

	ticker := time.NewTicker(queryInterval)
	defer ticker.Stop()

	for {
		offset, rtt, err := query(conn)
		if err != nil {
			c.log.Debug().Msgf("time query failed: %v", err)
		} else {
			c.cor.AddNetworkSample(offset, rtt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// query runs one NTP-style exchange: offset = ((t1−t0)+(t2−t3))/2.
func query(conn net.Conn) (offset, rtt time.Duration, err error) {
	var req [requestSize]byte
	t0 := MonotonicNow()
	binary.LittleEndian.PutUint64(req[:], uint64(t0))
	if _, err = conn.Write(req[:]); err != nil {
		return 0, 0, err
	}

	if err = conn.SetReadDeadline(time.Now().Add(queryTimeout)); err != nil {
		return 0, 0, err
	}
	var resp [responseSize]byte
	n, err := conn.Read(resp[:])
	t3 := MonotonicNow()
	if err != nil {
		return 0, 0, err
	}
	if n != responseSize {
		return 0, 0, fmt.Errorf("short time reply: %d bytes", n)
	}
	if echo := int64(binary.LittleEndian.Uint64(resp[:8])); echo != t0 {
		return 0, 0, fmt.Errorf("time reply echoes %d, sent %d", echo, t0)
	}
	t1 := int64(binary.LittleEndian.Uint64(resp[8:16]))
	t2 := int64(binary.LittleEndian.Uint64(resp[16:24]))

	offset = time.Duration(((t1 - t0) + (t2 - t3)) / 2)
	rtt = time.Duration((t3 - t0) - (t2 - t1))
	return offset, rtt, nil
}
