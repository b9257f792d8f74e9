package clocksync

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/floppyhammer/electric-maple/pkg/logger"
)

// Wire format of the time service, all little-endian int64 nanoseconds:
// request is the client send time t0; the reply echoes t0 and appends the
// server receive time t1 and server send time t2.
const (
	requestSize  = 8
	responseSize = 24
)

// TimeServer answers clock correlation queries over UDP.
type TimeServer struct {
	conn *net.UDPConn
	log  *logger.Logger
	once sync.Once
	Done chan struct{}
}

func NewTimeServer(port int, log *logger.Logger) (*TimeServer, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	s := &TimeServer{
		conn: conn,
		log:  log.Extend(log.With().Str("c", "time")),
		Done: make(chan struct{}),
	}
	return s, nil
}

func (s *TimeServer) Addr() net.Addr { return s.conn.LocalAddr() }

func (s *TimeServer) Run() {
	s.log.Info().Msgf("Time service listening on %v", s.Addr())
	go s.serve()
}

func (s *TimeServer) serve() {
	defer close(s.Done)
	buf := make([]byte, requestSize)
	for {
		n, peer, err := s.conn.ReadFromUDP(buf)
		t1 := MonotonicNow()
		if err != nil {
			s.log.Debug().Msgf("time service reader stopped: %v", err)
			return
		}
		if n != requestSize {
			s.log.Warn().Msgf("time query of %d bytes from %v dropped", n, peer)
			continue
		}
		var resp [responseSize]byte
		copy(resp[:8], buf[:8])
		binary.LittleEndian.PutUint64(resp[8:], uint64(t1))
		binary.LittleEndian.PutUint64(resp[16:], uint64(MonotonicNow()))
		if _, err := s.conn.WriteToUDP(resp[:], peer); err != nil {
			s.log.Warn().Err(err).Msgf("time reply to %v failed", peer)
		}
	}
}

func (s *TimeServer) Close() {
	s.once.Do(func() { _ = s.conn.Close() })
}
