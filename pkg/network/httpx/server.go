package httpx

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/floppyhammer/electric-maple/pkg/logger"
)

// Server is a thin wrapper around http.Server with
// explicit listener binding and graceful shutdown.
type Server struct {
	http.Server

	listener net.Listener
	log      *logger.Logger
}

func NewServer(address string, handler func(*Server) http.Handler, log *logger.Logger) (*Server, error) {
	server := &Server{
		Server: http.Server{
			Addr:         address,
			IdleTimeout:  120 * time.Second,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		log: log,
	}
	server.Handler = handler(server)

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	server.listener = listener
	server.Addr = listener.Addr().String()

	return server, nil
}

func (s *Server) Run() { go s.run() }

func (s *Server) run() {
	s.log.Debug().Msgf("Starting http server on %s", s.Addr)
	if err := s.Serve(s.listener); err != http.ErrServerClosed {
		s.log.Error().Err(err).Msg("http server fail")
	}
}

func (s *Server) Stop(ctx context.Context) error { return s.Shutdown(ctx) }
