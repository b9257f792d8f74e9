package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/floppyhammer/electric-maple/pkg/logger"
	"github.com/floppyhammer/electric-maple/pkg/network/websocket"
	"github.com/pion/webrtc/v3"
)

// Session is the client side of one connection attempt: it owns the control
// websocket, answers the server's offer and exposes the data channel for
// upstream messages. A Session survives disconnection and can be reused for
// a fresh attempt via Connect.
type Session struct {
	address url.URL
	api     *ApiFactory
	log     *logger.Logger

	// OnEvent is the single dispatch point for all session events.
	// Handlers run on session goroutines and must not block.
	OnEvent func(Event)
	// OnData receives data-channel payloads from the server.
	OnData func([]byte)
	// OnTrack hands over each incoming remote media track.
	OnTrack func(track *webrtc.TrackRemote)

	mu          sync.Mutex
	gen         int
	state       ConnectionState
	reason      DisconnectReason
	torn        bool
	pipeline    bool
	parkedOffer string
	pending     []webrtc.ICECandidateInit
	dcOpen      bool
	ws          *websocket.WS
	pc          *webrtc.PeerConnection
	dc          *webrtc.DataChannel
}

func NewSession(address string, api *ApiFactory, log *logger.Logger) (*Session, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("bad server address %q: %w", address, err)
	}
	return &Session{
		address: *u,
		api:     api,
		log:     log.Extend(log.With().Str("c", "session")),
	}, nil
}

func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Reason() DisconnectReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// SetPipeline marks the media pipeline as provided. Must be called
// synchronously from the PipelineNeeded event handler; connecting fails
// with NoPipelineProvided otherwise.
func (s *Session) SetPipeline() {
	s.mu.Lock()
	s.pipeline = true
	s.mu.Unlock()
}

// Connect starts a fresh attempt. Valid only from Idle or Disconnected.
// It returns once negotiation is underway; progress is reported through
// OnEvent.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle && s.state != Disconnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("connect is not valid from state %v", state)
	}
	s.gen++
	gen := s.gen
	s.reason = ReasonNone
	s.torn = false
	s.pipeline = false
	s.parkedOffer = ""
	s.pending = nil
	s.dcOpen = false
	s.mu.Unlock()
	s.transition(gen, Connecting)

	ws, err := websocket.NewClient(ctx, s.address, s.log)
	if err != nil {
		s.emit(WebsocketFailed{Err: err})
		s.teardown(gen, SignalingFailed)
		return err
	}
	ws.OnMessage = func(data []byte, err error) { s.onControlMessage(gen, data, err) }
	s.mu.Lock()
	if gen != s.gen || s.torn {
		s.mu.Unlock()
		ws.Close()
		return errors.New("connect aborted by disconnect")
	}
	s.ws = ws
	s.mu.Unlock()
	// The server offers as soon as the socket is up, possibly before the
	// peer connection below exists; onOffer parks it until then.
	ws.Listen()
	s.emit(WebsocketConnected{})

	// The application must hand over its pipeline before negotiation:
	// an offer we cannot render is worse than no connection.
	s.emit(PipelineNeeded{})
	s.mu.Lock()
	provided := s.pipeline
	s.mu.Unlock()
	if !provided {
		s.teardown(gen, NoPipelineProvided)
		return errors.New("no media pipeline was provided")
	}

	pc, err := s.api.NewPeer()
	if err != nil {
		s.teardown(gen, SignalingFailed)
		return err
	}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || s.stale(gen) {
			return
		}
		data, err := encodeCandidate(c)
		if err != nil {
			s.log.Error().Err(err).Msg("candidate encode failed")
			return
		}
		ws.Write(data)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if s.stale(gen) {
			return
		}
		s.log.Debug().Msgf("peer connection state: %v", state)
		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.markConnected(gen)
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			s.teardown(gen, TransportError)
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) { s.bindDataChannel(gen, dc) })
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if s.stale(gen) {
			return
		}
		s.log.Debug().Msgf("remote track %s (%s)", track.ID(), track.Codec().MimeType)
		if s.OnTrack != nil {
			s.OnTrack(track)
		}
	})

	// Publish the peer only once its handlers are in place; an offer that
	// raced ahead is parked and replayed below.
	s.mu.Lock()
	if gen != s.gen || s.torn {
		s.mu.Unlock()
		_ = pc.Close()
		return errors.New("connect aborted by disconnect")
	}
	s.pc = pc
	s.mu.Unlock()
	s.transition(gen, Negotiating)

	s.mu.Lock()
	parked := s.parkedOffer
	s.parkedOffer = ""
	s.mu.Unlock()
	if parked != "" {
		s.onOffer(gen, parked)
	}
	return nil
}

// Send delivers one payload over the data channel. It reports false in any
// state but Connected; transient failure during teardown is expected and
// not an error.
func (s *Session) Send(data []byte) bool {
	s.mu.Lock()
	dc := s.dc
	ok := s.state == Connected && dc != nil
	s.mu.Unlock()
	if !ok {
		return false
	}
	return dc.Send(data) == nil
}

// Disconnect tears the session down. Idempotent, callable from any state.
func (s *Session) Disconnect() {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.teardown(gen, UserRequested)
}

func (s *Session) emit(ev Event) {
	if s.OnEvent != nil {
		s.OnEvent(ev)
	}
}

func (s *Session) stale(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen != s.gen || s.torn
}

func (s *Session) transition(gen int, to ConnectionState) {
	s.mu.Lock()
	// A torn attempt only ever settles into Disconnected.
	if gen != s.gen || s.state == to || (s.torn && to != Disconnected) {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = to
	reason := s.reason
	s.mu.Unlock()
	s.log.Info().Msgf("state %v -> %v", from, to)
	s.emit(StatusChanged{From: from, To: to, Reason: reason})
}

// teardown finishes the attempt: drops the pipeline first, then the media
// transport, then the control channel. Safe to call from any goroutine,
// acts once per attempt.
func (s *Session) teardown(gen int, reason DisconnectReason) {
	s.mu.Lock()
	if gen != s.gen || s.torn {
		s.mu.Unlock()
		return
	}
	s.torn = true
	s.reason = reason
	dropPipeline := s.pipeline
	s.pipeline = false
	ws, pc := s.ws, s.pc
	s.ws, s.pc, s.dc = nil, nil, nil
	s.dcOpen = false
	s.mu.Unlock()

	if dropPipeline {
		s.emit(PipelineDropped{})
	}
	if pc != nil {
		_ = pc.Close()
	}
	if ws != nil {
		ws.Close()
	}
	s.transition(gen, Disconnected)
}

func (s *Session) markConnected(gen int) {
	s.mu.Lock()
	to := ConnectedNoData
	if s.dcOpen {
		to = Connected
	}
	s.mu.Unlock()
	s.transition(gen, to)
}

func (s *Session) bindDataChannel(gen int, dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		if s.stale(gen) {
			return
		}
		s.log.Debug().Msgf("data channel %q open", dc.Label())
		s.mu.Lock()
		s.dc = dc
		s.dcOpen = true
		s.mu.Unlock()
		s.emit(ConnectedData{})
		s.transition(gen, Connected)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if s.OnData != nil {
			s.OnData(msg.Data)
		}
	})
	dc.OnClose(func() {
		if s.stale(gen) {
			return
		}
		s.teardown(gen, RemoteClosed)
	})
}

func (s *Session) onControlMessage(gen int, data []byte, err error) {
	if s.stale(gen) {
		return
	}
	if err != nil {
		s.mu.Lock()
		connected := s.state == Connected || s.state == ConnectedNoData
		s.mu.Unlock()
		if connected {
			s.teardown(gen, RemoteClosed)
		} else {
			s.teardown(gen, SignalingFailed)
		}
		return
	}

	m, derr := decodeWire(data)
	if derr != nil {
		s.log.Warn().Err(derr).Msg("dropping control message")
		return
	}
	switch m.Msg {
	case msgOffer:
		s.onOffer(gen, m.SDP)
	case msgCandidate:
		s.addCandidate(m.candidateInit())
	default:
		s.log.Warn().Msgf("unexpected control message %q in client role", m.Msg)
	}
}

func (s *Session) onOffer(gen int, sdp string) {
	s.mu.Lock()
	pc, ws := s.pc, s.ws
	if pc == nil {
		s.parkedOffer = sdp
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	if ws == nil {
		return
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := pc.SetRemoteDescription(offer); err != nil {
		s.log.Error().Err(err).Msg("offer rejected")
		s.teardown(gen, SignalingFailed)
		return
	}
	s.flushCandidates(pc)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		s.teardown(gen, SignalingFailed)
		return
	}
	if err = pc.SetLocalDescription(answer); err != nil {
		s.teardown(gen, SignalingFailed)
		return
	}
	data, err := encodeSDP(msgAnswer, answer)
	if err != nil {
		s.teardown(gen, SignalingFailed)
		return
	}
	ws.Write(data)
	s.log.Debug().Msg("answer sent")
}

// addCandidate applies a remote candidate, or parks it until the remote
// description lands. Candidates arrive in any order relative to the offer.
func (s *Session) addCandidate(c webrtc.ICECandidateInit) {
	s.mu.Lock()
	pc := s.pc
	if pc == nil || pc.RemoteDescription() == nil {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	if err := pc.AddICECandidate(c); err != nil {
		s.log.Warn().Err(err).Msg("candidate rejected")
	}
}

func (s *Session) flushCandidates(pc *webrtc.PeerConnection) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			s.log.Warn().Err(err).Msg("parked candidate rejected")
		}
	}
}
