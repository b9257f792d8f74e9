package signaling

import (
	"context"
	"net/http"
	"sync"

	"github.com/floppyhammer/electric-maple/pkg/config"
	"github.com/floppyhammer/electric-maple/pkg/logger"
	"github.com/floppyhammer/electric-maple/pkg/metamux"
	"github.com/floppyhammer/electric-maple/pkg/monitoring"
	"github.com/floppyhammer/electric-maple/pkg/network"
	"github.com/floppyhammer/electric-maple/pkg/network/httpx"
	"github.com/floppyhammer/electric-maple/pkg/network/websocket"
	"github.com/floppyhammer/electric-maple/pkg/protocol"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

// Server accepts client websockets on /ws and negotiates one peer
// connection per client: a sendonly video track tagged with frame metadata
// plus an unordered data channel for tracking and acknowledgements.
// The server is the offerer.
type Server struct {
	conf config.ServerConfig
	log  *logger.Logger
	srv  *httpx.Server

	// OnUpMessage receives every decoded upstream message.
	OnUpMessage func(c *Client, msg *protocol.UpMessage)
	// OnClientConnected fires when a client's media transport is up.
	OnClientConnected func(c *Client)
	// OnClientDisconnected fires once per departed client.
	OnClientDisconnected func(c *Client)
	// OnKeyframeRequest fires when a client asks for a fresh keyframe
	// via RTCP.
	OnKeyframeRequest func(c *Client)

	mu      sync.Mutex
	clients map[network.Uid]*Client
}

// Client is one connected headset from the server's point of view.
type Client struct {
	id     network.Uid
	log    *logger.Logger
	ws     *websocket.WS
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	video  *webrtc.TrackLocalStaticSample
	outbox *metamux.Outbox

	mu      sync.Mutex
	dcOpen  bool
	pending []webrtc.ICECandidateInit
}

func NewServer(conf config.ServerConfig, log *logger.Logger) *Server {
	return &Server{
		conf:    conf,
		log:     log.Extend(log.With().Str("c", "signal")),
		clients: make(map[network.Uid]*Client),
	}
}

// Run binds the control endpoint and starts accepting clients.
func (s *Server) Run() error {
	srv, err := httpx.NewServer(
		s.conf.Server.Address,
		func(*httpx.Server) http.Handler {
			h := http.NewServeMux()
			h.HandleFunc("/ws", s.handleWS)
			return h
		},
		s.log,
	)
	if err != nil {
		return err
	}
	s.srv = srv
	s.log.Info().Msgf("Signaling on ws://%s/ws", srv.Addr)
	srv.Run()
	return nil
}

func (s *Server) Addr() string {
	if s.srv == nil {
		return ""
	}
	return s.srv.Addr
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		s.drop(c)
	}
	if s.srv == nil {
		return nil
	}
	return s.srv.Stop(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.NewServer(w, r, s.log)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	c, err := s.newClient(ws)
	if err != nil {
		s.log.Error().Err(err).Msg("client setup failed")
		ws.Close()
		return
	}
	s.mu.Lock()
	s.clients[c.id] = c
	n := len(s.clients)
	s.mu.Unlock()
	s.log.Info().Msgf("client %v joined, %d online", c.id.Short(), n)

	ws.Listen()
	if err := c.sendOffer(); err != nil {
		s.log.Error().Err(err).Msgf("offer to %v failed", c.id.Short())
		s.drop(c)
	}
}

// newClient builds the per-client peer connection. Each client gets its own
// API factory so its embed interceptor writes from its own outbox.
func (s *Server) newClient(ws *websocket.WS) (*Client, error) {
	c := &Client{
		id:     network.NewUid(),
		ws:     ws,
		outbox: &metamux.Outbox{},
	}
	c.log = s.log.Extend(s.log.With().Str("d", c.id.Short()))

	api, err := NewApiFactory(s.conf.Webrtc, c.log,
		func(_ *webrtc.MediaEngine, i *interceptor.Registry, _ *webrtc.SettingEngine) {
			i.Add(&metamux.EmbedInterceptor{Outbox: c.outbox})
		})
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeer()
	if err != nil {
		return nil, err
	}
	c.pc = pc

	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mimeFor(s.conf.Encoder)}, "video", "em-video")
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	sender, err := pc.AddTrack(video)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	c.video = video
	// Drain RTCP so the interceptor chain keeps running; surface
	// keyframe requests for the encoder layer.
	go func() {
		for {
			pkts, _, err := sender.ReadRTCP()
			if err != nil {
				return
			}
			for _, pkt := range pkts {
				if _, ok := pkt.(*rtcp.PictureLossIndication); ok {
					c.log.Debug().Msg("client requested a keyframe")
					if s.OnKeyframeRequest != nil {
						s.OnKeyframeRequest(c)
					}
				}
			}
		}
	}()

	ordered := false
	dc, err := pc.CreateDataChannel("channel", &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	c.dc = dc
	dc.OnOpen(func() {
		c.mu.Lock()
		c.dcOpen = true
		c.mu.Unlock()
		c.log.Debug().Msg("data channel open")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		up, err := protocol.DecodeUp(msg.Data)
		if err != nil {
			monitoring.MetadataDecodeErrors.Inc()
			c.log.Warn().Err(err).Msg("dropping malformed up message")
			return
		}
		if s.OnUpMessage != nil {
			s.OnUpMessage(c, up)
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		if data, err := encodeCandidate(cand); err == nil {
			ws.Write(data)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.log.Debug().Msgf("peer connection state: %v", state)
		switch state {
		case webrtc.PeerConnectionStateConnected:
			if s.OnClientConnected != nil {
				s.OnClientConnected(c)
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			s.drop(c)
		}
	})

	ws.OnMessage = func(data []byte, err error) {
		if err != nil {
			s.drop(c)
			return
		}
		c.onControlMessage(data)
	}
	return c, nil
}

func (s *Server) drop(c *Client) {
	s.mu.Lock()
	if _, ok := s.clients[c.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, c.id)
	s.mu.Unlock()

	c.close()
	s.log.Info().Msgf("client %v left", c.id.Short())
	if s.OnClientDisconnected != nil {
		s.OnClientDisconnected(c)
	}
}

func mimeFor(enc config.Encoder) string {
	if enc.IsH264() {
		return webrtc.MimeTypeH264
	}
	return webrtc.MimeTypeVP8
}

func (c *Client) Id() network.Uid { return c.id }

// RegisterDown parks msg as the metadata for the next outgoing video frame.
func (c *Client) RegisterDown(msg *protocol.DownMessage) {
	c.outbox.Register(protocol.EncodeDown(msg))
}

// WriteVideoSample pushes one encoded frame onto the client's track.
func (c *Client) WriteVideoSample(sample media.Sample) error {
	return c.video.WriteSample(sample)
}

// Send delivers one payload over the data channel; false when it is not
// open yet or the write fails.
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	open := c.dcOpen
	c.mu.Unlock()
	if !open {
		return false
	}
	return c.dc.Send(data) == nil
}

func (c *Client) sendOffer() error {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err = c.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	data, err := encodeSDP(msgOffer, offer)
	if err != nil {
		return err
	}
	c.ws.Write(data)
	c.log.Debug().Msg("offer sent")
	return nil
}

func (c *Client) onControlMessage(data []byte) {
	m, err := decodeWire(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("dropping control message")
		return
	}
	switch m.Msg {
	case msgAnswer:
		answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: m.SDP}
		if err := c.pc.SetRemoteDescription(answer); err != nil {
			c.log.Error().Err(err).Msg("answer rejected")
			return
		}
		c.mu.Lock()
		pending := c.pending
		c.pending = nil
		c.mu.Unlock()
		for _, cand := range pending {
			if err := c.pc.AddICECandidate(cand); err != nil {
				c.log.Warn().Err(err).Msg("parked candidate rejected")
			}
		}
	case msgCandidate:
		cand := m.candidateInit()
		c.mu.Lock()
		park := c.pc.RemoteDescription() == nil
		if park {
			c.pending = append(c.pending, cand)
		}
		c.mu.Unlock()
		if !park {
			if err := c.pc.AddICECandidate(cand); err != nil {
				c.log.Warn().Err(err).Msg("candidate rejected")
			}
		}
	default:
		c.log.Warn().Msgf("unexpected control message %q in server role", m.Msg)
	}
}

func (c *Client) close() {
	c.mu.Lock()
	c.dcOpen = false
	c.mu.Unlock()
	_ = c.pc.Close()
	c.ws.Close()
}
