package signaling

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v3"
)

// Control-channel wire messages. The envelope is {"msg": <type>, ...} with
// the SDP inline for offer/answer and a nested object for candidates.
const (
	msgOffer     = "offer"
	msgAnswer    = "answer"
	msgCandidate = "candidate"
)

type wireMessage struct {
	Msg       string         `json:"msg"`
	SDP       string         `json:"sdp,omitempty"`
	Candidate *wireCandidate `json:"candidate,omitempty"`
}

type wireCandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
}

func encodeSDP(kind string, sdp webrtc.SessionDescription) ([]byte, error) {
	return json.Marshal(wireMessage{Msg: kind, SDP: sdp.SDP})
}

func encodeCandidate(c *webrtc.ICECandidate) ([]byte, error) {
	init := c.ToJSON()
	return json.Marshal(wireMessage{Msg: msgCandidate, Candidate: &wireCandidate{
		Candidate:     init.Candidate,
		SDPMLineIndex: init.SDPMLineIndex,
		SDPMid:        init.SDPMid,
	}})
}

func decodeWire(data []byte) (*wireMessage, error) {
	var m wireMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("malformed control message: %w", err)
	}
	switch m.Msg {
	case msgOffer, msgAnswer:
		if m.SDP == "" {
			return nil, fmt.Errorf("control message %q without sdp", m.Msg)
		}
	case msgCandidate:
		if m.Candidate == nil {
			return nil, fmt.Errorf("candidate message without candidate body")
		}
	default:
		return nil, fmt.Errorf("unknown control message %q", m.Msg)
	}
	return &m, nil
}

func (m *wireMessage) candidateInit() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     m.Candidate.Candidate,
		SDPMLineIndex: m.Candidate.SDPMLineIndex,
		SDPMid:        m.Candidate.SDPMid,
	}
}
