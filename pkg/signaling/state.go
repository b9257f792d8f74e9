// Package signaling drives the control-plane lifecycle of a streaming
// session: websocket control channel, SDP offer/answer exchange, ICE
// candidate trickle and the data channel used for tracking and frame
// acknowledgements.
package signaling

// ConnectionState is the lifecycle of one connection attempt. Transitions
// only move forward until Disconnected; reconnecting starts a fresh attempt
// from Disconnected.
type ConnectionState int

const (
	Idle ConnectionState = iota
	Connecting
	Negotiating
	// ConnectedNoData: media transport is up but the data channel
	// has not opened yet.
	ConnectedNoData
	Connected
	Disconnected
)

func (s ConnectionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Negotiating:
		return "negotiating"
	case ConnectedNoData:
		return "connected-no-data"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

// DisconnectReason qualifies the Disconnected state.
type DisconnectReason int

const (
	ReasonNone DisconnectReason = iota
	// UserRequested: the application called Disconnect.
	UserRequested
	// NoPipelineProvided: the application failed to supply a media
	// pipeline when asked during connect.
	NoPipelineProvided
	// SignalingFailed: the control channel failed before the session
	// reached a connected state.
	SignalingFailed
	// RemoteClosed: the peer closed the control or data channel after
	// the session was connected.
	RemoteClosed
	// TransportError: the media transport failed.
	TransportError
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case UserRequested:
		return "user-requested"
	case NoPipelineProvided:
		return "no-pipeline-provided"
	case SignalingFailed:
		return "signaling-failed"
	case RemoteClosed:
		return "remote-closed"
	case TransportError:
		return "transport-error"
	}
	return "unknown"
}

// Event is delivered through the Session's single OnEvent dispatch point.
// Handlers run on the goroutine that produced the event and must not block.
type Event interface{ isEvent() }

type (
	// WebsocketConnected: the control channel is up.
	WebsocketConnected struct{}
	// WebsocketFailed: the control channel could not be established.
	WebsocketFailed struct{ Err error }
	// PipelineNeeded: the application must provide its media pipeline
	// synchronously from the handler.
	PipelineNeeded struct{}
	// PipelineDropped: the pipeline handed out earlier must be stopped.
	// Emitted exactly once per attempt, before the control channel
	// is released.
	PipelineDropped struct{}
	// ConnectedData: the data channel opened, Send is usable.
	ConnectedData struct{}
	// StatusChanged reports every state transition.
	StatusChanged struct {
		From, To ConnectionState
		Reason   DisconnectReason
	}
)

func (WebsocketConnected) isEvent() {}
func (WebsocketFailed) isEvent()    {}
func (PipelineNeeded) isEvent()     {}
func (PipelineDropped) isEvent()    {}
func (ConnectedData) isEvent()      {}
func (StatusChanged) isEvent()      {}
