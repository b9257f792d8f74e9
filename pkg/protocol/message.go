// Package protocol defines the Up/Down metadata messages exchanged between
// the rendering server and the XR client, and their binary wire codec.
//
// Down messages travel server->client, one per rendered frame, and carry the
// poses the frame was rendered with plus the server-side timing of the frame.
// Up messages travel client->server and carry either a live tracking snapshot
// or the timing acknowledgement of a displayed frame.
package protocol

type Quaternion struct {
	X, Y, Z, W float32
}

type Vector3 struct {
	X, Y, Z float32
}

// Pose is an orientation/position pair. Both parts are independently
// optional; callers must check the Has flags before use.
type Pose struct {
	HasOrientation bool
	Orientation    Quaternion
	HasPosition    bool
	Position       Vector3
}

// HandJointCount is the full OpenXR hand joint set.
const HandJointCount = 26

type HandJoint struct {
	Valid  bool
	Radius float32
	Pose   Pose
}

// Controller is one tracked motion controller.
type Controller struct {
	Active    bool
	GripValid bool
	Grip      Pose
	AimValid  bool
	Aim       Pose
	GripValue float32
}

// Tracking is the live client tracking state: HMD pose, controllers and
// optional fully-articulated hands.
type Tracking struct {
	HasHMD bool
	HMD    Pose

	Left  Controller
	Right Controller

	HasLeftHand  bool
	LeftHand     [HandJointCount]HandJoint
	HasRightHand bool
	RightHand    [HandJointCount]HandJoint
}

// FrameAck reports the client-side timing of one displayed frame.
// All times are client monotonic nanoseconds.
type FrameAck struct {
	FrameSequenceID    int64
	DecodeCompleteTime int64
	BeginFrameTime     int64
	DisplayTime        int64
	// AverageLatency is the client-measured mean end-to-end latency in ns.
	AverageLatency int64
}

// UpMessage is a tagged union: exactly one of Tracking or FrameAck is set.
// MessageID is assigned by the sender at send time, strictly increasing,
// never reused.
type UpMessage struct {
	MessageID int64
	Tracking  *Tracking
	FrameAck  *FrameAck
}

// DownMessage describes one rendered frame. Immutable once constructed.
// Times are server monotonic nanoseconds; PushClockTime is the server
// pipeline-clock sample taken when the frame was pushed to the encoder.
type DownMessage struct {
	FrameSequenceID int64

	// Views holds the two eye poses the frame was rendered with.
	Views [2]Pose

	RenderBeginTime int64
	FramePushTime   int64
	PushClockTime   int64

	// ServerClockOffset is the server system-clock minus pipeline-clock
	// delta at push time, used by the client's fallback clock estimate.
	ServerClockOffset int64
}
