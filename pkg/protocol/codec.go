package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Wire format: version byte, kind byte, then fixed little-endian fields.
// Optional parts are guarded by presence flag bytes so absent poses cost
// a single byte on the wire.
const (
	Version byte = 1

	kindDown byte = 0x01
	kindUp   byte = 0x02

	upTracking byte = 0x01
	upFrameAck byte = 0x02
)

const (
	posSize        = 1 + 16 + 12 // flags + quaternion + vector
	jointSize      = 1 + 4 + posSize
	handSize       = HandJointCount * jointSize
	controllerSize = 1 + 4 + 2*posSize

	// MaxDownMessageSize bounds an encoded DownMessage.
	MaxDownMessageSize = 2 + 5*8 + 2*posSize
	// MaxUpMessageSize bounds an encoded UpMessage.
	MaxUpMessageSize = 2 + 8 + 1 + 1 + posSize + 2*controllerSize + 2*handSize
)

// DecodeError reports a malformed payload. Receivers drop the message and
// keep the stream alive.
type DecodeError struct {
	What   string
	Offset int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: bad %s at offset %d", e.What, e.Offset)
}

type writer struct {
	buf []byte
	off int
}

func (w *writer) u8(v byte) { w.buf[w.off] = v; w.off++ }

func (w *writer) i64(v int64) {
	binary.LittleEndian.PutUint64(w.buf[w.off:], uint64(v))
	w.off += 8
}

func (w *writer) f32(v float32) {
	binary.LittleEndian.PutUint32(w.buf[w.off:], math.Float32bits(v))
	w.off += 4
}

func (w *writer) pose(p *Pose) {
	var flags byte
	if p.HasOrientation {
		flags |= 1 << 0
	}
	if p.HasPosition {
		flags |= 1 << 1
	}
	w.u8(flags)
	if p.HasOrientation {
		w.f32(p.Orientation.X)
		w.f32(p.Orientation.Y)
		w.f32(p.Orientation.Z)
		w.f32(p.Orientation.W)
	}
	if p.HasPosition {
		w.f32(p.Position.X)
		w.f32(p.Position.Y)
		w.f32(p.Position.Z)
	}
}

func (w *writer) controller(c *Controller) {
	var flags byte
	if c.GripValid {
		flags |= 1 << 0
	}
	if c.AimValid {
		flags |= 1 << 1
	}
	w.u8(flags)
	if c.GripValid {
		w.pose(&c.Grip)
	}
	if c.AimValid {
		w.pose(&c.Aim)
	}
	w.f32(c.GripValue)
}

func (w *writer) hand(joints *[HandJointCount]HandJoint) {
	for i := range joints {
		j := &joints[i]
		if !j.Valid {
			w.u8(0)
			continue
		}
		w.u8(1)
		w.f32(j.Radius)
		w.pose(&j.Pose)
	}
}

type reader struct {
	buf []byte
	off int
	err *DecodeError
}

func (r *reader) fail(what string) {
	if r.err == nil {
		r.err = &DecodeError{What: what, Offset: r.off}
	}
}

func (r *reader) u8(what string) byte {
	if r.err != nil {
		return 0
	}
	if r.off+1 > len(r.buf) {
		r.fail(what)
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) i64(what string) int64 {
	if r.err != nil {
		return 0
	}
	if r.off+8 > len(r.buf) {
		r.fail(what)
		return 0
	}
	v := int64(binary.LittleEndian.Uint64(r.buf[r.off:]))
	r.off += 8
	return v
}

func (r *reader) f32(what string) float32 {
	if r.err != nil {
		return 0
	}
	if r.off+4 > len(r.buf) {
		r.fail(what)
		return 0
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(r.buf[r.off:]))
	r.off += 4
	return v
}

func (r *reader) pose(p *Pose, what string) {
	flags := r.u8(what)
	p.HasOrientation = flags&(1<<0) != 0
	p.HasPosition = flags&(1<<1) != 0
	if p.HasOrientation {
		p.Orientation.X = r.f32(what)
		p.Orientation.Y = r.f32(what)
		p.Orientation.Z = r.f32(what)
		p.Orientation.W = r.f32(what)
	}
	if p.HasPosition {
		p.Position.X = r.f32(what)
		p.Position.Y = r.f32(what)
		p.Position.Z = r.f32(what)
	}
}

func (r *reader) controller(c *Controller, what string) {
	flags := r.u8(what)
	c.GripValid = flags&(1<<0) != 0
	c.AimValid = flags&(1<<1) != 0
	if c.GripValid {
		r.pose(&c.Grip, what)
	}
	if c.AimValid {
		r.pose(&c.Aim, what)
	}
	c.GripValue = r.f32(what)
}

func (r *reader) hand(joints *[HandJointCount]HandJoint, what string) {
	for i := range joints {
		j := &joints[i]
		j.Valid = r.u8(what) != 0
		if j.Valid {
			j.Radius = r.f32(what)
			r.pose(&j.Pose, what)
		}
	}
}

// EncodeDown serializes m into a fresh buffer.
func EncodeDown(m *DownMessage) []byte {
	w := writer{buf: make([]byte, MaxDownMessageSize)}
	w.u8(Version)
	w.u8(kindDown)
	w.i64(m.FrameSequenceID)
	w.i64(m.RenderBeginTime)
	w.i64(m.FramePushTime)
	w.i64(m.PushClockTime)
	w.i64(m.ServerClockOffset)
	w.pose(&m.Views[0])
	w.pose(&m.Views[1])
	return w.buf[:w.off]
}

// DecodeDown parses a DownMessage. Trailing bytes are rejected so a
// corrupted length cannot hide truncated state.
func DecodeDown(data []byte) (*DownMessage, error) {
	r := reader{buf: data}
	if v := r.u8("version"); r.err == nil && v != Version {
		return nil, &DecodeError{What: "version", Offset: 0}
	}
	if k := r.u8("kind"); r.err == nil && k != kindDown {
		return nil, &DecodeError{What: "kind", Offset: 1}
	}
	m := &DownMessage{}
	m.FrameSequenceID = r.i64("frame id")
	m.RenderBeginTime = r.i64("render begin time")
	m.FramePushTime = r.i64("frame push time")
	m.PushClockTime = r.i64("push clock time")
	m.ServerClockOffset = r.i64("server clock offset")
	r.pose(&m.Views[0], "view 0")
	r.pose(&m.Views[1], "view 1")
	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(data) {
		return nil, &DecodeError{What: "trailing bytes", Offset: r.off}
	}
	return m, nil
}

// EncodeUp serializes m into a fresh buffer. Panics when neither or both
// union arms are set; the caller constructed an impossible message.
func EncodeUp(m *UpMessage) []byte {
	if (m.Tracking == nil) == (m.FrameAck == nil) {
		panic("protocol: up message must carry exactly one of tracking or frame ack")
	}
	w := writer{buf: make([]byte, MaxUpMessageSize)}
	w.u8(Version)
	w.u8(kindUp)
	w.i64(m.MessageID)
	if t := m.Tracking; t != nil {
		w.u8(upTracking)
		var flags byte
		if t.HasHMD {
			flags |= 1 << 0
		}
		if t.Left.Active {
			flags |= 1 << 1
		}
		if t.Right.Active {
			flags |= 1 << 2
		}
		if t.HasLeftHand {
			flags |= 1 << 3
		}
		if t.HasRightHand {
			flags |= 1 << 4
		}
		w.u8(flags)
		if t.HasHMD {
			w.pose(&t.HMD)
		}
		if t.Left.Active {
			w.controller(&t.Left)
		}
		if t.Right.Active {
			w.controller(&t.Right)
		}
		if t.HasLeftHand {
			w.hand(&t.LeftHand)
		}
		if t.HasRightHand {
			w.hand(&t.RightHand)
		}
	} else {
		a := m.FrameAck
		w.u8(upFrameAck)
		w.i64(a.FrameSequenceID)
		w.i64(a.DecodeCompleteTime)
		w.i64(a.BeginFrameTime)
		w.i64(a.DisplayTime)
		w.i64(a.AverageLatency)
	}
	return w.buf[:w.off]
}

// DecodeUp parses an UpMessage.
func DecodeUp(data []byte) (*UpMessage, error) {
	r := reader{buf: data}
	if v := r.u8("version"); r.err == nil && v != Version {
		return nil, &DecodeError{What: "version", Offset: 0}
	}
	if k := r.u8("kind"); r.err == nil && k != kindUp {
		return nil, &DecodeError{What: "kind", Offset: 1}
	}
	m := &UpMessage{}
	m.MessageID = r.i64("message id")
	switch r.u8("payload kind") {
	case upTracking:
		t := &Tracking{}
		flags := r.u8("tracking flags")
		t.HasHMD = flags&(1<<0) != 0
		t.Left.Active = flags&(1<<1) != 0
		t.Right.Active = flags&(1<<2) != 0
		t.HasLeftHand = flags&(1<<3) != 0
		t.HasRightHand = flags&(1<<4) != 0
		if t.HasHMD {
			r.pose(&t.HMD, "hmd pose")
		}
		if t.Left.Active {
			r.controller(&t.Left, "left controller")
		}
		if t.Right.Active {
			r.controller(&t.Right, "right controller")
		}
		if t.HasLeftHand {
			r.hand(&t.LeftHand, "left hand")
		}
		if t.HasRightHand {
			r.hand(&t.RightHand, "right hand")
		}
		m.Tracking = t
	case upFrameAck:
		a := &FrameAck{}
		a.FrameSequenceID = r.i64("frame id")
		a.DecodeCompleteTime = r.i64("decode complete time")
		a.BeginFrameTime = r.i64("begin frame time")
		a.DisplayTime = r.i64("display time")
		a.AverageLatency = r.i64("average latency")
		m.FrameAck = a
	default:
		if r.err == nil {
			return nil, &DecodeError{What: "payload kind", Offset: r.off - 1}
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(data) {
		return nil, &DecodeError{What: "trailing bytes", Offset: r.off}
	}
	return m, nil
}
