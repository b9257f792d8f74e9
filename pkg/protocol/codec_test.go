package protocol

import (
	"reflect"
	"testing"
)

func fullPose(seed float32) Pose {
	return Pose{
		HasOrientation: true,
		Orientation:    Quaternion{seed, seed + 1, seed + 2, seed + 3},
		HasPosition:    true,
		Position:       Vector3{seed + 4, seed + 5, seed + 6},
	}
}

func TestDownRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  DownMessage
	}{
		{
			name: "all pose parts absent",
			msg: DownMessage{
				FrameSequenceID: 42,
				RenderBeginTime: 1111,
				FramePushTime:   2222,
				PushClockTime:   3333,
			},
		},
		{
			name: "full views",
			msg: DownMessage{
				FrameSequenceID:   7,
				Views:             [2]Pose{fullPose(0.1), fullPose(10.5)},
				RenderBeginTime:   -5,
				FramePushTime:     1 << 40,
				PushClockTime:     9,
				ServerClockOffset: -12345678,
			},
		},
		{
			name: "orientation only left eye",
			msg: DownMessage{
				FrameSequenceID: 1,
				Views: [2]Pose{
					{HasOrientation: true, Orientation: Quaternion{W: 1}},
					{HasPosition: true, Position: Vector3{Y: 1.6}},
				},
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			data := EncodeDown(&test.msg)
			if len(data) > MaxDownMessageSize {
				t.Fatalf("encoded %d bytes, max is %d", len(data), MaxDownMessageSize)
			}
			got, err := DecodeDown(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !reflect.DeepEqual(*got, test.msg) {
				t.Fatalf("round trip mismatch\nwant: %+v\ngot:  %+v", test.msg, *got)
			}
		})
	}
}

func TestUpRoundTrip(t *testing.T) {
	fullHand := func() (h [HandJointCount]HandJoint) {
		for i := range h {
			h[i] = HandJoint{Valid: true, Radius: float32(i) * 0.01, Pose: fullPose(float32(i))}
		}
		return
	}

	tests := []struct {
		name string
		msg  UpMessage
	}{
		{
			name: "frame ack",
			msg: UpMessage{
				MessageID: 99,
				FrameAck: &FrameAck{
					FrameSequenceID:    42,
					DecodeCompleteTime: 1,
					BeginFrameTime:     2,
					DisplayTime:        3,
					AverageLatency:     14 * 1000 * 1000,
				},
			},
		},
		{
			name: "empty tracking",
			msg:  UpMessage{MessageID: 1, Tracking: &Tracking{}},
		},
		{
			name: "hmd and controllers",
			msg: UpMessage{
				MessageID: 2,
				Tracking: &Tracking{
					HasHMD: true,
					HMD:    fullPose(1),
					Left: Controller{
						Active:    true,
						GripValid: true,
						Grip:      fullPose(2),
						GripValue: 0.75,
					},
					Right: Controller{
						Active:   true,
						AimValid: true,
						Aim:      fullPose(3),
					},
				},
			},
		},
		{
			name: "both hands full joint set",
			msg: UpMessage{
				MessageID: 3,
				Tracking: &Tracking{
					HasHMD:       true,
					HMD:          fullPose(0),
					HasLeftHand:  true,
					LeftHand:     fullHand(),
					HasRightHand: true,
					RightHand:    fullHand(),
				},
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			data := EncodeUp(&test.msg)
			if len(data) > MaxUpMessageSize {
				t.Fatalf("encoded %d bytes, max is %d", len(data), MaxUpMessageSize)
			}
			got, err := DecodeUp(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !reflect.DeepEqual(got, &test.msg) {
				t.Fatalf("round trip mismatch\nwant: %+v\ngot:  %+v", test.msg, got)
			}
		})
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	down := EncodeDown(&DownMessage{FrameSequenceID: 1, Views: [2]Pose{fullPose(1), fullPose(2)}})
	up := EncodeUp(&UpMessage{MessageID: 1, FrameAck: &FrameAck{FrameSequenceID: 1}})

	t.Run("down truncated at every length", func(t *testing.T) {
		for n := 0; n < len(down); n++ {
			if _, err := DecodeDown(down[:n]); err == nil {
				t.Fatalf("length %d: expected error", n)
			}
		}
	})
	t.Run("up truncated at every length", func(t *testing.T) {
		for n := 0; n < len(up); n++ {
			if _, err := DecodeUp(up[:n]); err == nil {
				t.Fatalf("length %d: expected error", n)
			}
		}
	})
	t.Run("bad version", func(t *testing.T) {
		bad := append([]byte{}, down...)
		bad[0] = 0xff
		if _, err := DecodeDown(bad); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("kind mismatch", func(t *testing.T) {
		if _, err := DecodeUp(down); err == nil {
			t.Fatal("expected error")
		}
		if _, err := DecodeDown(up); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("trailing bytes", func(t *testing.T) {
		if _, err := DecodeDown(append(append([]byte{}, down...), 0)); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("unknown up payload kind", func(t *testing.T) {
		bad := append([]byte{}, up...)
		bad[10] = 0x7f
		if _, err := DecodeUp(bad); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestEncodeUpPanicsOnBadUnion(t *testing.T) {
	for _, msg := range []*UpMessage{
		{MessageID: 1},
		{MessageID: 1, Tracking: &Tracking{}, FrameAck: &FrameAck{}},
	} {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("no panic for %+v", msg)
				}
			}()
			EncodeUp(msg)
		}()
	}
}
