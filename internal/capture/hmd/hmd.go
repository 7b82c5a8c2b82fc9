// Package hmd captures the pass-through camera of an OpenVR headset.
package hmd

import (
	"fmt"

	"github.com/bryanchriswhite/MixedView/internal/capture"
	"github.com/bryanchriswhite/MixedView/internal/logger"
	"github.com/bryanchriswhite/MixedView/internal/openvr"
	"github.com/bryanchriswhite/MixedView/internal/pose"
)

const name = "hmd"

// Source streams the tracked camera of one device. Frames arrive RGBA from the runtime
// and are swizzled to BGRA into a buffer the source owns.
type Source struct {
	svc       *openvr.CameraService
	frameType openvr.FrameType

	frame   []byte
	lastSeq uint32
	started bool
}

// Open acquires the streaming service for device. The runtime must outlive the source.
func Open(rt openvr.Runtime, device openvr.DeviceIndex, frameType openvr.FrameType) (*Source, error) {
	cam := rt.TrackedCamera()
	size, err := cam.CameraFrameSize(device, frameType)
	if err != nil {
		return nil, capture.Fatal(name, fmt.Errorf("query frame size: %w", err))
	}
	if size.Width != capture.Width || size.Height != capture.Height {
		return nil, capture.Fatal(name, fmt.Errorf("camera delivers %dx%d, need %dx%d",
			size.Width, size.Height, capture.Width, capture.Height))
	}

	svc, err := openvr.NewCameraService(cam, device)
	if err != nil {
		return nil, capture.Fatal(name, err)
	}

	logger.WithComponent("hmd").Info().
		Uint32("device", uint32(device)).
		Str("frame_type", frameType.String()).
		Msg("Tracked camera streaming")

	return &Source{
		svc:       svc,
		frameType: frameType,
		frame:     make([]byte, capture.FrameSize),
	}, nil
}

// Capture returns the newest camera frame. A frame the runtime already handed out, or none
// at all, is a timeout.
func (s *Source) Capture() ([]byte, *pose.Pose, error) {
	buf, hdr, err := s.svc.FrameBuffer(s.frameType)
	if err != nil {
		if openvr.IsNoFrameAvailable(err) {
			return nil, nil, capture.ErrTimeout
		}
		return nil, nil, capture.Fatal(name, err)
	}
	if s.started && hdr.Sequence == s.lastSeq {
		return nil, nil, capture.ErrTimeout
	}
	if hdr.Width != capture.Width || hdr.Height != capture.Height || hdr.BytesPerPixel != capture.BytesPerPixel {
		return nil, nil, capture.Fatal(name, fmt.Errorf("frame is %dx%d@%dbpp, need %dx%d@%dbpp",
			hdr.Width, hdr.Height, hdr.BytesPerPixel, capture.Width, capture.Height, capture.BytesPerPixel))
	}
	if len(buf) < capture.FrameSize {
		return nil, nil, capture.Fatal(name, fmt.Errorf("frame buffer holds %d bytes, need %d", len(buf), capture.FrameSize))
	}
	s.started = true
	s.lastSeq = hdr.Sequence

	rgbaToBGRA(s.frame, buf[:capture.FrameSize])

	if !hdr.Pose.Valid {
		return s.frame, nil, nil
	}
	p := pose.FromMatrix34(hdr.Pose.DeviceToAbsolute)
	return s.frame, &p, nil
}

func rgbaToBGRA(dst, src []byte) {
	for i := 0; i+3 < len(src); i += 4 {
		dst[i] = src[i+2]
		dst[i+1] = src[i+1]
		dst[i+2] = src[i]
		dst[i+3] = src[i+3]
	}
}

func (s *Source) Name() string { return name }

// Close releases the streaming service.
func (s *Source) Close() error {
	return s.svc.Close()
}
