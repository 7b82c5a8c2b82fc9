package openvr

import (
	"fmt"
	"sync"
)

// CameraService owns a streaming service handle for one tracked device. The handle is
// released by Close; callers defer Close so it also runs when the owner unwinds.
type CameraService struct {
	camera TrackedCamera
	device DeviceIndex
	handle StreamHandle

	frameType FrameType
	buffer    []byte

	closeOnce sync.Once
	closeErr  error
}

// NewCameraService checks that device has a camera and acquires its streaming service.
func NewCameraService(camera TrackedCamera, device DeviceIndex) (*CameraService, error) {
	has, err := camera.HasCamera(device)
	if err != nil {
		return nil, fmt.Errorf("query camera on device %d: %w", device, err)
	}
	if !has {
		return nil, fmt.Errorf("device %d has no tracked camera", device)
	}

	handle, err := camera.AcquireVideoStreamingService(device)
	if err != nil {
		return nil, fmt.Errorf("acquire video streaming service: %w", err)
	}
	return &CameraService{
		camera:    camera,
		device:    device,
		handle:    handle,
		frameType: -1,
	}, nil
}

// FrameBuffer fetches the latest frame of frameType into the service's buffer. The buffer
// is sized from the runtime's frame size and only reallocated when frameType changes. The
// returned slice is reused by the next call.
func (s *CameraService) FrameBuffer(frameType FrameType) ([]byte, FrameHeader, error) {
	if frameType != s.frameType || s.buffer == nil {
		size, err := s.camera.CameraFrameSize(s.device, frameType)
		if err != nil {
			return nil, FrameHeader{}, fmt.Errorf("query %s frame size: %w", frameType, err)
		}
		s.buffer = make([]byte, size.BufferSize)
		s.frameType = frameType
	}

	header, err := s.camera.VideoStreamFrameBuffer(s.handle, frameType, s.buffer)
	if err != nil {
		return nil, FrameHeader{}, err
	}
	return s.buffer, header, nil
}

// Close releases the streaming service. Safe to call more than once.
func (s *CameraService) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.camera.ReleaseVideoStreamingService(s.handle)
		s.buffer = nil
	})
	return s.closeErr
}
