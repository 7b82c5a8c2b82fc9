// Package openvrtest provides in-memory stand-ins for the OpenVR interfaces.
package openvrtest

import (
	"sync"

	"github.com/bryanchriswhite/MixedView/internal/openvr"
)

// FrameFunc produces the next frame for a stream. Returning an error surfaces it from
// VideoStreamFrameBuffer unchanged.
type FrameFunc func(seq uint32, buf []byte) (openvr.FrameHeader, error)

// Camera is a scripted tracked camera.
type Camera struct {
	mu sync.Mutex

	HasCameraResult bool
	HasCameraErr    error
	AcquireErr      error
	Size            openvr.FrameSize
	Frames          FrameFunc

	nextHandle openvr.StreamHandle
	live       map[openvr.StreamHandle]bool
	acquired   int
	devices    []openvr.DeviceIndex
	released   int
	sizeCalls  int
	seq        uint32
}

// NewCamera returns a camera that serves width x height BGRA frames filled with fill.
func NewCamera(width, height uint32, fill [4]byte) *Camera {
	c := &Camera{
		HasCameraResult: true,
		Size: openvr.FrameSize{
			Width:      width,
			Height:     height,
			BufferSize: width * height * 4,
		},
		live: make(map[openvr.StreamHandle]bool),
	}
	c.Frames = func(seq uint32, buf []byte) (openvr.FrameHeader, error) {
		for i := 0; i+3 < len(buf); i += 4 {
			copy(buf[i:i+4], fill[:])
		}
		h := openvr.FrameHeader{
			Width:         width,
			Height:        height,
			BytesPerPixel: 4,
			Sequence:      seq,
		}
		h.Pose.Valid = true
		h.Pose.Connected = true
		h.Pose.DeviceToAbsolute = [3][4]float32{{1, 0, 0, 0}, {0, 1, 0, 1.6}, {0, 0, 1, 0}}
		return h, nil
	}
	return c
}

func (c *Camera) HasCamera(openvr.DeviceIndex) (bool, error) {
	return c.HasCameraResult, c.HasCameraErr
}

func (c *Camera) CameraFrameSize(openvr.DeviceIndex, openvr.FrameType) (openvr.FrameSize, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sizeCalls++
	return c.Size, nil
}

func (c *Camera) CameraIntrinsics(openvr.DeviceIndex, uint32, openvr.FrameType) (openvr.Intrinsics, error) {
	return openvr.Intrinsics{
		FocalLength: [2]float32{float32(c.Size.Width) / 2, float32(c.Size.Width) / 2},
		Center:      [2]float32{float32(c.Size.Width) / 2, float32(c.Size.Height) / 2},
	}, nil
}

func (c *Camera) AcquireVideoStreamingService(device openvr.DeviceIndex) (openvr.StreamHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AcquireErr != nil {
		return 0, c.AcquireErr
	}
	c.devices = append(c.devices, device)
	c.nextHandle++
	c.live[c.nextHandle] = true
	c.acquired++
	return c.nextHandle, nil
}

func (c *Camera) ReleaseVideoStreamingService(h openvr.StreamHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live[h] {
		return &openvr.TrackedCameraError{Code: openvr.CameraErrorInvalidHandle}
	}
	delete(c.live, h)
	c.released++
	return nil
}

func (c *Camera) VideoStreamFrameBuffer(h openvr.StreamHandle, _ openvr.FrameType, buf []byte) (openvr.FrameHeader, error) {
	c.mu.Lock()
	if !c.live[h] {
		c.mu.Unlock()
		return openvr.FrameHeader{}, &openvr.TrackedCameraError{Code: openvr.CameraErrorInvalidHandle}
	}
	if uint32(len(buf)) < c.Size.BufferSize {
		c.mu.Unlock()
		return openvr.FrameHeader{}, &openvr.TrackedCameraError{Code: openvr.CameraErrorInvalidFrameBufferSize}
	}
	c.seq++
	seq := c.seq
	frames := c.Frames
	c.mu.Unlock()
	return frames(seq, buf)
}

// Live is the number of streaming handles not yet released.
func (c *Camera) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

// Acquired counts successful AcquireVideoStreamingService calls.
func (c *Camera) Acquired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquired
}

// Devices lists the device index of every successful acquire, in order.
func (c *Camera) Devices() []openvr.DeviceIndex {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]openvr.DeviceIndex(nil), c.devices...)
}

// SizeQueries counts CameraFrameSize calls.
func (c *Camera) SizeQueries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sizeCalls
}

// Submission is one compositor Submit call.
type Submission struct {
	Eye     openvr.Eye
	Texture openvr.VulkanTexture
	Bounds  openvr.Bounds
}

// Compositor records submissions.
type Compositor struct {
	mu          sync.Mutex
	SubmitErr   error
	waits       int
	submissions []Submission
}

func (c *Compositor) WaitGetPoses() error {
	c.mu.Lock()
	c.waits++
	c.mu.Unlock()
	return nil
}

func (c *Compositor) Submit(eye openvr.Eye, tex openvr.VulkanTexture, bounds openvr.Bounds) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubmitErr != nil {
		return c.SubmitErr
	}
	c.submissions = append(c.submissions, Submission{Eye: eye, Texture: tex, Bounds: bounds})
	return nil
}

// Submissions returns a copy of everything submitted so far.
func (c *Compositor) Submissions() []Submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Submission(nil), c.submissions...)
}

// Waits counts WaitGetPoses calls.
func (c *Compositor) Waits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waits
}

// Runtime bundles a fake camera and compositor.
type Runtime struct {
	Camera *Camera
	Comp   *Compositor

	mu   sync.Mutex
	down bool
}

func (r *Runtime) TrackedCamera() openvr.TrackedCamera { return r.Camera }
func (r *Runtime) Compositor() openvr.Compositor       { return r.Comp }

func (r *Runtime) Shutdown() {
	r.mu.Lock()
	r.down = true
	r.mu.Unlock()
}

// IsShutdown reports whether Shutdown was called.
func (r *Runtime) IsShutdown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.down
}
