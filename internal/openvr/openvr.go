// Package openvr talks to the OpenVR runtime: tracked camera streaming and compositor
// submission. The cgo binding is compiled with the `openvr` build tag; without it Init
// reports ErrRuntimeUnavailable.
package openvr

import (
	"errors"
	"fmt"
)

// ErrRuntimeUnavailable is returned when this binary was built without OpenVR support.
var ErrRuntimeUnavailable = errors.New("openvr: runtime support not compiled in (build with -tags openvr)")

// DeviceIndex identifies a tracked device. The HMD is always 0.
type DeviceIndex uint32

// HMD is the head-mounted display's device index.
const HMD DeviceIndex = 0

// StreamHandle is a tracked camera streaming service handle.
type StreamHandle uint64

// FrameType selects the camera image processing.
type FrameType int

const (
	FrameDistorted FrameType = iota
	FrameUndistorted
	FrameMaximumUndistorted
)

// ParseFrameType maps config names onto frame types.
func ParseFrameType(name string) (FrameType, error) {
	switch name {
	case "", "distorted":
		return FrameDistorted, nil
	case "undistorted":
		return FrameUndistorted, nil
	case "maximum_undistorted":
		return FrameMaximumUndistorted, nil
	}
	return 0, fmt.Errorf("unknown camera frame type %q", name)
}

func (t FrameType) String() string {
	switch t {
	case FrameDistorted:
		return "distorted"
	case FrameUndistorted:
		return "undistorted"
	case FrameMaximumUndistorted:
		return "maximum_undistorted"
	}
	return fmt.Sprintf("frame_type(%d)", int(t))
}

// FrameSize is what the runtime reports for a frame type.
type FrameSize struct {
	Width, Height uint32
	BufferSize    uint32
}

// Intrinsics are the pinhole parameters of one camera on a device.
type Intrinsics struct {
	FocalLength [2]float32
	Center      [2]float32
}

// TrackedPose is the device pose at exposure time.
type TrackedPose struct {
	// DeviceToAbsolute is a row-major 3x4 transform in standing space.
	DeviceToAbsolute [3][4]float32
	Velocity         [3]float32
	AngularVelocity  [3]float32
	Valid            bool
	Connected        bool
}

// FrameHeader describes one streamed frame.
type FrameHeader struct {
	Type          FrameType
	Width         uint32
	Height        uint32
	BytesPerPixel uint32
	Sequence      uint32
	Pose          TrackedPose
	ExposureTime  uint64
}

// Camera error codes.
const (
	CameraErrorNone                   = 0
	CameraErrorOperationFailed        = 100
	CameraErrorInvalidHandle          = 101
	CameraErrorNotSupported           = 105
	CameraErrorStreamSetupFailure     = 108
	CameraErrorNoFrameAvailable       = 113
	CameraErrorInvalidArgument        = 114
	CameraErrorInvalidFrameBufferSize = 115
)

// TrackedCameraError is a failure reported by the tracked camera interface.
type TrackedCameraError struct {
	Code int
	Name string
}

func (e *TrackedCameraError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("tracked camera error %d", e.Code)
	}
	return fmt.Sprintf("tracked camera error %s (%d)", e.Name, e.Code)
}

// IsNoFrameAvailable reports whether err means the runtime had no new frame.
func IsNoFrameAvailable(err error) bool {
	var tce *TrackedCameraError
	return errors.As(err, &tce) && tce.Code == CameraErrorNoFrameAvailable
}

// InitError is a failure to connect to the runtime.
type InitError struct {
	Code        int
	Description string
}

func (e *InitError) Error() string {
	return fmt.Sprintf("openvr init failed: %s (%d)", e.Description, e.Code)
}

// TrackedCamera is the subset of IVRTrackedCamera the viewer uses.
type TrackedCamera interface {
	HasCamera(device DeviceIndex) (bool, error)
	CameraFrameSize(device DeviceIndex, frameType FrameType) (FrameSize, error)
	CameraIntrinsics(device DeviceIndex, camera uint32, frameType FrameType) (Intrinsics, error)
	AcquireVideoStreamingService(device DeviceIndex) (StreamHandle, error)
	ReleaseVideoStreamingService(handle StreamHandle) error
	VideoStreamFrameBuffer(handle StreamHandle, frameType FrameType, buf []byte) (FrameHeader, error)
}

// Eye selects a compositor layer.
type Eye int

const (
	EyeLeft Eye = iota
	EyeRight
)

// Bounds is a UV rectangle in the submitted texture.
type Bounds struct {
	UMin, VMin, UMax, VMax float32
}

// VulkanTexture carries raw Vulkan handles for compositor submission.
type VulkanTexture struct {
	Image          uint64
	Device         uintptr
	PhysicalDevice uintptr
	Instance       uintptr
	Queue          uintptr
	QueueFamily    uint32
	Width, Height  uint32
	Format         uint32
	SampleCount    uint32
}

// CompositorError is a failure reported by the compositor interface.
type CompositorError struct {
	Code int
}

func (e *CompositorError) Error() string { return fmt.Sprintf("compositor error %d", e.Code) }

// Compositor is the subset of IVRCompositor the viewer uses.
type Compositor interface {
	WaitGetPoses() error
	Submit(eye Eye, tex VulkanTexture, bounds Bounds) error
}

// Runtime is a live connection to the OpenVR runtime.
type Runtime interface {
	TrackedCamera() TrackedCamera
	Compositor() Compositor
	Shutdown()
}
