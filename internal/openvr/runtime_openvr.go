//go:build openvr

package openvr

/*
#cgo LDFLAGS: -lopenvr_api
#include <stdlib.h>
#include <stdint.h>
#include <stdbool.h>
#include <openvr_capi.h>

static intptr_t mv_init(EVRInitError *err) {
	return VR_InitInternal(err, EVRApplicationType_VRApplication_Scene);
}

static intptr_t mv_interface(const char *name, EVRInitError *err) {
	return VR_GetGenericInterface(name, err);
}

static EVRTrackedCameraError mv_has_camera(intptr_t t, TrackedDeviceIndex_t i, bool *out) {
	return ((struct VR_IVRTrackedCamera_FnTable *)t)->HasCamera(i, out);
}

static EVRTrackedCameraError mv_frame_size(intptr_t t, TrackedDeviceIndex_t i, EVRTrackedCameraFrameType ft,
		uint32_t *w, uint32_t *h, uint32_t *size) {
	return ((struct VR_IVRTrackedCamera_FnTable *)t)->GetCameraFrameSize(i, ft, w, h, size);
}

static EVRTrackedCameraError mv_intrinsics(intptr_t t, TrackedDeviceIndex_t i, uint32_t cam,
		EVRTrackedCameraFrameType ft, HmdVector2_t *focal, HmdVector2_t *center) {
	return ((struct VR_IVRTrackedCamera_FnTable *)t)->GetCameraIntrinsics(i, cam, ft, focal, center);
}

static EVRTrackedCameraError mv_acquire(intptr_t t, TrackedDeviceIndex_t i, TrackedCameraHandle_t *h) {
	return ((struct VR_IVRTrackedCamera_FnTable *)t)->AcquireVideoStreamingService(i, h);
}

static EVRTrackedCameraError mv_release(intptr_t t, TrackedCameraHandle_t h) {
	return ((struct VR_IVRTrackedCamera_FnTable *)t)->ReleaseVideoStreamingService(h);
}

static EVRTrackedCameraError mv_frame(intptr_t t, TrackedCameraHandle_t h, EVRTrackedCameraFrameType ft,
		void *buf, uint32_t n, CameraVideoStreamFrameHeader_t *hdr) {
	return ((struct VR_IVRTrackedCamera_FnTable *)t)->GetVideoStreamFrameBuffer(h, ft, buf, n, hdr,
		sizeof(CameraVideoStreamFrameHeader_t));
}

static const char *mv_camera_error_name(intptr_t t, EVRTrackedCameraError e) {
	return ((struct VR_IVRTrackedCamera_FnTable *)t)->GetCameraErrorNameFromEnum(e);
}

static EVRCompositorError mv_wait_poses(intptr_t t) {
	return ((struct VR_IVRCompositor_FnTable *)t)->WaitGetPoses(NULL, 0, NULL, 0);
}

static EVRCompositorError mv_submit(intptr_t t, EVREye eye, struct VRVulkanTextureData_t *data,
		float umin, float vmin, float umax, float vmax) {
	Texture_t tex;
	tex.handle = data;
	tex.eType = ETextureType_TextureType_Vulkan;
	tex.eColorSpace = EColorSpace_ColorSpace_Auto;
	VRTextureBounds_t bounds = { umin, vmin, umax, vmax };
	return ((struct VR_IVRCompositor_FnTable *)t)->Submit(eye, &tex, &bounds, EVRSubmitFlags_Submit_Default);
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

type runtime struct {
	camera     *trackedCamera
	compositor *compositor
	shutdown   sync.Once
}

// Init connects to the running OpenVR runtime as a scene application and loads the
// tracked camera and compositor function tables.
func Init() (Runtime, error) {
	var initErr C.EVRInitError
	C.mv_init(&initErr)
	if initErr != C.EVRInitError_VRInitError_None {
		return nil, initError(initErr)
	}

	cam, err := loadTable(C.IVRTrackedCamera_Version)
	if err != nil {
		C.VR_ShutdownInternal()
		return nil, err
	}
	comp, err := loadTable(C.IVRCompositor_Version)
	if err != nil {
		C.VR_ShutdownInternal()
		return nil, err
	}
	return &runtime{
		camera:     &trackedCamera{table: cam},
		compositor: &compositor{table: comp},
	}, nil
}

func loadTable(version *C.char) (C.intptr_t, error) {
	name := C.CString("FnTable:" + C.GoString(version))
	defer C.free(unsafe.Pointer(name))

	var initErr C.EVRInitError
	table := C.mv_interface(name, &initErr)
	if initErr != C.EVRInitError_VRInitError_None || table == 0 {
		return 0, initError(initErr)
	}
	return table, nil
}

func initError(code C.EVRInitError) error {
	return &InitError{
		Code:        int(code),
		Description: C.GoString(C.VR_GetVRInitErrorAsEnglishDescription(code)),
	}
}

func (r *runtime) TrackedCamera() TrackedCamera { return r.camera }
func (r *runtime) Compositor() Compositor       { return r.compositor }

func (r *runtime) Shutdown() {
	r.shutdown.Do(func() { C.VR_ShutdownInternal() })
}

type trackedCamera struct {
	table C.intptr_t
}

func (c *trackedCamera) check(code C.EVRTrackedCameraError) error {
	if code == C.EVRTrackedCameraError_VRTrackedCameraError_None {
		return nil
	}
	return &TrackedCameraError{
		Code: int(code),
		Name: C.GoString(C.mv_camera_error_name(c.table, code)),
	}
}

func (c *trackedCamera) HasCamera(device DeviceIndex) (bool, error) {
	var out C.bool
	if err := c.check(C.mv_has_camera(c.table, C.TrackedDeviceIndex_t(device), &out)); err != nil {
		return false, err
	}
	return bool(out), nil
}

func (c *trackedCamera) CameraFrameSize(device DeviceIndex, frameType FrameType) (FrameSize, error) {
	var w, h, size C.uint32_t
	err := c.check(C.mv_frame_size(c.table, C.TrackedDeviceIndex_t(device),
		C.EVRTrackedCameraFrameType(frameType), &w, &h, &size))
	if err != nil {
		return FrameSize{}, err
	}
	return FrameSize{Width: uint32(w), Height: uint32(h), BufferSize: uint32(size)}, nil
}

func (c *trackedCamera) CameraIntrinsics(device DeviceIndex, camera uint32, frameType FrameType) (Intrinsics, error) {
	var focal, center C.HmdVector2_t
	err := c.check(C.mv_intrinsics(c.table, C.TrackedDeviceIndex_t(device), C.uint32_t(camera),
		C.EVRTrackedCameraFrameType(frameType), &focal, &center))
	if err != nil {
		return Intrinsics{}, err
	}
	return Intrinsics{
		FocalLength: [2]float32{float32(focal.v[0]), float32(focal.v[1])},
		Center:      [2]float32{float32(center.v[0]), float32(center.v[1])},
	}, nil
}

func (c *trackedCamera) AcquireVideoStreamingService(device DeviceIndex) (StreamHandle, error) {
	var h C.TrackedCameraHandle_t
	if err := c.check(C.mv_acquire(c.table, C.TrackedDeviceIndex_t(device), &h)); err != nil {
		return 0, err
	}
	return StreamHandle(h), nil
}

func (c *trackedCamera) ReleaseVideoStreamingService(handle StreamHandle) error {
	return c.check(C.mv_release(c.table, C.TrackedCameraHandle_t(handle)))
}

func (c *trackedCamera) VideoStreamFrameBuffer(handle StreamHandle, frameType FrameType, buf []byte) (FrameHeader, error) {
	if len(buf) == 0 {
		return FrameHeader{}, fmt.Errorf("empty frame buffer")
	}
	var hdr C.CameraVideoStreamFrameHeader_t
	err := c.check(C.mv_frame(c.table, C.TrackedCameraHandle_t(handle), C.EVRTrackedCameraFrameType(frameType),
		unsafe.Pointer(&buf[0]), C.uint32_t(len(buf)), &hdr))
	if err != nil {
		return FrameHeader{}, err
	}

	tracked := hdr.standingTrackedDevicePose
	out := FrameHeader{
		Type:          FrameType(hdr.eFrameType),
		Width:         uint32(hdr.nWidth),
		Height:        uint32(hdr.nHeight),
		BytesPerPixel: uint32(hdr.nBytesPerPixel),
		Sequence:      uint32(hdr.nFrameSequence),
		ExposureTime:  uint64(hdr.ulFrameExposureTime),
		Pose: TrackedPose{
			Valid:     bool(tracked.bPoseIsValid),
			Connected: bool(tracked.bDeviceIsConnected),
		},
	}
	for r := 0; r < 3; r++ {
		for col := 0; col < 4; col++ {
			out.Pose.DeviceToAbsolute[r][col] = float32(tracked.mDeviceToAbsoluteTracking.m[r][col])
		}
		out.Pose.Velocity[r] = float32(tracked.vVelocity.v[r])
		out.Pose.AngularVelocity[r] = float32(tracked.vAngularVelocity.v[r])
	}
	return out, nil
}

type compositor struct {
	table C.intptr_t
}

func (c *compositor) WaitGetPoses() error {
	if code := C.mv_wait_poses(c.table); code != C.EVRCompositorError_VRCompositorError_None {
		return &CompositorError{Code: int(code)}
	}
	return nil
}

func (c *compositor) Submit(eye Eye, tex VulkanTexture, bounds Bounds) error {
	data := C.struct_VRVulkanTextureData_t{
		m_nImage:            C.uint64_t(tex.Image),
		m_pDevice:           (*C.struct_VkDevice_T)(unsafe.Pointer(tex.Device)),
		m_pPhysicalDevice:   (*C.struct_VkPhysicalDevice_T)(unsafe.Pointer(tex.PhysicalDevice)),
		m_pInstance:         (*C.struct_VkInstance_T)(unsafe.Pointer(tex.Instance)),
		m_pQueue:            (*C.struct_VkQueue_T)(unsafe.Pointer(tex.Queue)),
		m_nQueueFamilyIndex: C.uint32_t(tex.QueueFamily),
		m_nWidth:            C.uint32_t(tex.Width),
		m_nHeight:           C.uint32_t(tex.Height),
		m_nFormat:           C.uint32_t(tex.Format),
		m_nSampleCount:      C.uint32_t(tex.SampleCount),
	}
	code := C.mv_submit(c.table, C.EVREye(eye), &data,
		C.float(bounds.UMin), C.float(bounds.VMin), C.float(bounds.UMax), C.float(bounds.VMax))
	if code != C.EVRCompositorError_VRCompositorError_None {
		return &CompositorError{Code: int(code)}
	}
	return nil
}
