package openvr_test

import (
	"errors"
	"testing"

	"github.com/bryanchriswhite/MixedView/internal/openvr"
	"github.com/bryanchriswhite/MixedView/internal/openvr/openvrtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCameraServiceReleasesHandle(t *testing.T) {
	cam := openvrtest.NewCamera(4, 2, [4]byte{1, 2, 3, 4})

	svc, err := openvr.NewCameraService(cam, openvr.HMD)
	require.NoError(t, err)
	assert.Equal(t, 1, cam.Live())

	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())
	assert.Equal(t, 0, cam.Live())
}

func TestCameraServiceFrameBuffer(t *testing.T) {
	cam := openvrtest.NewCamera(4, 2, [4]byte{9, 8, 7, 255})
	svc, err := openvr.NewCameraService(cam, openvr.HMD)
	require.NoError(t, err)
	defer svc.Close()

	buf, hdr, err := svc.FrameBuffer(openvr.FrameDistorted)
	require.NoError(t, err)
	assert.Len(t, buf, 32)
	assert.Equal(t, []byte{9, 8, 7, 255}, buf[28:32])
	assert.Equal(t, uint32(1), hdr.Sequence)
	assert.True(t, hdr.Pose.Valid)

	_, hdr, err = svc.FrameBuffer(openvr.FrameDistorted)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), hdr.Sequence)
	assert.Equal(t, 1, cam.SizeQueries(), "buffer is reused for the same frame type")

	_, _, err = svc.FrameBuffer(openvr.FrameUndistorted)
	require.NoError(t, err)
	assert.Equal(t, 2, cam.SizeQueries())
}

func TestCameraServiceRequiresCamera(t *testing.T) {
	cam := openvrtest.NewCamera(4, 2, [4]byte{})
	cam.HasCameraResult = false

	_, err := openvr.NewCameraService(cam, openvr.HMD)
	require.Error(t, err)
	assert.Equal(t, 0, cam.Acquired())
}

func TestCameraServiceAcquireFailure(t *testing.T) {
	cam := openvrtest.NewCamera(4, 2, [4]byte{})
	cam.AcquireErr = &openvr.TrackedCameraError{Code: openvr.CameraErrorStreamSetupFailure}

	_, err := openvr.NewCameraService(cam, openvr.HMD)
	var tce *openvr.TrackedCameraError
	require.True(t, errors.As(err, &tce))
	assert.Equal(t, openvr.CameraErrorStreamSetupFailure, tce.Code)
}

func TestIsNoFrameAvailable(t *testing.T) {
	err := &openvr.TrackedCameraError{Code: openvr.CameraErrorNoFrameAvailable, Name: "VRTrackedCameraError_NoFrameAvailable"}
	assert.True(t, openvr.IsNoFrameAvailable(err))
	assert.Contains(t, err.Error(), "NoFrameAvailable")
	assert.False(t, openvr.IsNoFrameAvailable(&openvr.TrackedCameraError{Code: openvr.CameraErrorOperationFailed}))
	assert.False(t, openvr.IsNoFrameAvailable(errors.New("other")))
}

func TestParseFrameType(t *testing.T) {
	for _, ft := range []openvr.FrameType{openvr.FrameDistorted, openvr.FrameUndistorted, openvr.FrameMaximumUndistorted} {
		got, err := openvr.ParseFrameType(ft.String())
		require.NoError(t, err)
		assert.Equal(t, ft, got)
	}
	_, err := openvr.ParseFrameType("fisheye")
	assert.Error(t, err)
}
