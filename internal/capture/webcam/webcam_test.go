package webcam

import (
	"bytes"
	"os"
	"testing"

	"github.com/bryanchriswhite/MixedView/internal/capture"
	"github.com/bryanchriswhite/MixedView/internal/logger"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinyzimmer/go-gst/gst"
)

func TestCheckGeometry(t *testing.T) {
	assert.NoError(t, checkGeometry(capture.Width, capture.Height))

	err := checkGeometry(1280, 720)
	var fe *capture.FatalError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "webcam", fe.Source)
	assert.Contains(t, err.Error(), "1280x720")
	assert.Contains(t, err.Error(), "1920x960")
}

func TestGStreamerPipelineRequestsCaptureMode(t *testing.T) {
	desc := gstPipeline("/dev/video2")
	assert.Contains(t, desc, "v4l2src device=/dev/video2")
	assert.Contains(t, desc, "format=BGRA,width=1920,height=960,framerate=140/1")
	assert.Contains(t, desc, "appsink name=sink")
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(Options{Backend: "directshow"})
	var fe *capture.FatalError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, err.Error(), "directshow")
}

func TestGStreamerCloseLogsAtDebug(t *testing.T) {
	gstInit.Do(func() { gst.Init(nil) })
	pipeline, err := gst.NewPipelineFromString("fakesrc num-buffers=1 ! fakesink")
	if err != nil {
		t.Skipf("GStreamer core elements unavailable: %v", err)
	}

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
		zerolog.SetGlobalLevel(prev)
	})

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	g := &GStreamer{pipeline: pipeline, device: "/dev/video9"}
	require.NoError(t, g.Close())
	assert.Empty(t, buf.String())
	assert.Nil(t, g.pipeline)

	// a second Close is a no-op
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	require.NoError(t, g.Close())
	assert.Empty(t, buf.String())

	pipeline, err = gst.NewPipelineFromString("fakesrc num-buffers=1 ! fakesink")
	require.NoError(t, err)
	g = &GStreamer{pipeline: pipeline, device: "/dev/video9"}
	require.NoError(t, g.Close())
	assert.Contains(t, buf.String(), `"level":"debug"`)
	assert.Contains(t, buf.String(), "GStreamer pipeline stopped")
}
