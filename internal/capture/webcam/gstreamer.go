package webcam

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/MixedView/internal/capture"
	"github.com/bryanchriswhite/MixedView/internal/logger"
	"github.com/bryanchriswhite/MixedView/internal/pose"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

var gstInit sync.Once

// GStreamer pulls BGRA frames from a v4l2src pipeline through an appsink. Samples are
// pulled on the caller's goroutine, so no cgo callbacks are involved.
type GStreamer struct {
	pipeline *gst.Pipeline
	appsink  *app.Sink
	device   string
	timeout  time.Duration
	frame    []byte
}

func gstPipeline(device string) string {
	return fmt.Sprintf(
		"v4l2src device=%s do-timestamp=true ! "+
			"videoconvert ! "+
			"video/x-raw,format=BGRA,width=%d,height=%d,framerate=%d/1 ! "+
			"appsink name=sink emit-signals=false max-buffers=1 drop=true sync=false",
		device, capture.Width, capture.Height, capture.FPS,
	)
}

// OpenGStreamer builds and starts the pipeline for device.
func OpenGStreamer(device string, timeout time.Duration) (*GStreamer, error) {
	log := logger.WithComponent("gstreamer")

	gstInit.Do(func() { gst.Init(nil) })

	desc := gstPipeline(device)
	log.Debug().Str("pipeline", desc).Msg("Creating GStreamer pipeline")

	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return nil, capture.Fatal(name, fmt.Errorf("create pipeline: %w", err))
	}
	sinkElement, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.Unref()
		return nil, capture.Fatal(name, fmt.Errorf("get appsink: %w", err))
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.Unref()
		return nil, capture.Fatal(name, fmt.Errorf("start pipeline: %w", err))
	}

	log.Info().Str("device", device).Msg("GStreamer pipeline started")

	return &GStreamer{
		pipeline: pipeline,
		appsink:  app.SinkFromElement(sinkElement),
		device:   device,
		timeout:  timeout,
		frame:    make([]byte, capture.FrameSize),
	}, nil
}

// Capture waits up to the configured timeout for a sample.
func (g *GStreamer) Capture() ([]byte, *pose.Pose, error) {
	sample := g.appsink.TryPullSample(g.timeout)
	if sample == nil {
		if g.appsink.IsEOS() {
			return nil, nil, capture.Fatal(name, errors.New("end of stream"))
		}
		return nil, nil, capture.ErrTimeout
	}

	if w, h, ok := sampleSize(sample); ok {
		if err := checkGeometry(w, h); err != nil {
			return nil, nil, err
		}
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, nil, capture.ErrTimeout
	}
	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return nil, nil, capture.Fatal(name, errors.New("map buffer failed"))
	}
	defer buffer.Unmap()

	data := mapInfo.Bytes()
	if len(data) < capture.FrameSize {
		return nil, nil, capture.Fatal(name, fmt.Errorf("sample is %d bytes, need %d", len(data), capture.FrameSize))
	}
	copy(g.frame, data[:capture.FrameSize])
	return g.frame, nil, nil
}

func sampleSize(sample *gst.Sample) (int, int, bool) {
	caps := sample.GetCaps()
	if caps == nil {
		return 0, 0, false
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		return 0, 0, false
	}
	width, _ := structure.GetValue("width")
	height, _ := structure.GetValue("height")
	w, ok := width.(int)
	if !ok {
		return 0, 0, false
	}
	h, ok := height.(int)
	if !ok {
		return 0, 0, false
	}
	return w, h, true
}

func (g *GStreamer) Name() string { return name }

func (g *GStreamer) Close() error {
	if g.pipeline == nil {
		return nil
	}
	err := g.pipeline.SetState(gst.StateNull)
	g.pipeline.Unref()
	g.pipeline = nil
	logger.WithComponent("gstreamer").Debug().Str("device", g.device).Msg("GStreamer pipeline stopped")
	return err
}
