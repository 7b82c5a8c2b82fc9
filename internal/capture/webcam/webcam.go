// Package webcam captures a USB stereo webcam through OpenCV or GStreamer.
package webcam

import (
	"fmt"
	"time"

	"github.com/bryanchriswhite/MixedView/internal/capture"
)

const name = "webcam"

// Backend names.
const (
	BackendOpenCV    = "opencv"
	BackendGStreamer = "gstreamer"
)

// DefaultTimeout is how long one Capture waits for the device before reporting a timeout.
const DefaultTimeout = 100 * time.Millisecond

// Options selects and configures a webcam backend.
type Options struct {
	Backend string
	// DeviceIndex is the OpenCV camera index.
	DeviceIndex int
	// Device is the V4L2 node GStreamer reads from.
	Device  string
	Timeout time.Duration
}

// Open starts the configured backend. The device must deliver capture.Width x
// capture.Height frames.
func Open(opts Options) (capture.Source, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	switch opts.Backend {
	case "", BackendOpenCV:
		src, err := OpenOpenCV(opts.DeviceIndex)
		if err != nil {
			return nil, err
		}
		return src, nil
	case BackendGStreamer:
		dev := opts.Device
		if dev == "" {
			dev = "/dev/video0"
		}
		src, err := OpenGStreamer(dev, opts.Timeout)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	return nil, capture.Fatal(name, fmt.Errorf("unknown webcam backend %q", opts.Backend))
}

// checkGeometry rejects frames that are not the stereo capture size.
func checkGeometry(width, height int) error {
	if width == capture.Width && height == capture.Height {
		return nil
	}
	return capture.Fatal(name, fmt.Errorf("device delivers %dx%d, need %dx%d",
		width, height, capture.Width, capture.Height))
}
