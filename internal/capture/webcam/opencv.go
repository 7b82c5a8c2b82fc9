package webcam

import (
	"fmt"

	"github.com/bryanchriswhite/MixedView/internal/capture"
	"github.com/bryanchriswhite/MixedView/internal/logger"
	"github.com/bryanchriswhite/MixedView/internal/pose"
	"gocv.io/x/gocv"
)

// OpenCV reads frames with cv::VideoCapture and converts them to BGRA.
type OpenCV struct {
	vc    *gocv.VideoCapture
	bgr   gocv.Mat
	bgra  gocv.Mat
	frame []byte
}

// OpenOpenCV opens camera index and asks it for the stereo capture mode.
func OpenOpenCV(index int) (*OpenCV, error) {
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, capture.Fatal(name, fmt.Errorf("open camera %d: %w", index, err))
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, capture.Fatal(name, fmt.Errorf("camera %d did not open", index))
	}

	vc.Set(gocv.VideoCaptureFrameWidth, capture.Width)
	vc.Set(gocv.VideoCaptureFrameHeight, capture.Height)
	vc.Set(gocv.VideoCaptureFPS, capture.FPS)

	w := int(vc.Get(gocv.VideoCaptureFrameWidth))
	h := int(vc.Get(gocv.VideoCaptureFrameHeight))
	if err := checkGeometry(w, h); err != nil {
		vc.Close()
		return nil, err
	}

	logger.WithComponent("webcam").Info().
		Int("index", index).
		Float64("fps", vc.Get(gocv.VideoCaptureFPS)).
		Msg("OpenCV camera opened")

	return &OpenCV{
		vc:    vc,
		bgr:   gocv.NewMat(),
		bgra:  gocv.NewMat(),
		frame: make([]byte, capture.FrameSize),
	}, nil
}

// Capture grabs the next frame. The Mats are reused across calls, so the BGRA bytes are
// copied into a buffer the source owns before returning.
func (c *OpenCV) Capture() ([]byte, *pose.Pose, error) {
	if ok := c.vc.Read(&c.bgr); !ok || c.bgr.Empty() {
		return nil, nil, capture.ErrTimeout
	}
	if err := checkGeometry(c.bgr.Cols(), c.bgr.Rows()); err != nil {
		return nil, nil, err
	}

	gocv.CvtColor(c.bgr, &c.bgra, gocv.ColorBGRToBGRA)

	data, err := c.bgra.DataPtrUint8()
	if err != nil {
		return nil, nil, capture.Fatal(name, fmt.Errorf("read converted frame: %w", err))
	}
	if len(data) != capture.FrameSize {
		return nil, nil, capture.Fatal(name, fmt.Errorf("converted frame is %d bytes, need %d", len(data), capture.FrameSize))
	}
	copy(c.frame, data)
	return c.frame, nil, nil
}

func (c *OpenCV) Name() string { return name }

func (c *OpenCV) Close() error {
	c.bgr.Close()
	c.bgra.Close()
	return c.vc.Close()
}
