package pipeline

import (
	"errors"
	"fmt"

	"github.com/bryanchriswhite/MixedView/internal/capture"
	"github.com/bryanchriswhite/MixedView/internal/gpu"
)

var (
	// ErrConsumerGone is the producer's normal exit: the Receiver was closed.
	ErrConsumerGone = errors.New("capture consumer closed")
	// ErrCameraGone is returned by the Receiver once the producer has exited.
	ErrCameraGone = errors.New("camera is gone")
	// ErrReceiverClosed is returned when a closed Receiver is used.
	ErrReceiverClosed = errors.New("receiver closed")
	// ErrProducerStuck is returned by Receiver.Stop when the producer outlives the wait.
	ErrProducerStuck = errors.New("capture producer did not exit")
)

// FrameSizeError is raised when a source hands over a frame of the wrong length.
type FrameSizeError struct {
	Got, Want int
}

func (e *FrameSizeError) Error() string {
	return fmt.Sprintf("frame is %d bytes, capture image needs exactly %d", e.Got, e.Want)
}

// ImageError rejects a capture image the recorder cannot write into.
type ImageError struct {
	Reason string
	Info   gpu.ImageInfo
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("unusable capture image (%dx%d %s): %s",
		e.Info.Width, e.Info.Height, e.Info.Format, e.Reason)
}

// RecordError is a GPU fault raised while recording a frame's upload.
type RecordError struct {
	Source string
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record frame from %s: %v", e.Source, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// PanicError carries a panic recovered on the producer goroutine.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("capture producer panicked: %v", e.Value)
}

type action int

const (
	actionContinue action = iota
	actionStop
	actionFail
)

// classify decides what the loop does with an error.
func classify(err error) action {
	switch {
	case errors.Is(err, capture.ErrTimeout), errors.Is(err, gpu.ErrAllocatorExhausted):
		return actionContinue
	case errors.Is(err, ErrConsumerGone):
		return actionStop
	default:
		return actionFail
	}
}

// isProgrammerError reports faults that come from wiring mistakes rather than devices.
func isProgrammerError(err error) bool {
	var fse *FrameSizeError
	var ie *ImageError
	return errors.As(err, &fse) || errors.As(err, &ie)
}
