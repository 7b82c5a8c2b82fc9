package capture

import (
	"errors"
	"fmt"

	"github.com/bryanchriswhite/MixedView/internal/pose"
)

const (
	// Width of the side-by-side stereo frame.
	Width = 1920
	// Height of the stereo frame.
	Height = 960
	// FPS is the rate sources are asked for and the dummy source is paced to.
	FPS = 140
	// BytesPerPixel of a BGRA8 frame.
	BytesPerPixel = 4
	// FrameSize is the byte length of one frame.
	FrameSize = Width * Height * BytesPerPixel
	// ChunkSize is the copy granularity used when staging a frame.
	ChunkSize = Width
)

// ErrTimeout means no frame became ready within the source's internal wait. Callers retry.
var ErrTimeout = errors.New("capture timed out")

// FatalError is any failure that ends a capture session.
type FatalError struct {
	Source string
	Err    error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s camera: %v", e.Source, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as a FatalError of the named source.
func Fatal(source string, err error) error {
	return &FatalError{Source: source, Err: err}
}

// IsTimeout reports whether err is a capture timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Source produces BGRA8 frames of FrameSize bytes.
//
// Capture blocks until a frame is ready, returns ErrTimeout when none arrived within the
// source's own wait, or any other error when the source is unusable. The returned slice is
// only valid until the next call to Capture or Close. A nil pose means the renderer should
// use its own tracking.
//
// A Source is owned by one goroutine at a time and never calls back into the caller.
type Source interface {
	Capture() ([]byte, *pose.Pose, error)
	Name() string
	Close() error
}
