package output

import (
	"image"
)

// Output defines the interface for frame mirror outputs:
// - MJPEG HTTP stream
// - X11 window display
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame sends a full stereo frame to the output. The output scales it to its own
	// size and must not keep frame after returning.
	WriteFrame(frame *image.RGBA) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	Width  int
	Height int
	FPS    int
	// Quality is the JPEG quality, 1-100. Ignored by outputs that do not encode.
	Quality int
}

// BGRAToRGBA swizzles a tightly packed BGRA frame into dst, which must match its size.
func BGRAToRGBA(dst *image.RGBA, src []byte) {
	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	for y := 0; y < h; y++ {
		row := src[y*w*4 : (y+1)*w*4]
		out := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
		for x := 0; x < w*4; x += 4 {
			out[x+0] = row[x+2]
			out[x+1] = row[x+1]
			out[x+2] = row[x+0]
			out[x+3] = row[x+3]
		}
	}
}
