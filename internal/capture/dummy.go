package capture

import (
	"time"

	"github.com/bryanchriswhite/MixedView/internal/pose"
)

// DummyPixel is the BGRA value every dummy pixel carries.
var DummyPixel = [BytesPerPixel]byte{57, 45, 45, 255}

// Dummy is a device-free source that returns a constant frame paced to FPS.
type Dummy struct {
	frame    []byte
	interval time.Duration
	last     time.Time
	sleep    func(time.Duration)
	now      func() time.Time
}

// NewDummy builds the constant frame once.
func NewDummy() *Dummy {
	frame := make([]byte, FrameSize)
	for i := 0; i < len(frame); i += BytesPerPixel {
		copy(frame[i:i+BytesPerPixel], DummyPixel[:])
	}
	return &Dummy{
		frame:    frame,
		interval: time.Duration(1000/FPS) * time.Millisecond,
		sleep:    time.Sleep,
		now:      time.Now,
	}
}

// Capture sleeps out the rest of the frame interval, then returns the pattern.
func (d *Dummy) Capture() ([]byte, *pose.Pose, error) {
	if !d.last.IsZero() {
		if wait := d.interval - d.now().Sub(d.last); wait > 0 {
			d.sleep(wait)
		}
	}
	d.last = d.now()
	return d.frame, nil, nil
}

func (d *Dummy) Name() string { return "dummy" }

func (d *Dummy) Close() error { return nil }
