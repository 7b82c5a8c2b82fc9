package output

import (
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/MixedView/internal/capture"
	"github.com/bryanchriswhite/MixedView/internal/logger"
	"github.com/bryanchriswhite/MixedView/internal/pose"
)

// Tap copies captured frames to mirror outputs at a reduced rate. Offer never blocks: a
// frame is dropped when the previous one is still being converted or when it arrives
// before the rate interval has passed.
type Tap struct {
	interval time.Duration
	outputs  []Output
	overlay  Overlay

	free    chan []byte
	pending chan []byte
	done    chan struct{}
	wg      sync.WaitGroup
	stop    sync.Once

	lastOffer atomic.Int64
	accepted  atomic.Uint64
	dropped   atomic.Uint64
}

// NewTap creates a tap feeding outputs at most fps times per second. fps <= 0 disables
// rate limiting.
func NewTap(fps int, outputs ...Output) *Tap {
	t := &Tap{
		outputs: outputs,
		free:    make(chan []byte, 1),
		pending: make(chan []byte, 1),
		done:    make(chan struct{}),
	}
	if fps > 0 {
		t.interval = time.Second / time.Duration(fps)
	}
	t.free <- make([]byte, capture.FrameSize)
	return t
}

// Overlay draws onto each mirror frame after conversion.
type Overlay interface {
	Render(img *image.RGBA)
}

// SetOverlay draws o onto every frame before it reaches the outputs. Call before Start.
func (t *Tap) SetOverlay(o Overlay) {
	t.overlay = o
}

// Start launches the conversion goroutine.
func (t *Tap) Start() {
	t.wg.Add(1)
	go t.run()
}

// Stop ends the conversion goroutine. Frames offered afterwards are dropped.
func (t *Tap) Stop() {
	t.stop.Do(func() { close(t.done) })
	t.wg.Wait()
}

// Offer copies frame if the tap is ready for one.
func (t *Tap) Offer(frame []byte, _ *pose.Pose) {
	if len(frame) != capture.FrameSize {
		t.dropped.Add(1)
		return
	}
	now := time.Now().UnixNano()
	if last := t.lastOffer.Load(); t.interval > 0 && last != 0 && time.Duration(now-last) < t.interval {
		return
	}

	var buf []byte
	select {
	case buf = <-t.free:
	default:
		t.dropped.Add(1)
		return
	}
	copy(buf, frame)
	t.lastOffer.Store(now)
	t.accepted.Add(1)
	t.pending <- buf
}

// Accepted counts frames handed to the outputs.
func (t *Tap) Accepted() uint64 { return t.accepted.Load() }

// Dropped counts frames skipped because the outputs were busy.
func (t *Tap) Dropped() uint64 { return t.dropped.Load() }

func (t *Tap) run() {
	defer t.wg.Done()
	log := logger.WithComponent("mirror")
	img := image.NewRGBA(image.Rect(0, 0, capture.Width, capture.Height))

	for {
		select {
		case <-t.done:
			return
		case buf := <-t.pending:
			BGRAToRGBA(img, buf)
			t.free <- buf
			if t.overlay != nil {
				t.overlay.Render(img)
			}

			for _, out := range t.outputs {
				if !out.IsRunning() {
					continue
				}
				if err := out.WriteFrame(img); err != nil {
					log.Debug().Err(err).Str("output", out.Name()).Msg("Mirror write failed")
				}
			}
		}
	}
}
