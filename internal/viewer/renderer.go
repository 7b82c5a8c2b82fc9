// Package viewer is the render side of the capture pipeline: it drains recorded frames,
// submits them in capture order and hands the shared image to the VR compositor.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/MixedView/internal/capture"
	"github.com/bryanchriswhite/MixedView/internal/flags"
	"github.com/bryanchriswhite/MixedView/internal/fps"
	"github.com/bryanchriswhite/MixedView/internal/gpu"
	"github.com/bryanchriswhite/MixedView/internal/logger"
	"github.com/bryanchriswhite/MixedView/internal/openvr"
	"github.com/bryanchriswhite/MixedView/internal/pipeline"
	"github.com/bryanchriswhite/MixedView/internal/pose"
)

// TextureFunc exports the capture image for the compositor.
type TextureFunc func(img gpu.Image) (openvr.VulkanTexture, error)

// Halves of the side-by-side stereo frame.
var (
	LeftBounds  = openvr.Bounds{UMin: 0, VMin: 0, UMax: 0.5, VMax: 1}
	RightBounds = openvr.Bounds{UMin: 0.5, VMin: 0, UMax: 1, VMax: 1}
)

// Option configures a Renderer.
type Option func(*Renderer)

// WithCompositor submits each frame to comp. texture exports the capture image once.
func WithCompositor(comp openvr.Compositor, texture TextureFunc) Option {
	return func(r *Renderer) {
		r.comp = comp
		r.textureFn = texture
	}
}

// WithFlags publishes to store instead of the process-wide one.
func WithFlags(store *flags.Store) Option {
	return func(r *Renderer) { r.flags = store }
}

// WithMaxFPS caps Run. Zero leaves pacing to the compositor's pose wait, or to the
// capture rate when no compositor is attached.
func WithMaxFPS(n int) Option {
	return func(r *Renderer) { r.maxFPS = n }
}

// WithRendererPose is consulted when a frame carries no pose of its own.
func WithRendererPose(fn func() *pose.Pose) Option {
	return func(r *Renderer) { r.rendererPose = fn }
}

// Renderer owns the consumer end of a capture pipeline. Frame and Run must be called from
// one goroutine; Status and Pose may be called from any.
type Renderer struct {
	queue    gpu.Queue
	image    gpu.Image
	recv     *pipeline.Receiver
	barriers *pipeline.CompositorBarriers

	comp         openvr.Compositor
	textureFn    TextureFunc
	texture      *openvr.VulkanTexture
	flags        *flags.Store
	maxFPS       int
	rendererPose func() *pose.Pose

	counter  *fps.Counter
	inflight []gpu.Fence
	// barrier fences of the previous frame; the barrier buffers cannot be enqueued again
	// until they complete.
	startFence gpu.Fence
	endFence   gpu.Fence

	mu         sync.Mutex
	lastPose   *pose.Pose
	cameraGone bool
	lastErr    error
	submitted  uint64
	frames     uint64
	renderFPS  float64
}

// New records the compositor barriers with cmds and returns a renderer for recv.
func New(queue gpu.Queue, cmds gpu.CommandAllocator, image gpu.Image, recv *pipeline.Receiver, opts ...Option) (*Renderer, error) {
	barriers, err := pipeline.NewCompositorBarriers(cmds, image, queue.FamilyIndex())
	if err != nil {
		return nil, fmt.Errorf("record compositor barriers: %w", err)
	}
	r := &Renderer{
		queue:    queue,
		image:    image,
		recv:     recv,
		barriers: barriers,
		flags:    flags.Global(),
		counter:  fps.New(fps.DefaultWindow),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Frame renders one frame: it submits every waiting upload, then brackets the compositor
// submission with the barrier commands. Compositor errors are returned after the end
// barrier has been submitted.
func (r *Renderer) Frame(ctx context.Context) error {
	r.retire()

	if err := r.drain(); err != nil {
		return err
	}

	var compErr error
	if r.comp != nil {
		compErr = r.present(ctx)
	}

	r.counter.Tick()
	rate := r.counter.FPS()
	r.flags.Set(flags.RenderFPS, rate)

	r.mu.Lock()
	r.frames++
	r.renderFPS = rate
	if compErr != nil {
		r.lastErr = compErr
	}
	r.mu.Unlock()
	return compErr
}

// drain submits every packet that is ready, in capture order.
func (r *Renderer) drain() error {
	for {
		p, ok, err := r.recv.TryRecv()
		switch {
		case errors.Is(err, pipeline.ErrCameraGone):
			r.noticeCameraGone()
			return nil
		case err != nil:
			return err
		case !ok:
			return nil
		}

		fence, err := r.queue.Submit(p.Commands)
		p.Release()
		if err != nil {
			return fmt.Errorf("submit frame %d: %w", p.Sequence, err)
		}
		r.inflight = append(r.inflight, fence)

		r.mu.Lock()
		r.submitted++
		if p.Pose != nil {
			r.lastPose = p.Pose
		} else if r.rendererPose != nil {
			r.lastPose = r.rendererPose()
		}
		r.mu.Unlock()
	}
}

func (r *Renderer) noticeCameraGone() {
	r.mu.Lock()
	if r.cameraGone {
		r.mu.Unlock()
		return
	}
	r.cameraGone = true
	cause := r.recv.Err()
	if cause != nil {
		r.lastErr = cause
	}
	r.mu.Unlock()

	ev := logger.WithComponent("viewer").Error().Str("source", r.recv.Source())
	if cause != nil {
		ev = ev.Err(cause)
		r.flags.Set(flags.CameraError, cause.Error())
	} else {
		r.flags.Set(flags.CameraError, pipeline.ErrCameraGone.Error())
	}
	ev.Msg("Camera gone, keeping last frame")
}

func (r *Renderer) present(ctx context.Context) error {
	if r.texture == nil {
		if r.textureFn == nil {
			return errors.New("compositor attached without a texture export")
		}
		tex, err := r.textureFn(r.image)
		if err != nil {
			return fmt.Errorf("export capture image: %w", err)
		}
		r.texture = &tex
	}

	if err := r.comp.WaitGetPoses(); err != nil {
		return fmt.Errorf("wait for poses: %w", err)
	}

	if err := waitFence(ctx, r.startFence); err != nil {
		return err
	}
	start, err := r.queue.Submit(r.barriers.Start)
	if err != nil {
		return fmt.Errorf("submit start barrier: %w", err)
	}
	r.startFence = start

	submitErr := errors.Join(
		r.comp.Submit(openvr.EyeLeft, *r.texture, LeftBounds),
		r.comp.Submit(openvr.EyeRight, *r.texture, RightBounds),
	)

	if err := waitFence(ctx, r.endFence); err != nil {
		return errors.Join(submitErr, err)
	}
	end, err := r.queue.Submit(r.barriers.End)
	if err != nil {
		return errors.Join(submitErr, fmt.Errorf("submit end barrier: %w", err))
	}
	r.endFence = end

	if submitErr != nil {
		return fmt.Errorf("compositor submit: %w", submitErr)
	}
	return nil
}

func waitFence(ctx context.Context, f gpu.Fence) error {
	if f == nil || f.Signaled() {
		return nil
	}
	if err := f.Wait(ctx); err != nil {
		return fmt.Errorf("wait for previous barrier: %w", err)
	}
	return nil
}

// retire drops upload fences that have signaled.
func (r *Renderer) retire() {
	kept := r.inflight[:0]
	for _, f := range r.inflight {
		if !f.Signaled() {
			kept = append(kept, f)
		}
	}
	for i := len(kept); i < len(r.inflight); i++ {
		r.inflight[i] = nil
	}
	r.inflight = kept
}

// Run renders until ctx is done, capped at the configured rate.
func (r *Renderer) Run(ctx context.Context) error {
	log := logger.WithComponent("viewer")

	rate := r.maxFPS
	if rate == 0 && r.comp == nil {
		// nothing blocks in Frame without a compositor
		rate = capture.FPS
	}

	var tick <-chan time.Time
	if rate > 0 {
		t := time.NewTicker(time.Second / time.Duration(rate))
		defer t.Stop()
		tick = t.C
	}

	log.Info().
		Int("max_fps", rate).
		Bool("compositor", r.comp != nil).
		Msg("Render loop started")

	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		} else {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
		}

		if err := r.Frame(ctx); err != nil {
			if errors.Is(err, pipeline.ErrReceiverClosed) {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Msg("Frame failed")
		}
	}
}

// Close waits for in-flight work and releases the barrier commands.
func (r *Renderer) Close(ctx context.Context) error {
	var errs []error
	for _, f := range append(r.inflight, r.startFence, r.endFence) {
		if f == nil {
			continue
		}
		if err := f.Wait(ctx); err != nil {
			errs = append(errs, err)
			break
		}
	}
	r.inflight = nil
	r.barriers.Release()
	return errors.Join(errs...)
}

// Pose returns the most recent pose a frame carried, nil before the first one.
func (r *Renderer) Pose() *pose.Pose {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastPose
}
