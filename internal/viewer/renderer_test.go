package viewer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/MixedView/internal/capture"
	"github.com/bryanchriswhite/MixedView/internal/flags"
	"github.com/bryanchriswhite/MixedView/internal/gpu"
	"github.com/bryanchriswhite/MixedView/internal/gpu/gputest"
	"github.com/bryanchriswhite/MixedView/internal/logger"
	"github.com/bryanchriswhite/MixedView/internal/openvr"
	"github.com/bryanchriswhite/MixedView/internal/openvr/openvrtest"
	"github.com/bryanchriswhite/MixedView/internal/pipeline"
	"github.com/bryanchriswhite/MixedView/internal/pose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSource yields frames numbered 1..n with a pose whose Y translation is the frame
// number, then fails with fatal.
type countingSource struct {
	n     int
	sent  int
	fatal error
}

func (s *countingSource) Capture() ([]byte, *pose.Pose, error) {
	if s.sent >= s.n {
		if s.fatal != nil {
			return nil, nil, s.fatal
		}
		time.Sleep(time.Millisecond)
		return nil, nil, capture.ErrTimeout
	}
	s.sent++
	f := make([]byte, capture.FrameSize)
	f[0] = byte(s.sent)
	p := pose.Identity()
	p.Translation.Y = float32(s.sent)
	return f, &p, nil
}

func (s *countingSource) Name() string { return "counting" }
func (s *countingSource) Close() error { return nil }

// layoutCompositor records the capture image layout seen at each submit.
type layoutCompositor struct {
	openvrtest.Compositor
	img *gputest.Image

	mu      sync.Mutex
	layouts []gpu.Layout
}

func (c *layoutCompositor) Submit(eye openvr.Eye, tex openvr.VulkanTexture, b openvr.Bounds) error {
	c.mu.Lock()
	c.layouts = append(c.layouts, c.img.Layout())
	c.mu.Unlock()
	return c.Compositor.Submit(eye, tex, b)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func fakeTexture(img gpu.Image) (openvr.VulkanTexture, error) {
	info := img.Info()
	return openvr.VulkanTexture{Image: 1, Width: info.Width, Height: info.Height}, nil
}

func setup(t *testing.T, src capture.Source, opts ...Option) (*gputest.Device, *gputest.Image, *pipeline.Receiver, *Renderer, *flags.Store) {
	t.Helper()
	dev := gputest.New()
	store := flags.New()
	img, recv, err := pipeline.Start(context.Background(), src, dev.Queue(), dev.MemoryAllocator(), dev, pipeline.WithFlags(store))
	require.NoError(t, err)
	t.Cleanup(recv.Close)

	r, err := New(dev.Queue(), dev, img, recv, append([]Option{WithFlags(store)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return dev, img.(*gputest.Image), recv, r, store
}

func frameUntil(t *testing.T, r *Renderer, done func(Status) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !done(r.Status()) {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached, status %+v", r.Status())
		}
		_ = r.Frame(context.Background())
		time.Sleep(time.Millisecond)
	}
}

// Every delivered frame is submitted in order and the renderer keeps the newest pose.
func TestFrameSubmitsInOrderAndKeepsLastPose(t *testing.T) {
	dev, img, _, r, _ := setup(t, &countingSource{n: 5})

	frameUntil(t, r, func(s Status) bool { return s.Submitted == 5 })

	require.NotNil(t, r.Pose())
	assert.Equal(t, float32(5), r.Pose().Translation.Y)
	assert.Equal(t, byte(5), img.Pixels()[0])
	assert.Equal(t, gpu.LayoutShaderReadOnly, img.Layout())
	assert.Empty(t, dev.ValidationErrors())
}

// Frames without a pose fall back to the renderer's own tracking.
func TestRendererPoseFallback(t *testing.T) {
	own := pose.Identity()
	own.Translation.Z = -2
	_, _, _, r, _ := setup(t, capture.NewDummy(), WithRendererPose(func() *pose.Pose { return &own }))

	frameUntil(t, r, func(s Status) bool { return s.Submitted >= 1 })
	require.NotNil(t, r.Pose())
	assert.Equal(t, float32(-2), r.Pose().Translation.Z)
}

// The compositor only ever sees the capture image in transfer-src, and the image is back
// in its default layout once the frame is done.
func TestCompositorSubmissionIsBracketed(t *testing.T) {
	comp := &layoutCompositor{}
	dev, img, _, r, _ := setup(t, &countingSource{n: 2}, WithCompositor(comp, fakeTexture))
	comp.img = img

	frameUntil(t, r, func(s Status) bool { return s.Submitted == 2 && s.Frames >= 2 })

	subs := comp.Submissions()
	require.GreaterOrEqual(t, len(subs), 4)
	assert.Equal(t, openvr.EyeLeft, subs[0].Eye)
	assert.Equal(t, LeftBounds, subs[0].Bounds)
	assert.Equal(t, openvr.EyeRight, subs[1].Eye)
	assert.Equal(t, RightBounds, subs[1].Bounds)
	assert.Equal(t, uint32(capture.Width), subs[0].Texture.Width)
	assert.Equal(t, comp.Waits(), len(subs)/2)

	comp.mu.Lock()
	for _, l := range comp.layouts {
		assert.Equal(t, gpu.LayoutTransferSrc, l)
	}
	comp.mu.Unlock()

	assert.Equal(t, gpu.LayoutShaderReadOnly, img.Layout())
	assert.Empty(t, dev.ValidationErrors())
}

// A failing compositor is reported but the end barrier still runs.
func TestCompositorErrorStillRestoresLayout(t *testing.T) {
	comp := &openvrtest.Compositor{SubmitErr: errors.New("compositor not ready")}
	dev, img, _, r, _ := setup(t, capture.NewDummy(), WithCompositor(comp, fakeTexture))

	err := r.Frame(context.Background())
	assert.ErrorContains(t, err, "compositor not ready")
	assert.Equal(t, gpu.LayoutShaderReadOnly, img.Layout())
	assert.Contains(t, r.Status().LastError, "compositor not ready")
	assert.Empty(t, dev.ValidationErrors())
}

// A dead camera is noticed once: one error log, CAMERA_ERROR published, last frame kept.
func TestCameraGoneNoticedOnce(t *testing.T) {
	buf := &syncBuffer{}
	logger.SetOutput(buf)
	t.Cleanup(func() { logger.SetOutput(os.Stderr) })

	src := &countingSource{n: 1, fatal: capture.Fatal("counting", errors.New("unplugged"))}
	_, img, recv, r, store := setup(t, src)

	frameUntil(t, r, func(s Status) bool { return !s.Running })
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Frame(context.Background()))
	}

	assert.Equal(t, 1, strings.Count(buf.String(), "Camera gone"))
	msg, ok := flags.Lookup[string](store, flags.CameraError)
	require.True(t, ok)
	assert.Contains(t, msg, "unplugged")
	assert.ErrorContains(t, recv.Err(), "counting camera")
	assert.Contains(t, r.Status().LastError, "unplugged")
	assert.Equal(t, byte(1), img.Pixels()[0])
}

func TestStatusReportsSession(t *testing.T) {
	_, _, recv, r, store := setup(t, capture.NewDummy())
	frameUntil(t, r, func(s Status) bool { return s.Submitted >= 3 })

	s := r.Status()
	assert.Equal(t, recv.ID().String(), s.Session)
	assert.Equal(t, "dummy", s.Source)
	assert.True(t, s.Running)
	assert.GreaterOrEqual(t, s.Delivered, s.Submitted)
	assert.False(t, s.Compositor)

	_, ok := flags.Lookup[float64](store, flags.RenderFPS)
	assert.True(t, ok)
}

func TestRunStopsWithContext(t *testing.T) {
	_, _, _, r, _ := setup(t, capture.NewDummy(), WithMaxFPS(200))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Run(ctx))
	assert.Greater(t, r.Status().Frames, uint64(0))
}

func TestClosedReceiverEndsRun(t *testing.T) {
	_, _, recv, r, _ := setup(t, capture.NewDummy())
	recv.Close()

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, pipeline.ErrReceiverClosed)
}

// Without a frame cap or a compositor the loop runs at the capture rate instead of
// spinning.
func TestUncappedRunWithoutCompositorFollowsCaptureRate(t *testing.T) {
	_, _, _, r, _ := setup(t, capture.NewDummy())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Run(ctx))

	// 200ms at 140 Hz is 28 frames
	frames := r.Status().Frames
	assert.Greater(t, frames, uint64(0))
	assert.LessOrEqual(t, frames, uint64(40))
}
