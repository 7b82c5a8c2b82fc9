package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryanchriswhite/MixedView/internal/capture"
	"github.com/bryanchriswhite/MixedView/internal/flags"
	"github.com/bryanchriswhite/MixedView/internal/gpu"
	"github.com/bryanchriswhite/MixedView/internal/gpu/gputest"
	"github.com/bryanchriswhite/MixedView/internal/logger"
	"github.com/bryanchriswhite/MixedView/internal/pose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// step is one scripted Capture result.
type step struct {
	frame []byte
	pose  *pose.Pose
	err   error
	panic any
}

// scriptedSource replays steps. Afterwards it blocks on hold when set, otherwise it keeps
// returning numbered frames.
type scriptedSource struct {
	mu     sync.Mutex
	steps  []step
	hold   chan struct{}
	calls  atomic.Int64
	closed atomic.Bool
	next   byte
}

func (s *scriptedSource) Capture() ([]byte, *pose.Pose, error) {
	s.calls.Add(1)
	s.mu.Lock()
	if len(s.steps) > 0 {
		st := s.steps[0]
		s.steps = s.steps[1:]
		s.mu.Unlock()
		if st.panic != nil {
			panic(st.panic)
		}
		return st.frame, st.pose, st.err
	}
	if s.hold != nil {
		s.mu.Unlock()
		<-s.hold
		return nil, nil, capture.ErrTimeout
	}
	s.next++
	n := s.next
	s.mu.Unlock()
	return numberedFrame(n), nil, nil
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Close() error {
	s.closed.Store(true)
	return nil
}

func numberedFrame(n byte) []byte {
	f := make([]byte, capture.FrameSize)
	f[0] = n
	return f
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	logger.SetOutput(buf)
	t.Cleanup(func() { logger.SetOutput(os.Stderr) })
	return buf
}

func start(t *testing.T, src capture.Source, dev *gputest.Device, opts ...Option) (gpu.Image, *Receiver) {
	t.Helper()
	img, r, err := Start(context.Background(), src, dev.Queue(), dev.MemoryAllocator(), dev, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		r.Close()
		waitExit(t, r)
	})
	return img, r
}

func recv(t *testing.T, r *Receiver) Packet {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p, err := r.Recv(ctx)
	require.NoError(t, err)
	return p
}

func waitExit(t *testing.T, r *Receiver) {
	t.Helper()
	select {
	case <-r.Exited():
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not exit")
	}
}

// Dummy source, 10 frames: every packet has no pose and the published rate stays
// within 10% of the capture rate.
func TestDummySourceTenFrames(t *testing.T) {
	dev := gputest.New()
	store := flags.New()
	img, r := start(t, capture.NewDummy(), dev, WithFlags(store))

	for i := 0; i < 10; i++ {
		p := recv(t, r)
		assert.Nil(t, p.Pose)
		assert.Equal(t, uint64(i+1), p.Sequence)
		_, err := dev.Submit(p.Commands)
		require.NoError(t, err)
		p.Release()
	}

	rate, ok := flags.Lookup[float64](store, flags.CameraFPS)
	require.True(t, ok, "CAMERA_FPS must be published")
	assert.LessOrEqual(t, rate, capture.FPS*1.1)

	src, _ := flags.Lookup[string](store, flags.CameraSource)
	assert.Equal(t, "dummy", src)

	fake := img.(*gputest.Image)
	assert.Equal(t, gpu.LayoutShaderReadOnly, fake.Layout())
	assert.Equal(t, 10, fake.Uploads())
	assert.Equal(t, capture.DummyPixel[:], fake.Pixels()[:4])
	assert.Empty(t, dev.ValidationErrors())
}

// Timeout spin: five timeouts then one frame yield exactly one packet and one recording.
func TestTimeoutsRecordNothing(t *testing.T) {
	dev := gputest.New()
	steps := make([]step, 0, 6)
	for i := 0; i < 5; i++ {
		steps = append(steps, step{err: capture.ErrTimeout})
	}
	steps = append(steps, step{frame: numberedFrame(42)})
	hold := make(chan struct{})
	src := &scriptedSource{steps: steps, hold: hold}

	_, r := start(t, src, dev, WithFlags(flags.New()))
	defer close(hold)
	beginsAfterInit := dev.Begins()

	p := recv(t, r)
	assert.Equal(t, uint64(1), p.Sequence)
	p.Release()

	// the producer is parked inside the seventh capture
	require.Eventually(t, func() bool { return src.calls.Load() == 7 }, time.Second, time.Millisecond)

	stats := r.Stats()
	assert.Equal(t, uint64(5), stats.Timeouts)
	assert.Equal(t, uint64(1), stats.Delivered)
	assert.Equal(t, 1, dev.Begins()-beginsAfterInit)
	assert.Equal(t, 1, dev.StagingAllocations())

	_, ok, err := r.TryRecv()
	require.NoError(t, err)
	assert.False(t, ok, "no second packet")
}

// N consecutive timeouts produce no sends and no command buffer allocations.
func TestTimeoutIdempotence(t *testing.T) {
	dev := gputest.New()
	steps := make([]step, 50)
	for i := range steps {
		steps[i].err = capture.ErrTimeout
	}
	hold := make(chan struct{})
	src := &scriptedSource{steps: steps, hold: hold}

	_, r := start(t, src, dev, WithFlags(flags.New()))
	defer close(hold)
	beginsAfterInit := dev.Begins()

	require.Eventually(t, func() bool { return r.Stats().Timeouts == 50 }, time.Second, time.Millisecond)
	_, ok, err := r.TryRecv()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, beginsAfterInit, dev.Begins())
	assert.Equal(t, 0, dev.StagingAllocations())
	assert.Equal(t, uint64(0), r.Stats().Delivered)
}

// Consumer drop mid-stream: after three packets the receiver is closed and the producer
// exits quietly within one more capture.
func TestConsumerCloseIsQuiet(t *testing.T) {
	logs := captureLogs(t)
	dev := gputest.New()
	src := &scriptedSource{}
	_, r, err := Start(context.Background(), src, dev, dev, dev, WithFlags(flags.New()))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		p := recv(t, r)
		_, err := dev.Submit(p.Commands)
		require.NoError(t, err)
	}
	// producer is parked on the slot with frame 5 in hand
	require.Eventually(t, func() bool { return src.calls.Load() == 5 }, time.Second, time.Millisecond)
	before := logs.Len()

	r.Close()
	waitExit(t, r)

	assert.LessOrEqual(t, src.calls.Load(), int64(6), "at most one further capture")
	assert.True(t, src.closed.Load(), "source closed on exit")
	assert.NoError(t, r.Err())
	assert.Equal(t, before, logs.Len(), "no log output on consumer close: %s", logs.String())
	assert.Equal(t, 0, dev.LiveStaging(), "undelivered staging released")

	_, _, err = r.TryRecv()
	assert.ErrorIs(t, err, ErrReceiverClosed)
}

// Fatal source error: the producer stops, the receiver sees the channel closed and the
// fault carries the source name.
func TestFatalSourceError(t *testing.T) {
	dev := gputest.New()
	store := flags.New()
	src := &scriptedSource{steps: []step{{err: errors.New("open failed")}}}
	_, r := start(t, src, dev, WithFlags(store))

	waitExit(t, r)

	_, ok, err := r.TryRecv()
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrCameraGone)

	var fe *capture.FatalError
	require.ErrorAs(t, r.Err(), &fe)
	assert.Equal(t, "scripted", fe.Source)
	assert.Contains(t, r.Err().Error(), "open failed")

	msg, ok := flags.Lookup[string](store, flags.CameraError)
	require.True(t, ok)
	assert.Contains(t, msg, "scripted camera: open failed")
	assert.True(t, src.closed.Load())
}

// gatedSource holds its first Capture until gate is closed.
type gatedSource struct {
	*scriptedSource
	gate chan struct{}
}

func (g *gatedSource) Capture() ([]byte, *pose.Pose, error) {
	<-g.gate
	return g.scriptedSource.Capture()
}

// A GPU fault while recording names the recording step, not the camera.
func TestRecordErrorIsNotBlamedOnCamera(t *testing.T) {
	dev := gputest.New()
	store := flags.New()
	src := &gatedSource{scriptedSource: &scriptedSource{}, gate: make(chan struct{})}
	_, r := start(t, src, dev, WithFlags(store))

	dev.FailBegin(errors.New("device lost"))
	close(src.gate)
	waitExit(t, r)

	var re *RecordError
	require.ErrorAs(t, r.Err(), &re)
	assert.Equal(t, "scripted", re.Source)
	assert.True(t, strings.HasPrefix(r.Err().Error(), "record frame from scripted: "), r.Err().Error())
	assert.Contains(t, r.Err().Error(), "device lost")

	var fe *capture.FatalError
	assert.False(t, errors.As(r.Err(), &fe), "recorder faults are not camera faults")

	msg, ok := flags.Lookup[string](store, flags.CameraError)
	require.True(t, ok)
	assert.NotContains(t, msg, "scripted camera")
	assert.Equal(t, 0, dev.LiveStaging(), "staging released on failed record")
}

// Stop reports a producer that is still inside its source after the wait.
func TestStopReportsStuckProducer(t *testing.T) {
	dev := gputest.New()
	hold := make(chan struct{})
	src := &scriptedSource{hold: hold}
	_, r := start(t, src, dev, WithFlags(flags.New()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := r.Stop(ctx)
	require.ErrorIs(t, err, ErrProducerStuck)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, src.closed.Load(), "source still owned by the producer")

	close(hold)
	require.NoError(t, r.Stop(context.Background()))
	assert.True(t, src.closed.Load())
}

func TestSourcePanicIsContained(t *testing.T) {
	dev := gputest.New()
	src := &scriptedSource{steps: []step{{panic: "driver blew up"}}}
	_, r := start(t, src, dev, WithFlags(flags.New()))

	waitExit(t, r)

	var pe *PanicError
	require.ErrorAs(t, r.Err(), &pe)
	assert.Equal(t, "driver blew up", pe.Value)
	assert.True(t, src.closed.Load(), "source closed after panic")
}

func TestPartialFrameStopsProducer(t *testing.T) {
	dev := gputest.New()
	src := &scriptedSource{steps: []step{{frame: make([]byte, 100)}}}
	_, r := start(t, src, dev, WithFlags(flags.New()))

	waitExit(t, r)

	var fse *FrameSizeError
	require.ErrorAs(t, r.Err(), &fse)
	assert.Equal(t, 100, fse.Got)
	assert.Equal(t, capture.FrameSize, fse.Want)
}

// Backpressure: while the renderer stops draining, the producer parks on the slot and
// allocates no further staging.
func TestBackpressureBlocksProducer(t *testing.T) {
	dev := gputest.New()
	_, r := start(t, capture.NewDummy(), dev, WithFlags(flags.New()))

	time.Sleep(100 * time.Millisecond)
	allocs := dev.StagingAllocations()
	assert.LessOrEqual(t, allocs, 2, "one packet in the slot, one in the producer's hand")

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, allocs, dev.StagingAllocations())
	assert.Equal(t, uint64(1), r.Stats().Delivered)

	p := recv(t, r)
	assert.Equal(t, uint64(1), p.Sequence)
	p.Release()
}

// FIFO: packets arrive in capture order.
func TestPacketsKeepCaptureOrder(t *testing.T) {
	dev := gputest.New()
	src := &scriptedSource{}
	img, r := start(t, src, dev, WithFlags(flags.New()))
	fake := img.(*gputest.Image)

	for want := byte(1); want <= 20; want++ {
		p := recv(t, r)
		_, err := dev.Submit(p.Commands)
		require.NoError(t, err)
		assert.Equal(t, want, fake.Pixels()[0])
	}
}

// Staging exhaustion drops the frame and the producer keeps going.
func TestStagingExhaustionDropsFrame(t *testing.T) {
	dev := gputest.New(gputest.WithStagingCapacity(1))
	_, r := start(t, &scriptedSource{}, dev, WithFlags(flags.New()))
	dev.SetManualFences(true)

	p := recv(t, r)
	require.Eventually(t, func() bool { return r.Stats().Dropped > 0 }, time.Second, time.Millisecond)

	_, err := dev.Submit(p.Commands)
	require.NoError(t, err)
	assert.Equal(t, 1, dev.LiveStaging(), "region held until the fence signals")

	dev.SignalAll()
	next := recv(t, r)
	next.Release()
	assert.Empty(t, dev.ValidationErrors())
}

func TestPosePassesThrough(t *testing.T) {
	dev := gputest.New()
	want := pose.Identity()
	want.Translation.Y = 1.6
	src := &scriptedSource{steps: []step{{frame: numberedFrame(1), pose: &want}}}
	_, r := start(t, src, dev, WithFlags(flags.New()))

	p := recv(t, r)
	require.NotNil(t, p.Pose)
	assert.Equal(t, want, *p.Pose)
	p.Release()
}

type recordingTap struct {
	mu     sync.Mutex
	frames int
}

func (t *recordingTap) Offer(frame []byte, _ *pose.Pose) {
	t.mu.Lock()
	t.frames++
	t.mu.Unlock()
}

func TestTapSeesFrames(t *testing.T) {
	dev := gputest.New()
	tap := &recordingTap{}
	_, r := start(t, &scriptedSource{}, dev, WithFlags(flags.New()), WithTap(tap))

	recv(t, r).Release()
	tap.mu.Lock()
	defer tap.mu.Unlock()
	assert.GreaterOrEqual(t, tap.frames, 1)
}
