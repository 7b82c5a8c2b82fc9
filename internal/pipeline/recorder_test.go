package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/bryanchriswhite/MixedView/internal/capture"
	"github.com/bryanchriswhite/MixedView/internal/gpu"
	"github.com/bryanchriswhite/MixedView/internal/gpu/gputest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newImage(t *testing.T, dev *gputest.Device) *gputest.Image {
	t.Helper()
	img, err := NewCaptureImage(context.Background(), dev, dev, dev)
	require.NoError(t, err)
	return img.(*gputest.Image)
}

func TestCaptureImageStartsInDefaultLayout(t *testing.T) {
	dev := gputest.New()
	img := newImage(t, dev)

	info := img.Info()
	assert.Equal(t, uint32(capture.Width), info.Width)
	assert.Equal(t, uint32(capture.Height), info.Height)
	assert.Equal(t, gpu.FormatB8G8R8A8SRGB, info.Format)
	assert.True(t, info.Usage.Has(gpu.UsageSampled|gpu.UsageTransferDst))
	assert.Equal(t, gpu.LayoutShaderReadOnly, img.Layout())
	assert.Empty(t, dev.ValidationErrors())
}

func TestRecordCopiesWholeFrame(t *testing.T) {
	dev := gputest.New(gputest.WithQueueFamily(2))
	img := newImage(t, dev)
	rec, err := NewRecorder(img, dev, dev, 2)
	require.NoError(t, err)

	frame := make([]byte, capture.FrameSize)
	for i := range frame {
		frame[i] = byte(i % 251)
	}
	cb, err := rec.Record(frame)
	require.NoError(t, err)
	assert.Equal(t, gpu.OneTimeSubmit, cb.Usage())

	// the source may reuse its buffer as soon as Record returns
	for i := range frame {
		frame[i] = 0
	}

	_, err = dev.Submit(cb)
	require.NoError(t, err)
	cb.Release()

	px := img.Pixels()
	require.Len(t, px, capture.FrameSize)
	assert.Equal(t, byte(250), px[250])
	assert.Equal(t, byte((capture.FrameSize-1)%251), px[capture.FrameSize-1])
	assert.Equal(t, gpu.LayoutShaderReadOnly, img.Layout())
	assert.Empty(t, dev.ValidationErrors())
}

func TestRecordRejectsPartialFrame(t *testing.T) {
	dev := gputest.New()
	rec, err := NewRecorder(newImage(t, dev), dev, dev, 0)
	require.NoError(t, err)

	_, err = rec.Record(make([]byte, capture.FrameSize-1))
	var fse *FrameSizeError
	require.ErrorAs(t, err, &fse)
	assert.Equal(t, capture.FrameSize-1, fse.Got)
	assert.Equal(t, 0, dev.StagingAllocations())
}

func TestRecorderRejectsUnwritableImage(t *testing.T) {
	dev := gputest.New()
	info := CaptureImageInfo()
	info.Usage = gpu.UsageSampled
	img, err := dev.CreateImage(info)
	require.NoError(t, err)

	_, err = NewRecorder(img, dev, dev, 0)
	var ie *ImageError
	require.ErrorAs(t, err, &ie)
	assert.Contains(t, ie.Error(), "transfer-dst")
}

// Staging safety: a region backing a submitted command buffer stays live until the fence
// signals, and the allocator refuses to hand it out again before then.
func TestStagingHeldUntilCompletion(t *testing.T) {
	dev := gputest.New(gputest.WithStagingCapacity(1))
	img := newImage(t, dev)
	dev.SetManualFences(true)

	rec, err := NewRecorder(img, dev, dev, 0)
	require.NoError(t, err)

	frame := make([]byte, capture.FrameSize)
	cb, err := rec.Record(frame)
	require.NoError(t, err)

	fence, err := dev.Submit(cb)
	require.NoError(t, err)
	cb.Release()
	assert.False(t, fence.Signaled())
	assert.Equal(t, 1, dev.LiveStaging())

	_, err = rec.Record(frame)
	assert.True(t, errors.Is(err, gpu.ErrAllocatorExhausted))

	dev.SignalAll()
	assert.True(t, fence.Signaled())
	assert.Equal(t, 0, dev.LiveStaging())

	cb, err = rec.Record(frame)
	require.NoError(t, err)
	cb.Release()
	assert.Equal(t, 0, dev.LiveStaging(), "unsubmitted buffer returns its region on release")
	assert.Empty(t, dev.ValidationErrors())
}

// Barrier round-trip: start then end leaves the image in its starting layout without
// validation errors, frame after frame.
func TestCompositorBarrierRoundTrip(t *testing.T) {
	dev := gputest.New()
	img := newImage(t, dev)

	barriers, err := NewCompositorBarriers(dev, img, dev.FamilyIndex())
	require.NoError(t, err)
	defer barriers.Release()
	assert.Equal(t, gpu.MultipleSubmit, barriers.Start.Usage())
	assert.Equal(t, gpu.MultipleSubmit, barriers.End.Usage())

	before := img.Layout()
	for frame := 0; frame < 3; frame++ {
		_, err := dev.Submit(barriers.Start)
		require.NoError(t, err)
		assert.Equal(t, gpu.LayoutTransferSrc, img.Layout())

		_, err = dev.Submit(barriers.End)
		require.NoError(t, err)
		assert.Equal(t, before, img.Layout())
	}
	assert.Empty(t, dev.ValidationErrors())
}

func TestUnbalancedBarrierIsReported(t *testing.T) {
	dev := gputest.New()
	img := newImage(t, dev)
	barriers, err := NewCompositorBarriers(dev, img, 0)
	require.NoError(t, err)

	_, err = dev.Submit(barriers.End)
	require.NoError(t, err)
	assert.NotEmpty(t, dev.ValidationErrors())
}

func TestUploadBetweenBarriersKeepsLayout(t *testing.T) {
	dev := gputest.New()
	img := newImage(t, dev)
	rec, err := NewRecorder(img, dev, dev, 0)
	require.NoError(t, err)
	barriers, err := NewCompositorBarriers(dev, img, 0)
	require.NoError(t, err)

	cb, err := rec.Record(make([]byte, capture.FrameSize))
	require.NoError(t, err)

	_, err = dev.Submit(cb, barriers.Start)
	require.NoError(t, err)
	_, err = dev.Submit(barriers.End)
	require.NoError(t, err)

	assert.Equal(t, gpu.LayoutShaderReadOnly, img.Layout())
	assert.Empty(t, dev.ValidationErrors())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, actionContinue, classify(capture.ErrTimeout))
	assert.Equal(t, actionContinue, classify(gpu.ErrAllocatorExhausted))
	assert.Equal(t, actionStop, classify(ErrConsumerGone))
	assert.Equal(t, actionFail, classify(gpu.ErrOutOfMemory))
	assert.Equal(t, actionFail, classify(&FrameSizeError{Got: 1, Want: 2}))
}
