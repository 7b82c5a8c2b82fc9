package pipeline

import (
	"context"
	"fmt"

	"github.com/bryanchriswhite/MixedView/internal/capture"
	"github.com/bryanchriswhite/MixedView/internal/gpu"
)

// CaptureImageInfo describes the shared capture image. Transfer-src is required by the
// compositor barrier.
func CaptureImageInfo() gpu.ImageInfo {
	return gpu.ImageInfo{
		Width:         capture.Width,
		Height:        capture.Height,
		Format:        gpu.FormatB8G8R8A8SRGB,
		Usage:         gpu.UsageSampled | gpu.UsageTransferDst | gpu.UsageTransferSrc,
		MipLevels:     1,
		ArrayLayers:   1,
		DefaultLayout: gpu.LayoutShaderReadOnly,
	}
}

// NewCaptureImage allocates the capture image and moves it into its default layout.
func NewCaptureImage(ctx context.Context, mem gpu.MemoryAllocator, cmds gpu.CommandAllocator, queue gpu.Queue) (gpu.Image, error) {
	info := CaptureImageInfo()
	img, err := mem.CreateImage(info)
	if err != nil {
		return nil, fmt.Errorf("create capture image: %w", err)
	}

	b, err := cmds.Begin(queue.FamilyIndex(), gpu.OneTimeSubmit)
	if err != nil {
		return nil, fmt.Errorf("begin layout init: %w", err)
	}
	b.PipelineBarrier(gpu.ImageBarrier{
		Image:     img,
		OldLayout: gpu.LayoutUndefined,
		NewLayout: info.DefaultLayout,
		SrcStage:  gpu.StageTopOfPipe,
		DstStage:  gpu.StageFragmentShader,
		DstAccess: gpu.AccessShaderRead,
	})
	cb, err := b.End()
	if err != nil {
		return nil, fmt.Errorf("end layout init: %w", err)
	}
	defer cb.Release()

	fence, err := queue.Submit(cb)
	if err != nil {
		return nil, fmt.Errorf("submit layout init: %w", err)
	}
	if err := fence.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for layout init: %w", err)
	}
	return img, nil
}
