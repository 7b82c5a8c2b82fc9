package pipeline

import (
	"fmt"

	"github.com/bryanchriswhite/MixedView/internal/gpu"
)

// CompositorBarriers are the two reusable command buffers that bracket every compositor
// submission: Start moves the capture image to transfer-src, End moves it back.
type CompositorBarriers struct {
	Start gpu.CommandBuffer
	End   gpu.CommandBuffer
}

// NewCompositorBarriers records both barriers once.
func NewCompositorBarriers(cmds gpu.CommandAllocator, image gpu.Image, queueFamily uint32) (*CompositorBarriers, error) {
	start, err := StartBarrier(cmds, image, queueFamily)
	if err != nil {
		return nil, err
	}
	end, err := EndBarrier(cmds, image, queueFamily)
	if err != nil {
		start.Release()
		return nil, err
	}
	return &CompositorBarriers{Start: start, End: end}, nil
}

// Release drops both command buffers.
func (b *CompositorBarriers) Release() {
	b.Start.Release()
	b.End.Release()
}

// StartBarrier transitions image from its default layout to transfer-src.
func StartBarrier(cmds gpu.CommandAllocator, image gpu.Image, queueFamily uint32) (gpu.CommandBuffer, error) {
	return recordBarrier(cmds, queueFamily, gpu.ImageBarrier{
		Image:     image,
		OldLayout: image.Info().DefaultLayout,
		NewLayout: gpu.LayoutTransferSrc,
		SrcStage:  gpu.StageTransfer,
		SrcAccess: gpu.AccessTransferRead,
		DstStage:  gpu.StageTransfer,
		DstAccess: gpu.AccessTransferRead,
	})
}

// EndBarrier transitions image from transfer-src back to its default layout.
func EndBarrier(cmds gpu.CommandAllocator, image gpu.Image, queueFamily uint32) (gpu.CommandBuffer, error) {
	return recordBarrier(cmds, queueFamily, gpu.ImageBarrier{
		Image:     image,
		OldLayout: gpu.LayoutTransferSrc,
		NewLayout: image.Info().DefaultLayout,
		SrcStage:  gpu.StageTransfer,
		SrcAccess: gpu.AccessTransferRead,
		DstStage:  gpu.StageTopOfPipe,
		DstAccess: gpu.AccessNone,
	})
}

func recordBarrier(cmds gpu.CommandAllocator, queueFamily uint32, barrier gpu.ImageBarrier) (gpu.CommandBuffer, error) {
	b, err := cmds.Begin(queueFamily, gpu.MultipleSubmit)
	if err != nil {
		return nil, fmt.Errorf("begin barrier commands: %w", err)
	}
	b.PipelineBarrier(barrier)
	cb, err := b.End()
	if err != nil {
		return nil, fmt.Errorf("end barrier commands: %w", err)
	}
	return cb, nil
}
