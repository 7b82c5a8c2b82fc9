package pipeline

import (
	"fmt"

	"github.com/bryanchriswhite/MixedView/internal/capture"
	"github.com/bryanchriswhite/MixedView/internal/gpu"
)

// Recorder turns CPU frames into one-time transfer command buffers that upload into a
// single capture image.
type Recorder struct {
	image  gpu.Image
	mem    gpu.MemoryAllocator
	cmds   gpu.CommandAllocator
	family uint32
}

// NewRecorder checks that image can receive BGRA uploads.
func NewRecorder(image gpu.Image, mem gpu.MemoryAllocator, cmds gpu.CommandAllocator, queueFamily uint32) (*Recorder, error) {
	info := image.Info()
	switch {
	case info.Format.BytesPerPixel() != capture.BytesPerPixel:
		return nil, &ImageError{Reason: "format is not 4 bytes per pixel", Info: info}
	case !info.Usage.Has(gpu.UsageTransferDst):
		return nil, &ImageError{Reason: "missing transfer-dst usage", Info: info}
	case info.DefaultLayout == gpu.LayoutUndefined:
		return nil, &ImageError{Reason: "no default layout", Info: info}
	}
	return &Recorder{image: image, mem: mem, cmds: cmds, family: queueFamily}, nil
}

// Record stages frame and returns a command buffer copying it into the image. The frame is
// fully copied before Record returns, so the caller may hand the buffer back to its source.
// The image leaves and re-enters its default layout inside the command buffer.
func (r *Recorder) Record(frame []byte) (gpu.CommandBuffer, error) {
	info := r.image.Info()
	if len(frame) != info.ByteSize() {
		return nil, &FrameSizeError{Got: len(frame), Want: info.ByteSize()}
	}

	chunk, err := r.mem.AllocateStaging(len(frame))
	if err != nil {
		return nil, err
	}
	stageRows(chunk.Bytes(), frame)

	b, err := r.cmds.Begin(r.family, gpu.OneTimeSubmit)
	if err != nil {
		chunk.Release()
		return nil, fmt.Errorf("begin transfer commands: %w", err)
	}
	b.PipelineBarrier(gpu.ImageBarrier{
		Image:     r.image,
		OldLayout: info.DefaultLayout,
		NewLayout: gpu.LayoutTransferDst,
		SrcStage:  gpu.StageFragmentShader,
		SrcAccess: gpu.AccessShaderRead,
		DstStage:  gpu.StageTransfer,
		DstAccess: gpu.AccessTransferWrite,
	})
	b.CopyBufferToImage(chunk, r.image)
	b.PipelineBarrier(gpu.ImageBarrier{
		Image:     r.image,
		OldLayout: gpu.LayoutTransferDst,
		NewLayout: info.DefaultLayout,
		SrcStage:  gpu.StageTransfer,
		SrcAccess: gpu.AccessTransferWrite,
		DstStage:  gpu.StageFragmentShader,
		DstAccess: gpu.AccessShaderRead,
	})

	cb, err := b.End()
	if err != nil {
		return nil, fmt.Errorf("end transfer commands: %w", err)
	}
	return cb, nil
}

// stageRows copies src into dst in ChunkSize pieces.
func stageRows(dst, src []byte) {
	for off := 0; off < len(src); off += capture.ChunkSize {
		end := off + capture.ChunkSize
		if end > len(src) {
			end = len(src)
		}
		copy(dst[off:end], src[off:end])
	}
}
