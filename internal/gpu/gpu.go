// Package gpu is the backend-neutral boundary between the capture pipeline and the graphics
// device. The vulkan subpackage implements it on a real device and gputest on a recording fake.
package gpu

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrOutOfMemory is returned when the device cannot back an allocation.
	ErrOutOfMemory = errors.New("gpu: out of device memory")
	// ErrAllocatorExhausted means every staging region is still in flight.
	ErrAllocatorExhausted = errors.New("gpu: staging allocator exhausted")
	// ErrReleased is returned when a command buffer is used after Release.
	ErrReleased = errors.New("gpu: command buffer released")
)

// Layout is an image layout.
type Layout int

const (
	LayoutUndefined Layout = iota
	LayoutGeneral
	LayoutShaderReadOnly
	LayoutTransferSrc
	LayoutTransferDst
)

func (l Layout) String() string {
	switch l {
	case LayoutUndefined:
		return "undefined"
	case LayoutGeneral:
		return "general"
	case LayoutShaderReadOnly:
		return "shader-read-only"
	case LayoutTransferSrc:
		return "transfer-src"
	case LayoutTransferDst:
		return "transfer-dst"
	}
	return fmt.Sprintf("layout(%d)", int(l))
}

// Stage is a set of pipeline stages.
type Stage uint32

const (
	StageTopOfPipe Stage = 1 << iota
	StageTransfer
	StageFragmentShader
	StageBottomOfPipe
)

// Access is a set of memory access types.
type Access uint32

const AccessNone Access = 0

const (
	AccessTransferRead Access = 1 << iota
	AccessTransferWrite
	AccessShaderRead
)

// Format is a pixel format.
type Format int

const (
	FormatUndefined Format = iota
	FormatB8G8R8A8SRGB
	FormatB8G8R8A8Unorm
)

// BytesPerPixel returns the texel size of f.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatB8G8R8A8SRGB, FormatB8G8R8A8Unorm:
		return 4
	}
	return 0
}

func (f Format) String() string {
	switch f {
	case FormatB8G8R8A8SRGB:
		return "B8G8R8A8_SRGB"
	case FormatB8G8R8A8Unorm:
		return "B8G8R8A8_UNORM"
	}
	return "UNDEFINED"
}

// Usage is a set of image usage flags.
type Usage uint32

const (
	UsageSampled Usage = 1 << iota
	UsageTransferSrc
	UsageTransferDst
)

// Has reports whether every bit of o is set in u.
func (u Usage) Has(o Usage) bool { return u&o == o }

// CommandUsage controls how often a command buffer may be submitted.
type CommandUsage int

const (
	// OneTimeSubmit buffers are submitted once and then retired.
	OneTimeSubmit CommandUsage = iota
	// MultipleSubmit buffers can be enqueued again after the previous submission completes.
	MultipleSubmit
)

func (u CommandUsage) String() string {
	if u == MultipleSubmit {
		return "multiple-submit"
	}
	return "one-time-submit"
}

// ImageInfo describes a 2D image.
type ImageInfo struct {
	Width, Height uint32
	Format        Format
	Usage         Usage
	MipLevels     uint32
	ArrayLayers   uint32
	// DefaultLayout is the layout the renderer keeps the image in between frames.
	DefaultLayout Layout
}

// ByteSize is the tightly packed size of one mip level.
func (i ImageInfo) ByteSize() int {
	return int(i.Width) * int(i.Height) * i.Format.BytesPerPixel()
}

// Image is a device image shared between goroutines. Access is ordered by queue submission.
type Image interface {
	Info() ImageInfo
}

// ImageBarrier is a single-region image memory barrier with a layout transition.
type ImageBarrier struct {
	Image     Image
	OldLayout Layout
	NewLayout Layout
	SrcStage  Stage
	DstStage  Stage
	SrcAccess Access
	DstAccess Access
}

// StagingChunk is a host-visible region holding one upload.
type StagingChunk interface {
	Bytes() []byte
	Size() int
	// Release returns a region that was never recorded into a command buffer.
	Release()
}

// MemoryAllocator creates device images and carves staging regions. Staging regions stay
// reserved until the command buffer that references them completes or is released.
type MemoryAllocator interface {
	CreateImage(info ImageInfo) (Image, error)
	AllocateStaging(size int) (StagingChunk, error)
}

// Builder records a primary command buffer.
type Builder interface {
	PipelineBarrier(barriers ...ImageBarrier)
	CopyBufferToImage(src StagingChunk, dst Image)
	End() (CommandBuffer, error)
}

// CommandAllocator hands out builders for a queue family.
type CommandAllocator interface {
	Begin(queueFamily uint32, usage CommandUsage) (Builder, error)
}

// CommandBuffer is a recorded primary command buffer.
type CommandBuffer interface {
	Usage() CommandUsage
	// Release drops a buffer that will not be submitted again. Staging referenced by a
	// submitted buffer is kept until that submission completes.
	Release()
}

// Fence signals completion of a submission.
type Fence interface {
	Signaled() bool
	Wait(ctx context.Context) error
}

// Queue is a device queue. Submit may be called from any goroutine.
type Queue interface {
	FamilyIndex() uint32
	Submit(cmds ...CommandBuffer) (Fence, error)
}

// Device bundles the pieces the viewer needs from one backend.
type Device interface {
	Queue() Queue
	MemoryAllocator() MemoryAllocator
	// CommandAllocator returns a new allocator for the calling goroutine.
	CommandAllocator() (CommandAllocator, error)
	Close() error
}
