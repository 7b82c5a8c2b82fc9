package vulkan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/MixedView/internal/gpu"
	vk "github.com/goki/vulkan"
)

const fencePollInterval = 250 * time.Microsecond

// CommandAllocator owns one command pool. Recording and freeing lock the pool, so
// buffers may be released from any goroutine.
type CommandAllocator struct {
	dev    *Device
	family uint32

	mu   sync.Mutex
	pool vk.CommandPool
}

var _ gpu.CommandAllocator = (*CommandAllocator)(nil)

// Begin allocates a primary command buffer and starts recording.
func (a *CommandAllocator) Begin(queueFamily uint32, use gpu.CommandUsage) (gpu.Builder, error) {
	if queueFamily != a.family {
		return nil, fmt.Errorf("vulkan: pool for family %d cannot record for family %d", a.family, queueFamily)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	bufs := make([]vk.CommandBuffer, 1)
	err := check("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(a.dev.device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        a.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, bufs))
	if err != nil {
		return nil, err
	}

	var flags vk.CommandBufferUsageFlagBits
	if use == gpu.OneTimeSubmit {
		flags = vk.CommandBufferUsageOneTimeSubmitBit
	}
	err = check("vkBeginCommandBuffer", vk.BeginCommandBuffer(bufs[0], &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(flags),
	}))
	if err != nil {
		vk.FreeCommandBuffers(a.dev.device, a.pool, 1, bufs)
		return nil, err
	}
	return &builder{alloc: a, cmd: bufs[0], usage: use}, nil
}

func (a *CommandAllocator) free(cmd vk.CommandBuffer) {
	a.mu.Lock()
	vk.FreeCommandBuffers(a.dev.device, a.pool, 1, []vk.CommandBuffer{cmd})
	a.mu.Unlock()
}

func (a *CommandAllocator) destroy() {
	a.mu.Lock()
	vk.DestroyCommandPool(a.dev.device, a.pool, nil)
	a.mu.Unlock()
}

type builder struct {
	alloc  *CommandAllocator
	cmd    vk.CommandBuffer
	usage  gpu.CommandUsage
	chunks []*chunk
	ended  bool
}

func (b *builder) PipelineBarrier(barriers ...gpu.ImageBarrier) {
	b.alloc.mu.Lock()
	defer b.alloc.mu.Unlock()
	for _, br := range barriers {
		img := br.Image.(*Image)
		vk.CmdPipelineBarrier(b.cmd, stages(br.SrcStage), stages(br.DstStage), 0,
			0, nil, 0, nil,
			1, []vk.ImageMemoryBarrier{{
				SType:               vk.StructureTypeImageMemoryBarrier,
				SrcAccessMask:       access(br.SrcAccess),
				DstAccessMask:       access(br.DstAccess),
				OldLayout:           layout(br.OldLayout),
				NewLayout:           layout(br.NewLayout),
				SrcQueueFamilyIndex: b.alloc.family,
				DstQueueFamilyIndex: b.alloc.family,
				Image:               img.handle,
				SubresourceRange: vk.ImageSubresourceRange{
					AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
					LevelCount: img.info.MipLevels,
					LayerCount: img.info.ArrayLayers,
				},
			}})
	}
}

func (b *builder) CopyBufferToImage(src gpu.StagingChunk, dst gpu.Image) {
	c := src.(*chunk)
	img := dst.(*Image)

	dev := b.alloc.dev
	dev.qmu.Lock()
	c.recorded = true
	dev.qmu.Unlock()
	b.chunks = append(b.chunks, c)

	b.alloc.mu.Lock()
	defer b.alloc.mu.Unlock()
	vk.CmdCopyBufferToImage(b.cmd, c.ring.buffer, img.handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{{
		BufferOffset: vk.DeviceSize(c.offset),
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{
			Width:  img.info.Width,
			Height: img.info.Height,
			Depth:  1,
		},
	}})
}

func (b *builder) End() (gpu.CommandBuffer, error) {
	if b.ended {
		return nil, errors.New("vulkan: builder already ended")
	}
	b.ended = true

	b.alloc.mu.Lock()
	err := check("vkEndCommandBuffer", vk.EndCommandBuffer(b.cmd))
	b.alloc.mu.Unlock()

	cb := &CommandBuffer{alloc: b.alloc, cmd: b.cmd, usage: b.usage, chunks: b.chunks}
	if err != nil {
		cb.Release()
		return nil, err
	}
	return cb, nil
}

// CommandBuffer is a recorded primary command buffer. Its state is guarded by Device.qmu.
type CommandBuffer struct {
	alloc  *CommandAllocator
	cmd    vk.CommandBuffer
	usage  gpu.CommandUsage
	chunks []*chunk

	submitted bool
	pending   int
	released  bool
	freed     bool
}

var _ gpu.CommandBuffer = (*CommandBuffer)(nil)

func (c *CommandBuffer) Usage() gpu.CommandUsage { return c.usage }

// Release frees the buffer now when nothing is pending, otherwise once its last submission
// completes.
func (c *CommandBuffer) Release() {
	dev := c.alloc.dev
	dev.qmu.Lock()
	defer dev.qmu.Unlock()
	c.released = true
	if c.pending == 0 {
		c.freeLocked()
	}
}

// complete runs under qmu when a submission holding c has finished.
func (c *CommandBuffer) complete() {
	c.pending--
	if c.usage == gpu.OneTimeSubmit {
		c.freeStaging()
	}
	if c.released && c.pending == 0 {
		c.freeLocked()
	}
}

func (c *CommandBuffer) freeStaging() {
	for _, ch := range c.chunks {
		ch.free()
	}
}

func (c *CommandBuffer) freeLocked() {
	if c.freed {
		return
	}
	c.freed = true
	c.freeStaging()
	c.alloc.free(c.cmd)
}

type submission struct {
	fence *Fence
	cmds  []*CommandBuffer
}

// Submit enqueues cmds in order behind one fence.
func (d *Device) Submit(cmds ...gpu.CommandBuffer) (gpu.Fence, error) {
	d.qmu.Lock()
	defer d.qmu.Unlock()

	bufs := make([]*CommandBuffer, 0, len(cmds))
	handles := make([]vk.CommandBuffer, 0, len(cmds))
	for _, c := range cmds {
		cb, ok := c.(*CommandBuffer)
		if !ok {
			return nil, fmt.Errorf("vulkan: foreign command buffer %T", c)
		}
		if cb.released {
			return nil, gpu.ErrReleased
		}
		if cb.usage == gpu.OneTimeSubmit && cb.submitted {
			return nil, errors.New("vulkan: one-time-submit command buffer submitted twice")
		}
		if cb.pending > 0 {
			return nil, errors.New("vulkan: command buffer resubmitted while pending")
		}
		bufs = append(bufs, cb)
		handles = append(handles, cb.cmd)
	}

	var handle vk.Fence
	err := check("vkCreateFence", vk.CreateFence(d.device, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}, nil, &handle))
	if err != nil {
		return nil, err
	}

	err = check("vkQueueSubmit", vk.QueueSubmit(d.queue, 1, []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(handles)),
		PCommandBuffers:    handles,
	}}, handle))
	if err != nil {
		vk.DestroyFence(d.device, handle, nil)
		return nil, err
	}

	for _, cb := range bufs {
		cb.submitted = true
		cb.pending++
	}
	f := &Fence{dev: d, handle: handle, done: make(chan struct{})}
	d.inflight = append(d.inflight, &submission{fence: f, cmds: bufs})
	return f, nil
}

// retire completes every in-flight submission whose fence has signaled.
func (d *Device) retire() {
	d.qmu.Lock()
	defer d.qmu.Unlock()

	kept := d.inflight[:0]
	for _, s := range d.inflight {
		if vk.GetFenceStatus(d.device, s.fence.handle) != vk.Success {
			kept = append(kept, s)
			continue
		}
		for _, cb := range s.cmds {
			cb.complete()
		}
		vk.DestroyFence(d.device, s.fence.handle, nil)
		close(s.fence.done)
	}
	for i := len(kept); i < len(d.inflight); i++ {
		d.inflight[i] = nil
	}
	d.inflight = kept
}

// Fence tracks one submission. The Vulkan fence is only touched under Device.qmu.
type Fence struct {
	dev    *Device
	handle vk.Fence
	done   chan struct{}
}

var _ gpu.Fence = (*Fence)(nil)

func (f *Fence) Signaled() bool {
	select {
	case <-f.done:
		return true
	default:
	}
	f.dev.retire()
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *Fence) Wait(ctx context.Context) error {
	if f.Signaled() {
		return nil
	}
	ticker := time.NewTicker(fencePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-f.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if f.Signaled() {
				return nil
			}
		}
	}
}
