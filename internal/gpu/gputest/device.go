// Package gputest is an in-memory gpu.Device that executes recorded commands on the host,
// tracks image layouts and live staging regions, and reports misuse the way a validation
// layer would.
package gputest

import (
	"context"
	"fmt"
	"sync"

	"github.com/bryanchriswhite/MixedView/internal/gpu"
)

// Option configures a Device.
type Option func(*Device)

// WithStagingCapacity limits how many staging regions may be live at once.
func WithStagingCapacity(n int) Option {
	return func(d *Device) { d.stagingCapacity = n }
}

// WithManualFences keeps fences unsignaled until SignalAll is called.
func WithManualFences() Option {
	return func(d *Device) { d.manualFences = true }
}

// WithQueueFamily sets the family index reported by the queue.
func WithQueueFamily(family uint32) Option {
	return func(d *Device) { d.family = family }
}

// Device implements gpu.Device, gpu.Queue, gpu.MemoryAllocator and gpu.CommandAllocator.
type Device struct {
	mu sync.Mutex

	family          uint32
	stagingCapacity int
	manualFences    bool
	beginErr        error

	images     []*Image
	pending    []*Fence
	validation []string

	begins        int
	stagingAllocs int
	liveStaging   int
	maxLive       int
	submissions   int
	closed        bool
}

var (
	_ gpu.Device           = (*Device)(nil)
	_ gpu.Queue            = (*Device)(nil)
	_ gpu.MemoryAllocator  = (*Device)(nil)
	_ gpu.CommandAllocator = (*Device)(nil)
)

// New creates a fake device.
func New(opts ...Option) *Device {
	d := &Device{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Device) Queue() gpu.Queue                   { return d }
func (d *Device) MemoryAllocator() gpu.MemoryAllocator { return d }

func (d *Device) CommandAllocator() (gpu.CommandAllocator, error) { return d, nil }

func (d *Device) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *Device) FamilyIndex() uint32 { return d.family }

// CreateImage creates an image in the undefined layout.
func (d *Device) CreateImage(info gpu.ImageInfo) (gpu.Image, error) {
	if info.Width == 0 || info.Height == 0 || info.Format.BytesPerPixel() == 0 {
		return nil, fmt.Errorf("gputest: invalid image %+v", info)
	}
	img := &Image{info: info, layout: gpu.LayoutUndefined}
	d.mu.Lock()
	d.images = append(d.images, img)
	d.mu.Unlock()
	return img, nil
}

// AllocateStaging reserves a host region.
func (d *Device) AllocateStaging(size int) (gpu.StagingChunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stagingCapacity > 0 && d.liveStaging >= d.stagingCapacity {
		return nil, gpu.ErrAllocatorExhausted
	}
	d.stagingAllocs++
	d.liveStaging++
	if d.liveStaging > d.maxLive {
		d.maxLive = d.liveStaging
	}
	return &Chunk{dev: d, data: make([]byte, size), id: d.stagingAllocs}, nil
}

// FailBegin makes every later Begin call fail with err.
func (d *Device) FailBegin(err error) {
	d.mu.Lock()
	d.beginErr = err
	d.mu.Unlock()
}

// Begin starts recording.
func (d *Device) Begin(queueFamily uint32, usage gpu.CommandUsage) (gpu.Builder, error) {
	d.mu.Lock()
	d.begins++
	err := d.beginErr
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &builder{dev: d, family: queueFamily, usage: usage}, nil
}

// Submit executes the command buffers in order and returns their fence.
func (d *Device) Submit(cmds ...gpu.CommandBuffer) (gpu.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f := &Fence{done: make(chan struct{})}
	for _, c := range cmds {
		cb, ok := c.(*CommandBuffer)
		if !ok {
			return nil, fmt.Errorf("gputest: foreign command buffer %T", c)
		}
		d.executeLocked(cb)
		cb.fence = f
		f.cmds = append(f.cmds, cb)
	}
	d.submissions++

	if d.manualFences {
		d.pending = append(d.pending, f)
	} else {
		d.signalLocked(f)
	}
	return f, nil
}

// SetManualFences switches fence signalling between immediate and SignalAll.
func (d *Device) SetManualFences(manual bool) {
	d.mu.Lock()
	d.manualFences = manual
	d.mu.Unlock()
}

// SignalAll completes every pending submission.
func (d *Device) SignalAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range d.pending {
		d.signalLocked(f)
	}
	d.pending = nil
}

func (d *Device) signalLocked(f *Fence) {
	close(f.done)
	for _, cb := range f.cmds {
		if cb.usage == gpu.OneTimeSubmit {
			cb.freeStagingLocked()
		}
	}
}

func (d *Device) executeLocked(cb *CommandBuffer) {
	if cb.family != d.family {
		d.failf("command buffer recorded for family %d submitted to family %d", cb.family, d.family)
	}
	if cb.released {
		d.failf("submitting released command buffer")
		return
	}
	if cb.usage == gpu.OneTimeSubmit && cb.submitted {
		d.failf("one-time-submit command buffer submitted twice")
	}
	if cb.fence != nil && !cb.fence.Signaled() {
		d.failf("command buffer resubmitted while pending")
	}
	cb.submitted = true

	for _, op := range cb.ops {
		switch {
		case op.barrier != nil:
			b := op.barrier
			img := b.Image.(*Image)
			if b.OldLayout != gpu.LayoutUndefined && b.OldLayout != img.layout {
				d.failf("barrier expects %s but image is in %s", b.OldLayout, img.layout)
			}
			img.layout = b.NewLayout
			img.transitions++
		case op.copy != nil:
			img := op.copy.dst
			chunk := op.copy.src
			if !img.info.Usage.Has(gpu.UsageTransferDst) {
				d.failf("copy into image without transfer-dst usage")
			}
			if img.layout != gpu.LayoutTransferDst && img.layout != gpu.LayoutGeneral {
				d.failf("copy into image in %s layout", img.layout)
			}
			if chunk.freed {
				d.failf("copy from recycled staging region %d", chunk.id)
			}
			if chunk.Size() != img.info.ByteSize() {
				d.failf("copy of %d bytes into %d byte image", chunk.Size(), img.info.ByteSize())
			}
			img.pixels = append(img.pixels[:0], chunk.data...)
			img.uploads++
		}
	}
}

func (d *Device) failf(format string, args ...any) {
	d.validation = append(d.validation, fmt.Sprintf(format, args...))
}

// ValidationErrors returns every misuse seen so far.
func (d *Device) ValidationErrors() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.validation...)
}

// Begins counts Begin calls.
func (d *Device) Begins() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.begins
}

// StagingAllocations counts successful AllocateStaging calls.
func (d *Device) StagingAllocations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stagingAllocs
}

// LiveStaging counts regions not yet recycled.
func (d *Device) LiveStaging() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveStaging
}

// MaxLiveStaging is the high-water mark of LiveStaging.
func (d *Device) MaxLiveStaging() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxLive
}

// Submissions counts Submit calls.
func (d *Device) Submissions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submissions
}

// Images returns every image created so far.
func (d *Device) Images() []*Image {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Image(nil), d.images...)
}

// Image is a host-backed image.
type Image struct {
	info        gpu.ImageInfo
	layout      gpu.Layout
	pixels      []byte
	uploads     int
	transitions int
}

func (i *Image) Info() gpu.ImageInfo { return i.info }

// Layout returns the layout after the last executed submission.
func (i *Image) Layout() gpu.Layout { return i.layout }

// Pixels returns a copy of the last uploaded frame.
func (i *Image) Pixels() []byte { return append([]byte(nil), i.pixels...) }

// Uploads counts executed copies into the image.
func (i *Image) Uploads() int { return i.uploads }

// Chunk is a staging region.
type Chunk struct {
	dev   *Device
	data  []byte
	id    int
	freed bool
}

func (c *Chunk) Bytes() []byte { return c.data }
func (c *Chunk) Size() int     { return len(c.data) }

func (c *Chunk) Release() {
	c.dev.mu.Lock()
	c.freeLocked()
	c.dev.mu.Unlock()
}

func (c *Chunk) freeLocked() {
	if c.freed {
		return
	}
	c.freed = true
	c.dev.liveStaging--
}

type copyOp struct {
	src *Chunk
	dst *Image
}

type op struct {
	barrier *gpu.ImageBarrier
	copy    *copyOp
}

type builder struct {
	dev    *Device
	family uint32
	usage  gpu.CommandUsage
	ops    []op
	chunks []*Chunk
	ended  bool
}

func (b *builder) PipelineBarrier(barriers ...gpu.ImageBarrier) {
	for i := range barriers {
		br := barriers[i]
		b.ops = append(b.ops, op{barrier: &br})
	}
}

func (b *builder) CopyBufferToImage(src gpu.StagingChunk, dst gpu.Image) {
	c := src.(*Chunk)
	b.chunks = append(b.chunks, c)
	b.ops = append(b.ops, op{copy: &copyOp{src: c, dst: dst.(*Image)}})
}

func (b *builder) End() (gpu.CommandBuffer, error) {
	if b.ended {
		return nil, fmt.Errorf("gputest: builder already ended")
	}
	b.ended = true
	return &CommandBuffer{
		dev:    b.dev,
		family: b.family,
		usage:  b.usage,
		ops:    b.ops,
		chunks: b.chunks,
	}, nil
}

// CommandBuffer is a recorded list of operations.
type CommandBuffer struct {
	dev       *Device
	family    uint32
	usage     gpu.CommandUsage
	ops       []op
	chunks    []*Chunk
	submitted bool
	released  bool
	fence     *Fence
}

func (c *CommandBuffer) Usage() gpu.CommandUsage { return c.usage }

// Release frees staging immediately when the buffer was never submitted.
func (c *CommandBuffer) Release() {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	c.released = true
	if !c.submitted {
		c.freeStagingLocked()
	}
}

func (c *CommandBuffer) freeStagingLocked() {
	for _, ch := range c.chunks {
		ch.freeLocked()
	}
}

// Submitted reports whether the buffer has been executed at least once.
func (c *CommandBuffer) Submitted() bool {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	return c.submitted
}

// Fence completes when SignalAll runs, or immediately without WithManualFences.
type Fence struct {
	done chan struct{}
	cmds []*CommandBuffer
}

func (f *Fence) Signaled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *Fence) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
