package vulkan

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/bryanchriswhite/MixedView/internal/gpu"
	vk "github.com/goki/vulkan"
)

// Image is a device-local optimal-tiling image.
type Image struct {
	info   gpu.ImageInfo
	handle vk.Image
	memory vk.DeviceMemory
}

func (i *Image) Info() gpu.ImageInfo { return i.info }

func (i *Image) destroy(dev vk.Device) {
	vk.DestroyImage(dev, i.handle, nil)
	vk.FreeMemory(dev, i.memory, nil)
}

// CreateImage creates an image in the undefined layout backed by device-local memory.
func (d *Device) CreateImage(info gpu.ImageInfo) (gpu.Image, error) {
	if info.Width == 0 || info.Height == 0 || info.Format.BytesPerPixel() == 0 {
		return nil, fmt.Errorf("vulkan: invalid image %+v", info)
	}
	if info.MipLevels == 0 {
		info.MipLevels = 1
	}
	if info.ArrayLayers == 0 {
		info.ArrayLayers = 1
	}

	var handle vk.Image
	err := check("vkCreateImage", vk.CreateImage(d.device, &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format(info.Format),
		Extent: vk.Extent3D{
			Width:  info.Width,
			Height: info.Height,
			Depth:  1,
		},
		MipLevels:     info.MipLevels,
		ArrayLayers:   info.ArrayLayers,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         usage(info.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &handle))
	if err != nil {
		return nil, err
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.device, handle, &reqs)
	reqs.Deref()

	memType, err := d.findMemoryType(reqs.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		vk.DestroyImage(d.device, handle, nil)
		return nil, err
	}

	var memory vk.DeviceMemory
	err = check("vkAllocateMemory", vk.AllocateMemory(d.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: memType,
	}, nil, &memory))
	if err != nil {
		vk.DestroyImage(d.device, handle, nil)
		return nil, err
	}
	if err := check("vkBindImageMemory", vk.BindImageMemory(d.device, handle, memory, 0)); err != nil {
		vk.DestroyImage(d.device, handle, nil)
		vk.FreeMemory(d.device, memory, nil)
		return nil, err
	}

	img := &Image{info: info, handle: handle, memory: memory}
	d.mu.Lock()
	d.images = append(d.images, img)
	d.mu.Unlock()
	return img, nil
}

// AllocateStaging reserves one slot of the staging ring. Slots held by completed
// submissions are reclaimed first.
func (d *Device) AllocateStaging(size int) (gpu.StagingChunk, error) {
	d.retire()
	return d.staging.acquire(size)
}

// stagingRing is one persistently mapped host-visible buffer cut into equal slots.
type stagingRing struct {
	dev      *Device
	buffer   vk.Buffer
	memory   vk.DeviceMemory
	mapped   []byte
	slotSize int

	mu   sync.Mutex
	busy []bool
}

func newStagingRing(d *Device, slots, slotSize int) (*stagingRing, error) {
	total := vk.DeviceSize(slots * slotSize)

	var buffer vk.Buffer
	err := check("vkCreateBuffer", vk.CreateBuffer(d.device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        total,
		Usage:       vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &buffer))
	if err != nil {
		return nil, err
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.device, buffer, &reqs)
	reqs.Deref()

	memType, err := d.findMemoryType(reqs.MemoryTypeBits,
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		vk.DestroyBuffer(d.device, buffer, nil)
		return nil, err
	}

	var memory vk.DeviceMemory
	err = check("vkAllocateMemory", vk.AllocateMemory(d.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: memType,
	}, nil, &memory))
	if err != nil {
		vk.DestroyBuffer(d.device, buffer, nil)
		return nil, err
	}
	if err := check("vkBindBufferMemory", vk.BindBufferMemory(d.device, buffer, memory, 0)); err != nil {
		vk.DestroyBuffer(d.device, buffer, nil)
		vk.FreeMemory(d.device, memory, nil)
		return nil, err
	}

	var ptr unsafe.Pointer
	if err := check("vkMapMemory", vk.MapMemory(d.device, memory, 0, total, 0, &ptr)); err != nil {
		vk.DestroyBuffer(d.device, buffer, nil)
		vk.FreeMemory(d.device, memory, nil)
		return nil, err
	}

	return &stagingRing{
		dev:      d,
		buffer:   buffer,
		memory:   memory,
		mapped:   unsafe.Slice((*byte)(ptr), int(total)),
		slotSize: slotSize,
		busy:     make([]bool, slots),
	}, nil
}

func (r *stagingRing) acquire(size int) (*chunk, error) {
	if size <= 0 || size > r.slotSize {
		return nil, fmt.Errorf("vulkan: staging request of %d bytes exceeds slot size %d", size, r.slotSize)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, busy := range r.busy {
		if busy {
			continue
		}
		r.busy[i] = true
		off := i * r.slotSize
		return &chunk{ring: r, slot: i, offset: off, data: r.mapped[off : off+size : off+size]}, nil
	}
	return nil, gpu.ErrAllocatorExhausted
}

func (r *stagingRing) destroy() {
	vk.UnmapMemory(r.dev.device, r.memory)
	vk.DestroyBuffer(r.dev.device, r.buffer, nil)
	vk.FreeMemory(r.dev.device, r.memory, nil)
	r.mapped = nil
}

// chunk is one reserved slot.
type chunk struct {
	ring   *stagingRing
	slot   int
	offset int
	data   []byte

	// recorded is set under Device.qmu once a command buffer owns the slot.
	recorded bool
	freed    bool
}

func (c *chunk) Bytes() []byte { return c.data }
func (c *chunk) Size() int     { return len(c.data) }

func (c *chunk) Release() {
	c.ring.dev.qmu.Lock()
	defer c.ring.dev.qmu.Unlock()
	if !c.recorded {
		c.free()
	}
}

func (c *chunk) free() {
	c.ring.mu.Lock()
	defer c.ring.mu.Unlock()
	if c.freed {
		return
	}
	c.freed = true
	c.ring.busy[c.slot] = false
}
