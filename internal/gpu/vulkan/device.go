// Package vulkan implements the gpu contract on a Vulkan device.
package vulkan

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/bryanchriswhite/MixedView/internal/gpu"
	"github.com/bryanchriswhite/MixedView/internal/logger"
	"github.com/bryanchriswhite/MixedView/internal/openvr"
	vk "github.com/goki/vulkan"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

var (
	loaderOnce sync.Once
	loaderErr  error
)

func initLoader() error {
	loaderOnce.Do(func() {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			loaderErr = fmt.Errorf("failed to load Vulkan library: %w", err)
			return
		}
		if err := vk.Init(); err != nil {
			loaderErr = fmt.Errorf("failed to initialize Vulkan loader: %w", err)
		}
	})
	return loaderErr
}

// Options configures device bring-up.
type Options struct {
	AppName string
	// Validation enables the Khronos validation layer.
	Validation bool
	// GPUID is the physical device used when it has a graphics queue. Otherwise the
	// first suitable device is picked.
	GPUID              int
	InstanceExtensions []string
	DeviceExtensions   []string
	// StagingSlots is the number of frames that can be in flight at once.
	StagingSlots int
	// StagingSlotSize is the largest single upload.
	StagingSlotSize int
}

// Device owns the Vulkan instance, logical device and graphics queue.
type Device struct {
	instance vk.Instance
	physical vk.PhysicalDevice
	device   vk.Device
	queue    vk.Queue
	family   uint32
	memProps vk.PhysicalDeviceMemoryProperties

	// qmu serializes queue submission and guards in-flight bookkeeping.
	qmu      sync.Mutex
	inflight []*submission

	staging *stagingRing

	mu         sync.Mutex
	images     []*Image
	allocators []*CommandAllocator
	closed     bool
}

var _ gpu.Device = (*Device)(nil)
var _ gpu.Queue = (*Device)(nil)
var _ gpu.MemoryAllocator = (*Device)(nil)

// Open brings up a device with one graphics queue.
func Open(opts Options) (*Device, error) {
	log := logger.WithComponent("gpu")

	if opts.AppName == "" {
		opts.AppName = "MixedView"
	}
	if opts.StagingSlots <= 0 {
		opts.StagingSlots = 3
	}
	if opts.StagingSlotSize <= 0 {
		return nil, fmt.Errorf("staging slot size must be positive")
	}

	if err := initLoader(); err != nil {
		return nil, err
	}

	d := &Device{}
	if err := d.createInstance(opts); err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}
	if err := d.selectPhysicalDevice(opts.GPUID); err != nil {
		d.destroyInstance()
		return nil, fmt.Errorf("failed to select physical device: %w", err)
	}
	if err := d.createDevice(opts.DeviceExtensions); err != nil {
		d.destroyInstance()
		return nil, fmt.Errorf("failed to create device: %w", err)
	}

	ring, err := newStagingRing(d, opts.StagingSlots, opts.StagingSlotSize)
	if err != nil {
		vk.DestroyDevice(d.device, nil)
		d.destroyInstance()
		return nil, fmt.Errorf("failed to create staging ring: %w", err)
	}
	d.staging = ring

	log.Info().
		Uint32("queue_family", d.family).
		Bool("validation", opts.Validation).
		Int("staging_slots", opts.StagingSlots).
		Msg("Vulkan device ready")
	return d, nil
}

func (d *Device) createInstance(opts Options) error {
	var layers []string
	if opts.Validation {
		layers = safeStrings([]string{validationLayer})
	}
	exts := safeStrings(opts.InstanceExtensions)

	var instance vk.Instance
	err := check("vkCreateInstance", vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			PApplicationName:   safeString(opts.AppName),
			ApplicationVersion: vk.MakeVersion(1, 0, 0),
			PEngineName:        safeString("mixedview"),
			EngineVersion:      vk.MakeVersion(1, 0, 0),
			ApiVersion:         vk.MakeVersion(1, 1, 0),
		},
		EnabledExtensionCount:   uint32(len(exts)),
		PpEnabledExtensionNames: exts,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}, nil, &instance))
	if err != nil {
		return err
	}
	d.instance = instance
	vk.InitInstance(instance)
	return nil
}

func (d *Device) selectPhysicalDevice(preferred int) error {
	var count uint32
	if err := check("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(d.instance, &count, nil)); err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("no Vulkan-capable GPUs found")
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := check("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(d.instance, &count, devices)); err != nil {
		return err
	}

	order := make([]int, 0, len(devices))
	if preferred >= 0 && preferred < len(devices) {
		order = append(order, preferred)
	}
	for i := range devices {
		if i != preferred {
			order = append(order, i)
		}
	}

	for _, i := range order {
		family, ok := graphicsFamily(devices[i])
		if !ok {
			continue
		}
		d.physical = devices[i]
		d.family = family
		vk.GetPhysicalDeviceMemoryProperties(d.physical, &d.memProps)
		d.memProps.Deref()
		if i != preferred {
			logger.WithComponent("gpu").Warn().
				Int("requested", preferred).
				Int("using", i).
				Msg("Requested GPU unusable, falling back")
		}
		return nil
	}
	return fmt.Errorf("no suitable GPU with graphics queue found")
}

func graphicsFamily(pd vk.PhysicalDevice) (uint32, bool) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, families)
	for i, qf := range families {
		qf.Deref()
		if qf.QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			return uint32(i), true
		}
	}
	return 0, false
}

func (d *Device) createDevice(extensions []string) error {
	exts := safeStrings(extensions)
	var device vk.Device
	err := check("vkCreateDevice", vk.CreateDevice(d.physical, &vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: 1,
		PQueueCreateInfos: []vk.DeviceQueueCreateInfo{{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: d.family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}},
		EnabledExtensionCount:   uint32(len(exts)),
		PpEnabledExtensionNames: exts,
	}, nil, &device))
	if err != nil {
		return err
	}
	d.device = device

	var queue vk.Queue
	vk.GetDeviceQueue(device, d.family, 0, &queue)
	d.queue = queue
	return nil
}

func (d *Device) findMemoryType(typeFilter uint32, properties vk.MemoryPropertyFlags) (uint32, error) {
	for i := uint32(0); i < d.memProps.MemoryTypeCount; i++ {
		d.memProps.MemoryTypes[i].Deref()
		if typeFilter&(1<<i) != 0 && d.memProps.MemoryTypes[i].PropertyFlags&properties == properties {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no memory type with properties %#x: %w", properties, gpu.ErrOutOfMemory)
}

func (d *Device) Queue() gpu.Queue                   { return d }
func (d *Device) MemoryAllocator() gpu.MemoryAllocator { return d }

// FamilyIndex is the graphics queue family.
func (d *Device) FamilyIndex() uint32 { return d.family }

// CommandAllocator creates a command pool for the calling goroutine.
func (d *Device) CommandAllocator() (gpu.CommandAllocator, error) {
	var pool vk.CommandPool
	err := check("vkCreateCommandPool", vk.CreateCommandPool(d.device, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, nil, &pool))
	if err != nil {
		return nil, err
	}
	a := &CommandAllocator{dev: d, pool: pool, family: d.family}

	d.mu.Lock()
	d.allocators = append(d.allocators, a)
	d.mu.Unlock()
	return a, nil
}

// Texture returns the raw handles the OpenVR compositor needs to read img.
func (d *Device) Texture(img gpu.Image) (openvr.VulkanTexture, error) {
	im, ok := img.(*Image)
	if !ok {
		return openvr.VulkanTexture{}, fmt.Errorf("vulkan: foreign image %T", img)
	}
	info := im.Info()
	return openvr.VulkanTexture{
		Image:          uint64(uintptr(unsafe.Pointer(im.handle))),
		Device:         uintptr(unsafe.Pointer(d.device)),
		PhysicalDevice: uintptr(unsafe.Pointer(d.physical)),
		Instance:       uintptr(unsafe.Pointer(d.instance)),
		Queue:          uintptr(unsafe.Pointer(d.queue)),
		QueueFamily:    d.family,
		Width:          info.Width,
		Height:         info.Height,
		Format:         uint32(format(info.Format)),
		SampleCount:    1,
	}, nil
}

// Close waits for the device to go idle and destroys everything it created.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	images := d.images
	allocators := d.allocators
	d.images, d.allocators = nil, nil
	d.mu.Unlock()

	vk.DeviceWaitIdle(d.device)
	d.retire()

	for _, a := range allocators {
		a.destroy()
	}
	for _, im := range images {
		im.destroy(d.device)
	}
	d.staging.destroy()
	vk.DestroyDevice(d.device, nil)
	d.destroyInstance()

	logger.WithComponent("gpu").Info().Msg("Vulkan device closed")
	return nil
}

func (d *Device) destroyInstance() {
	if d.instance != nil {
		vk.DestroyInstance(d.instance, nil)
		d.instance = nil
	}
}
