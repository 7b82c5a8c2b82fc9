package vulkan

import (
	"fmt"

	"github.com/bryanchriswhite/MixedView/internal/gpu"
	vk "github.com/goki/vulkan"
)

// ResultError is a failed Vulkan call.
type ResultError struct {
	Op     string
	Result vk.Result
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("%s failed: %d", e.Op, e.Result)
}

// Unwrap maps allocation failures onto gpu.ErrOutOfMemory.
func (e *ResultError) Unwrap() error {
	switch e.Result {
	case vk.ErrorOutOfDeviceMemory, vk.ErrorOutOfHostMemory, vk.ErrorOutOfPoolMemory:
		return gpu.ErrOutOfMemory
	}
	return nil
}

func check(op string, res vk.Result) error {
	if res == vk.Success {
		return nil
	}
	return &ResultError{Op: op, Result: res}
}

func layout(l gpu.Layout) vk.ImageLayout {
	switch l {
	case gpu.LayoutGeneral:
		return vk.ImageLayoutGeneral
	case gpu.LayoutShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case gpu.LayoutTransferSrc:
		return vk.ImageLayoutTransferSrcOptimal
	case gpu.LayoutTransferDst:
		return vk.ImageLayoutTransferDstOptimal
	}
	return vk.ImageLayoutUndefined
}

func stages(s gpu.Stage) vk.PipelineStageFlags {
	var out vk.PipelineStageFlagBits
	if s&gpu.StageTopOfPipe != 0 {
		out |= vk.PipelineStageTopOfPipeBit
	}
	if s&gpu.StageTransfer != 0 {
		out |= vk.PipelineStageTransferBit
	}
	if s&gpu.StageFragmentShader != 0 {
		out |= vk.PipelineStageFragmentShaderBit
	}
	if s&gpu.StageBottomOfPipe != 0 {
		out |= vk.PipelineStageBottomOfPipeBit
	}
	if out == 0 {
		out = vk.PipelineStageTopOfPipeBit
	}
	return vk.PipelineStageFlags(out)
}

func access(a gpu.Access) vk.AccessFlags {
	var out vk.AccessFlagBits
	if a&gpu.AccessTransferRead != 0 {
		out |= vk.AccessTransferReadBit
	}
	if a&gpu.AccessTransferWrite != 0 {
		out |= vk.AccessTransferWriteBit
	}
	if a&gpu.AccessShaderRead != 0 {
		out |= vk.AccessShaderReadBit
	}
	return vk.AccessFlags(out)
}

func format(f gpu.Format) vk.Format {
	switch f {
	case gpu.FormatB8G8R8A8SRGB:
		return vk.FormatB8g8r8a8Srgb
	case gpu.FormatB8G8R8A8Unorm:
		return vk.FormatB8g8r8a8Unorm
	}
	return vk.FormatUndefined
}

func usage(u gpu.Usage) vk.ImageUsageFlags {
	var out vk.ImageUsageFlagBits
	if u.Has(gpu.UsageSampled) {
		out |= vk.ImageUsageSampledBit
	}
	if u.Has(gpu.UsageTransferSrc) {
		out |= vk.ImageUsageTransferSrcBit
	}
	if u.Has(gpu.UsageTransferDst) {
		out |= vk.ImageUsageTransferDstBit
	}
	return vk.ImageUsageFlags(out)
}

// safeString null-terminates s for the C API.
func safeString(s string) string {
	if len(s) > 0 && s[len(s)-1] == 0 {
		return s
	}
	return s + "\x00"
}

func safeStrings(list []string) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = safeString(s)
	}
	return out
}
