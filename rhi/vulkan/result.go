//go:build !nogpu

package vulkan

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

// check converts a failed vk.Result into an *rhi.ResultError. Success and
// Incomplete return nil.
func check(op string, res vk.Result) error {
	if res == vk.Success {
		return nil
	}
	err := vk.Error(res)
	if err == nil {
		return nil
	}
	re := &rhi.ResultError{Op: op, Code: int32(res), Err: err}
	switch res {
	case vk.ErrorDeviceLost:
		re.Err = fmt.Errorf("%w: %w", rhi.ErrDeviceLost, err)
	case vk.ErrorOutOfHostMemory, vk.ErrorOutOfDeviceMemory, vk.ErrorFragmentedPool:
		re.Err = fmt.Errorf("%w: %w", rhi.ErrOutOfMemory, err)
	case vk.Timeout, vk.NotReady:
		re.Err = fmt.Errorf("%w: %w", rhi.ErrTimeout, err)
	}
	return re
}

// status splits the result of acquire and present into a swapchain status
// and an error.
func status(op string, res vk.Result) (rhi.Status, error) {
	switch res {
	case vk.Success:
		return rhi.StatusSuccess, nil
	case vk.Suboptimal:
		return rhi.StatusSuboptimal, nil
	case vk.ErrorOutOfDate:
		return rhi.StatusOutOfDate, nil
	}
	return rhi.StatusSuccess, check(op, res)
}
