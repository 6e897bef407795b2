//go:build !nogpu

package vulkan

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	vk "github.com/vulkan-go/vulkan"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

// Swapchain wraps a VkSwapchainKHR for the host surface. Presentation uses
// FIFO, which every implementation supports.
type Swapchain struct {
	dev     *Device
	surface vk.Surface

	mu           sync.Mutex
	raw          vk.Swapchain
	width        uint32
	height       uint32
	want         rhi.Config
	format       gputypes.TextureFormat
	images       []*image
	framebuffers []*framebuffer
	generation   int
}

var _ rhi.Swapchain = (*Swapchain)(nil)

func newSwapchain(d *Device, surface vk.Surface, cfg rhi.Config) (*Swapchain, error) {
	s := &Swapchain{dev: d, surface: surface, want: cfg}
	if err := s.create(); err != nil {
		return nil, err
	}
	return s, nil
}

// surfaceFormat picks the configured format when the surface offers it and
// the first offered format otherwise.
func (s *Swapchain) surfaceFormat() (vk.SurfaceFormat, error) {
	var count uint32
	if err := check("surface formats", vk.GetPhysicalDeviceSurfaceFormats(s.dev.gpu, s.surface, &count, nil)); err != nil {
		return vk.SurfaceFormat{}, err
	}
	formats := make([]vk.SurfaceFormat, count)
	if err := check("surface formats", vk.GetPhysicalDeviceSurfaceFormats(s.dev.gpu, s.surface, &count, formats)); err != nil {
		return vk.SurfaceFormat{}, err
	}
	if len(formats) == 0 {
		return vk.SurfaceFormat{}, fmt.Errorf("vulkan: surface: %w: no formats", ErrUnsupportedFormat)
	}
	for i := range formats {
		formats[i].Deref()
	}
	want, _ := vkFormat(s.want.Format)
	for _, f := range formats {
		if f.Format == want {
			return f, nil
		}
	}
	for _, f := range formats {
		if fromVkFormat(f.Format) != gputypes.TextureFormatUndefined {
			return f, nil
		}
	}
	return vk.SurfaceFormat{}, fmt.Errorf("vulkan: surface: %w: no known format offered", ErrUnsupportedFormat)
}

func (s *Swapchain) create() error {
	var caps vk.SurfaceCapabilities
	err := check("surface capabilities", vk.GetPhysicalDeviceSurfaceCapabilities(s.dev.gpu, s.surface, &caps))
	if err != nil {
		return err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	extent := caps.CurrentExtent
	if extent.Width == vk.MaxUint32 {
		extent = vk.Extent2D{
			Width:  clamp(s.want.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
			Height: clamp(s.want.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
		}
	}
	count := max(uint32(s.want.ImageCount), caps.MinImageCount)
	if caps.MaxImageCount > 0 {
		count = min(count, caps.MaxImageCount)
	}
	sf, err := s.surfaceFormat()
	if err != nil {
		return err
	}

	old := s.raw
	var raw vk.Swapchain
	err = check("create swapchain", vk.CreateSwapchain(s.dev.raw, &vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          s.surface,
		MinImageCount:    count,
		ImageFormat:      sf.Format,
		ImageColorSpace:  sf.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferSrcBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      vk.PresentModeFifo,
		Clipped:          vk.True,
		OldSwapchain:     old,
	}, nil, &raw))
	if err != nil {
		return err
	}
	if old != vk.NullSwapchain {
		vk.DestroySwapchain(s.dev.raw, old, nil)
	}
	s.raw = raw
	s.width, s.height = extent.Width, extent.Height
	s.format = fromVkFormat(sf.Format)
	return s.createImages(sf.Format)
}

func clamp(v, lo, hi uint32) uint32 {
	return max(lo, min(v, hi))
}

func (s *Swapchain) createImages(format vk.Format) error {
	var count uint32
	if err := check("swapchain images", vk.GetSwapchainImages(s.dev.raw, s.raw, &count, nil)); err != nil {
		return err
	}
	raws := make([]vk.Image, count)
	if err := check("swapchain images", vk.GetSwapchainImages(s.dev.raw, s.raw, &count, raws)); err != nil {
		return err
	}
	images := make([]*image, 0, count)
	for i, raw := range raws {
		view, err := s.dev.createView(raw, format, vk.ImageAspectFlags(vk.ImageAspectColorBit), 1, 1)
		if err != nil {
			for _, img := range images {
				img.free()
			}
			return err
		}
		images = append(images, &image{
			object:    object{dev: s.dev, label: fmt.Sprintf("swapchain[%d]#%d", i, s.generation)},
			raw:       raw,
			view:      view,
			width:     s.width,
			height:    s.height,
			format:    s.format,
			swapchain: true,
		})
	}
	s.images = images
	return nil
}

func (s *Swapchain) freeImages() {
	for _, img := range s.images {
		img.free()
	}
	s.images = nil
}

// ImageCount implements rhi.Swapchain.
func (s *Swapchain) ImageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

// Extent implements rhi.Swapchain.
func (s *Swapchain) Extent() (uint32, uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// Format implements rhi.Swapchain.
func (s *Swapchain) Format() gputypes.TextureFormat { return s.format }

// Generation returns how many times the swapchain was recreated.
func (s *Swapchain) Generation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Resize records the window size for surfaces that leave the extent to the
// application. It takes effect at the next Recreate.
func (s *Swapchain) Resize(width, height uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.want.Width, s.want.Height = width, height
}

// AcquireNextImage implements rhi.Swapchain.
func (s *Swapchain) AcquireNextImage(signal rhi.Semaphore) (uint32, rhi.Status, error) {
	sem, ok := signal.(*semaphore)
	if !ok || sem.dev != s.dev {
		return 0, rhi.StatusSuccess, fmt.Errorf("vulkan: acquire: %w", rhi.ErrForeignObject)
	}
	s.mu.Lock()
	raw := s.raw
	s.mu.Unlock()
	var idx uint32
	st, err := status("acquire next image", vk.AcquireNextImage(s.dev.raw, raw, vk.MaxUint64, sem.raw, vk.NullFence, &idx))
	return idx, st, err
}

// Present implements rhi.Swapchain.
func (s *Swapchain) Present(index uint32, wait rhi.Semaphore) (rhi.Status, error) {
	sem, ok := wait.(*semaphore)
	if !ok || sem.dev != s.dev {
		return rhi.StatusSuccess, fmt.Errorf("vulkan: present: %w", rhi.ErrForeignObject)
	}
	s.mu.Lock()
	raw := s.raw
	s.mu.Unlock()
	s.dev.mu.Lock()
	res := vk.QueuePresent(s.dev.queue, &vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{sem.raw},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{raw},
		PImageIndices:      []uint32{index},
	})
	s.dev.mu.Unlock()
	return status("queue present", res)
}

// Recreate implements rhi.Swapchain. The caller waits for the device to be
// idle first.
func (s *Swapchain) Recreate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fb := range s.framebuffers {
		fb.Destroy()
	}
	s.framebuffers = nil
	s.freeImages()
	s.generation++
	if err := s.create(); err != nil {
		return err
	}
	slogger().Info("vulkan: swapchain recreated",
		"generation", s.generation, "width", s.width, "height", s.height)
	return nil
}

// Framebuffers implements rhi.Swapchain.
func (s *Swapchain) Framebuffers(rp rhi.RenderPass, attachments []rhi.Image, presentSlot int) ([]rhi.Framebuffer, error) {
	if presentSlot < 0 || presentSlot > len(attachments) {
		return nil, fmt.Errorf("vulkan: present slot %d out of range: %w", presentSlot, rhi.ErrInvalidDescriptor)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]rhi.Framebuffer, len(s.images))
	for i, img := range s.images {
		views := make([]rhi.Image, 0, len(attachments)+1)
		views = append(views, attachments[:presentSlot]...)
		views = append(views, img)
		views = append(views, attachments[presentSlot:]...)
		fb, err := s.dev.CreateFramebuffer(&rhi.FramebufferDescriptor{
			Label:       fmt.Sprintf("%s/present[%d]", rp.Label(), i),
			RenderPass:  rp,
			Attachments: views,
			Width:       s.width,
			Height:      s.height,
			Layers:      1,
		})
		if err != nil {
			for _, made := range out[:i] {
				made.Destroy()
			}
			return nil, err
		}
		s.framebuffers = append(s.framebuffers, fb.(*framebuffer))
		out[i] = fb
	}
	return out, nil
}

func (s *Swapchain) destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fb := range s.framebuffers {
		fb.Destroy()
	}
	s.framebuffers = nil
	s.freeImages()
	vk.DestroySwapchain(s.dev.raw, s.raw, nil)
	s.raw = vk.NullSwapchain
}
