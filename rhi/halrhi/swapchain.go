package halrhi

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

// Swapchain is a ring of offscreen render targets standing in for a
// surface. Images are handed out round robin; Present releases them.
type Swapchain struct {
	dev *Device

	mu               sync.Mutex
	width, height    uint32
	format           gputypes.TextureFormat
	images           []*image
	next             uint32
	acquired         map[uint32]bool
	framebuffers     []*framebuffer
	generation       int
	presents         int
	pendingResize    bool
	resizeW, resizeH uint32
}

var _ rhi.Swapchain = (*Swapchain)(nil)

func newSwapchain(d *Device, cfg rhi.Config) (*Swapchain, error) {
	s := &Swapchain{
		dev:      d,
		width:    cfg.Width,
		height:   cfg.Height,
		format:   cfg.Format,
		acquired: make(map[uint32]bool),
	}
	if err := s.createImages(cfg.ImageCount); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Swapchain) createImages(n int) error {
	images := make([]*image, 0, n)
	for i := 0; i < n; i++ {
		img, err := s.dev.createImage(&rhi.ImageDescriptor{
			Label:  fmt.Sprintf("swapchain[%d]#%d", i, s.generation),
			Width:  s.width,
			Height: s.height,
			Format: s.format,
			Usage: gputypes.TextureUsageRenderAttachment |
				gputypes.TextureUsageTextureBinding |
				gputypes.TextureUsageCopySrc,
		})
		if err != nil {
			for _, made := range images {
				s.dev.live.Add(1)
				made.free()
			}
			return err
		}
		img.swapchain = true
		images = append(images, img)
	}
	s.images = images
	return nil
}

// freeImages releases the ring. Swapchain images are not counted in
// Device.LiveObjects, so the count is restored after release.
func (s *Swapchain) freeImages() {
	for _, img := range s.images {
		s.dev.live.Add(1)
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

// Image returns swapchain image i, for readback by the host.
func (s *Swapchain) Image(i int) rhi.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images[i]
}

// Generation returns how many times the swapchain was recreated.
func (s *Swapchain) Generation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Presents returns the number of successful presents.
func (s *Swapchain) Presents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presents
}

// Resize changes the extent: the next acquire reports OutOfDate and the
// next Recreate adopts width and height.
func (s *Swapchain) Resize(width, height uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingResize = true
	s.resizeW, s.resizeH = width, height
}

// AcquireNextImage implements rhi.Swapchain.
func (s *Swapchain) AcquireNextImage(signal rhi.Semaphore) (uint32, rhi.Status, error) {
	sem, ok := signal.(*semaphore)
	if !ok || sem.dev != s.dev {
		return 0, rhi.StatusSuccess, fmt.Errorf("halrhi: acquire: %w", rhi.ErrForeignObject)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingResize {
		return 0, rhi.StatusOutOfDate, nil
	}
	idx := s.next
	if s.acquired[idx] {
		return 0, rhi.StatusSuccess, fmt.Errorf("halrhi: image %d acquired twice without present", idx)
	}
	s.acquired[idx] = true
	s.next = (s.next + 1) % uint32(len(s.images))
	sem.signaled = true
	return idx, rhi.StatusSuccess, nil
}

// Present implements rhi.Swapchain.
func (s *Swapchain) Present(index uint32, wait rhi.Semaphore) (rhi.Status, error) {
	sem, ok := wait.(*semaphore)
	if !ok || sem.dev != s.dev {
		return rhi.StatusSuccess, fmt.Errorf("halrhi: present: %w", rhi.ErrForeignObject)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acquired[index] {
		return rhi.StatusSuccess, fmt.Errorf("halrhi: present image %d that was not acquired", index)
	}
	if !sem.signaled {
		return rhi.StatusSuccess, fmt.Errorf("halrhi: present waits on %q: %w", sem.label, ErrSemaphoreNotSignaled)
	}
	sem.signaled = false
	delete(s.acquired, index)
	s.presents++
	if s.pendingResize {
		return rhi.StatusSuboptimal, nil
	}
	return rhi.StatusSuccess, nil
}

// Recreate implements rhi.Swapchain.
func (s *Swapchain) Recreate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fb := range s.framebuffers {
		fb.Destroy()
	}
	s.framebuffers = nil
	if s.pendingResize {
		s.width, s.height = s.resizeW, s.resizeH
		s.pendingResize = false
	}
	n := len(s.images)
	s.freeImages()
	s.generation++
	s.next = 0
	s.acquired = make(map[uint32]bool)
	if err := s.createImages(n); err != nil {
		return err
	}
	slogger().Info("halrhi: swapchain recreated",
		"generation", s.generation, "width", s.width, "height", s.height)
	return nil
}

// Framebuffers implements rhi.Swapchain.
func (s *Swapchain) Framebuffers(rp rhi.RenderPass, attachments []rhi.Image, presentSlot int) ([]rhi.Framebuffer, error) {
	if presentSlot < 0 || presentSlot > len(attachments) {
		return nil, fmt.Errorf("halrhi: present slot %d out of range: %w", presentSlot, rhi.ErrInvalidDescriptor)
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
}
