package headless

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

// Swapchain is an in-memory ring of presentable images.
type Swapchain struct {
	dev *Device

	mu               sync.Mutex
	width, height    uint32
	format           gputypes.TextureFormat
	images           []*image
	next             uint32
	acquired         map[uint32]bool
	acquireStatus    []rhi.Status
	presentStatus    []rhi.Status
	framebuffers     []*framebuffer
	generation       int
	presents         int
	pendingResize    bool
	resizeW, resizeH uint32
}

var _ rhi.Swapchain = (*Swapchain)(nil)

func newSwapchain(d *Device, cfg rhi.Config) *Swapchain {
	s := &Swapchain{
		dev:      d,
		width:    cfg.Width,
		height:   cfg.Height,
		format:   cfg.Format,
		acquired: make(map[uint32]bool),
	}
	s.createImages(cfg.ImageCount)
	return s
}

func (s *Swapchain) createImages(n int) {
	s.images = make([]*image, n)
	for i := range s.images {
		s.images[i] = &image{
			object:    object{dev: s.dev, kind: KindImage, label: fmt.Sprintf("swapchain[%d]#%d", i, s.generation)},
			width:     s.width,
			height:    s.height,
			format:    s.format,
			swapchain: true,
		}
	}
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

// Presents returns the number of successful presents.
func (s *Swapchain) Presents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presents
}

// QueueAcquireStatus makes a future AcquireNextImage return st. Statuses are
// consumed in order, one per call.
func (s *Swapchain) QueueAcquireStatus(st rhi.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquireStatus = append(s.acquireStatus, st)
}

// QueuePresentStatus makes a future Present return st.
func (s *Swapchain) QueuePresentStatus(st rhi.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presentStatus = append(s.presentStatus, st)
}

// Resize simulates a window resize: the next acquire reports OutOfDate and
// the next Recreate adopts the new extent.
func (s *Swapchain) Resize(width, height uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingResize = true
	s.resizeW, s.resizeH = width, height
}

func popStatus(q *[]rhi.Status) (rhi.Status, bool) {
	if len(*q) == 0 {
		return rhi.StatusSuccess, false
	}
	st := (*q)[0]
	*q = (*q)[1:]
	return st, true
}

// AcquireNextImage implements rhi.Swapchain.
func (s *Swapchain) AcquireNextImage(signal rhi.Semaphore) (uint32, rhi.Status, error) {
	if err := s.dev.takeFailure(OpAcquire); err != nil {
		return 0, rhi.StatusSuccess, err
	}
	sem, ok := signal.(*semaphore)
	if !ok || sem.dev != s.dev {
		return 0, rhi.StatusSuccess, fmt.Errorf("headless: acquire: %w", rhi.ErrForeignObject)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingResize {
		return 0, rhi.StatusOutOfDate, nil
	}
	st, _ := popStatus(&s.acquireStatus)
	if st == rhi.StatusOutOfDate {
		return 0, st, nil
	}
	if sem.signaled {
		return 0, rhi.StatusSuccess, fmt.Errorf("headless: acquire signals semaphore %q twice", sem.label)
	}
	idx := s.next
	if s.acquired[idx] {
		return 0, rhi.StatusSuccess, fmt.Errorf("headless: image %d acquired twice without present", idx)
	}
	s.acquired[idx] = true
	s.next = (s.next + 1) % uint32(len(s.images))
	sem.signaled = true
	return idx, st, nil
}

// Present implements rhi.Swapchain.
func (s *Swapchain) Present(index uint32, wait rhi.Semaphore) (rhi.Status, error) {
	if err := s.dev.takeFailure(OpPresent); err != nil {
		return rhi.StatusSuccess, err
	}
	sem, ok := wait.(*semaphore)
	if !ok || sem.dev != s.dev {
		return rhi.StatusSuccess, fmt.Errorf("headless: present: %w", rhi.ErrForeignObject)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acquired[index] {
		return rhi.StatusSuccess, fmt.Errorf("headless: present image %d that was not acquired", index)
	}
	if !sem.signaled {
		return rhi.StatusSuccess, fmt.Errorf("headless: present waits on %q: %w", sem.label, ErrSemaphoreNotSignaled)
	}
	sem.signaled = false
	delete(s.acquired, index)
	s.presents++
	st, _ := popStatus(&s.presentStatus)
	return st, nil
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
	s.generation++
	s.next = 0
	s.acquired = make(map[uint32]bool)
	s.createImages(len(s.images))
	slogger().Info("headless: swapchain recreated",
		"generation", s.generation, "width", s.width, "height", s.height)
	return nil
}

// Framebuffers implements rhi.Swapchain.
func (s *Swapchain) Framebuffers(rp rhi.RenderPass, attachments []rhi.Image, presentSlot int) ([]rhi.Framebuffer, error) {
	if presentSlot < 0 || presentSlot > len(attachments) {
		return nil, fmt.Errorf("headless: present slot %d out of range: %w", presentSlot, rhi.ErrInvalidDescriptor)
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
}
