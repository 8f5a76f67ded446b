// Package track maintains shadow state for swapchains and their image
// sequences: which images exist, which are acquired, and a stable copy of
// the most recently released image content for the mirror pipeline.
package track

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vrtools/xrmirror/internal/oxr"
)

// ErrProtocolViolation means the observed acquire/release sequence breaks
// the OpenXR swapchain contract. The layer logs it and keeps going; the
// application's own calls are never failed because of it.
var ErrProtocolViolation = errors.New("swapchain protocol violation")

// ImageState tracks where an image slot is in its lifecycle. Transitions are
// free → acquired → released → free, driven only by the acquire/release
// overrides, FIFO per swapchain.
type ImageState int

const (
	ImageFree ImageState = iota
	ImageAcquired
	ImageReleased
)

func (s ImageState) String() string {
	switch s {
	case ImageFree:
		return "free"
	case ImageAcquired:
		return "acquired"
	case ImageReleased:
		return "released"
	}
	return "invalid"
}

// Image is one slot of a swapchain. Lifetime is bound to the swapchain; the
// pixel slice aliases runtime-owned memory and is only read while the slot
// is between release and frame end.
type Image struct {
	Index    uint32
	Resource uint64

	state  atomic.Int32 // holds an ImageState
	pixels []byte
}

// State returns the slot's current lifecycle state. Safe to read while the
// acquire/release overrides run on another thread.
func (im *Image) State() ImageState { return ImageState(im.state.Load()) }

// Swapchain is the layer-owned shadow of one runtime swapchain.
type Swapchain struct {
	Handle  oxr.Handle
	Session oxr.Handle
	Info    oxr.SwapchainCreateInfo

	mu       sync.Mutex
	images   []*Image
	acquired []uint32 // FIFO of acquired indices, oldest first

	// Stable copy of the newest released image, written on release so the
	// content survives the runtime reusing the resource after frame end.
	last      []byte
	lastIndex uint32
	lastValid bool
}

// NewSwapchain wraps a runtime swapchain handle in a shadow record.
func NewSwapchain(handle, session oxr.Handle, info oxr.SwapchainCreateInfo) *Swapchain {
	return &Swapchain{
		Handle:  handle,
		Session: session,
		Info:    info,
	}
}

// Capturable reports whether the mirror can copy this swapchain's pixels:
// the format must have a known stride and the swapchain must be a color
// target. Non-capturable swapchains are still tracked for transparency.
func (s *Swapchain) Capturable() bool {
	return s.Info.Format.BytesPerPixel() > 0 &&
		s.Info.UsageFlags&oxr.SwapchainUsageColorAttachment != 0
}

// Populate records the image sequence returned by the runtime's enumeration,
// in the runtime's order. The sequence is fixed after the first successful
// call: re-enumeration is idempotent, and a runtime returning a different
// count on re-enumeration is a protocol violation.
func (s *Swapchain) Populate(images []oxr.SwapchainImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.images != nil {
		if len(s.images) != len(images) {
			return fmt.Errorf("%w: image count changed on re-enumeration: %d then %d",
				ErrProtocolViolation, len(s.images), len(images))
		}
		return nil
	}

	s.images = make([]*Image, len(images))
	for i, img := range images {
		s.images[i] = &Image{
			Index:    uint32(i),
			Resource: img.Resource,
			pixels:   img.Pixels,
		}
	}
	return nil
}

// ImageCount returns the enumerated image count, 0 before enumeration.
func (s *Swapchain) ImageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

// ImageAt returns the image record at index, or nil if out of range or not
// yet enumerated.
func (s *Swapchain) ImageAt(index uint32) *Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(index) >= len(s.images) {
		return nil
	}
	return s.images[index]
}

// OnAcquire transitions the image at the runtime-returned index to acquired.
// Called after the forwarded acquire succeeded.
func (s *Swapchain) OnAcquire(index uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(index) >= len(s.images) {
		// Legal: applications may acquire before ever enumerating. Track the
		// index anyway so release ordering stays intact.
		s.acquired = append(s.acquired, index)
		return nil
	}

	img := s.images[index]
	if st := img.State(); st != ImageFree {
		s.acquired = append(s.acquired, index)
		return fmt.Errorf("%w: acquire of image %d in state %s", ErrProtocolViolation, index, st)
	}
	img.state.Store(int32(ImageAcquired))
	s.acquired = append(s.acquired, index)
	return nil
}

// OnRelease transitions the oldest acquired image through released back to
// free, per the OpenXR FIFO release contract, and snapshots its content so
// the mirror has a copy that outlives the frame. Called after the forwarded
// release succeeded. Returns the released index.
func (s *Swapchain) OnRelease() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.acquired) == 0 {
		return 0, fmt.Errorf("%w: release with no acquired image", ErrProtocolViolation)
	}
	index := s.acquired[0]
	s.acquired = s.acquired[1:]

	if int(index) >= len(s.images) {
		return index, nil
	}

	img := s.images[index]
	img.state.Store(int32(ImageReleased))
	if img.pixels != nil && s.capturableLocked() {
		if cap(s.last) < len(img.pixels) {
			s.last = make([]byte, len(img.pixels))
		}
		s.last = s.last[:len(img.pixels)]
		copy(s.last, img.pixels)
		s.lastIndex = index
		s.lastValid = true
	}
	img.state.Store(int32(ImageFree))
	return index, nil
}

func (s *Swapchain) capturableLocked() bool {
	return s.Info.Format.BytesPerPixel() > 0 &&
		s.Info.UsageFlags&oxr.SwapchainUsageColorAttachment != 0
}

// SnapshotLast appends a copy of the newest released image content to dst
// and returns the extended slice along with the image index it came from.
// ok is false if nothing has been released (or the swapchain is not
// capturable), in which case dst is returned unchanged.
func (s *Swapchain) SnapshotLast(dst []byte) (out []byte, index uint32, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastValid {
		return dst, 0, false
	}
	return append(dst, s.last...), s.lastIndex, true
}

// AcquiredDepth returns how many images are currently acquired. Used by
// tests and diagnostics.
func (s *Swapchain) AcquiredDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.acquired)
}
