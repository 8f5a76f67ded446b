// Package sink defines the narrow boundary between the mirror pipeline and
// the external frame consumer: a spectator window, a recorder, or a remote
// viewer. The pipeline never blocks on a sink; a sink that cannot keep up
// sees dropped frames, not a stalled XR frame loop.
package sink

import (
	"github.com/vrtools/xrmirror/internal/oxr"
)

// ViewFrame is the captured content of one composited view.
type ViewFrame struct {
	Pose       oxr.Posef
	FOV        oxr.Fovf
	Swapchain  oxr.Handle
	ImageIndex uint32
	Rect       oxr.Rect2Di
	Format     oxr.Format
	Width      uint32
	Height     uint32

	// Pixels is a stable copy owned by the frame; it is not reused by the
	// pipeline after delivery. Nil if the source swapchain was not
	// capturable (metadata-only view).
	Pixels []byte
}

// Overlay is a quad composition layer submitted alongside the projection
// views, delivered so consumers can composite HUDs and menus themselves.
type Overlay struct {
	Pose      oxr.Posef
	Size      oxr.Extent2Df
	Swapchain oxr.Handle
	Rect      oxr.Rect2Di
	Pixels    []byte
}

// Frame is one delivered unit: everything the mirror learned about a single
// application frame.
type Frame struct {
	FrameIndex  uint64
	DisplayTime int64
	Session     oxr.Handle
	Views       []ViewFrame
	Overlays    []Overlay
}

// Sink receives frames from the mirror pipeline.
//
// OnFrame runs on the pipeline's delivery goroutine, never on the
// application's frame-loop thread, so moderate per-frame work (encoding) is
// acceptable. It must not retain f past the point it returns false;
// returning true transfers ownership of the frame and its buffers to the
// sink. A false return counts the frame as dropped.
type Sink interface {
	OnFrame(f *Frame) bool
	Close() error
}

// Discard accepts and forgets every frame. Useful as a placeholder and in
// throughput tests.
type Discard struct{}

func (Discard) OnFrame(*Frame) bool { return true }
func (Discard) Close() error        { return nil }

// Func adapts a function to the Sink interface.
type Func func(*Frame) bool

func (f Func) OnFrame(fr *Frame) bool { return f(fr) }
func (Func) Close() error             { return nil }
