// Package simrt is a simulated OpenXR runtime: enough of the entry-point
// surface to drive the layer end to end without a headset. It hands out real
// handles, backs swapchain images with real pixel buffers, enforces call
// ordering the way a conformant runtime would, and supports failure injection
// for exercising the layer's error paths.
package simrt

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/vrtools/xrmirror/internal/logging"
	"github.com/vrtools/xrmirror/internal/oxr"
)

var log = logging.L("simrt")

const simSystemID oxr.SystemID = 1

type simSession struct {
	handle    oxr.Handle
	frameOpen bool
}

type simImage struct {
	resource uint64
	pixels   []byte
	acquired bool
}

type simSwapchain struct {
	handle   oxr.Handle
	session  oxr.Handle
	info     oxr.SwapchainCreateInfo
	images   []*simImage
	acquired []uint32 // FIFO, oldest first
	next     uint32   // round-robin acquire cursor
}

// Runtime implements oxr.Runtime over in-memory state.
type Runtime struct {
	profile Profile

	nextHandle   atomic.Uint64
	nextResource atomic.Uint64

	mu         sync.Mutex
	sessions   map[oxr.Handle]*simSession
	swapchains map[oxr.Handle]*simSwapchain
	spaces     map[oxr.Handle]oxr.ReferenceSpaceCreateInfo
	failures   map[string]oxr.Result
}

// New builds a runtime from the profile.
func New(profile Profile) *Runtime {
	r := &Runtime{
		profile:    profile,
		sessions:   make(map[oxr.Handle]*simSession),
		swapchains: make(map[oxr.Handle]*simSwapchain),
		spaces:     make(map[oxr.Handle]oxr.ReferenceSpaceCreateInfo),
		failures:   make(map[string]oxr.Result),
	}
	r.nextHandle.Store(0x1000)
	r.nextResource.Store(0xd3d00000)
	return r
}

// Resolver exposes the runtime through the loader's resolution shape,
// withholding any function the profile lists as missing.
func (r *Runtime) Resolver() oxr.ResolveFunc {
	base := oxr.ResolverFor(r)
	missing := r.profile.MissingFunctions
	if len(missing) == 0 {
		return base
	}
	return func(name string) (any, error) {
		if slices.Contains(missing, name) {
			return nil, &oxr.UnknownFunctionError{Name: name}
		}
		return base(name)
	}
}

// InjectFailure makes every subsequent call to fn return res. Injecting
// oxr.Success clears the injection.
func (r *Runtime) InjectFailure(fn string, res oxr.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res == oxr.Success {
		delete(r.failures, fn)
		return
	}
	r.failures[fn] = res
}

func (r *Runtime) injected(fn string) (oxr.Result, bool) {
	res, ok := r.failures[fn]
	return res, ok
}

func (r *Runtime) allocHandle() oxr.Handle {
	return oxr.Handle(r.nextHandle.Add(1))
}

// CreateSession implements oxr.Runtime.
func (r *Runtime) CreateSession(instance oxr.Handle, info *oxr.SessionCreateInfo) (oxr.Handle, oxr.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.injected(oxr.FnCreateSession); ok {
		return oxr.NullHandle, res
	}
	if info == nil {
		return oxr.NullHandle, oxr.ErrorValidationFailure
	}

	handle := r.allocHandle()
	r.sessions[handle] = &simSession{handle: handle}
	log.Debug("session created", logging.KeySession, uint64(handle))
	return handle, oxr.Success
}

// CreateSwapchain implements oxr.Runtime. Image buffers are allocated up
// front at the requested geometry.
func (r *Runtime) CreateSwapchain(session oxr.Handle, info *oxr.SwapchainCreateInfo) (oxr.Handle, oxr.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.injected(oxr.FnCreateSwapchain); ok {
		return oxr.NullHandle, res
	}
	if _, ok := r.sessions[session]; !ok {
		return oxr.NullHandle, oxr.ErrorHandleInvalid
	}
	if info == nil || info.Width == 0 || info.Height == 0 {
		return oxr.NullHandle, oxr.ErrorValidationFailure
	}

	bpp := info.Format.BytesPerPixel()
	sc := &simSwapchain{
		handle:  r.allocHandle(),
		session: session,
		info:    *info,
		images:  make([]*simImage, r.profile.ImageCount),
	}
	for i := range sc.images {
		img := &simImage{resource: r.nextResource.Add(0x100)}
		if bpp > 0 {
			img.pixels = make([]byte, int(info.Width)*int(info.Height)*bpp)
		}
		sc.images[i] = img
	}
	r.swapchains[sc.handle] = sc
	return sc.handle, oxr.Success
}

// DestroySwapchain implements oxr.Runtime.
func (r *Runtime) DestroySwapchain(swapchain oxr.Handle) oxr.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.injected(oxr.FnDestroySwapchain); ok {
		return res
	}
	if _, ok := r.swapchains[swapchain]; !ok {
		return oxr.ErrorHandleInvalid
	}
	delete(r.swapchains, swapchain)
	return oxr.Success
}

// EnumerateSwapchainImages implements oxr.Runtime. The returned pixel slices
// alias the runtime's buffers, matching how a native runtime exposes its
// textures.
func (r *Runtime) EnumerateSwapchainImages(swapchain oxr.Handle) ([]oxr.SwapchainImage, oxr.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.injected(oxr.FnEnumerateSwapchainImages); ok {
		return nil, res
	}
	sc, ok := r.swapchains[swapchain]
	if !ok {
		return nil, oxr.ErrorHandleInvalid
	}

	out := make([]oxr.SwapchainImage, len(sc.images))
	for i, img := range sc.images {
		out[i] = oxr.SwapchainImage{Resource: img.resource, Pixels: img.pixels}
	}
	return out, oxr.Success
}

// AcquireSwapchainImage implements oxr.Runtime: round-robin over free
// images, ERROR_CALL_ORDER_INVALID when everything is held.
func (r *Runtime) AcquireSwapchainImage(swapchain oxr.Handle) (uint32, oxr.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.injected(oxr.FnAcquireSwapchainImage); ok {
		return 0, res
	}
	sc, ok := r.swapchains[swapchain]
	if !ok {
		return 0, oxr.ErrorHandleInvalid
	}

	for range sc.images {
		index := sc.next % uint32(len(sc.images))
		sc.next++
		if !sc.images[index].acquired {
			sc.images[index].acquired = true
			sc.acquired = append(sc.acquired, index)
			return index, oxr.Success
		}
	}
	return 0, oxr.ErrorCallOrderInvalid
}

// ReleaseSwapchainImage implements oxr.Runtime: releases the oldest acquired
// image, FIFO.
func (r *Runtime) ReleaseSwapchainImage(swapchain oxr.Handle) oxr.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.injected(oxr.FnReleaseSwapchainImage); ok {
		return res
	}
	sc, ok := r.swapchains[swapchain]
	if !ok {
		return oxr.ErrorHandleInvalid
	}
	if len(sc.acquired) == 0 {
		return oxr.ErrorCallOrderInvalid
	}
	index := sc.acquired[0]
	sc.acquired = sc.acquired[1:]
	sc.images[index].acquired = false
	return oxr.Success
}

// LocateViews implements oxr.Runtime with a synthetic head animation: a slow
// yaw oscillation derived from display time, all validity flags set.
func (r *Runtime) LocateViews(session oxr.Handle, info *oxr.ViewLocateInfo) (oxr.ViewState, []oxr.View, oxr.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.injected(oxr.FnLocateViews); ok {
		return oxr.ViewState{}, nil, res
	}
	if _, ok := r.sessions[session]; !ok {
		return oxr.ViewState{}, nil, oxr.ErrorHandleInvalid
	}
	if info == nil {
		return oxr.ViewState{}, nil, oxr.ErrorValidationFailure
	}

	yaw := 0.2 * math.Sin(float64(info.DisplayTime)/1e9)
	orientation := oxr.Quaternionf{
		Y: float32(math.Sin(yaw / 2)),
		W: float32(math.Cos(yaw / 2)),
	}

	views := make([]oxr.View, r.profile.ViewCount)
	for i := range views {
		// 64mm IPD centered on the head position.
		offset := (float32(i) - float32(len(views)-1)/2) * 0.064
		views[i] = oxr.View{
			Pose: oxr.Posef{
				Orientation: orientation,
				Position:    oxr.Vector3f{X: offset, Y: 1.6},
			},
			FOV: oxr.Fovf{AngleLeft: -0.8, AngleRight: 0.8, AngleUp: 0.7, AngleDown: -0.7},
		}
	}
	state := oxr.ViewState{
		Flags: oxr.ViewStateOrientationValid | oxr.ViewStatePositionValid |
			oxr.ViewStateOrientationTracked | oxr.ViewStatePositionTracked,
	}
	return state, views, oxr.Success
}

// BeginFrame implements oxr.Runtime: one open frame per session.
func (r *Runtime) BeginFrame(session oxr.Handle, info *oxr.FrameBeginInfo) oxr.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.injected(oxr.FnBeginFrame); ok {
		return res
	}
	sess, ok := r.sessions[session]
	if !ok {
		return oxr.ErrorHandleInvalid
	}
	if sess.frameOpen {
		return oxr.ErrorCallOrderInvalid
	}
	sess.frameOpen = true
	return oxr.Success
}

// EndFrame implements oxr.Runtime.
func (r *Runtime) EndFrame(session oxr.Handle, info *oxr.FrameEndInfo) oxr.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.injected(oxr.FnEndFrame); ok {
		return res
	}
	sess, ok := r.sessions[session]
	if !ok {
		return oxr.ErrorHandleInvalid
	}
	if !sess.frameOpen {
		return oxr.ErrorCallOrderInvalid
	}
	if info == nil {
		return oxr.ErrorValidationFailure
	}
	sess.frameOpen = false
	return oxr.Success
}

// CreateReferenceSpace implements oxr.Runtime.
func (r *Runtime) CreateReferenceSpace(session oxr.Handle, info *oxr.ReferenceSpaceCreateInfo) (oxr.Handle, oxr.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.injected(oxr.FnCreateReferenceSpace); ok {
		return oxr.NullHandle, res
	}
	if _, ok := r.sessions[session]; !ok {
		return oxr.NullHandle, oxr.ErrorHandleInvalid
	}
	if info == nil {
		return oxr.NullHandle, oxr.ErrorValidationFailure
	}
	handle := r.allocHandle()
	r.spaces[handle] = *info
	return handle, oxr.Success
}

// GetInstanceProperties implements oxr.Runtime.
func (r *Runtime) GetInstanceProperties(instance oxr.Handle) (oxr.InstanceProperties, oxr.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.injected(oxr.FnGetInstanceProperties); ok {
		return oxr.InstanceProperties{}, res
	}
	return oxr.InstanceProperties{
		RuntimeName:    r.profile.RuntimeName,
		RuntimeVersion: r.profile.RuntimeVersion,
	}, oxr.Success
}

// GetSystemProperties implements oxr.Runtime, decorating the profile's
// device identity with host facts.
func (r *Runtime) GetSystemProperties(instance oxr.Handle, system oxr.SystemID) (oxr.SystemProperties, oxr.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.injected(oxr.FnGetSystemProperties); ok {
		return oxr.SystemProperties{}, res
	}
	if system != simSystemID {
		return oxr.SystemProperties{}, oxr.ErrorHandleInvalid
	}
	return oxr.SystemProperties{
		SystemID:   simSystemID,
		VendorID:   r.profile.VendorID,
		SystemName: r.profile.systemName(),
		Graphics: oxr.SystemGraphicsProperties{
			MaxSwapchainImageWidth:  r.profile.ViewWidth * 2,
			MaxSwapchainImageHeight: r.profile.ViewHeight * 2,
			MaxLayerCount:           16,
		},
	}, oxr.Success
}

// GetSystem implements oxr.Runtime. Only the HMD form factor exists.
func (r *Runtime) GetSystem(instance oxr.Handle, info *oxr.SystemGetInfo) (oxr.SystemID, oxr.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.injected(oxr.FnGetSystem); ok {
		return oxr.NullSystemID, res
	}
	if info == nil || info.FormFactor != oxr.FormFactorHeadMountedDisplay {
		return oxr.NullSystemID, oxr.ErrorValidationFailure
	}
	return simSystemID, oxr.Success
}

// EnumerateViewConfigurationViews implements oxr.Runtime from the profile's
// geometry.
func (r *Runtime) EnumerateViewConfigurationViews(instance oxr.Handle, system oxr.SystemID, viewConfig oxr.ViewConfigurationType) ([]oxr.ViewConfigurationView, oxr.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.injected(oxr.FnEnumerateViewConfigurationViews); ok {
		return nil, res
	}
	if system != simSystemID {
		return nil, oxr.ErrorHandleInvalid
	}

	count := r.profile.ViewCount
	if viewConfig == oxr.ViewConfigurationPrimaryMono {
		count = 1
	}
	views := make([]oxr.ViewConfigurationView, count)
	for i := range views {
		views[i] = oxr.ViewConfigurationView{
			RecommendedImageRectWidth:       r.profile.ViewWidth,
			RecommendedImageRectHeight:      r.profile.ViewHeight,
			MaxImageRectWidth:               r.profile.ViewWidth * 2,
			MaxImageRectHeight:              r.profile.ViewHeight * 2,
			RecommendedSwapchainSampleCount: 1,
		}
	}
	return views, oxr.Success
}

// ImageBuffer returns the backing pixels of one swapchain image so a driver
// can render into it, the way an application draws into an acquired texture.
func (r *Runtime) ImageBuffer(swapchain oxr.Handle, index uint32) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.swapchains[swapchain]
	if !ok {
		return nil, fmt.Errorf("unknown swapchain %#x", uint64(swapchain))
	}
	if int(index) >= len(sc.images) {
		return nil, fmt.Errorf("image index %d out of range", index)
	}
	return sc.images[index].pixels, nil
}

// Paint fills one swapchain image with a flat RGBA color, a stand-in for a
// rendered eye buffer.
func (r *Runtime) Paint(swapchain oxr.Handle, index uint32, rgba [4]byte) error {
	buf, err := r.ImageBuffer(swapchain, index)
	if err != nil {
		return err
	}
	for i := 0; i+3 < len(buf); i += 4 {
		buf[i] = rgba[0]
		buf[i+1] = rgba[1]
		buf[i+2] = rgba[2]
		buf[i+3] = rgba[3]
	}
	return nil
}
