// Package layer implements the interception surface. A Layer sits between an
// application and the upstream runtime: it implements oxr.Runtime, forwards
// every call through its dispatch table, and maintains shadow state on the
// side so the mirror pipeline can capture frames. Forwarded results are
// returned to the application unmodified; nothing the layer does can fail an
// application call.
package layer

import (
	"context"
	"errors"
	"fmt"

	"github.com/vrtools/xrmirror/internal/dispatch"
	"github.com/vrtools/xrmirror/internal/logging"
	"github.com/vrtools/xrmirror/internal/mirror"
	"github.com/vrtools/xrmirror/internal/oxr"
	"github.com/vrtools/xrmirror/internal/registry"
	"github.com/vrtools/xrmirror/internal/sink"
	"github.com/vrtools/xrmirror/internal/track"
)

var log = logging.L("layer")

// Session is the layer's shadow of one runtime session.
type Session struct {
	Handle  oxr.Handle
	Binding oxr.GraphicsBinding
	State   *mirror.SessionState
}

// Space is the layer's shadow of one reference space. Only the create info is
// kept; the layer never locates spaces itself.
type Space struct {
	Handle  oxr.Handle
	Session oxr.Handle
	Info    oxr.ReferenceSpaceCreateInfo
}

// Layer is the per-instance interception state: the resolved dispatch table,
// the handle registries, and the mirror pipeline. It implements oxr.Runtime
// so layers chain the same way native API layers do.
type Layer struct {
	instance oxr.Handle
	table    *dispatch.Table
	pipe     *mirror.Pipeline

	sessions   *registry.Table[*Session]
	swapchains *registry.Table[*track.Swapchain]
	spaces     *registry.Table[*Space]

	// Bootstrap facts gathered through the requested set at attach time.
	// All optional: a runtime that withholds them costs diagnostics, not
	// functionality.
	runtimeName  string
	system       oxr.SystemID
	sysProps     oxr.SystemProperties
	sysPropsOK   bool
	viewGeometry []oxr.ViewConfigurationView
}

// New builds the dispatch table against resolve, runs the requested-set
// bootstrap, and starts the mirror pipeline. It fails only when an
// override-set function cannot be resolved.
func New(instance oxr.Handle, resolve oxr.ResolveFunc, cfg mirror.Config) (*Layer, error) {
	table, err := dispatch.Build(resolve)
	if err != nil {
		return nil, fmt.Errorf("attach to instance %#x: %w", uint64(instance), err)
	}

	l := &Layer{
		instance:   instance,
		table:      table,
		pipe:       mirror.NewPipeline(cfg),
		sessions:   registry.New[*Session](),
		swapchains: registry.New[*track.Swapchain](),
		spaces:     registry.New[*Space](),
	}
	l.bootstrap()

	log.Info("attached to instance",
		"instance", uint64(instance),
		"runtime", l.runtimeName,
		"missingRequested", len(table.Missing()))
	return l, nil
}

// bootstrap gathers runtime identity and view geometry through the requested
// set. Each probe degrades independently when its function is missing.
func (l *Layer) bootstrap() {
	if l.table.GetInstanceProperties != nil {
		if props, res := l.table.GetInstanceProperties(l.instance); res.Succeeded() {
			l.runtimeName = props.RuntimeName
			log.Info("upstream runtime identified",
				"name", props.RuntimeName, "version", props.RuntimeVersion)
		}
	}

	if l.table.GetSystem != nil {
		info := oxr.SystemGetInfo{FormFactor: oxr.FormFactorHeadMountedDisplay}
		if system, res := l.table.GetSystem(l.instance, &info); res.Succeeded() {
			l.system = system
		}
	}

	if l.system != oxr.NullSystemID && l.table.GetSystemProperties != nil {
		if props, res := l.table.GetSystemProperties(l.instance, l.system); res.Succeeded() {
			l.sysProps = props
			l.sysPropsOK = true
			log.Info("system properties",
				"system", props.SystemName,
				"maxWidth", props.Graphics.MaxSwapchainImageWidth,
				"maxHeight", props.Graphics.MaxSwapchainImageHeight)
		}
	}

	if l.system != oxr.NullSystemID && l.table.EnumerateViewConfigurationViews != nil {
		views, res := l.table.EnumerateViewConfigurationViews(
			l.instance, l.system, oxr.ViewConfigurationPrimaryStereo)
		if res.Succeeded() {
			l.viewGeometry = views
		}
	}
}

// Instance returns the handle this layer is attached to.
func (l *Layer) Instance() oxr.Handle { return l.instance }

// MissingFunctions lists the requested-set functions the upstream did not
// resolve; the features depending on them are disabled.
func (l *Layer) MissingFunctions() []string { return l.table.Missing() }

// RuntimeName returns the upstream runtime's name, empty if it could not be
// queried at attach time.
func (l *Layer) RuntimeName() string { return l.runtimeName }

// ViewGeometry returns the stereo view geometry gathered at attach time, nil
// when the runtime did not expose it.
func (l *Layer) ViewGeometry() []oxr.ViewConfigurationView {
	out := make([]oxr.ViewConfigurationView, len(l.viewGeometry))
	copy(out, l.viewGeometry)
	if len(out) == 0 {
		return nil
	}
	return out
}

// AttachSink routes captured frames to s.
func (l *Layer) AttachSink(s sink.Sink) { l.pipe.AttachSink(s) }

// DetachSink stops frame delivery.
func (l *Layer) DetachSink() { l.pipe.DetachSink() }

// Metrics exposes the pipeline counters.
func (l *Layer) Metrics() *mirror.Metrics { return l.pipe.Metrics() }

// MirrorEnabled reports whether the watchdog currently allows capture.
func (l *Layer) MirrorEnabled() bool { return l.pipe.Enabled() }

// CreateSession forwards, then shadows the new session on success.
func (l *Layer) CreateSession(instance oxr.Handle, info *oxr.SessionCreateInfo) (oxr.Handle, oxr.Result) {
	handle, res := l.table.CreateSession(instance, info)
	if res.Failed() {
		return handle, res
	}

	sess := &Session{
		Handle: handle,
		State:  mirror.NewSessionState(handle),
	}
	if info != nil {
		sess.Binding = info.Binding
	}
	l.sessions.Register(handle, sess)
	log.Info("session created",
		logging.KeySession, uint64(handle),
		"graphicsAPI", sess.Binding.API)
	return handle, res
}

// CreateSwapchain forwards, then shadows the new swapchain on success.
func (l *Layer) CreateSwapchain(session oxr.Handle, info *oxr.SwapchainCreateInfo) (oxr.Handle, oxr.Result) {
	handle, res := l.table.CreateSwapchain(session, info)
	if res.Failed() {
		return handle, res
	}

	var ci oxr.SwapchainCreateInfo
	if info != nil {
		ci = *info
	}
	sc := track.NewSwapchain(handle, session, ci)
	l.swapchains.Register(handle, sc)
	log.Info("swapchain created",
		logging.KeySwapchain, uint64(handle),
		logging.KeySession, uint64(session),
		"format", int64(ci.Format),
		"width", ci.Width,
		"height", ci.Height,
		"capturable", sc.Capturable())
	return handle, res
}

// DestroySwapchain forwards and drops the shadow on success. The shadow goes
// eagerly; a runtime that recycles the handle value gets a fresh record.
func (l *Layer) DestroySwapchain(swapchain oxr.Handle) oxr.Result {
	res := l.table.DestroySwapchain(swapchain)
	if res.Succeeded() {
		l.swapchains.Unregister(swapchain)
		log.Debug("swapchain destroyed", logging.KeySwapchain, uint64(swapchain))
	}
	return res
}

// EnumerateSwapchainImages forwards and populates the shadow's image
// sequence. Unknown swapchains pass through untracked.
func (l *Layer) EnumerateSwapchainImages(swapchain oxr.Handle) ([]oxr.SwapchainImage, oxr.Result) {
	images, res := l.table.EnumerateSwapchainImages(swapchain)
	if res.Failed() {
		return images, res
	}

	sc, err := l.swapchains.Lookup(swapchain)
	if errors.Is(err, registry.ErrInvalidHandle) {
		return images, res
	}
	if perr := sc.Populate(images); perr != nil {
		l.pipe.Metrics().RecordViolation()
		log.Warn("image enumeration inconsistent, tracking unchanged",
			logging.KeySwapchain, uint64(swapchain), logging.KeyError, perr)
	}
	return images, res
}

// AcquireSwapchainImage forwards and advances the shadow lifecycle.
func (l *Layer) AcquireSwapchainImage(swapchain oxr.Handle) (uint32, oxr.Result) {
	index, res := l.table.AcquireSwapchainImage(swapchain)
	if res.Failed() {
		return index, res
	}

	if sc, err := l.swapchains.Lookup(swapchain); err == nil {
		if aerr := sc.OnAcquire(index); aerr != nil {
			l.pipe.Metrics().RecordViolation()
			log.Warn("acquire out of order",
				logging.KeySwapchain, uint64(swapchain), logging.KeyError, aerr)
		}
	}
	return index, res
}

// ReleaseSwapchainImage forwards, then snapshots the released image content
// into the shadow. The copy happens here because after release the
// compositor owns the image and may overwrite it at any time.
func (l *Layer) ReleaseSwapchainImage(swapchain oxr.Handle) oxr.Result {
	res := l.table.ReleaseSwapchainImage(swapchain)
	if res.Failed() {
		return res
	}

	if sc, err := l.swapchains.Lookup(swapchain); err == nil {
		if _, rerr := sc.OnRelease(); rerr != nil {
			l.pipe.Metrics().RecordViolation()
			log.Warn("release without acquire",
				logging.KeySwapchain, uint64(swapchain), logging.KeyError, rerr)
		}
	}
	return res
}

// LocateViews forwards and opportunistically records the located poses into
// the session's open frame, so frames whose submitted poses are useless still
// mirror with real head tracking. Only locates against a LOCAL reference
// space are recorded; view-locked and stage locates would skew the mirror.
func (l *Layer) LocateViews(session oxr.Handle, info *oxr.ViewLocateInfo) (oxr.ViewState, []oxr.View, oxr.Result) {
	state, views, res := l.table.LocateViews(session, info)
	if res.Failed() || info == nil {
		return state, views, res
	}

	sess, err := l.sessions.Lookup(session)
	if err != nil {
		return state, views, res
	}
	sp, err := l.spaces.Lookup(info.Space)
	if err != nil || sp.Info.Type != oxr.ReferenceSpaceLocal {
		return state, views, res
	}

	l.pipe.RecordViews(sess.State, state, views)
	return state, views, res
}

// BeginFrame forwards and opens the session's frame bracket.
func (l *Layer) BeginFrame(session oxr.Handle, info *oxr.FrameBeginInfo) oxr.Result {
	res := l.table.BeginFrame(session, info)
	if res.Failed() {
		return res
	}
	if sess, err := l.sessions.Lookup(session); err == nil {
		l.pipe.BeginFrame(sess.State, 0)
	}
	return res
}

// EndFrame is the capture point: the submitted layers are walked and captured
// content is queued for the sink BEFORE the call forwards, because the
// runtime is free to recycle image memory once the frame ends. The forwarded
// result is returned unmodified regardless of what capture did.
func (l *Layer) EndFrame(session oxr.Handle, info *oxr.FrameEndInfo) oxr.Result {
	if sess, err := l.sessions.Lookup(session); err == nil && info != nil {
		l.pipe.EndFrame(sess.State, info, func(h oxr.Handle) *track.Swapchain {
			sc, lerr := l.swapchains.Lookup(h)
			if lerr != nil {
				return nil
			}
			return sc
		})
	}
	return l.table.EndFrame(session, info)
}

// CreateReferenceSpace forwards and shadows the space's create info.
func (l *Layer) CreateReferenceSpace(session oxr.Handle, info *oxr.ReferenceSpaceCreateInfo) (oxr.Handle, oxr.Result) {
	handle, res := l.table.CreateReferenceSpace(session, info)
	if res.Failed() {
		return handle, res
	}

	sp := &Space{Handle: handle, Session: session}
	if info != nil {
		sp.Info = *info
	}
	l.spaces.Register(handle, sp)
	log.Debug("reference space created",
		logging.KeySession, uint64(session),
		"space", uint64(handle),
		"type", int32(sp.Info.Type))
	return handle, res
}

// GetInstanceProperties forwards when the upstream exposes it.
func (l *Layer) GetInstanceProperties(instance oxr.Handle) (oxr.InstanceProperties, oxr.Result) {
	if l.table.GetInstanceProperties == nil {
		return oxr.InstanceProperties{}, oxr.ErrorFunctionUnsupported
	}
	return l.table.GetInstanceProperties(instance)
}

// GetSystemProperties forwards when the upstream exposes it.
func (l *Layer) GetSystemProperties(instance oxr.Handle, system oxr.SystemID) (oxr.SystemProperties, oxr.Result) {
	if l.table.GetSystemProperties == nil {
		return oxr.SystemProperties{}, oxr.ErrorFunctionUnsupported
	}
	return l.table.GetSystemProperties(instance, system)
}

// GetSystem forwards when the upstream exposes it.
func (l *Layer) GetSystem(instance oxr.Handle, info *oxr.SystemGetInfo) (oxr.SystemID, oxr.Result) {
	if l.table.GetSystem == nil {
		return oxr.NullSystemID, oxr.ErrorFunctionUnsupported
	}
	return l.table.GetSystem(instance, info)
}

// EnumerateViewConfigurationViews forwards when the upstream exposes it.
func (l *Layer) EnumerateViewConfigurationViews(instance oxr.Handle, system oxr.SystemID, viewConfig oxr.ViewConfigurationType) ([]oxr.ViewConfigurationView, oxr.Result) {
	if l.table.EnumerateViewConfigurationViews == nil {
		return nil, oxr.ErrorFunctionUnsupported
	}
	return l.table.EnumerateViewConfigurationViews(instance, system, viewConfig)
}

// SessionCount reports how many sessions are currently shadowed.
func (l *Layer) SessionCount() int { return l.sessions.Len() }

// SwapchainCount reports how many swapchains are currently shadowed.
func (l *Layer) SwapchainCount() int { return l.swapchains.Len() }

// Close drains the pipeline and drops all shadow state. After Close the
// layer must not receive further calls.
func (l *Layer) Close(ctx context.Context) {
	l.pipe.Close(ctx)

	sessions := l.sessions.Drain()
	swapchains := l.swapchains.Drain()
	spaces := l.spaces.Drain()
	log.Info("detached from instance",
		"instance", uint64(l.instance),
		"sessions", len(sessions),
		"swapchains", len(swapchains),
		"spaces", len(spaces))
}
