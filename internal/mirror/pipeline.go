// Package mirror is the capture path of the layer: it watches the frame
// lifecycle of each session, assembles captured view content at frame end,
// and hands completed frames to the attached sink through a bounded queue.
//
// Nothing here may ever block or fail the application's frame loop. The
// queue drops when full (freshness over completeness), sink work happens on
// a dedicated delivery goroutine, and every capture error degrades to pure
// pass-through.
package mirror

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vrtools/xrmirror/internal/logging"
	"github.com/vrtools/xrmirror/internal/oxr"
	"github.com/vrtools/xrmirror/internal/sink"
	"github.com/vrtools/xrmirror/internal/track"
)

var log = logging.L("mirror")

// Config tunes the pipeline's queue and watchdog.
type Config struct {
	// QueueDepth bounds the frames waiting for delivery. When the queue is
	// full the newest frame is dropped.
	QueueDepth int

	// RejectThreshold is how many consecutive sink rejections disable
	// mirroring (the consumer is gone or wedged).
	RejectThreshold int

	// ProbeInterval is how many frames to skip between delivery attempts
	// while disabled, so a returning consumer re-enables mirroring.
	ProbeInterval int

	// MetricsInterval is how often to log a metrics snapshot. Zero disables
	// periodic logging.
	MetricsInterval time.Duration
}

// DefaultConfig matches a 2-3 frame latency budget at typical HMD rates.
func DefaultConfig() Config {
	return Config{
		QueueDepth:      3,
		RejectThreshold: 10,
		ProbeInterval:   30,
		MetricsInterval: 30 * time.Second,
	}
}

// FrameContext is the ephemeral record of one begin/end bracket. It must
// not outlive its frame: everything delivered from it is copied before
// EndFrame forwards to the runtime.
type FrameContext struct {
	Index       uint64
	DisplayTime int64

	// Located views recorded opportunistically by the LocateViews override.
	// Empty if the application never located views inside this bracket.
	LocatedViews []oxr.View
}

// SessionState is the pipeline's per-session frame state machine:
// Idle → FrameOpen → Idle. Begin/end on one session come from a single
// frame-loop thread per the OpenXR spec; the mutex protects against
// LocateViews arriving from another thread mid-frame.
type SessionState struct {
	Session oxr.Handle

	mu         sync.Mutex
	open       *FrameContext
	frameCount uint64
}

// NewSessionState returns the Idle state for a newly created session.
func NewSessionState(session oxr.Handle) *SessionState {
	return &SessionState{Session: session}
}

// OpenFrames reports whether a frame bracket is currently open (0 or 1).
func (ss *SessionState) OpenFrames() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.open != nil {
		return 1
	}
	return 0
}

// FrameCount returns how many frames this session has completed.
func (ss *SessionState) FrameCount() uint64 {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.frameCount
}

// Pipeline fans captured frames out to the sink without ever blocking the
// caller. One delivery goroutine drains the queue for the pipeline's
// lifetime.
type Pipeline struct {
	cfg     Config
	metrics *Metrics

	queue chan *sink.Frame

	sinkMu sync.RWMutex
	sink   sink.Sink

	// Watchdog state. rejects counts consecutive sink rejections as seen by
	// the delivery goroutine; crossing RejectThreshold flips enabled off, and
	// every ProbeInterval-th frame is still attempted so acceptance flips it
	// back on. Queue-full drops never count: a slow consumer is not a gone
	// consumer.
	enabled    atomic.Bool
	rejects    atomic.Int64
	probeSkips atomic.Int64

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewPipeline starts the delivery goroutine. The pipeline is functional
// immediately; with no sink attached every frame is a skip.
func NewPipeline(cfg Config) *Pipeline {
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 1
	}
	if cfg.RejectThreshold < 1 {
		cfg.RejectThreshold = 10
	}
	if cfg.ProbeInterval < 1 {
		cfg.ProbeInterval = 30
	}

	p := &Pipeline{
		cfg:     cfg,
		metrics: newMetrics(),
		queue:   make(chan *sink.Frame, cfg.QueueDepth),
		stopped: make(chan struct{}),
	}
	p.enabled.Store(true)

	p.wg.Add(1)
	go p.deliveryLoop()

	if cfg.MetricsInterval > 0 {
		p.wg.Add(1)
		go p.metricsLogger()
	}
	return p
}

// Metrics exposes the pipeline's counters.
func (p *Pipeline) Metrics() *Metrics { return p.metrics }

// AttachSink sets the frame consumer and re-enables mirroring.
func (p *Pipeline) AttachSink(s sink.Sink) {
	p.sinkMu.Lock()
	p.sink = s
	p.sinkMu.Unlock()
	p.rejects.Store(0)
	p.enabled.Store(true)
	log.Info("sink attached")
}

// DetachSink removes the consumer. Frames already queued are still offered
// to the old sink by the delivery goroutine before it sees the nil.
func (p *Pipeline) DetachSink() {
	p.sinkMu.Lock()
	p.sink = nil
	p.sinkMu.Unlock()
	log.Info("sink detached")
}

// Enabled reports whether the watchdog currently allows capture work.
func (p *Pipeline) Enabled() bool { return p.enabled.Load() }

// BeginFrame opens the session's frame bracket. Called after the forwarded
// begin succeeded. A double-begin is a protocol violation: logged, and the
// stale context is discarded so state converges with the runtime's view.
func (p *Pipeline) BeginFrame(ss *SessionState, predictedDisplayTime int64) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.open != nil {
		p.metrics.RecordViolation()
		log.Warn("begin frame with frame already open, discarding stale context",
			logging.KeySession, uint64(ss.Session), logging.KeyFrame, ss.open.Index)
	}
	ss.frameCount++
	ss.open = &FrameContext{
		Index:       ss.frameCount,
		DisplayTime: predictedDisplayTime,
	}
}

// RecordViews stores located view poses into the open frame context. With no
// open context this is a no-op: the call was a pure pass-through. Poses the
// runtime flagged invalid are replaced with sane defaults so consumers never
// see garbage orientations.
func (p *Pipeline) RecordViews(ss *SessionState, state oxr.ViewState, views []oxr.View) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.open == nil {
		return
	}

	recorded := make([]oxr.View, len(views))
	copy(recorded, views)
	for i := range recorded {
		if state.Flags&oxr.ViewStateOrientationValid == 0 {
			recorded[i].Pose.Orientation = oxr.IdentityQuaternion()
		}
		if state.Flags&oxr.ViewStatePositionValid == 0 {
			recorded[i].Pose.Position = oxr.Vector3f{Y: 1.5}
		}
	}
	ss.open.LocatedViews = recorded
}

// SwapchainResolver maps a submitted swapchain handle to its shadow record,
// or nil for handles the layer does not track.
type SwapchainResolver func(handle oxr.Handle) *track.Swapchain

// EndFrame is the capture point. Called BEFORE forwarding the real end-frame
// call: the runtime is free to reuse image memory once the frame ends, so
// all copies happen now. It walks the submitted layers, snapshots every
// tracked swapchain's released content, enqueues the assembled frame, and
// closes the bracket. Every failure is absorbed; the caller always forwards
// the original call with the original arguments.
func (p *Pipeline) EndFrame(ss *SessionState, info *oxr.FrameEndInfo, resolve SwapchainResolver) {
	p.metrics.recordSeen()

	ss.mu.Lock()
	fc := ss.open
	ss.open = nil
	ss.mu.Unlock()

	if fc == nil {
		p.metrics.RecordViolation()
		log.Warn("end frame without begin, passing through",
			logging.KeySession, uint64(ss.Session))
		return
	}

	if !p.shouldAttempt() {
		p.metrics.recordSkip()
		return
	}

	start := time.Now()
	frame := p.assemble(ss, fc, info, resolve)
	if frame == nil {
		p.metrics.recordSkip()
		return
	}

	totalBytes := 0
	for i := range frame.Views {
		totalBytes += len(frame.Views[i].Pixels)
	}
	p.metrics.recordCapture(time.Since(start), totalBytes)

	select {
	case p.queue <- frame:
	default:
		// Queue full: the consumer is behind. Freshness over completeness.
		// Not a watchdog event: the sink is still accepting, just slower
		// than the frame loops feeding it.
		p.metrics.recordDrop()
	}
}

// assemble builds the sink frame from the submitted layers. Returns nil if
// no submitted view references a tracked swapchain. Views whose swapchain
// has not released content yet are delivered as metadata-only (nil Pixels);
// the sink decides what to do with them.
func (p *Pipeline) assemble(ss *SessionState, fc *FrameContext, info *oxr.FrameEndInfo, resolve SwapchainResolver) *sink.Frame {
	frame := &sink.Frame{
		FrameIndex:  fc.Index,
		DisplayTime: info.DisplayTime,
		Session:     ss.Session,
	}

	tracked := false
	for _, layer := range info.Layers {
		switch l := layer.(type) {
		case *oxr.CompositionLayerProjection:
			for i, pv := range l.Views {
				vf := sink.ViewFrame{
					Pose:      pv.Pose,
					FOV:       pv.FOV,
					Swapchain: pv.SubImage.Swapchain,
					Rect:      pv.SubImage.ImageRect,
				}
				// Prefer the located pose recorded mid-frame when the
				// submitted one is the zero value.
				if pv.Pose.Orientation == (oxr.Quaternionf{}) && i < len(fc.LocatedViews) {
					vf.Pose = fc.LocatedViews[i].Pose
					vf.FOV = fc.LocatedViews[i].FOV
				}
				if sc := resolve(pv.SubImage.Swapchain); sc != nil {
					tracked = true
					vf.Format = sc.Info.Format
					vf.Width = sc.Info.Width
					vf.Height = sc.Info.Height
					if pixels, index, ok := sc.SnapshotLast(nil); ok {
						vf.Pixels = pixels
						vf.ImageIndex = index
					}
				}
				frame.Views = append(frame.Views, vf)
			}
		case *oxr.CompositionLayerQuad:
			ov := sink.Overlay{
				Pose:      l.Pose,
				Size:      l.Size,
				Swapchain: l.SubImage.Swapchain,
				Rect:      l.SubImage.ImageRect,
			}
			if sc := resolve(l.SubImage.Swapchain); sc != nil {
				tracked = true
				if pixels, _, ok := sc.SnapshotLast(nil); ok {
					ov.Pixels = pixels
				}
			}
			frame.Overlays = append(frame.Overlays, ov)
		}
	}

	if !tracked {
		return nil
	}
	return frame
}

// shouldAttempt applies the watchdog: always when enabled, every
// ProbeInterval-th frame when disabled.
func (p *Pipeline) shouldAttempt() bool {
	if p.enabled.Load() {
		return true
	}
	if p.probeSkips.Add(1) >= int64(p.cfg.ProbeInterval) {
		p.probeSkips.Store(0)
		return true
	}
	return false
}

func (p *Pipeline) noteReject() {
	if p.rejects.Add(1) == int64(p.cfg.RejectThreshold) && p.enabled.CompareAndSwap(true, false) {
		log.Warn("sink not accepting frames, mirroring disabled until it recovers",
			"consecutiveRejects", p.cfg.RejectThreshold)
	}
}

func (p *Pipeline) noteAccept() {
	p.rejects.Store(0)
	if p.enabled.CompareAndSwap(false, true) {
		log.Info("sink recovered, mirroring re-enabled")
	}
}

func (p *Pipeline) deliveryLoop() {
	defer p.wg.Done()
	for {
		select {
		case frame := <-p.queue:
			p.deliver(frame)
		case <-p.stopped:
			// Drain whatever is still queued before exiting so Close can
			// guarantee no frame outlives the instance.
			for {
				select {
				case frame := <-p.queue:
					p.deliver(frame)
				default:
					return
				}
			}
		}
	}
}

func (p *Pipeline) deliver(frame *sink.Frame) {
	p.sinkMu.RLock()
	s := p.sink
	p.sinkMu.RUnlock()

	if s == nil {
		p.metrics.recordDrop()
		p.noteReject()
		return
	}
	if s.OnFrame(frame) {
		p.metrics.recordDelivered()
		p.noteAccept()
	} else {
		p.metrics.recordDrop()
		p.noteReject()
	}
}

func (p *Pipeline) metricsLogger() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopped:
			return
		case <-ticker.C:
			snap := p.metrics.Snapshot()
			log.Info("mirror metrics",
				"seen", snap.FramesSeen,
				"captured", snap.FramesCaptured,
				"delivered", snap.FramesDelivered,
				"dropped", snap.FramesDropped,
				"skipped", snap.FramesSkipped,
				"violations", snap.ProtocolViolations,
				"captureMs", snap.CaptureMs,
				"frameBytes", snap.LastFrameBytes,
				"uptime", snap.Uptime.Round(time.Second),
			)
		}
	}
}

// Close stops delivery, drains queued frames, and waits for in-flight sink
// work, respecting the context deadline. After Close no capture callback can
// outlive the caller's shadow state.
func (p *Pipeline) Close(ctx context.Context) {
	p.stopOnce.Do(func() {
		close(p.stopped)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("pipeline drain timed out")
	}
}
