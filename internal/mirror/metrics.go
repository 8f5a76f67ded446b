package mirror

import (
	"sync"
	"time"
)

// Metrics tracks what the mirror pipeline did with the frames it saw.
type Metrics struct {
	mu sync.RWMutex

	FramesSeen      uint64 // EndFrame calls observed
	FramesCaptured  uint64 // frames with at least one captured view
	FramesDelivered uint64 // accepted by the sink
	FramesDropped   uint64 // queue full or sink rejected
	FramesSkipped   uint64 // mirroring disabled or nothing capturable

	ProtocolViolations uint64

	LastCaptureTime time.Duration
	LastFrameBytes  int

	startTime time.Time
}

func newMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) recordSeen() {
	m.mu.Lock()
	m.FramesSeen++
	m.mu.Unlock()
}

func (m *Metrics) recordCapture(d time.Duration, bytes int) {
	m.mu.Lock()
	m.FramesCaptured++
	m.LastCaptureTime = d
	m.LastFrameBytes = bytes
	m.mu.Unlock()
}

func (m *Metrics) recordDelivered() {
	m.mu.Lock()
	m.FramesDelivered++
	m.mu.Unlock()
}

func (m *Metrics) recordDrop() {
	m.mu.Lock()
	m.FramesDropped++
	m.mu.Unlock()
}

func (m *Metrics) recordSkip() {
	m.mu.Lock()
	m.FramesSkipped++
	m.mu.Unlock()
}

// RecordViolation counts an observed protocol violation. Exported because
// violations are detected at the interception sites, not only inside the
// pipeline.
func (m *Metrics) RecordViolation() {
	m.mu.Lock()
	m.ProtocolViolations++
	m.mu.Unlock()
}

// Snapshot is a point-in-time copy of metrics for logging.
type Snapshot struct {
	FramesSeen         uint64
	FramesCaptured     uint64
	FramesDelivered    uint64
	FramesDropped      uint64
	FramesSkipped      uint64
	ProtocolViolations uint64
	CaptureMs          float64
	LastFrameBytes     int
	Uptime             time.Duration
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		FramesSeen:         m.FramesSeen,
		FramesCaptured:     m.FramesCaptured,
		FramesDelivered:    m.FramesDelivered,
		FramesDropped:      m.FramesDropped,
		FramesSkipped:      m.FramesSkipped,
		ProtocolViolations: m.ProtocolViolations,
		CaptureMs:          float64(m.LastCaptureTime.Microseconds()) / 1000.0,
		LastFrameBytes:     m.LastFrameBytes,
		Uptime:             time.Since(m.startTime),
	}
}
