// Package wsink is a WebSocket mirror sink: it serves an HTTP endpoint,
// upgrades viewer connections, and broadcasts each delivered frame as a JSON
// metadata message followed by one binary image payload per view. Slow
// viewers get frames dropped on their own connection, never backpressure.
package wsink

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vrtools/xrmirror/internal/logging"
	"github.com/vrtools/xrmirror/internal/oxr"
	"github.com/vrtools/xrmirror/internal/sink"
	"github.com/vrtools/xrmirror/internal/sink/encode"
)

var log = logging.L("wsink")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	connFrameQueue = 8
)

// Config for the WebSocket sink.
type Config struct {
	ListenAddr string // e.g. "127.0.0.1:9469"
	Path       string // e.g. "/mirror"
	Encoder    encode.Config
}

// frameMeta is the JSON header broadcast before each frame's binary payloads.
type frameMeta struct {
	FrameIndex  uint64     `json:"frameIndex"`
	DisplayTime int64      `json:"displayTime"`
	Session     uint64     `json:"session"`
	Codec       string     `json:"codec"`
	Views       []viewMeta `json:"views"`
}

type viewMeta struct {
	Width       uint32     `json:"width"`
	Height      uint32     `json:"height"`
	Orientation [4]float32 `json:"orientation"`
	Position    [3]float32 `json:"position"`
	FOV         [4]float32 `json:"fov"`
}

// Sink broadcasts frames to all connected viewers.
type Sink struct {
	cfg      Config
	enc      *encode.Encoder
	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[*viewerConn]struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

type viewerConn struct {
	ws     *websocket.Conn
	frames chan queuedFrame
	done   chan struct{}
}

type queuedFrame struct {
	meta     []byte
	payloads [][]byte
}

// New starts the sink's HTTP listener immediately so Close always has
// something deterministic to tear down.
func New(cfg Config) (*Sink, error) {
	if cfg.Path == "" {
		cfg.Path = "/mirror"
	}
	enc, err := encode.New(cfg.Encoder)
	if err != nil {
		return nil, fmt.Errorf("wsink encoder: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("wsink listen: %w", err)
	}

	s := &Sink{
		cfg:      cfg,
		enc:      enc,
		listener: ln,
		conns:    make(map[*viewerConn]struct{}),
		closed:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			// The mirror endpoint is a local spectator surface.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, s.handleViewer)
	s.server = &http.Server{Handler: mux}

	go func() {
		if serveErr := s.server.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			log.Error("serve failed", logging.KeyError, serveErr)
		}
	}()

	log.Info("websocket sink listening", "addr", ln.Addr().String(), "path", cfg.Path)
	return s, nil
}

// Addr returns the bound listen address.
func (s *Sink) Addr() string { return s.listener.Addr().String() }

// ViewerCount returns the number of connected viewers.
func (s *Sink) ViewerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// OnFrame implements sink.Sink. Returns false when no viewer is connected or
// encoding fails; the pipeline counts those frames as dropped.
func (s *Sink) OnFrame(f *sink.Frame) bool {
	select {
	case <-s.closed:
		return false
	default:
	}

	s.mu.RLock()
	n := len(s.conns)
	s.mu.RUnlock()
	if n == 0 {
		return false
	}

	meta := frameMeta{
		FrameIndex:  f.FrameIndex,
		DisplayTime: f.DisplayTime,
		Session:     uint64(f.Session),
		Codec:       string(s.cfg.Encoder.Codec),
	}
	payloads := make([][]byte, 0, len(f.Views))
	for _, v := range f.Views {
		if v.Pixels == nil {
			continue
		}
		pf := encode.PixelRGBA
		if v.Format == oxr.FormatBGRA8 {
			pf = encode.PixelBGRA
		}
		data, err := s.enc.Encode(v.Pixels, int(v.Width), int(v.Height), pf)
		if err != nil {
			log.Warn("view encode failed", logging.KeyError, err)
			return false
		}
		payloads = append(payloads, data)
		meta.Views = append(meta.Views, viewMeta{
			Width:  v.Width,
			Height: v.Height,
			Orientation: [4]float32{
				v.Pose.Orientation.X, v.Pose.Orientation.Y,
				v.Pose.Orientation.Z, v.Pose.Orientation.W,
			},
			Position: [3]float32{v.Pose.Position.X, v.Pose.Position.Y, v.Pose.Position.Z},
			FOV:      [4]float32{v.FOV.AngleLeft, v.FOV.AngleRight, v.FOV.AngleUp, v.FOV.AngleDown},
		})
	}
	if len(payloads) == 0 {
		return false
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return false
	}

	qf := queuedFrame{meta: metaJSON, payloads: payloads}
	delivered := false
	s.mu.RLock()
	for c := range s.conns {
		select {
		case c.frames <- qf:
			delivered = true
		default:
			// This viewer is behind; drop the frame for it only.
		}
	}
	s.mu.RUnlock()
	return delivered
}

// Close stops the listener and disconnects every viewer.
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.server.Close()
		s.mu.Lock()
		for c := range s.conns {
			close(c.done)
			delete(s.conns, c)
		}
		s.mu.Unlock()
		s.enc.Close()
		log.Info("websocket sink closed")
	})
	return err
}

func (s *Sink) handleViewer(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("viewer upgrade failed", logging.KeyError, err)
		return
	}

	c := &viewerConn{
		ws:     ws,
		frames: make(chan queuedFrame, connFrameQueue),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	total := len(s.conns)
	s.mu.Unlock()
	log.Info("viewer connected", "remote", ws.RemoteAddr().String(), "viewers", total)

	go s.readPump(c)
	s.writePump(c)
}

// readPump discards inbound messages and notices disconnects.
func (s *Sink) readPump(c *viewerConn) {
	c.ws.SetReadLimit(1024)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			s.dropViewer(c)
			return
		}
	}
}

func (s *Sink) writePump(c *viewerConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.dropViewer(c)

	for {
		select {
		case <-c.done:
			return
		case qf := <-c.frames:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, qf.meta); err != nil {
				return
			}
			for _, payload := range qf.payloads {
				c.ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.ws.WriteMessage(websocket.BinaryMessage, payload); err != nil {
					return
				}
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Sink) dropViewer(c *viewerConn) {
	s.mu.Lock()
	if _, ok := s.conns[c]; ok {
		delete(s.conns, c)
		close(c.done)
	}
	remaining := len(s.conns)
	s.mu.Unlock()
	c.ws.Close()
	log.Info("viewer disconnected", "viewers", remaining)
}
