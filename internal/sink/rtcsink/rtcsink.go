// Package rtcsink is a WebRTC mirror sink: delivered frames are H264-encoded
// and written to a video track on a peer connection, so a browser or remote
// spectator tool can watch the headset's composited output live. Signaling
// is the caller's problem; the sink only consumes an SDP offer and produces
// an answer.
package rtcsink

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/vrtools/xrmirror/internal/logging"
	"github.com/vrtools/xrmirror/internal/oxr"
	"github.com/vrtools/xrmirror/internal/sink"
	"github.com/vrtools/xrmirror/internal/sink/encode"
)

var log = logging.L("rtcsink")

const iceGatherTimeout = 20 * time.Second

// Config for the WebRTC sink.
type Config struct {
	Encoder    encode.Config
	ICEServers []string // STUN/TURN URLs; empty means Google STUN
	FPS        int
}

// Sink streams mirror frames over a single peer connection.
type Sink struct {
	cfg      Config
	enc      *encode.Encoder
	peerConn *webrtc.PeerConnection
	track    *webrtc.TrackLocalStaticSample

	connected atomic.Bool
	closeOnce sync.Once
	closed    chan struct{}
}

// New builds the peer connection and video track. The encoder must be able
// to produce H264; without a registered hardware backend this fails and the
// caller should fall back to another sink.
func New(cfg Config) (*Sink, error) {
	if cfg.FPS <= 0 {
		cfg.FPS = 72
	}
	cfg.Encoder.Codec = encode.CodecH264
	cfg.Encoder.PreferHardware = true

	enc, err := encode.New(cfg.Encoder)
	if err != nil {
		return nil, fmt.Errorf("rtcsink encoder: %w", err)
	}

	iceServers := []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	if len(cfg.ICEServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		enc.Close()
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))

	peerConn, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=4d001f",
		},
		"video",
		"xrmirror",
	)
	if err != nil {
		peerConn.Close()
		enc.Close()
		return nil, fmt.Errorf("create video track: %w", err)
	}

	sender, err := peerConn.AddTrack(track)
	if err != nil {
		peerConn.Close()
		enc.Close()
		return nil, fmt.Errorf("add video track: %w", err)
	}

	s := &Sink{
		cfg:      cfg,
		enc:      enc,
		peerConn: peerConn,
		track:    track,
		closed:   make(chan struct{}),
	}

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Info("peer connection state changed", "state", state.String())
		s.connected.Store(state == webrtc.PeerConnectionStateConnected)
	})

	// Drain RTCP so we don't block on backpressure, and map loss reports to
	// rate-limited keyframe forcing.
	go s.rtcpLoop(sender)

	return s, nil
}

func (s *Sink) rtcpLoop(sender *webrtc.RTPSender) {
	rtcpBuf := make([]byte, 1500)
	var lastKF time.Time
	for {
		n, _, readErr := sender.Read(rtcpBuf)
		if readErr != nil {
			return
		}
		pkts, perr := rtcp.Unmarshal(rtcpBuf[:n])
		if perr != nil {
			continue
		}
		for _, p := range pkts {
			switch p.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				if time.Since(lastKF) < 500*time.Millisecond {
					continue
				}
				lastKF = time.Now()
				_ = s.enc.ForceKeyframe()
			}
		}
	}
}

// HandleOffer accepts the viewer's SDP offer and returns a complete answer
// (ICE candidates gathered, bounded by iceGatherTimeout).
func (s *Sink) HandleOffer(offerSDP string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := s.peerConn.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}

	answer, err := s.peerConn.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}

	gatherDone := webrtc.GatheringCompletePromise(s.peerConn)
	if err := s.peerConn.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gatherDone:
	case <-time.After(iceGatherTimeout):
		log.Warn("ICE gathering timed out, answering with partial candidates")
	}

	local := s.peerConn.LocalDescription()
	if local == nil {
		return "", errors.New("no local description after gathering")
	}
	return local.SDP, nil
}

// OnFrame implements sink.Sink. Only the primary (first captured) view is
// streamed; WebRTC viewers get a flat 2D mirror.
func (s *Sink) OnFrame(f *sink.Frame) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	if !s.connected.Load() {
		return false
	}

	var view *sink.ViewFrame
	for i := range f.Views {
		if f.Views[i].Pixels != nil {
			view = &f.Views[i]
			break
		}
	}
	if view == nil {
		return false
	}

	pf := encode.PixelRGBA
	if view.Format == oxr.FormatBGRA8 {
		pf = encode.PixelBGRA
	}
	data, err := s.enc.Encode(view.Pixels, int(view.Width), int(view.Height), pf)
	if err != nil {
		log.Warn("frame encode failed", logging.KeyError, err)
		return false
	}

	err = s.track.WriteSample(media.Sample{
		Data:     data,
		Duration: time.Second / time.Duration(s.cfg.FPS),
	})
	if err != nil {
		log.Warn("sample write failed", logging.KeyError, err)
		return false
	}
	return true
}

// Close tears down the peer connection and encoder.
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.peerConn.Close()
		s.enc.Close()
		log.Info("webrtc sink closed")
	})
	return err
}
