// Package encode turns captured swapchain pixels into consumer-ready frame
// payloads. Backends are pluggable: the built-in software backend covers
// JPEG, and platform H264 encoders register themselves through
// RegisterHardwareFactory.
package encode

import (
	"errors"
	"fmt"
	"sync"
)

type Codec string

const (
	CodecJPEG Codec = "jpeg"
	CodecRaw  Codec = "raw"
	CodecH264 Codec = "h264"
)

// PixelFormat describes the byte order of the source pixels.
type PixelFormat int

const (
	PixelRGBA PixelFormat = iota
	PixelBGRA
)

var (
	ErrInvalidCodec   = errors.New("invalid codec")
	ErrInvalidQuality = errors.New("invalid quality")
	ErrInvalidBitrate = errors.New("invalid bitrate")
	ErrInvalidFPS     = errors.New("invalid fps")
)

type Config struct {
	Codec          Codec
	Quality        int // 1-100, JPEG only
	Bitrate        int // bits/s, H264 only
	FPS            int
	PreferHardware bool
}

func DefaultConfig() Config {
	return Config{
		Codec:   CodecJPEG,
		Quality: 80,
		Bitrate: 2_500_000,
		FPS:     72,
	}
}

// Encoder wraps a backend behind a stable front so sinks can reconfigure a
// running stream without caring which backend is active.
type Encoder struct {
	mu      sync.Mutex
	cfg     Config
	backend backend
}

type backend interface {
	Encode(pixels []byte, width, height int, format PixelFormat) ([]byte, error)
	SetQuality(quality int) error
	SetBitrate(bitrate int) error
	Close() error
	Name() string
	IsHardware() bool
}

type backendFactory func(cfg Config) (backend, error)

var (
	hardwareFactoriesMu sync.Mutex
	hardwareFactories   []backendFactory
)

// RegisterHardwareFactory adds a platform encoder candidate. Factories are
// tried in registration order when PreferHardware is set.
func RegisterHardwareFactory(factory func(cfg Config) (Backend, error)) {
	hardwareFactoriesMu.Lock()
	defer hardwareFactoriesMu.Unlock()
	hardwareFactories = append(hardwareFactories, func(cfg Config) (backend, error) {
		return factory(cfg)
	})
}

// Backend is the exported face of backend for out-of-package factories.
type Backend = backend

func New(cfg Config) (*Encoder, error) {
	cfg = applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}

	b, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	return &Encoder{cfg: cfg, backend: b}, nil
}

// Encode compresses one frame of pixels.
func (e *Encoder) Encode(pixels []byte, width, height int, format PixelFormat) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend == nil {
		return nil, errors.New("encoder closed")
	}
	return e.backend.Encode(pixels, width, height, format)
}

func (e *Encoder) SetQuality(quality int) error {
	if quality < 1 || quality > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidQuality, quality)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.backend.SetQuality(quality); err != nil {
		return err
	}
	e.cfg.Quality = quality
	return nil
}

func (e *Encoder) SetBitrate(bitrate int) error {
	if bitrate <= 0 {
		return ErrInvalidBitrate
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.backend.SetBitrate(bitrate); err != nil {
		return err
	}
	e.cfg.Bitrate = bitrate
	return nil
}

// ForceKeyframe asks the backend for an IDR on the next frame. Backends
// without keyframe control (JPEG) treat it as a no-op.
func (e *Encoder) ForceKeyframe() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend == nil {
		return errors.New("encoder closed")
	}
	if kf, ok := e.backend.(interface{ ForceKeyframe() error }); ok {
		return kf.ForceKeyframe()
	}
	return nil
}

// Name reports the active backend.
func (e *Encoder) Name() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend == nil {
		return "closed"
	}
	return e.backend.Name()
}

func (e *Encoder) Close() error {
	e.mu.Lock()
	b := e.backend
	e.backend = nil
	e.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.Close()
}

func (c Codec) valid() bool {
	switch c {
	case CodecJPEG, CodecRaw, CodecH264:
		return true
	}
	return false
}

func applyDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Codec == "" {
		cfg.Codec = defaults.Codec
	}
	if cfg.Quality == 0 {
		cfg.Quality = defaults.Quality
	}
	if cfg.Bitrate == 0 {
		cfg.Bitrate = defaults.Bitrate
	}
	if cfg.FPS == 0 {
		cfg.FPS = defaults.FPS
	}
	return cfg
}

func validate(cfg Config) error {
	if !cfg.Codec.valid() {
		return fmt.Errorf("%w: %s", ErrInvalidCodec, cfg.Codec)
	}
	if cfg.Quality < 1 || cfg.Quality > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidQuality, cfg.Quality)
	}
	if cfg.Bitrate <= 0 {
		return ErrInvalidBitrate
	}
	if cfg.FPS <= 0 {
		return ErrInvalidFPS
	}
	return nil
}

func newBackend(cfg Config) (backend, error) {
	if cfg.PreferHardware {
		if b := tryHardware(cfg); b != nil {
			return b, nil
		}
	}
	return newSoftwareBackend(cfg)
}

func tryHardware(cfg Config) backend {
	hardwareFactoriesMu.Lock()
	factories := append([]backendFactory(nil), hardwareFactories...)
	hardwareFactoriesMu.Unlock()
	for _, factory := range factories {
		b, err := factory(cfg)
		if err == nil && b != nil {
			return b
		}
	}
	return nil
}
