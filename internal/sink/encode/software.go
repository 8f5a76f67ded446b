package encode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
)

// bufferPool pools bytes.Buffer instances for JPEG encoding.
var bufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 64*1024))
	},
}

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 512*1024 {
		return // don't pool oversized buffers
	}
	bufferPool.Put(buf)
}

type softwareBackend struct {
	mu  sync.Mutex
	cfg Config

	// Scratch RGBA image reused across frames of the same resolution.
	scratch *image.RGBA
}

func newSoftwareBackend(cfg Config) (backend, error) {
	if cfg.Codec == CodecH264 {
		// No pure-Go H264 encoder; H264 requires a registered hardware
		// factory. Raw passthrough here would produce an undecodable stream.
		return nil, fmt.Errorf("%w: h264 needs a hardware encoder", ErrInvalidCodec)
	}
	return &softwareBackend{cfg: cfg}, nil
}

func (s *softwareBackend) Encode(pixels []byte, width, height int, format PixelFormat) ([]byte, error) {
	if len(pixels) == 0 {
		return nil, errors.New("empty frame")
	}
	if width <= 0 || height <= 0 || len(pixels) < width*height*4 {
		return nil, fmt.Errorf("frame size mismatch: %d bytes for %dx%d", len(pixels), width, height)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.cfg.Codec {
	case CodecRaw:
		out := make([]byte, len(pixels))
		copy(out, pixels)
		if format == PixelBGRA {
			bgraToRGBAInPlace(out)
		}
		return out, nil
	case CodecJPEG:
		img := s.scratchFor(width, height)
		copy(img.Pix, pixels[:width*height*4])
		if format == PixelBGRA {
			bgraToRGBAInPlace(img.Pix)
		}
		buf := getBuffer()
		defer putBuffer(buf)
		if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: s.cfg.Quality}); err != nil {
			return nil, err
		}
		out := make([]byte, buf.Len())
		copy(out, buf.Bytes())
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidCodec, s.cfg.Codec)
}

func (s *softwareBackend) scratchFor(width, height int) *image.RGBA {
	if s.scratch == nil || s.scratch.Rect.Dx() != width || s.scratch.Rect.Dy() != height {
		s.scratch = image.NewRGBA(image.Rect(0, 0, width, height))
	}
	return s.scratch
}

func (s *softwareBackend) SetQuality(quality int) error {
	if quality < 1 || quality > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidQuality, quality)
	}
	s.mu.Lock()
	s.cfg.Quality = quality
	s.mu.Unlock()
	return nil
}

func (s *softwareBackend) SetBitrate(bitrate int) error {
	if bitrate <= 0 {
		return ErrInvalidBitrate
	}
	s.mu.Lock()
	s.cfg.Bitrate = bitrate
	s.mu.Unlock()
	return nil
}

func (s *softwareBackend) Close() error { return nil }

func (s *softwareBackend) Name() string { return "software" }

func (s *softwareBackend) IsHardware() bool { return false }

// bgraToRGBAInPlace swaps the blue and red channels of a packed 32-bit
// pixel buffer.
func bgraToRGBAInPlace(pix []byte) {
	for i := 0; i+3 < len(pix); i += 4 {
		pix[i], pix[i+2] = pix[i+2], pix[i]
	}
}
