package encode

import (
	"bytes"
	"errors"
	"image/jpeg"
	"testing"
)

func rgbaFrame(w, h int, r, g, b byte) []byte {
	out := make([]byte, w*h*4)
	for i := 0; i < len(out); i += 4 {
		out[i], out[i+1], out[i+2], out[i+3] = r, g, b, 0xff
	}
	return out
}

func TestJPEGEncodeProducesDecodableImage(t *testing.T) {
	enc, err := New(Config{Codec: CodecJPEG, Quality: 80})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer enc.Close()

	data, err := enc.Encode(rgbaFrame(8, 4, 200, 10, 10), 8, 4, PixelRGBA)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	if cfg.Width != 8 || cfg.Height != 4 {
		t.Fatalf("decoded geometry %dx%d, want 8x4", cfg.Width, cfg.Height)
	}
}

func TestRawEncodeSwapsBGRA(t *testing.T) {
	enc, err := New(Config{Codec: CodecRaw})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer enc.Close()

	src := []byte{1, 2, 3, 4} // B G R A
	data, err := enc.Encode(src, 1, 1, PixelBGRA)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Equal(data, []byte{3, 2, 1, 4}) {
		t.Fatalf("swapped pixel = %v, want RGBA order", data)
	}
	if !bytes.Equal(src, []byte{1, 2, 3, 4}) {
		t.Fatal("source buffer must not be mutated")
	}
}

func TestH264WithoutHardwareFails(t *testing.T) {
	if _, err := New(Config{Codec: CodecH264}); !errors.Is(err, ErrInvalidCodec) {
		t.Fatalf("h264 without hardware = %v, want ErrInvalidCodec", err)
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	if _, err := New(Config{Codec: "gif"}); !errors.Is(err, ErrInvalidCodec) {
		t.Fatalf("bad codec error = %v", err)
	}
	if _, err := New(Config{Codec: CodecJPEG, Quality: 500}); !errors.Is(err, ErrInvalidQuality) {
		t.Fatalf("bad quality error = %v", err)
	}
	if _, err := New(Config{Codec: CodecJPEG, Bitrate: -1}); !errors.Is(err, ErrInvalidBitrate) {
		t.Fatalf("bad bitrate error = %v", err)
	}
}

func TestEncodeSizeMismatch(t *testing.T) {
	enc, err := New(Config{Codec: CodecJPEG})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer enc.Close()

	if _, err := enc.Encode(make([]byte, 8), 100, 100, PixelRGBA); err == nil {
		t.Fatal("undersized buffer should fail")
	}
	if _, err := enc.Encode(nil, 1, 1, PixelRGBA); err == nil {
		t.Fatal("empty frame should fail")
	}
}

func TestSetQualityValidation(t *testing.T) {
	enc, err := New(Config{Codec: CodecJPEG})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer enc.Close()

	if err := enc.SetQuality(0); !errors.Is(err, ErrInvalidQuality) {
		t.Fatalf("SetQuality(0) = %v, want ErrInvalidQuality", err)
	}
	if err := enc.SetQuality(50); err != nil {
		t.Fatalf("SetQuality(50) failed: %v", err)
	}
}

func TestEncodeAfterClose(t *testing.T) {
	enc, err := New(Config{Codec: CodecJPEG})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	enc.Close()
	if _, err := enc.Encode(rgbaFrame(1, 1, 0, 0, 0), 1, 1, PixelRGBA); err == nil {
		t.Fatal("Encode after Close should fail")
	}
}

func TestForceKeyframeIsNoopForJPEG(t *testing.T) {
	enc, err := New(Config{Codec: CodecJPEG})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer enc.Close()
	if err := enc.ForceKeyframe(); err != nil {
		t.Fatalf("ForceKeyframe on jpeg backend = %v, want nil", err)
	}
}
