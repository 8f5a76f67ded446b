package config

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
)

var knownSinks = map[string]bool{
	"websocket": true,
	"webrtc":    true,
	"discard":   true,
}

var knownCodecs = map[string]bool{
	"jpeg": true,
	"raw":  true,
	"h264": true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the config for invalid values and returns all errors found.
// Dangerous zero-values that would stall the frame path are clamped to safe
// defaults. Other validation errors are logged as warnings but do not prevent
// startup.
func (c *Config) Validate() []error {
	var errs []error

	if !knownSinks[strings.ToLower(c.SinkKind)] {
		errs = append(errs, fmt.Errorf("sink_kind %q is not valid (use websocket, webrtc, discard)", c.SinkKind))
	}

	if c.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
			errs = append(errs, fmt.Errorf("listen_addr %q is not a valid host:port: %w", c.ListenAddr, err))
		}
	}

	if c.MirrorPath != "" && !strings.HasPrefix(c.MirrorPath, "/") {
		errs = append(errs, fmt.Errorf("mirror_path %q must start with /", c.MirrorPath))
	}

	if c.QueueDepth < 1 {
		errs = append(errs, fmt.Errorf("queue_depth %d is below minimum 1, clamping", c.QueueDepth))
		c.QueueDepth = 1
	} else if c.QueueDepth > 64 {
		errs = append(errs, fmt.Errorf("queue_depth %d exceeds maximum 64, clamping", c.QueueDepth))
		c.QueueDepth = 64
	}

	if c.RejectThreshold < 1 {
		errs = append(errs, fmt.Errorf("reject_threshold %d is below minimum 1, clamping", c.RejectThreshold))
		c.RejectThreshold = 1
	} else if c.RejectThreshold > 10000 {
		errs = append(errs, fmt.Errorf("reject_threshold %d exceeds maximum 10000, clamping", c.RejectThreshold))
		c.RejectThreshold = 10000
	}

	if c.ProbeInterval < 1 {
		errs = append(errs, fmt.Errorf("probe_interval %d is below minimum 1, clamping", c.ProbeInterval))
		c.ProbeInterval = 1
	}

	if !knownCodecs[strings.ToLower(c.Codec)] {
		errs = append(errs, fmt.Errorf("codec %q is not valid (use jpeg, raw, h264)", c.Codec))
	}

	if c.Quality < 1 {
		errs = append(errs, fmt.Errorf("quality %d is below minimum 1, clamping", c.Quality))
		c.Quality = 1
	} else if c.Quality > 100 {
		errs = append(errs, fmt.Errorf("quality %d exceeds maximum 100, clamping", c.Quality))
		c.Quality = 100
	}

	if c.Bitrate < 100_000 {
		errs = append(errs, fmt.Errorf("bitrate %d is below minimum 100000, clamping", c.Bitrate))
		c.Bitrate = 100_000
	}

	if c.FPS < 1 {
		errs = append(errs, fmt.Errorf("fps %d is below minimum 1, clamping", c.FPS))
		c.FPS = 1
	} else if c.FPS > 144 {
		errs = append(errs, fmt.Errorf("fps %d exceeds maximum 144, clamping", c.FPS))
		c.FPS = 144
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}

	return errs
}
