// Package config loads the mirror daemon's configuration from file and
// environment. Everything has a working default: an empty config starts a
// WebSocket mirror on localhost.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

type Config struct {
	SinkKind   string   `mapstructure:"sink_kind"`   // websocket, webrtc, discard
	ListenAddr string   `mapstructure:"listen_addr"` // websocket sink
	MirrorPath string   `mapstructure:"mirror_path"`
	ICEServers []string `mapstructure:"ice_servers"` // webrtc sink

	QueueDepth      int `mapstructure:"queue_depth"`
	RejectThreshold int `mapstructure:"reject_threshold"`
	ProbeInterval   int `mapstructure:"probe_interval"`

	Codec          string `mapstructure:"codec"` // jpeg, raw, h264
	Quality        int    `mapstructure:"quality"`
	Bitrate        int    `mapstructure:"bitrate"`
	FPS            int    `mapstructure:"fps"`
	PreferHardware bool   `mapstructure:"prefer_hardware"`

	ProfilePath string `mapstructure:"profile_path"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

func Default() *Config {
	return &Config{
		SinkKind:        "websocket",
		ListenAddr:      "127.0.0.1:9469",
		MirrorPath:      "/mirror",
		QueueDepth:      3,
		RejectThreshold: 10,
		ProbeInterval:   30,
		Codec:           "jpeg",
		Quality:         80,
		Bitrate:         2_500_000,
		FPS:             72,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("xrmirror")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("XRMIRROR")
	viper.AutomaticEnv()

	// AutomaticEnv only consults keys viper already knows, so every key has
	// to be registered before Unmarshal or XRMIRROR_* variables are ignored
	// when no config file is present.
	viper.SetDefault("sink_kind", cfg.SinkKind)
	viper.SetDefault("listen_addr", cfg.ListenAddr)
	viper.SetDefault("mirror_path", cfg.MirrorPath)
	viper.SetDefault("ice_servers", cfg.ICEServers)
	viper.SetDefault("queue_depth", cfg.QueueDepth)
	viper.SetDefault("reject_threshold", cfg.RejectThreshold)
	viper.SetDefault("probe_interval", cfg.ProbeInterval)
	viper.SetDefault("codec", cfg.Codec)
	viper.SetDefault("quality", cfg.Quality)
	viper.SetDefault("bitrate", cfg.Bitrate)
	viper.SetDefault("fps", cfg.FPS)
	viper.SetDefault("prefer_hardware", cfg.PreferHardware)
	viper.SetDefault("profile_path", cfg.ProfilePath)
	viper.SetDefault("log_level", cfg.LogLevel)
	viper.SetDefault("log_format", cfg.LogFormat)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "XRMirror")
	case "darwin":
		return "/Library/Application Support/XRMirror"
	default:
		return "/etc/xrmirror"
	}
}
