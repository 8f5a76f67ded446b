package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vrtools/xrmirror/internal/config"
	"github.com/vrtools/xrmirror/internal/layer"
	"github.com/vrtools/xrmirror/internal/logging"
	"github.com/vrtools/xrmirror/internal/mirror"
	"github.com/vrtools/xrmirror/internal/oxr"
	"github.com/vrtools/xrmirror/internal/simrt"
	"github.com/vrtools/xrmirror/internal/sink"
	"github.com/vrtools/xrmirror/internal/sink/encode"
	"github.com/vrtools/xrmirror/internal/sink/rtcsink"
	"github.com/vrtools/xrmirror/internal/sink/wsink"
)

var (
	version     = "0.1.0"
	cfgFile     string
	profileFile string
	frames      int
)

var rootCmd = &cobra.Command{
	Use:   "xrmirrord",
	Short: "OpenXR frame mirror daemon",
	Long:  `xrmirrord intercepts an OpenXR frame loop and mirrors submitted frames to spectator sinks`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the mirror over a simulated runtime",
	Run: func(cmd *cobra.Command, args []string) {
		runMirror()
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Drive a fixed number of frames and print pipeline metrics",
	Run: func(cmd *cobra.Command, args []string) {
		probeMirror()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("xrmirrord v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/xrmirror/xrmirror.yaml)")
	rootCmd.PersistentFlags().StringVar(&profileFile, "profile", "", "simulated runtime profile (YAML)")
	probeCmd.Flags().IntVar(&frames, "frames", 300, "frames to drive before reporting")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (*config.Config, simrt.Profile, *simrt.Runtime, *layer.Layer, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, simrt.Profile{}, nil, nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Validate()
	logging.Init(cfg.LogFormat, cfg.LogLevel, nil)

	profile := simrt.DefaultProfile()
	if profileFile != "" {
		profile, err = simrt.LoadProfile(profileFile)
		if err != nil {
			return nil, simrt.Profile{}, nil, nil, err
		}
	}

	rt := simrt.New(profile)
	const instance oxr.Handle = 0x1
	l, err := layer.Attach(instance, rt.Resolver(), mirror.Config{
		QueueDepth:      cfg.QueueDepth,
		RejectThreshold: cfg.RejectThreshold,
		ProbeInterval:   cfg.ProbeInterval,
		MetricsInterval: 30 * time.Second,
	})
	if err != nil {
		return nil, simrt.Profile{}, nil, nil, err
	}
	return cfg, profile, rt, l, nil
}

func buildSink(cfg *config.Config) (sink.Sink, error) {
	encCfg := encode.Config{
		Codec:          encode.Codec(cfg.Codec),
		Quality:        cfg.Quality,
		Bitrate:        cfg.Bitrate,
		FPS:            cfg.FPS,
		PreferHardware: cfg.PreferHardware,
	}
	switch cfg.SinkKind {
	case "websocket":
		return wsink.New(wsink.Config{
			ListenAddr: cfg.ListenAddr,
			Path:       cfg.MirrorPath,
			Encoder:    encCfg,
		})
	case "webrtc":
		rtc, err := rtcsink.New(rtcsink.Config{
			Encoder:    encCfg,
			ICEServers: cfg.ICEServers,
			FPS:        cfg.FPS,
		})
		if err != nil {
			return nil, err
		}
		go serveSignaling(cfg.ListenAddr, rtc)
		return rtc, nil
	case "discard":
		return sink.Discard{}, nil
	default:
		return nil, fmt.Errorf("unknown sink_kind %q", cfg.SinkKind)
	}
}

// serveSignaling exposes the WebRTC offer/answer exchange over plain HTTP:
// POST an SDP offer to /offer, receive the answer SDP in the response body.
func serveSignaling(addr string, rtc *rtcsink.Sink) {
	mux := http.NewServeMux()
	mux.HandleFunc("/offer", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST an SDP offer", http.StatusMethodNotAllowed)
			return
		}
		offer, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		answer, err := rtc.HandleOffer(string(offer))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/sdp")
		io.WriteString(w, answer)
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "signaling server failed: %v\n", err)
	}
}

func runMirror() {
	cfg, profile, rt, l, err := setup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}

	s, err := buildSink(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build sink: %v\n", err)
		os.Exit(1)
	}
	l.AttachSink(s)

	driver := simrt.NewDriver(l, rt, l.Instance(), profile)
	if err := driver.Setup(); err != nil {
		fmt.Fprintf(os.Stderr, "Session setup failed: %v\n", err)
		os.Exit(1)
	}

	stop := make(chan struct{})
	driverDone := make(chan error, 1)
	go func() { driverDone <- driver.Run(cfg.FPS, stop) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		fmt.Println("\nShutting down mirror...")
	case err := <-driverDone:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Frame loop failed: %v\n", err)
		}
	}

	close(stop)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	layer.DetachAll(ctx)
	s.Close()
}

func probeMirror() {
	_, profile, rt, l, err := setup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}

	l.AttachSink(sink.Discard{})

	driver := simrt.NewDriver(l, rt, l.Instance(), profile)
	if err := driver.Setup(); err != nil {
		fmt.Fprintf(os.Stderr, "Session setup failed: %v\n", err)
		os.Exit(1)
	}

	start := time.Now()
	for i := 0; i < frames; i++ {
		if err := driver.RenderFrame(time.Now().UnixNano()); err != nil {
			fmt.Fprintf(os.Stderr, "Frame %d failed: %v\n", i, err)
			os.Exit(1)
		}
	}
	elapsed := time.Since(start)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap := l.Metrics().Snapshot()
	layer.DetachAll(ctx)

	fmt.Printf("Runtime:    %s\n", l.RuntimeName())
	if missing := l.MissingFunctions(); len(missing) > 0 {
		fmt.Printf("Missing:    %v\n", missing)
	}
	fmt.Printf("Frames:     %d in %s (%.1f fps)\n", frames, elapsed.Round(time.Millisecond), float64(frames)/elapsed.Seconds())
	fmt.Printf("Captured:   %d\n", snap.FramesCaptured)
	fmt.Printf("Delivered:  %d\n", snap.FramesDelivered)
	fmt.Printf("Dropped:    %d\n", snap.FramesDropped)
	fmt.Printf("Violations: %d\n", snap.ProtocolViolations)
	fmt.Printf("Capture:    %.3f ms/frame, %d bytes last\n", snap.CaptureMs, snap.LastFrameBytes)
}
