package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/logging"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/objectband/internal/analyzer"
	"github.com/satindergrewal/objectband/internal/audio"
	"github.com/satindergrewal/objectband/internal/audio/device"
	"github.com/satindergrewal/objectband/internal/config"
	"github.com/satindergrewal/objectband/internal/instrument"
	"github.com/satindergrewal/objectband/internal/pitch"
	"github.com/satindergrewal/objectband/internal/stream"
	"github.com/satindergrewal/objectband/internal/stream/serve"
	"github.com/satindergrewal/objectband/internal/synth"
)

// frames buffered per stream listener (~3s at 20ms)
const listenerBuffer = 150

func main() {
	cfg := config.Load()
	loggers := newLoggerFactory(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Println("objectband starting up...")

	if cfg.InputFile == "" || cfg.Output == config.OutputDevice {
		terminate, err := device.Initialize()
		if err != nil {
			log.Fatalf("PortAudio init failed: %v", err)
		}
		defer terminate()
	}

	capture, err := openCapture(cfg)
	if err != nil {
		log.Fatalf("capture: %v", err)
	}

	// Output: default device, or a paced pipeline feeding stream listeners
	var (
		render   audio.RenderSession
		pipeline *audio.Pipeline
	)
	switch cfg.Output {
	case config.OutputStream:
		pipeline = audio.NewPipeline()
		render = pipeline
	case config.OutputDevice:
		playback, err := device.OpenPlayback(cfg.BufferSize)
		if err != nil {
			log.Fatalf("output: %v", err)
		}
		log.Printf("Output device: %s (%.0f Hz)", playback.DeviceName(), playback.SampleRate())
		render = playback
	default:
		log.Fatalf("unknown OBJECTBAND_OUTPUT %q (want %q or %q)", cfg.Output, config.OutputDevice, config.OutputStream)
	}

	syn, err := synth.New(render,
		synth.WithAmplitude(cfg.Amplitude),
		synth.WithFrequency(cfg.InitialFrequency),
		synth.WithLogger(loggers.NewLogger("synth")),
	)
	if err != nil {
		log.Fatalf("synthesizer: %v", err)
	}

	an, err := analyzer.New(capture, pitch.NewAutocorrelationDetector(), syn,
		analyzer.WithSmoother(pitch.NewSmoother(cfg.InitialFrequency, cfg.Smoothing)),
		analyzer.WithLogger(loggers.NewLogger("analyzer")),
	)
	if err != nil {
		log.Fatalf("analyzer: %v", err)
	}

	inst := instrument.New(an, syn, loggers.NewLogger("instrument"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		inst.Run(ctx)
		return nil
	})

	mux := http.NewServeMux()

	// Stream listeners only exist when the tone is not going to a device
	var (
		broadcaster   *stream.Broadcaster[[]int16]
		webrtcHandler *serve.WebRTCHandler
	)
	if pipeline != nil {
		broadcaster = stream.NewBroadcaster[[]int16](listenerBuffer)
		g.Go(func() error {
			broadcaster.Run(ctx, pipeline.Frames())
			return nil
		})

		webrtcHandler, err = serve.NewWebRTCHandler(broadcaster, cfg.StreamBitrate, loggers)
		if err != nil {
			log.Fatalf("WebRTC: %v", err)
		}
		mux.Handle("/stream", serve.NewHTTPHandler(broadcaster, cfg.StreamBitrate, loggers.NewLogger("http-stream")))
		mux.Handle("/offer", webrtcHandler)
	}

	// API endpoints
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		var httpListeners, webrtcListeners int
		if broadcaster != nil {
			httpListeners = broadcaster.ListenerCount()
			webrtcListeners = webrtcHandler.PeerCount()
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		json.NewEncoder(w).Encode(map[string]any{
			"state":            inst.State().String(),
			"frequency":        inst.Frequency(),
			"frequency_hz":     inst.DisplayHz(),
			"synth_frequency":  syn.Frequency(),
			"analyzer_running": an.Running(),
			"synth_running":    syn.Running(),
			"output":           cfg.Output,
			"stream_listeners": httpListeners,
			"webrtc_listeners": webrtcListeners,
		})
	})

	mux.HandleFunc("/api/start", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		if err := inst.Start(); err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, instrument.ErrBusy) {
				code = http.StatusConflict
			}
			http.Error(w, err.Error(), code)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "state": inst.State().String()})
	})

	mux.HandleFunc("/api/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		inst.Stop()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "state": inst.State().String()})
	})

	if cfg.AutoStart {
		if err := inst.Start(); err != nil {
			log.Printf("Autostart failed: %v", err)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	g.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down...")
		inst.Stop()
		return server.Close()
	})

	g.Go(func() error {
		log.Printf("objectband live on %s (output: %s)", addr, cfg.Output)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("%v", err)
	}
}

func openCapture(cfg config.Config) (audio.CaptureSession, error) {
	if cfg.InputFile != "" {
		c, err := audio.OpenFileCapture(cfg.InputFile, audio.SampleRate, cfg.BufferSize)
		if err != nil {
			return nil, err
		}
		log.Printf("Input file: %s", cfg.InputFile)
		return c, nil
	}

	c, err := device.OpenCapture(cfg.BufferSize)
	if errors.Is(err, audio.ErrNoCaptureDevice) {
		return nil, fmt.Errorf("%w (set OBJECTBAND_INPUT_FILE to use a recording)", err)
	}
	if err != nil {
		return nil, err
	}
	log.Printf("Input device: %s (%.0f Hz)", c.DeviceName(), c.SampleRate())
	return c, nil
}

func newLoggerFactory(level string) *logging.DefaultLoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	f.Writer = os.Stderr
	switch level {
	case "disabled", "off":
		f.DefaultLogLevel = logging.LogLevelDisabled
	case "error":
		f.DefaultLogLevel = logging.LogLevelError
	case "warn", "warning":
		f.DefaultLogLevel = logging.LogLevelWarn
	case "debug":
		f.DefaultLogLevel = logging.LogLevelDebug
	case "trace":
		f.DefaultLogLevel = logging.LogLevelTrace
	default:
		f.DefaultLogLevel = logging.LogLevelInfo
	}
	return f
}
