package config

import (
	"os"
	"strconv"
	"strings"
)

// Output modes.
const (
	OutputDevice = "device" // default output device via PortAudio
	OutputStream = "stream" // HTTP/WebRTC listeners only
)

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port      int
	AutoStart bool // start the instrument without waiting for /api/start

	// Capture
	BufferSize int    // samples per capture callback
	InputFile  string // replay this file instead of the microphone

	// Pitch tracking
	Smoothing        float64 // smoother alpha
	InitialFrequency float64 // Hz, smoother and synth starting point

	// Output
	Output        string  // OutputDevice or OutputStream
	Amplitude     float64 // sine peak level
	StreamBitrate int     // bits/s for MP3 and Opus listeners

	LogLevel string // pion/logging level: error, warn, info, debug, trace
}

// Load reads configuration from environment variables with sane defaults.
// Out-of-range buffer sizes and smoothing factors fall back to the defaults.
func Load() Config {
	cfg := Config{
		Port:      envInt("OBJECTBAND_PORT", 8080),
		AutoStart: envBool("OBJECTBAND_AUTOSTART", false),

		BufferSize: envInt("OBJECTBAND_BUFFER_SIZE", 1024),
		InputFile:  envStr("OBJECTBAND_INPUT_FILE", ""),

		Smoothing:        envFloat("OBJECTBAND_SMOOTHING", 0.1),
		InitialFrequency: envFloat("OBJECTBAND_INITIAL_FREQUENCY", 440),

		Output:        strings.ToLower(envStr("OBJECTBAND_OUTPUT", OutputDevice)),
		Amplitude:     envFloat("OBJECTBAND_AMPLITUDE", 0.3),
		StreamBitrate: envInt("OBJECTBAND_STREAM_BITRATE", 64000),

		LogLevel: strings.ToLower(envStr("OBJECTBAND_LOG_LEVEL", "info")),
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	// the smoother only converges for 0 < alpha <= 1
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		cfg.Smoothing = 0.1
	}
	return cfg
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
