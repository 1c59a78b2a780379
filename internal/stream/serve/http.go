// Package serve streams the synthesized tone to network listeners over
// chunked HTTP (MP3) and WebRTC (Opus).
package serve

import (
	"context"
	"io"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/satindergrewal/objectband/internal/audio"
	"github.com/satindergrewal/objectband/internal/stream"
)

// HTTPHandler serves the synthesized tone as a chunked MP3 stream.
// Each connection spawns an FFmpeg process to encode PCM -> MP3 in real-time.
type HTTPHandler struct {
	broadcaster *stream.Broadcaster[[]int16]
	bitrate     int
	log         logging.LeveledLogger
}

// NewHTTPHandler creates an HTTP stream handler encoding at bitrate bits/s.
func NewHTTPHandler(b *stream.Broadcaster[[]int16], bitrate int, log logging.LeveledLogger) *HTTPHandler {
	return &HTTPHandler{broadcaster: b, bitrate: bitrate, log: log}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("ICY-Name", "objectband")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// FFmpeg: PCM stdin -> MP3 stdout
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", strconv.Itoa(h.bitrate),
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		h.log.Errorf("HTTP stream: stdin pipe error: %v", err)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.log.Errorf("HTTP stream: stdout pipe error: %v", err)
		return
	}

	if err := cmd.Start(); err != nil {
		h.log.Errorf("HTTP stream: ffmpeg start error: %v", err)
		return
	}

	id := uuid.NewString()
	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	h.log.Infof("HTTP listener %s connected (total: %d)", id, h.broadcaster.ListenerCount())
	defer h.log.Infof("HTTP listener %s disconnected", id)

	// Feed PCM frames to FFmpeg
	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-listener.Done():
				return
			case frame := <-listener.C:
				if _, err := stdin.Write(audio.SamplesToBytes(frame)); err != nil {
					return
				}
			}
		}
	}()

	// Read MP3 from FFmpeg and write to HTTP response
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				h.log.Warnf("HTTP stream: ffmpeg read error: %v", err)
			}
			break
		}
	}

	cmd.Wait()
}
