package audio

import (
	"errors"
	"time"
)

const (
	// DefaultBufferSize is the capture buffer length negotiated with the input device.
	DefaultBufferSize = 1024

	// Streaming output format. Opus only accepts a handful of rates, so the
	// stream renderer is pinned to 48kHz mono regardless of the device rate.
	SampleRate    = 48000
	Channels      = 1
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

var (
	// ErrNoCaptureDevice is returned when no input device can be opened.
	ErrNoCaptureDevice = errors.New("no audio capture device available")
	// ErrNoRenderDevice is returned when no output device can be opened.
	ErrNoRenderDevice = errors.New("no audio render device available")
)

// CaptureSession delivers mono float32 buffers from an input source.
// The callback runs on the source's own thread and must not block.
type CaptureSession interface {
	SampleRate() float64
	BufferSize() int
	Start(callback func(in []float32)) error
	Stop() error
}

// RenderSession pulls mono float32 blocks from a render function and plays them.
// The render function runs on the session's own thread and must not block.
type RenderSession interface {
	SampleRate() float64
	Start(render func(out []float32)) error
	Stop() error
}
