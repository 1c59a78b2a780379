// Package device opens the default PortAudio input and output devices as
// capture and render sessions.
package device

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/satindergrewal/objectband/internal/audio"
)

// Initialize brings up PortAudio. The returned function tears it down.
func Initialize() (terminate func() error, err error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	return portaudio.Terminate, nil
}

// Capture is an audio.CaptureSession on the default input device: mono float32 at
// the device's native sample rate.
type Capture struct {
	device     *portaudio.DeviceInfo
	bufferSize int

	mu     sync.Mutex
	stream *portaudio.Stream
}

// OpenCapture negotiates the capture format with the default input device.
// It returns audio.ErrNoCaptureDevice when there is no usable input.
func OpenCapture(bufferSize int) (*Capture, error) {
	if bufferSize <= 0 {
		return nil, fmt.Errorf("invalid capture buffer size %d", bufferSize)
	}
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrNoCaptureDevice, err)
	}
	if dev == nil || dev.MaxInputChannels < 1 {
		return nil, audio.ErrNoCaptureDevice
	}
	return &Capture{device: dev, bufferSize: bufferSize}, nil
}

// DeviceName returns the name of the negotiated input device.
func (c *Capture) DeviceName() string  { return c.device.Name }
func (c *Capture) SampleRate() float64 { return c.device.DefaultSampleRate }
func (c *Capture) BufferSize() int     { return c.bufferSize }

// Start opens and starts the input stream. Starting a running capture is a no-op.
func (c *Capture) Start(callback func(in []float32)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		return nil
	}
	stream, err := portaudio.OpenDefaultStream(1, 0, c.SampleRate(), c.bufferSize, func(in []float32) {
		callback(in)
	})
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start input stream: %w", err)
	}
	c.stream = stream
	return nil
}

// Stop stops and closes the input stream. It is safe to call when stopped.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return closeStream(&c.stream)
}

// Playback is an audio.RenderSession on the default output device: mono float32 at
// the device's native sample rate.
type Playback struct {
	device     *portaudio.DeviceInfo
	bufferSize int

	mu     sync.Mutex
	stream *portaudio.Stream
}

// OpenPlayback negotiates the render format with the default output device.
// It returns audio.ErrNoRenderDevice when there is no usable output.
func OpenPlayback(bufferSize int) (*Playback, error) {
	if bufferSize <= 0 {
		return nil, fmt.Errorf("invalid render buffer size %d", bufferSize)
	}
	dev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrNoRenderDevice, err)
	}
	if dev == nil || dev.MaxOutputChannels < 1 {
		return nil, audio.ErrNoRenderDevice
	}
	return &Playback{device: dev, bufferSize: bufferSize}, nil
}

// DeviceName returns the name of the negotiated output device.
func (p *Playback) DeviceName() string  { return p.device.Name }
func (p *Playback) SampleRate() float64 { return p.device.DefaultSampleRate }

// Start opens and starts the output stream. Starting a running playback is a no-op.
func (p *Playback) Start(render func(out []float32)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return nil
	}
	stream, err := portaudio.OpenDefaultStream(0, 1, p.SampleRate(), p.bufferSize, func(out []float32) {
		render(out)
	})
	if err != nil {
		return fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start output stream: %w", err)
	}
	p.stream = stream
	return nil
}

// Stop stops and closes the output stream. It is safe to call when stopped.
func (p *Playback) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return closeStream(&p.stream)
}

func closeStream(s **portaudio.Stream) error {
	stream := *s
	if stream == nil {
		return nil
	}
	*s = nil
	if err := stream.Stop(); err != nil {
		stream.Close()
		return fmt.Errorf("stop stream: %w", err)
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("close stream: %w", err)
	}
	return nil
}
