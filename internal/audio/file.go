package audio

import (
	"fmt"
	"sync"
	"time"
)

// FileCapture replays decoded samples as if they were arriving from a
// microphone, looping at the end. It stands in for a capture device on
// machines without one.
type FileCapture struct {
	samples    []float32
	sampleRate float64
	bufferSize int

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// OpenFileCapture decodes path with ffmpeg and returns a capture session
// replaying it at sampleRate in buffers of bufferSize samples.
func OpenFileCapture(path string, sampleRate float64, bufferSize int) (*FileCapture, error) {
	samples, err := DecodeFile(path, int(sampleRate))
	if err != nil {
		return nil, err
	}
	return NewFileCapture(samples, sampleRate, bufferSize)
}

// NewFileCapture returns a capture session replaying samples.
func NewFileCapture(samples []float32, sampleRate float64, bufferSize int) (*FileCapture, error) {
	if bufferSize <= 0 {
		return nil, fmt.Errorf("invalid buffer size %d", bufferSize)
	}
	if len(samples) < bufferSize {
		return nil, fmt.Errorf("input has %d samples, need at least %d", len(samples), bufferSize)
	}
	return &FileCapture{samples: samples, sampleRate: sampleRate, bufferSize: bufferSize}, nil
}

func (c *FileCapture) SampleRate() float64 { return c.sampleRate }
func (c *FileCapture) BufferSize() int     { return c.bufferSize }

// Start begins delivering buffers at real-time rate.
func (c *FileCapture) Start(callback func(in []float32)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return nil
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(callback, c.stop, c.done)
	return nil
}

// Stop halts delivery and waits for the replay loop to exit.
func (c *FileCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == nil {
		return nil
	}
	close(c.stop)
	<-c.done
	c.stop, c.done = nil, nil
	return nil
}

func (c *FileCapture) run(callback func(in []float32), stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	period := time.Duration(float64(c.bufferSize) / c.sampleRate * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	buf := make([]float32, c.bufferSize)
	pos := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		for i := range buf {
			buf[i] = c.samples[pos]
			pos = (pos + 1) % len(c.samples)
		}
		callback(buf)
	}
}
