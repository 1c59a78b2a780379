package pitch

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/satindergrewal/objectband/internal/audio"
)

// Tap runs a Detector over a capture session. Buffers are copied out of the
// capture callback and analyzed on a separate goroutine over a sliding window
// of two buffers; the handler is called from that goroutine once per buffer.
type Tap struct {
	capture  audio.CaptureSession
	detector Detector
	handler  func(Estimate)

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}

	dropped atomic.Uint64
}

// NewTap creates a stopped tap.
func NewTap(capture audio.CaptureSession, detector Detector, handler func(Estimate)) *Tap {
	return &Tap{capture: capture, detector: detector, handler: handler}
}

// WindowSize is the number of samples handed to the detector per frame.
func (t *Tap) WindowSize() int {
	return 2 * t.capture.BufferSize()
}

// Dropped returns how many capture buffers were discarded because the
// detector fell behind.
func (t *Tap) Dropped() uint64 {
	return t.dropped.Load()
}

// Start begins capture and detection. Starting a running tap is a no-op.
func (t *Tap) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return nil
	}
	if n := t.capture.BufferSize(); n <= 0 {
		return fmt.Errorf("invalid capture buffer size %d", n)
	}

	samplesCh := make(chan []float32, 8)
	stop := make(chan struct{})
	done := make(chan struct{})
	go t.run(samplesCh, stop, done)

	err := t.capture.Start(func(in []float32) {
		buf := make([]float32, len(in))
		copy(buf, in)
		select {
		case samplesCh <- buf:
		default:
			t.dropped.Add(1)
		}
	})
	if err != nil {
		close(stop)
		<-done
		return fmt.Errorf("start capture: %w", err)
	}

	t.stop, t.done = stop, done
	return nil
}

// Stop halts capture and waits for the detection goroutine to exit.
// It is safe to call on a stopped tap.
func (t *Tap) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop == nil {
		return nil
	}
	err := t.capture.Stop()
	close(t.stop)
	<-t.done
	t.stop, t.done = nil, nil
	if err != nil {
		return fmt.Errorf("stop capture: %w", err)
	}
	return nil
}

func (t *Tap) run(samplesCh <-chan []float32, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	size := t.WindowSize()
	sampleRate := t.capture.SampleRate()
	window := make([]float32, 0, 2*size)
	for {
		select {
		case <-stop:
			return
		case buf := <-samplesCh:
			window = append(window, buf...)
			if len(window) < size {
				continue
			}
			if len(window) > size {
				copy(window, window[len(window)-size:])
				window = window[:size]
			}
			t.handler(t.detector.Detect(window, sampleRate))
		}
	}
}
