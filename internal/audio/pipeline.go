package audio

import (
	"sync"
	"sync/atomic"
	"time"
)

// Pipeline is a RenderSession with no device behind it. It pulls 20ms blocks
// from the render function at real-time rate and emits them as PCM frames for
// network listeners.
type Pipeline struct {
	frameCh chan []int16

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}

	rendered atomic.Uint64
	dropped  atomic.Uint64
}

// NewPipeline creates a stopped streaming pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		frameCh: make(chan []int16, 100),
	}
}

// SampleRate is fixed at the streaming rate.
func (p *Pipeline) SampleRate() float64 { return SampleRate }

// Frames returns the channel of outgoing PCM frames (20ms each).
// The channel stays open across Start/Stop cycles.
func (p *Pipeline) Frames() <-chan []int16 {
	return p.frameCh
}

// Position returns how much audio has been rendered since the pipeline was created.
func (p *Pipeline) Position() time.Duration {
	return time.Duration(p.rendered.Load()) * FrameDuration
}

// Dropped returns the number of frames discarded because nobody drained Frames.
func (p *Pipeline) Dropped() uint64 {
	return p.dropped.Load()
}

// Start begins rendering. Starting a running pipeline is a no-op.
func (p *Pipeline) Start(render func(out []float32)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return nil
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(render, p.stop, p.done)
	return nil
}

// Stop halts rendering and waits for the render loop to exit.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop == nil {
		return nil
	}
	close(p.stop)
	<-p.done
	p.stop, p.done = nil, nil
	return nil
}

func (p *Pipeline) run(render func(out []float32), stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	buf := make([]float32, FrameSamples)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		render(buf)
		p.rendered.Add(1)

		// never block the render loop on a slow consumer
		select {
		case p.frameCh <- ToPCM16(buf):
		default:
			p.dropped.Add(1)
		}
	}
}
