// Package synth renders a continuous sine voice whose pitch follows
// frequency updates from another goroutine.
package synth

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"

	"github.com/satindergrewal/objectband/internal/audio"
)

const (
	DefaultAmplitude = 0.3
	DefaultFrequency = 440.0

	// UpdateFrequency ignores anything outside (MinFrequency, MaxFrequency).
	MinFrequency = 80.0
	MaxFrequency = 1000.0

	fadeTime = 10 * time.Millisecond
)

// Oscillator is a phase-accumulating sine. Phase is continuous across
// frequency changes, so retuning does not click.
type Oscillator struct {
	phase float64
}

// Sine advances the phase by one sample at freq and returns the output.
func (o *Oscillator) Sine(freq, sampleRate float64) float64 {
	_, o.phase = math.Modf(o.phase + freq/sampleRate)
	return math.Sin(2 * math.Pi * o.phase)
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithAmplitude sets the peak output level.
func WithAmplitude(a float64) Option {
	return func(s *Synthesizer) { s.amplitude = a }
}

// WithFrequency sets the frequency played before the first update.
func WithFrequency(f float64) Option {
	return func(s *Synthesizer) { s.target.Store(math.Float64bits(f)) }
}

// WithLogger sets the logger.
func WithLogger(l logging.LeveledLogger) Option {
	return func(s *Synthesizer) { s.log = l }
}

// Synthesizer owns one oscillator voice on a render session.
type Synthesizer struct {
	render    audio.RenderSession
	amplitude float64
	log       logging.LeveledLogger

	// written by any goroutine, read by the render callback
	target  atomic.Uint64
	applied atomic.Uint64

	// render callback only
	osc  Oscillator
	fade *audio.Fade

	mu      sync.Mutex
	running bool
}

// New creates a stopped synthesizer rendering through render.
// It returns audio.ErrNoRenderDevice when render is nil.
func New(render audio.RenderSession, opts ...Option) (*Synthesizer, error) {
	if render == nil {
		return nil, audio.ErrNoRenderDevice
	}
	s := &Synthesizer{
		render:    render,
		amplitude: DefaultAmplitude,
		fade:      audio.NewFade(int(render.SampleRate() * fadeTime.Seconds())),
	}
	s.target.Store(math.Float64bits(DefaultFrequency))
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = logging.NewDefaultLoggerFactory().NewLogger("synth")
	}
	return s, nil
}

// UpdateFrequency retunes the voice if 80 < f < 1000 and ignores f otherwise.
// The new frequency takes effect at the start of the next rendered block.
func (s *Synthesizer) UpdateFrequency(f float64) {
	if f > MinFrequency && f < MaxFrequency {
		s.target.Store(math.Float64bits(f))
	}
}

// Frequency returns the frequency the voice is tuned to.
func (s *Synthesizer) Frequency() float64 {
	return math.Float64frombits(s.target.Load())
}

// RenderedFrequency returns the frequency used for the most recent block,
// or 0 if nothing has been rendered.
func (s *Synthesizer) RenderedFrequency() float64 {
	return math.Float64frombits(s.applied.Load())
}

func (s *Synthesizer) Amplitude() float64 { return s.amplitude }

// Running reports whether the render session is started.
func (s *Synthesizer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start starts the render session. A failure is logged and returned and the
// synthesizer stays stopped; Start may be retried.
func (s *Synthesizer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.fade.Reset()
	if err := s.render.Start(s.Render); err != nil {
		s.log.Errorf("audio engine failed to start: %v", err)
		return fmt.Errorf("start synthesizer: %w", err)
	}
	s.running = true
	s.log.Infof("synthesizer started (%.0f Hz output, %.0f Hz tone)", s.render.SampleRate(), s.Frequency())
	return nil
}

// Stop stops the render session. It is safe to call when stopped.
func (s *Synthesizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if err := s.render.Stop(); err != nil {
		s.log.Warnf("stopping audio engine: %v", err)
	}
	s.running = false
	s.log.Info("synthesizer stopped")
}

// Render fills out with the next block of the voice. It is the render
// session's callback and must only be called from one goroutine at a time.
func (s *Synthesizer) Render(out []float32) {
	freq := s.Frequency()
	s.applied.Store(math.Float64bits(freq))
	sampleRate := s.render.SampleRate()
	for i := range out {
		out[i] = float32(s.amplitude * s.fade.Gain() * s.osc.Sine(freq, sampleRate))
	}
}
