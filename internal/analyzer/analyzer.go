// Package analyzer turns microphone pitch estimates into a smoothed,
// published frequency that drives a synthesizer.
package analyzer

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"
	"golang.org/x/time/rate"

	"github.com/satindergrewal/objectband/internal/audio"
	"github.com/satindergrewal/objectband/internal/pitch"
	"github.com/satindergrewal/objectband/internal/stream"
)

// Frames are accepted only if MinFrequency < f < MaxFrequency and
// amplitude > MinAmplitude.
const (
	MinFrequency = 80.0
	MaxFrequency = 1000.0
	MinAmplitude = 0.01
)

const (
	updateBuffer = 16
	feedBuffer   = 16
)

// FrequencySetter receives every smoothed frequency.
type FrequencySetter interface {
	UpdateFrequency(f float64)
}

// Accept reports whether a frame's primary candidate passes the gate.
func Accept(s pitch.Sample) bool {
	return s.Frequency > MinFrequency && s.Frequency < MaxFrequency && s.Amplitude > MinAmplitude
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger.
func WithLogger(l logging.LeveledLogger) Option {
	return func(a *Analyzer) { a.log = l }
}

// WithSmoother replaces the default 440 Hz / 0.1 smoother.
func WithSmoother(s *pitch.Smoother) Option {
	return func(a *Analyzer) { a.smoother = s }
}

// Analyzer runs pitch detection on a capture session. Accepted frames are
// handed to a single update goroutine, which owns the smoother and is the
// only writer of the published frequency.
type Analyzer struct {
	tap      *pitch.Tap
	synth    FrequencySetter
	smoother *pitch.Smoother
	feed     *stream.Broadcaster[float64]
	log      logging.LeveledLogger
	debug    rate.Sometimes

	updates   chan pitch.Sample
	frequency atomic.Uint64
	dropped   atomic.Uint64

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// New creates a stopped analyzer reading from capture and forwarding to synth.
// It returns audio.ErrNoCaptureDevice when capture is nil.
func New(capture audio.CaptureSession, detector pitch.Detector, synth FrequencySetter, opts ...Option) (*Analyzer, error) {
	if capture == nil {
		return nil, audio.ErrNoCaptureDevice
	}
	a := &Analyzer{
		synth:    synth,
		smoother: pitch.DefaultSmoother(),
		feed:     stream.NewBroadcaster[float64](feedBuffer),
		debug:    rate.Sometimes{Interval: time.Second},
		updates:  make(chan pitch.Sample, updateBuffer),
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = logging.NewDefaultLoggerFactory().NewLogger("analyzer")
	}
	a.tap = pitch.NewTap(capture, detector, a.handle)
	return a, nil
}

// Start begins capture and analysis. A failure is logged and returned and
// the analyzer stays stopped. Starting a running analyzer is a no-op.
func (a *Analyzer) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop != nil {
		return nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go a.run(stop, done)

	if err := a.tap.Start(); err != nil {
		close(stop)
		<-done
		a.log.Errorf("audio engine failed to start: %v", err)
		return err
	}

	a.stop, a.done = stop, done
	a.log.Infof("analyzer started (window %d samples)", a.tap.WindowSize())
	return nil
}

// Stop halts capture and the update goroutine. It is safe to call before
// Start and more than once.
func (a *Analyzer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop == nil {
		return
	}
	if err := a.tap.Stop(); err != nil {
		a.log.Warnf("stopping audio engine: %v", err)
	}
	close(a.stop)
	<-a.done
	a.stop, a.done = nil, nil
	if n := a.tap.Dropped() + a.dropped.Load(); n > 0 {
		a.log.Debugf("analyzer stopped (%d frames dropped)", n)
		return
	}
	a.log.Info("analyzer stopped")
}

// Running reports whether capture is active.
func (a *Analyzer) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stop != nil
}

// Frequency returns the last published frequency, or 0 before the first
// accepted frame.
func (a *Analyzer) Frequency() float64 {
	return math.Float64frombits(a.frequency.Load())
}

// Subscribe returns a listener receiving every published frequency.
// Values are dropped for listeners that fall behind.
func (a *Analyzer) Subscribe() *stream.Listener[float64] {
	return a.feed.Subscribe()
}

// Unsubscribe detaches l from the feed.
func (a *Analyzer) Unsubscribe(l *stream.Listener[float64]) {
	a.feed.Unsubscribe(l)
}

// handle runs on the tap goroutine.
func (a *Analyzer) handle(e pitch.Estimate) {
	s := e.Primary()
	if !Accept(s) {
		return
	}
	select {
	case a.updates <- s:
	default:
		a.dropped.Add(1)
	}
}

func (a *Analyzer) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case s := <-a.updates:
			f := a.smoother.Smooth(s.Frequency)
			a.frequency.Store(math.Float64bits(f))
			if a.synth != nil {
				a.synth.UpdateFrequency(f)
			}
			a.feed.Publish(f)
			a.debug.Do(func() {
				a.log.Debugf("pitch %.1f Hz (amp %.3f) -> %.1f Hz", s.Frequency, s.Amplitude, f)
			})
		}
	}
}
