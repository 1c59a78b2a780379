// Package instrument ties the pitch analyzer to the synthesizer and owns
// their combined lifecycle.
package instrument

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/pion/logging"

	"github.com/satindergrewal/objectband/internal/stream"
)

// MinFrequency is the lowest frequency forwarded to the synthesizer;
// anything at or below it is treated as noise.
const MinFrequency = 50.0

// ErrBusy is returned by Start while another transition is in progress.
var ErrBusy = errors.New("instrument: start or stop in progress")

// State is the combined lifecycle of the analyzer and synthesizer.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Analyzer publishes smoothed microphone pitch.
type Analyzer interface {
	Start() error
	Stop()
	Running() bool
	Subscribe() *stream.Listener[float64]
	Unsubscribe(*stream.Listener[float64])
}

// Synth plays a tone at the frequency it is given.
type Synth interface {
	Start() error
	Stop()
	Running() bool
	UpdateFrequency(f float64)
}

// Instrument forwards the analyzer's pitch to the synthesizer and
// republishes it.
type Instrument struct {
	analyzer Analyzer
	synth    Synth
	log      logging.LeveledLogger

	feed      *stream.Broadcaster[float64]
	frequency atomic.Uint64
	state     atomic.Int32

	mu sync.Mutex // serializes Start and Stop
}

// New creates a stopped instrument. A nil logger selects the default one.
func New(analyzer Analyzer, synth Synth, log logging.LeveledLogger) *Instrument {
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("instrument")
	}
	return &Instrument{
		analyzer: analyzer,
		synth:    synth,
		log:      log,
		feed:     stream.NewBroadcaster[float64](16),
	}
}

// Run follows the analyzer feed until ctx is done.
func (in *Instrument) Run(ctx context.Context) {
	l := in.analyzer.Subscribe()
	defer in.analyzer.Unsubscribe(l)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.Done():
			return
		case f := <-l.C:
			in.apply(f)
		}
	}
}

func (in *Instrument) apply(f float64) {
	if f > MinFrequency {
		in.synth.UpdateFrequency(f)
	}
	in.frequency.Store(math.Float64bits(f))
	in.feed.Publish(f)
}

// Start starts the analyzer, then the synthesizer. If the synthesizer fails
// the analyzer is stopped again and the instrument stays Stopped.
// Starting a running instrument is a no-op; ErrBusy is returned while
// another Start or Stop is in flight.
func (in *Instrument) Start() error {
	if !in.mu.TryLock() {
		return ErrBusy
	}
	defer in.mu.Unlock()

	switch in.State() {
	case Running:
		return nil
	case Stopped:
	default:
		return ErrBusy
	}

	in.setState(Starting)
	if err := in.analyzer.Start(); err != nil {
		in.setState(Stopped)
		return fmt.Errorf("start analyzer: %w", err)
	}
	if err := in.synth.Start(); err != nil {
		in.analyzer.Stop()
		in.setState(Stopped)
		return fmt.Errorf("start synthesizer: %w", err)
	}
	in.setState(Running)
	in.log.Info("instrument running")
	return nil
}

// Stop stops the synthesizer, then the analyzer. It waits for an in-flight
// transition and is a no-op when already stopped.
func (in *Instrument) Stop() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.State() != Running {
		return
	}
	in.setState(Stopping)
	in.synth.Stop()
	in.analyzer.Stop()
	in.setState(Stopped)
	in.log.Info("instrument stopped")
}

func (in *Instrument) State() State { return State(in.state.Load()) }

func (in *Instrument) setState(s State) {
	old := State(in.state.Swap(int32(s)))
	in.log.Debugf("state %s -> %s", old, s)
}

// Frequency returns the last frequency received from the analyzer, or 0.
func (in *Instrument) Frequency() float64 {
	return math.Float64frombits(in.frequency.Load())
}

// DisplayHz is Frequency rounded to the nearest whole hertz.
func (in *Instrument) DisplayHz() int {
	return int(math.Round(in.Frequency()))
}

// Subscribe returns a listener for every frequency the instrument receives.
func (in *Instrument) Subscribe() *stream.Listener[float64] { return in.feed.Subscribe() }

// Unsubscribe detaches l.
func (in *Instrument) Unsubscribe(l *stream.Listener[float64]) { in.feed.Unsubscribe(l) }
