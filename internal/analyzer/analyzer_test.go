package analyzer

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/satindergrewal/objectband/internal/audio"
	"github.com/satindergrewal/objectband/internal/pitch"
)

type fakeCapture struct {
	startErr error

	mu       sync.Mutex
	callback func([]float32)
}

func (c *fakeCapture) SampleRate() float64 { return 48000 }
func (c *fakeCapture) BufferSize() int     { return 4 }

func (c *fakeCapture) Start(cb func([]float32)) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.mu.Lock()
	c.callback = cb
	c.mu.Unlock()
	return nil
}

func (c *fakeCapture) Stop() error {
	c.mu.Lock()
	c.callback = nil
	c.mu.Unlock()
	return nil
}

func (c *fakeCapture) push() {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(make([]float32, 4))
	}
}

// fixedDetector reports the same candidate for every frame.
type fixedDetector struct {
	mu     sync.Mutex
	sample pitch.Sample
}

func (d *fixedDetector) set(f, amp float64) {
	d.mu.Lock()
	d.sample = pitch.Sample{Frequency: f, Amplitude: amp}
	d.mu.Unlock()
}

func (d *fixedDetector) Detect([]float32, float64) pitch.Estimate {
	d.mu.Lock()
	defer d.mu.Unlock()
	return pitch.Estimate{
		Frequencies: []float64{d.sample.Frequency},
		Amplitudes:  []float64{d.sample.Amplitude},
	}
}

type fakeSynth struct {
	mu      sync.Mutex
	updates []float64
}

func (s *fakeSynth) UpdateFrequency(f float64) {
	s.mu.Lock()
	s.updates = append(s.updates, f)
	s.mu.Unlock()
}

func (s *fakeSynth) last() (float64, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		return 0, 0
	}
	return s.updates[len(s.updates)-1], len(s.updates)
}

func TestAccept(t *testing.T) {
	tests := []struct {
		freq, amp float64
		want      bool
	}{
		{50, 0.5, false},
		{440, 0.02, true},
		{80, 0.5, false},
		{80.1, 0.5, true},
		{1000, 0.5, false},
		{999.9, 0.5, true},
		{440, 0.01, false},
		{0, 0, false},
	}
	for _, tt := range tests {
		got := Accept(pitch.Sample{Frequency: tt.freq, Amplitude: tt.amp})
		if got != tt.want {
			t.Errorf("Accept(%v Hz, %v) = %v, want %v", tt.freq, tt.amp, got, tt.want)
		}
	}
}

func TestNewNilCapture(t *testing.T) {
	_, err := New(nil, &fixedDetector{}, &fakeSynth{})
	if !errors.Is(err, audio.ErrNoCaptureDevice) {
		t.Errorf("New(nil) error = %v, want ErrNoCaptureDevice", err)
	}
}

func TestConvergesAndDrivesSynth(t *testing.T) {
	capture := &fakeCapture{}
	det := &fixedDetector{}
	det.set(440, 0.5)
	syn := &fakeSynth{}
	a, err := New(capture, det, syn, WithSmoother(pitch.NewSmoother(220, 0.1)))
	if err != nil {
		t.Fatal(err)
	}
	if a.Frequency() != 0 {
		t.Errorf("Frequency before first frame = %v, want 0", a.Frequency())
	}

	l := a.Subscribe()
	defer a.Unsubscribe(l)

	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()

	// first buffer only half fills the analysis window
	capture.push()
	for n := 1; n <= 40; n++ {
		capture.push()
		select {
		case f := <-l.C:
			want := 440 - 220*math.Pow(0.9, float64(n))
			if math.Abs(f-want) > 1e-9 {
				t.Fatalf("update %d = %v, want %v", n, f, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("no update %d", n)
		}
	}

	got := a.Frequency()
	if math.Abs(got-440) > 220*math.Pow(0.9, 40)+1e-9 {
		t.Errorf("Frequency = %v, want near 440", got)
	}
	last, n := syn.last()
	if n != 40 || last != got {
		t.Errorf("synth got %d updates ending at %v, want 40 ending at %v", n, last, got)
	}
}

func TestRejectedFramesAreIgnored(t *testing.T) {
	capture := &fakeCapture{}
	det := &fixedDetector{}
	det.set(50, 0.5)
	syn := &fakeSynth{}
	a, err := New(capture, det, syn)
	if err != nil {
		t.Fatal(err)
	}
	l := a.Subscribe()
	defer a.Unsubscribe(l)
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	defer a.Stop()

	for range 5 {
		capture.push()
	}
	select {
	case f := <-l.C:
		t.Fatalf("published %v for a rejected frame", f)
	case <-time.After(50 * time.Millisecond):
	}
	if a.Frequency() != 0 {
		t.Errorf("Frequency = %v, want 0", a.Frequency())
	}
	if _, n := syn.last(); n != 0 {
		t.Errorf("synth got %d updates, want 0", n)
	}

	// quiet but above the floor
	det.set(440, 0.02)
	capture.push()
	select {
	case f := <-l.C:
		if f != 440 {
			t.Errorf("published %v, want 440", f)
		}
	case <-time.After(time.Second):
		t.Fatal("accepted frame was not published")
	}
}

func TestStartFailure(t *testing.T) {
	capture := &fakeCapture{startErr: errors.New("device busy")}
	a, err := New(capture, &fixedDetector{}, &fakeSynth{})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(); err == nil {
		t.Fatal("Start succeeded with failing capture")
	}
	if a.Running() {
		t.Error("Running after failed Start")
	}

	capture.startErr = nil
	if err := a.Start(); err != nil {
		t.Fatalf("retry Start: %v", err)
	}
	if !a.Running() {
		t.Error("not Running after retry")
	}
	a.Stop()
}

func TestStopIdempotent(t *testing.T) {
	a, err := New(&fakeCapture{}, &fixedDetector{}, &fakeSynth{})
	if err != nil {
		t.Fatal(err)
	}
	a.Stop() // before Start

	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	if err := a.Start(); err != nil {
		t.Errorf("second Start: %v", err)
	}
	a.Stop()
	a.Stop()
	if a.Running() {
		t.Error("Running after Stop")
	}
}
