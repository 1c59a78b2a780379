package synth

import (
	"errors"
	"math"
	"testing"
)

type fakeRender struct {
	sampleRate float64
	startErr   error
	render     func([]float32)
	starts     int
	stops      int
}

func (r *fakeRender) SampleRate() float64 { return r.sampleRate }

func (r *fakeRender) Start(render func([]float32)) error {
	if r.startErr != nil {
		return r.startErr
	}
	r.render = render
	r.starts++
	return nil
}

func (r *fakeRender) Stop() error {
	r.render = nil
	r.stops++
	return nil
}

func newTestSynth(t *testing.T, opts ...Option) (*Synthesizer, *fakeRender) {
	t.Helper()
	r := &fakeRender{sampleRate: 48000}
	s, err := New(r, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, r
}

func TestNewWithoutRenderSession(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil render session")
	}
}

func TestDefaults(t *testing.T) {
	s, _ := newTestSynth(t)
	if s.Amplitude() != 0.3 {
		t.Errorf("Amplitude = %v, want 0.3", s.Amplitude())
	}
	if s.Frequency() != 440 {
		t.Errorf("Frequency = %v, want 440", s.Frequency())
	}
	if s.Running() {
		t.Error("new synthesizer should be stopped")
	}
	if s.RenderedFrequency() != 0 {
		t.Errorf("RenderedFrequency before rendering = %v, want 0", s.RenderedFrequency())
	}
}

func TestUpdateFrequencyGate(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{79, 300},
		{80, 300},
		{1000, 300},
		{1500, 300},
		{-1, 300},
		{80.5, 80.5},
		{440, 440},
		{999.9, 999.9},
	}
	for _, tt := range tests {
		s, _ := newTestSynth(t, WithFrequency(300))
		s.UpdateFrequency(tt.in)
		if got := s.Frequency(); got != tt.want {
			t.Errorf("UpdateFrequency(%v): Frequency = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRenderFollowsFrequency(t *testing.T) {
	s, r := newTestSynth(t)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.UpdateFrequency(440)

	buf := make([]float32, int(r.sampleRate))
	r.render(buf)

	if s.RenderedFrequency() != 440 {
		t.Errorf("RenderedFrequency = %v, want 440", s.RenderedFrequency())
	}

	crossings := 0
	for i := 1; i < len(buf); i++ {
		if buf[i-1] < 0 && buf[i] >= 0 {
			crossings++
		}
	}
	if crossings < 438 || crossings > 441 {
		t.Errorf("one second at 440 Hz has %d upward zero crossings", crossings)
	}

	peak := 0.0
	for _, v := range buf {
		peak = math.Max(peak, math.Abs(float64(v)))
	}
	if peak > 0.3+1e-6 || peak < 0.29 {
		t.Errorf("peak = %v, want ~0.3", peak)
	}
}

func TestRenderFadesIn(t *testing.T) {
	s, r := newTestSynth(t)
	s.Start()
	buf := make([]float32, 2048)
	r.render(buf)
	// 10ms fade at 48kHz is 480 samples; the first few must be near silent
	for i := 0; i < 10; i++ {
		if math.Abs(float64(buf[i])) > 0.01 {
			t.Errorf("sample %d = %v, expected fade-in", i, buf[i])
		}
	}
}

func TestStartFailureLeavesStopped(t *testing.T) {
	boom := errors.New("engine down")
	r := &fakeRender{sampleRate: 48000, startErr: boom}
	s, err := New(r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(); !errors.Is(err, boom) {
		t.Errorf("Start error = %v, want wrapped %v", err, boom)
	}
	if s.Running() {
		t.Error("synthesizer running after failed start")
	}
	s.Stop()
	if r.stops != 0 {
		t.Errorf("Stop after failed start reached the render session")
	}

	// retry succeeds once the engine recovers
	r.startErr = nil
	if err := s.Start(); err != nil {
		t.Errorf("retry Start: %v", err)
	}
	if !s.Running() {
		t.Error("synthesizer should run after successful retry")
	}
}

func TestStopIdempotent(t *testing.T) {
	s, r := newTestSynth(t)
	s.Stop()
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Start()
	if r.starts != 1 {
		t.Errorf("render session started %d times, want 1", r.starts)
	}
	s.Stop()
	s.Stop()
	if r.stops != 1 {
		t.Errorf("render session stopped %d times, want 1", r.stops)
	}
	if s.Running() {
		t.Error("synthesizer running after Stop")
	}
}

func BenchmarkRender(b *testing.B) {
	s, err := New(&fakeRender{sampleRate: 48000})
	if err != nil {
		b.Fatal(err)
	}
	buf := make([]float32, 1024)
	for i := 0; i < b.N; i++ {
		s.UpdateFrequency(220 + float64(i%400))
		s.Render(buf)
	}
}
