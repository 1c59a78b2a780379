package instrument

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/satindergrewal/objectband/internal/analyzer"
	"github.com/satindergrewal/objectband/internal/audio"
	"github.com/satindergrewal/objectband/internal/pitch"
	"github.com/satindergrewal/objectband/internal/synth"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// A hummed 300 Hz tone replayed in real time pulls the voice from 440 Hz to 300 Hz.
func TestHumDrivesTone(t *testing.T) {
	if testing.Short() {
		t.Skip("runs in real time")
	}
	const sr = audio.SampleRate

	hum := make([]float32, sr) // one second, a whole number of periods
	for i := range hum {
		hum[i] = float32(0.5 * math.Sin(2*math.Pi*300*float64(i)/sr))
	}
	capture, err := audio.NewFileCapture(hum, sr, audio.DefaultBufferSize)
	if err != nil {
		t.Fatal(err)
	}

	pipeline := audio.NewPipeline()
	syn, err := synth.New(pipeline)
	if err != nil {
		t.Fatal(err)
	}
	an, err := analyzer.New(capture, pitch.NewAutocorrelationDetector(), syn)
	if err != nil {
		t.Fatal(err)
	}
	in := New(an, syn, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go in.Run(ctx)

	if err := in.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !an.Running() || !syn.Running() {
		t.Fatalf("analyzer running %v, synth running %v", an.Running(), syn.Running())
	}

	waitFor(t, "analyzer to settle on 300 Hz", func() bool {
		return math.Abs(an.Frequency()-300) < 0.5
	})
	waitFor(t, "instrument to show 300 Hz", func() bool {
		return in.DisplayHz() == 300
	})
	if f := syn.Frequency(); math.Abs(f-300) > 1.5 {
		t.Errorf("synth tuned to %.2f Hz, want ~300", f)
	}
	waitFor(t, "rendered tone to follow", func() bool {
		return math.Abs(syn.RenderedFrequency()-300) < 1.5
	})
	if pipeline.Position() == 0 {
		t.Error("pipeline rendered nothing")
	}

	in.Stop()
	if in.State() != Stopped || an.Running() || syn.Running() {
		t.Errorf("after Stop: state %v, analyzer %v, synth %v", in.State(), an.Running(), syn.Running())
	}
}
