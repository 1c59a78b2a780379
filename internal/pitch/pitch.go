// Package pitch estimates the fundamental frequency of microphone input.
package pitch

// Sample is the primary pitch candidate of one analysis frame.
type Sample struct {
	Frequency float64 // Hz
	Amplitude float64 // RMS, [0,1] for normalized input
}

// Estimate holds every candidate found in one analysis frame, primary first.
// Both slices are empty when nothing periodic was found.
type Estimate struct {
	Frequencies []float64
	Amplitudes  []float64
}

// Primary returns the first candidate, or a zero Sample if there is none.
func (e Estimate) Primary() Sample {
	var s Sample
	if len(e.Frequencies) > 0 {
		s.Frequency = e.Frequencies[0]
	}
	if len(e.Amplitudes) > 0 {
		s.Amplitude = e.Amplitudes[0]
	}
	return s
}

// Detector produces pitch candidates from a window of mono samples.
type Detector interface {
	Detect(samples []float32, sampleRate float64) Estimate
}
