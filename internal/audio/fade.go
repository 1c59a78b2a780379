package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// Fade ramps a gain from 0 to 1 along the smoothstep curve over a fixed
// number of samples. The zero value is fully faded in.
type Fade struct {
	n, length int
}

// NewFade returns a fade-in lasting length samples.
func NewFade(length int) *Fade {
	return &Fade{length: length}
}

// Reset restarts the fade from silence.
func (f *Fade) Reset() { f.n = 0 }

// Gain advances the fade by one sample and returns the gain to apply.
func (f *Fade) Gain() float64 {
	if f.n >= f.length {
		return 1
	}
	f.n++
	return Smoothstep(float64(f.n) / float64(f.length))
}
