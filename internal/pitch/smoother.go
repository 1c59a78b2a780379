package pitch

const (
	DefaultInitialFrequency = 440.0
	DefaultSmoothingFactor  = 0.1
)

// Smoother is a single-pole low-pass filter over successive frequency
// estimates. It is not safe for concurrent use.
type Smoother struct {
	value float64
	alpha float64
}

// NewSmoother returns a smoother starting at initial with smoothing factor alpha.
func NewSmoother(initial, alpha float64) *Smoother {
	return &Smoother{value: initial, alpha: alpha}
}

// DefaultSmoother starts at 440 Hz with alpha 0.1.
func DefaultSmoother() *Smoother {
	return NewSmoother(DefaultInitialFrequency, DefaultSmoothingFactor)
}

// Smooth folds f into the running value and returns the new value.
func (s *Smoother) Smooth(f float64) float64 {
	s.value = s.alpha*f + (1-s.alpha)*s.value
	return s.value
}

// Value returns the current smoothed frequency.
func (s *Smoother) Value() float64 { return s.value }
