package pitch

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ktye/fft"
)

// AutocorrelationDetector finds the fundamental by peak picking on the
// normalized square difference function (McLeod's method), computing the
// autocorrelation term with an FFT.
type AutocorrelationDetector struct {
	MinFrequency float64 // lowest reported pitch, Hz
	MaxFrequency float64 // highest reported pitch, Hz
	Threshold    float64 // fraction of the highest key maximum the primary must reach
	MinClarity   float64 // highest key maximum below this means unpitched
	SilenceFloor float64 // RMS below this means silence

	mu    sync.Mutex
	plans map[int]fft.FFT
}

// NewAutocorrelationDetector searches 50-2000 Hz.
func NewAutocorrelationDetector() *AutocorrelationDetector {
	return &AutocorrelationDetector{
		MinFrequency: 50,
		MaxFrequency: 2000,
		Threshold:    0.9,
		MinClarity:   0.5,
		SilenceFloor: 0.001,
		plans:        map[int]fft.FFT{},
	}
}

var errDegenerate = errors.New("degenerate autocorrelation")

type keyMax struct {
	lag, value float64
}

func (d *AutocorrelationDetector) Detect(samples []float32, sampleRate float64) Estimate {
	n := len(samples)
	if n < 4 || sampleRate <= 0 {
		return Estimate{}
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	mean := sum / float64(n)

	x := make([]float64, n)
	var energy float64
	for i, s := range samples {
		v := float64(s) - mean
		x[i] = v
		energy += v * v
	}
	rms := math.Sqrt(energy / float64(n))
	if rms < d.SilenceFloor {
		return Estimate{}
	}

	r, err := d.autocorrelate(x, energy)
	if err != nil {
		return Estimate{}
	}

	minLag := int(sampleRate / d.MaxFrequency)
	if minLag < 1 {
		minLag = 1
	}
	maxLag := int(sampleRate / d.MinFrequency)
	limit := maxLag + 1
	if limit > n-1 {
		limit = n - 1
	}

	// nsdf(τ) = 2 r(τ) / m(τ), m(τ) = Σ x[i]² + x[i+τ]² over the overlap
	nsdf := make([]float64, limit+1)
	nsdf[0] = 1
	m := 2 * energy
	for tau := 1; tau <= limit; tau++ {
		m -= x[tau-1]*x[tau-1] + x[n-tau]*x[n-tau]
		if m > 0 {
			nsdf[tau] = 2 * r[tau] / m
		}
	}

	peaks := keyMaxima(nsdf, minLag, limit)
	if len(peaks) == 0 {
		return Estimate{}
	}

	highest := 0.0
	for _, p := range peaks {
		highest = math.Max(highest, p.value)
	}
	if highest < d.MinClarity {
		return Estimate{}
	}

	primary := 0
	for i, p := range peaks {
		if p.value >= d.Threshold*highest {
			primary = i
			break
		}
	}
	ordered := []keyMax{peaks[primary]}
	rest := append(append([]keyMax(nil), peaks[:primary]...), peaks[primary+1:]...)
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].value > rest[j].value })
	ordered = append(ordered, rest...)

	var est Estimate
	for _, p := range ordered {
		f := sampleRate / p.lag
		if f < d.MinFrequency || f > d.MaxFrequency {
			continue
		}
		est.Frequencies = append(est.Frequencies, f)
		est.Amplitudes = append(est.Amplitudes, rms*math.Min(1, math.Max(0, p.value)))
	}
	return est
}

// autocorrelate returns r(τ) = Σ x[i] x[i+τ] via |FFT|², scaled so r(0) = energy.
func (d *AutocorrelationDetector) autocorrelate(x []float64, energy float64) ([]float64, error) {
	size := 1
	for size < 2*len(x) {
		size <<= 1
	}
	plan, err := d.plan(size)
	if err != nil {
		return nil, err
	}

	buf := make([]complex128, size)
	for i, v := range x {
		buf[i] = complex(v, 0)
	}
	buf = plan.Transform(buf)
	for i, c := range buf {
		buf[i] = complex(real(c)*real(c)+imag(c)*imag(c), 0)
	}
	buf = plan.Inverse(buf)

	if real(buf[0]) <= 0 {
		return nil, errDegenerate
	}
	scale := energy / real(buf[0])
	r := make([]float64, len(x))
	for i := range r {
		r[i] = real(buf[i]) * scale
	}
	return r, nil
}

func (d *AutocorrelationDetector) plan(size int) (fft.FFT, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.plans == nil {
		d.plans = map[int]fft.FFT{}
	}
	if p, ok := d.plans[size]; ok {
		return p, nil
	}
	p, err := fft.New(size)
	if err != nil {
		return p, fmt.Errorf("fft plan %d: %w", size, err)
	}
	d.plans[size] = p
	return p, nil
}

// keyMaxima returns the highest point of each positive lobe of nsdf after the
// lobe around lag zero, refined with parabolic interpolation. Lobes cut off
// by limit are ignored.
func keyMaxima(nsdf []float64, minLag, limit int) []keyMax {
	tau := 1
	for tau <= limit && nsdf[tau] > 0 {
		tau++
	}

	var peaks []keyMax
	for tau <= limit {
		for tau <= limit && nsdf[tau] <= 0 {
			tau++
		}
		best := -1
		for tau <= limit && nsdf[tau] > 0 {
			if best < 0 || nsdf[tau] > nsdf[best] {
				best = tau
			}
			tau++
		}
		if best < 0 || best >= limit {
			break
		}
		if best < minLag {
			continue
		}

		a, b, c := nsdf[best-1], nsdf[best], nsdf[best+1]
		lag, value := float64(best), b
		if den := a - 2*b + c; den != 0 {
			shift := 0.5 * (a - c) / den
			lag += shift
			value = b - 0.25*(a-c)*shift
		}
		peaks = append(peaks, keyMax{lag: lag, value: value})
	}
	return peaks
}
