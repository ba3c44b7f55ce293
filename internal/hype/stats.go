package hype

import "math"

// DefaultHistorySize is the number of samples kept per metric and symbol.
const DefaultHistorySize = 180

// RollingStats keeps a bounded history of samples and z-scores new values against it.
type RollingStats struct {
	buf []float64
	cap int
}

// NewRollingStats creates an empty history holding at most size samples.
func NewRollingStats(size int) *RollingStats {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &RollingStats{cap: size}
}

// Z returns the z-score of x against the current history.
// Empty history scores 0; zero variance uses a standard deviation of 1.
func (r *RollingStats) Z(x float64) float64 {
	n := len(r.buf)
	if n == 0 {
		return 0
	}

	var sum float64
	for _, v := range r.buf {
		sum += v
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range r.buf {
		sq += (v - mean) * (v - mean)
	}
	variance := sq / float64(n)

	std := 1.0
	if variance > 0 {
		std = math.Sqrt(variance)
	}
	return (x - mean) / std
}

// Push appends x, evicting the oldest sample when full.
func (r *RollingStats) Push(x float64) {
	if len(r.buf) == r.cap {
		copy(r.buf, r.buf[1:])
		r.buf = r.buf[:len(r.buf)-1]
	}
	r.buf = append(r.buf, x)
}

// Values returns a copy of the history, oldest first.
func (r *RollingStats) Values() []float64 {
	return append([]float64(nil), r.buf...)
}
