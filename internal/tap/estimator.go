// Package tap turns a stream of operator taps into a smoothed BPM estimate.
//
// The estimator keeps a bounded window of recent inter-tap intervals. A gap
// longer than the sequence timeout starts a new tap sequence. Intervals that
// disagree with the median of the window are rejected, and the accepted
// intervals are folded with an exponentially weighted mean so the estimate
// tracks tempo drift without chasing single sloppy taps.
package tap

import (
	"math"
	"slices"
	"time"
)

// Estimator defaults.
const (
	DefaultCapacity  = 8
	DefaultTimeout   = 2 * time.Second
	DefaultLowRatio  = 0.5
	DefaultHighRatio = 2.0
	DefaultAlpha     = 0.5

	// DefaultReseedAfter is the number of consecutive rejected intervals,
	// agreeing with each other, after which the window is replaced by them.
	DefaultReseedAfter = 3

	MinBPM = 20.0
	MaxBPM = 300.0
)

// Option configures an Estimator.
type Option func(*Estimator)

// WithCapacity sets the rolling window size. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(e *Estimator) {
		if n >= 1 {
			e.capacity = n
		}
	}
}

// WithTimeout sets the gap that ends a tap sequence.
func WithTimeout(d time.Duration) Option {
	return func(e *Estimator) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithTolerance sets the accepted interval/median ratio band.
func WithTolerance(low, high float64) Option {
	return func(e *Estimator) {
		if low > 0 && high > low {
			e.low, e.high = low, high
		}
	}
}

// WithAlpha sets the weight of the newest interval in the smoothed mean.
// Alpha 1 tracks only the newest interval; small alpha approaches a plain
// running average.
func WithAlpha(alpha float64) Option {
	return func(e *Estimator) {
		if alpha > 0 && alpha <= 1 {
			e.alpha = alpha
		}
	}
}

// Estimator is not safe for concurrent use. The tempo engine owns one and
// only touches it from its event loop.
type Estimator struct {
	capacity    int
	timeout     time.Duration
	low, high   float64
	alpha       float64
	reseedAfter int

	last      time.Time
	hasLast   bool
	intervals []time.Duration // oldest first
	rejected  []time.Duration // consecutive rejected intervals
}

// New creates an Estimator with default tuning.
func New(opts ...Option) *Estimator {
	e := &Estimator{
		capacity:    DefaultCapacity,
		timeout:     DefaultTimeout,
		low:         DefaultLowRatio,
		high:        DefaultHighRatio,
		alpha:       DefaultAlpha,
		reseedAfter: DefaultReseedAfter,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.intervals = make([]time.Duration, 0, e.capacity)
	return e
}

// Record registers a tap at ts and returns the new BPM estimate.
//
// ok is false when the tap produced no new estimate: the first tap of a
// sequence, a tap after the sequence timeout, a tap whose timestamp does
// not advance, or an interval rejected as an outlier. The returned BPM is
// always within [MinBPM, MaxBPM].
func (e *Estimator) Record(ts time.Time) (bpm float64, ok bool) {
	if !e.hasLast {
		e.last, e.hasLast = ts, true
		return 0, false
	}
	if !ts.After(e.last) {
		return 0, false
	}

	gap := ts.Sub(e.last)
	e.last = ts

	if gap >= e.timeout {
		e.intervals = e.intervals[:0]
		e.rejected = e.rejected[:0]
		return 0, false
	}

	if len(e.intervals) >= 2 && !e.withinBand(gap, median(e.intervals)) {
		if !e.noteRejected(gap) {
			return 0, false
		}
	} else {
		e.rejected = e.rejected[:0]
		e.push(gap)
	}

	return e.Estimate()
}

// noteRejected tracks an outlier. When enough consecutive outliers agree
// with each other the operator has changed tempo, so the window is
// replaced by them and true is returned.
func (e *Estimator) noteRejected(gap time.Duration) bool {
	if len(e.rejected) > 0 && !e.withinBand(gap, median(e.rejected)) {
		e.rejected = e.rejected[:0]
	}
	e.rejected = append(e.rejected, gap)
	if len(e.rejected) < e.reseedAfter {
		return false
	}

	e.intervals = e.intervals[:0]
	for _, d := range e.rejected {
		e.push(d)
	}
	e.rejected = e.rejected[:0]
	return true
}

func (e *Estimator) withinBand(gap, center time.Duration) bool {
	if center <= 0 {
		return true
	}
	ratio := float64(gap) / float64(center)
	return ratio >= e.low && ratio <= e.high
}

func (e *Estimator) push(d time.Duration) {
	if len(e.intervals) == e.capacity {
		copy(e.intervals, e.intervals[1:])
		e.intervals = e.intervals[:len(e.intervals)-1]
	}
	e.intervals = append(e.intervals, d)
}

// Estimate returns the BPM for the intervals currently in the window.
func (e *Estimator) Estimate() (float64, bool) {
	mean := e.smoothedMean()
	if mean <= 0 {
		return 0, false
	}
	return Clamp(60 / mean.Seconds()), true
}

// smoothedMean is the exponentially weighted mean of the window, weighted
// toward the newest interval.
func (e *Estimator) smoothedMean() time.Duration {
	if len(e.intervals) == 0 {
		return 0
	}
	m := float64(e.intervals[0])
	for _, d := range e.intervals[1:] {
		m = e.alpha*float64(d) + (1-e.alpha)*m
	}
	return time.Duration(math.Round(m))
}

// Len returns the number of intervals in the window.
func (e *Estimator) Len() int {
	return len(e.intervals)
}

// Reset forgets the current tap sequence.
func (e *Estimator) Reset() {
	e.hasLast = false
	e.intervals = e.intervals[:0]
	e.rejected = e.rejected[:0]
}

// Clamp limits a BPM value to [MinBPM, MaxBPM].
func Clamp(bpm float64) float64 {
	return math.Max(MinBPM, math.Min(MaxBPM, bpm))
}

func median(ds []time.Duration) time.Duration {
	sorted := slices.Clone(ds)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
