package tap

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Unix(1_700_000_000, 0)

// tapAt records taps at the given offsets from epoch and returns the
// result of the last one.
func tapAt(e *Estimator, offsets ...time.Duration) (float64, bool) {
	var (
		bpm float64
		ok  bool
	)
	for _, off := range offsets {
		bpm, ok = e.Record(epoch.Add(off))
	}
	return bpm, ok
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func TestEstimator_FirstTapProducesNothing(t *testing.T) {
	e := New()
	_, ok := e.Record(epoch)
	assert.False(t, ok)
	assert.Equal(t, 0, e.Len())
}

func TestEstimator_SteadyTaps(t *testing.T) {
	e := New()

	_, ok := tapAt(e, 0)
	require.False(t, ok)

	bpm, ok := tapAt(e, ms(500))
	require.True(t, ok, "two taps are enough for an estimate")
	assert.InDelta(t, 120.0, bpm, 1e-9)

	bpm, ok = tapAt(e, ms(1000))
	require.True(t, ok)
	assert.InDelta(t, 120.0, bpm, 1e-9)
}

func TestEstimator_WeightedTowardNewest(t *testing.T) {
	e := New()
	bpm, ok := tapAt(e, 0, ms(500), ms(900))
	require.True(t, ok)

	// 0.5*400ms + 0.5*500ms = 450ms
	assert.InDelta(t, 60/0.45, bpm, 1e-6)
}

func TestEstimator_TimeoutStartsNewSequence(t *testing.T) {
	e := New()
	_, ok := tapAt(e, 0, ms(500), ms(1000))
	require.True(t, ok)
	require.Equal(t, 2, e.Len())

	_, ok = tapAt(e, ms(1000)+DefaultTimeout)
	assert.False(t, ok, "tap after the timeout starts a new sequence")
	assert.Equal(t, 0, e.Len())

	bpm, ok := tapAt(e, ms(1000)+DefaultTimeout+ms(400))
	require.True(t, ok)
	assert.InDelta(t, 150.0, bpm, 1e-9, "old history must not leak into the new sequence")
}

func TestEstimator_SingleOutlierRejected(t *testing.T) {
	e := New()
	before, ok := tapAt(e, 0, ms(500), ms(1000), ms(1500))
	require.True(t, ok)

	// One interval three times the others.
	_, ok = tapAt(e, ms(3000))
	assert.False(t, ok)

	after, ok := e.Estimate()
	require.True(t, ok)
	assert.InDelta(t, before, after, 1e-9)

	bpm, ok := tapAt(e, ms(3500))
	require.True(t, ok)
	assert.InDelta(t, 120.0, bpm, 1e-9)
}

func TestEstimator_ConsistentOutliersReseed(t *testing.T) {
	e := New()
	_, ok := tapAt(e, 0, ms(500), ms(1000), ms(1500))
	require.True(t, ok)

	_, ok = tapAt(e, ms(1720))
	assert.False(t, ok)
	_, ok = tapAt(e, ms(1940))
	assert.False(t, ok)

	bpm, ok := tapAt(e, ms(2160))
	require.True(t, ok, "third consistent interval switches tempo")
	assert.InDelta(t, 60/0.22, bpm, 1e-6)
	assert.Equal(t, 3, e.Len())
}

func TestEstimator_ClampsInsteadOfDiscarding(t *testing.T) {
	e := New()
	bpm, ok := tapAt(e, 0, ms(100))
	require.True(t, ok)
	assert.Equal(t, MaxBPM, bpm)

	slow := New(WithTimeout(10 * time.Second))
	bpm, ok = tapAt(slow, 0, 5*time.Second)
	require.True(t, ok)
	assert.Equal(t, MinBPM, bpm)
}

func TestEstimator_IgnoresNonAdvancingTimestamp(t *testing.T) {
	e := New()
	_, ok := tapAt(e, 0, ms(500))
	require.True(t, ok)

	_, ok = tapAt(e, ms(500))
	assert.False(t, ok)
	_, ok = tapAt(e, ms(200))
	assert.False(t, ok)
	assert.Equal(t, 1, e.Len())
}

func TestEstimator_WindowIsBounded(t *testing.T) {
	e := New(WithCapacity(4))
	for i := 0; i < 20; i++ {
		e.Record(epoch.Add(ms(500 * i)))
	}
	assert.Equal(t, 4, e.Len())
}

func TestEstimator_Reset(t *testing.T) {
	e := New()
	tapAt(e, 0, ms(500))
	e.Reset()

	_, ok := tapAt(e, ms(900))
	assert.False(t, ok, "first tap after reset starts a sequence")
	assert.Equal(t, 0, e.Len())
}

func TestEstimator_AlwaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	e := New()
	now := time.Duration(0)
	for i := 0; i < 5000; i++ {
		now += time.Duration(rng.Int63n(int64(2500 * time.Millisecond)))
		bpm, ok := e.Record(epoch.Add(now))
		if ok {
			require.GreaterOrEqual(t, bpm, MinBPM)
			require.LessOrEqual(t, bpm, MaxBPM)
		}
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, MinBPM, Clamp(-5))
	assert.Equal(t, MaxBPM, Clamp(1e9))
	assert.Equal(t, 128.5, Clamp(128.5))
}
