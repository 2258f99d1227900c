package cachecleaner

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTuneStartsAtMinInterval(t *testing.T) {
	c := New(nil, nil, nil)
	require.Equal(t, minIntervalSeconds, c.mTime)
}

func TestTuneBacksOffWhenNothingExpired(t *testing.T) {
	c := New(nil, nil, nil)
	c.mTime = minIntervalSeconds

	c.tune(0)
	require.Equal(t, minIntervalSeconds+60, c.mTime)
}

func TestTuneNeverExceedsMaxInterval(t *testing.T) {
	c := New(nil, nil, nil)
	c.mTime = maxIntervalSeconds

	c.tune(0)
	require.Equal(t, maxIntervalSeconds, c.mTime)
}

func TestTuneSpeedsUpOnSustainedExpiry(t *testing.T) {
	c := New(nil, nil, nil)
	c.mTime = maxIntervalSeconds
	c.mLoops = 40

	c.tune(45) // close to mLoops (< 50 delta): gentle speed-up, not a snap to min
	require.Equal(t, maxIntervalSeconds-60, c.mTime)
}

func TestTuneSnapsToMinOnLargeExpiryJump(t *testing.T) {
	c := New(nil, nil, nil)
	c.mTime = maxIntervalSeconds
	c.mLoops = 0

	c.tune(1000) // jump far beyond the EMA: snap straight to the fastest interval
	require.Equal(t, minIntervalSeconds, c.mTime)
}

func TestTuneNeverGoesBelowMinInterval(t *testing.T) {
	c := New(nil, nil, nil)
	c.mTime = minIntervalSeconds
	c.mLoops = 0

	c.tune(10)
	require.Equal(t, minIntervalSeconds, c.mTime)
}
