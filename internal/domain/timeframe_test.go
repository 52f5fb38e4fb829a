package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	for _, tf := range Timeframes {
		parsed, err := ParseTimeframe(tf.String())
		require.NoError(t, err)
		assert.Equal(t, tf, parsed)
	}

	for _, s := range []string{"", "2m", "1M", "m1", "1w", "60"} {
		_, err := ParseTimeframe(s)
		assert.ErrorIs(t, err, ErrInvalidTimeframe, s)
	}
}

func TestBucketStartContainsTimestamp(t *testing.T) {
	timestamps := []int64{0, 1, 59, 60, 61, 299, 300, 3599, 3600, 86399, 86400, 1700000000, 1700000123, 4102444799}
	for _, tf := range Timeframes {
		for _, ts := range timestamps {
			at := time.Unix(ts, 0)
			start := BucketStart(at, tf)

			assert.False(t, start.After(at), "tf=%s ts=%d", tf, ts)
			assert.True(t, at.Before(start.Add(tf.Duration())), "tf=%s ts=%d", tf, ts)
			assert.Equal(t, start, BucketStart(start, tf), "tf=%s ts=%d", tf, ts)
			assert.Zero(t, start.Unix()%tf.Seconds())
		}
	}
}

func TestBucketStartOnBoundary(t *testing.T) {
	at := time.Unix(1700000100, 0) // multiple of 60 and 300
	assert.Equal(t, at.UTC(), BucketStart(at, Timeframe1m))
	assert.Equal(t, at.UTC(), BucketStart(at, Timeframe5m))
	assert.Equal(t, time.Unix(1700000040, 0).UTC(), BucketStart(at.Add(-time.Second), Timeframe1m))
}

func TestBucketStartIgnoresSubSecond(t *testing.T) {
	at := time.Unix(120, int64(999*time.Millisecond))
	assert.Equal(t, time.Unix(120, 0).UTC(), BucketStart(at, Timeframe1m))
}
