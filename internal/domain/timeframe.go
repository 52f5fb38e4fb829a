package domain

import (
	"errors"
	"time"
)

var ErrInvalidTimeframe = errors.New("invalid timeframe")

type Timeframe time.Duration

const (
	Timeframe1m  = Timeframe(time.Minute)
	Timeframe5m  = Timeframe(time.Minute * 5)
	Timeframe15m = Timeframe(time.Minute * 15)
	Timeframe1h  = Timeframe(time.Hour)
	Timeframe4h  = Timeframe(time.Hour * 4)
	Timeframe1d  = Timeframe(time.Hour * 24)
)

// Timeframes is the closed set every trade is folded into, shortest first.
var Timeframes = []Timeframe{
	Timeframe1m,
	Timeframe5m,
	Timeframe15m,
	Timeframe1h,
	Timeframe4h,
	Timeframe1d,
}

func (tf Timeframe) String() string {
	return timeframeToString[tf]
}

func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf)
}

func (tf Timeframe) Seconds() int64 {
	return int64(time.Duration(tf) / time.Second)
}

func (tf Timeframe) Valid() bool {
	_, ok := timeframeToString[tf]
	return ok
}

func ParseTimeframe(s string) (Timeframe, error) {
	tf, ok := stringToTimeframe[s]
	if !ok {
		return 0, ErrInvalidTimeframe
	}
	return tf, nil
}

// BucketStart returns the left edge of the timeframe bucket containing t.
// A timestamp exactly on a boundary belongs to the bucket it starts.
func BucketStart(t time.Time, tf Timeframe) time.Time {
	d := tf.Seconds()
	sec := t.Unix()
	start := sec - sec%d
	if sec%d < 0 {
		start -= d
	}
	return time.Unix(start, 0).UTC()
}

var timeframeToString = map[Timeframe]string{
	Timeframe1m:  "1m",
	Timeframe5m:  "5m",
	Timeframe15m: "15m",
	Timeframe1h:  "1h",
	Timeframe4h:  "4h",
	Timeframe1d:  "1d",
}

var stringToTimeframe = map[string]Timeframe{
	"1m":  Timeframe1m,
	"5m":  Timeframe5m,
	"15m": Timeframe15m,
	"1h":  Timeframe1h,
	"4h":  Timeframe4h,
	"1d":  Timeframe1d,
}
