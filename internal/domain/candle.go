package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Candle struct {
	Pair        string
	Timeframe   Timeframe
	BucketStart time.Time
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	TradeCount  uint32
	IsClosed    bool
	// LastSequenceID is the highest trade sequence id folded into the candle.
	LastSequenceID uint64
}

// NewCandle seeds a candle for bucket from a single trade.
func NewCandle(e TradeEvent, tf Timeframe, bucket time.Time) *Candle {
	return &Candle{
		Pair:           e.Pair,
		Timeframe:      tf,
		BucketStart:    bucket,
		Open:           e.Price,
		High:           e.Price,
		Low:            e.Price,
		Close:          e.Price,
		Volume:         e.Volume,
		TradeCount:     1,
		LastSequenceID: e.SequenceID,
	}
}

// Apply folds a trade that belongs to the candle's bucket.
func (c *Candle) Apply(e TradeEvent) {
	if e.Price.GreaterThan(c.High) {
		c.High = e.Price
	}
	if e.Price.LessThan(c.Low) {
		c.Low = e.Price
	}
	c.Close = e.Price
	c.Volume = c.Volume.Add(e.Volume)
	c.TradeCount++
	c.LastSequenceID = e.SequenceID
}

func (c *Candle) BucketEnd() time.Time {
	return c.BucketStart.Add(c.Timeframe.Duration())
}
