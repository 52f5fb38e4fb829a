package handler

import (
	"time"

	"github.com/0xc0d3d00d/swapcandles/internal/domain"
)

type GetCandlesRequest struct {
	Pair      string    `json:"pair"`
	Timeframe string    `json:"timeframe"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type GetCandlesResponse struct {
	Candles []*Candle `json:"candles"`
}

type GetOpenCandlesRequest struct {
	Pair string `json:"pair"`
}

type GetOpenCandlesResponse struct {
	Candles []*Candle `json:"candles"`
}

// Candle carries prices and volume as decimal strings so no precision is lost
// in transit.
type Candle struct {
	Pair           string    `json:"pair"`
	Timeframe      string    `json:"timeframe"`
	BucketStart    time.Time `json:"bucket_start"`
	Open           string    `json:"open"`
	High           string    `json:"high"`
	Low            string    `json:"low"`
	Close          string    `json:"close"`
	Volume         string    `json:"volume"`
	TradeCount     uint32    `json:"trade_count"`
	IsClosed       bool      `json:"is_closed"`
	LastSequenceID uint64    `json:"last_sequence_id,string"`
}

func toAPICandles(cc []*domain.Candle) []*Candle {
	candles := make([]*Candle, 0, len(cc))
	for _, candle := range cc {
		candles = append(candles, toAPICandle(candle))
	}

	return candles
}

func toAPICandle(c *domain.Candle) *Candle {
	if c == nil {
		return nil
	}

	return &Candle{
		Pair:           c.Pair,
		Timeframe:      c.Timeframe.String(),
		BucketStart:    c.BucketStart.UTC(),
		Open:           c.Open.String(),
		High:           c.High.String(),
		Low:            c.Low.String(),
		Close:          c.Close.String(),
		Volume:         c.Volume.String(),
		TradeCount:     c.TradeCount,
		IsClosed:       c.IsClosed,
		LastSequenceID: c.LastSequenceID,
	}
}
