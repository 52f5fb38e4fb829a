package handler

import (
	"context"
	"time"

	"github.com/0xc0d3d00d/swapcandles/internal/domain"
)

// Interface requirements for the candle storage
type candleReader interface {
	GetCandles(ctx context.Context, pair string, tf domain.Timeframe, from time.Time, to time.Time) ([]*domain.Candle, error)
}

// Interface requirements for the live aggregator
type openCandleSource interface {
	OpenCandles(pair string) []domain.Candle
}
