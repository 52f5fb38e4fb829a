package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TradeEvent struct {
	Pair       string
	Price      decimal.Decimal
	Volume     decimal.Decimal
	OccurredAt time.Time
	SequenceID uint64
}

// Validate rejects trades that cannot be folded into a candle.
func (e TradeEvent) Validate() error {
	if e.Pair == "" {
		return fmt.Errorf("%w: empty pair", ErrMalformedNumericInput)
	}
	if !e.Price.IsPositive() {
		return fmt.Errorf("%w: price %s must be positive", ErrMalformedNumericInput, e.Price)
	}
	if e.Volume.IsNegative() {
		return fmt.Errorf("%w: volume %s must not be negative", ErrMalformedNumericInput, e.Volume)
	}
	if e.OccurredAt.Unix() < 0 {
		return fmt.Errorf("%w: timestamp %s before epoch", ErrMalformedNumericInput, e.OccurredAt)
	}
	return nil
}
