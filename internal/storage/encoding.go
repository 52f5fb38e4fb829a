package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0xc0d3d00d/swapcandles/internal/domain"
	"github.com/0xc0d3d00d/swapcandles/internal/numeric"
)

const (
	wordSize = 32

	offOpen     = 8
	offHigh     = offOpen + wordSize
	offLow      = offHigh + wordSize
	offClose    = offLow + wordSize
	offVolume   = offClose + wordSize
	offCount    = offVolume + wordSize
	offSequence = offCount + 4
	offWritten  = offSequence + 8

	candleByteSize = offWritten + 1
)

var (
	ErrCandleNotWritten = errors.New("candle not written")
	errValueOutOfRange  = errors.New("value does not fit a 256-bit slot")
)

func encodeCandle(candle *domain.Candle) ([]byte, error) {
	buf := make([]byte, candleByteSize)

	binary.LittleEndian.PutUint64(buf, uint64(candle.BucketStart.Unix()))

	fields := []struct {
		off   int
		value decimal.Decimal
	}{
		{offOpen, candle.Open},
		{offHigh, candle.High},
		{offLow, candle.Low},
		{offClose, candle.Close},
		{offVolume, candle.Volume},
	}
	for _, f := range fields {
		if err := putWord(buf[f.off:f.off+wordSize], f.value); err != nil {
			return nil, err
		}
	}

	binary.LittleEndian.PutUint32(buf[offCount:], candle.TradeCount)
	binary.LittleEndian.PutUint64(buf[offSequence:], candle.LastSequenceID)
	// indicates the candle is written
	buf[offWritten] = 1

	return buf, nil
}

func putWord(dst []byte, d decimal.Decimal) error {
	raw, err := numeric.RawFromDecimal(numeric.Round(d, numeric.DefaultDecimals), numeric.DefaultDecimals)
	if err != nil {
		return err
	}
	if raw.Sign() < 0 || raw.BitLen() > wordSize*8 {
		return fmt.Errorf("%w: %s", errValueOutOfRange, d)
	}
	raw.FillBytes(dst)
	return nil
}

func decodeCandle(buf []byte, candle *domain.Candle) error {
	if len(buf) != candleByteSize {
		return errors.New("invalid buffer size")
	}
	if buf[offWritten] == 0 {
		return ErrCandleNotWritten
	}

	candle.BucketStart = time.Unix(int64(binary.LittleEndian.Uint64(buf[:8])), 0).UTC()
	candle.Open = getWord(buf[offOpen : offOpen+wordSize])
	candle.High = getWord(buf[offHigh : offHigh+wordSize])
	candle.Low = getWord(buf[offLow : offLow+wordSize])
	candle.Close = getWord(buf[offClose : offClose+wordSize])
	candle.Volume = getWord(buf[offVolume : offVolume+wordSize])
	candle.TradeCount = binary.LittleEndian.Uint32(buf[offCount:])
	candle.LastSequenceID = binary.LittleEndian.Uint64(buf[offSequence:])
	candle.IsClosed = true

	return nil
}

func getWord(src []byte) decimal.Decimal {
	return numeric.ToDecimal(new(big.Int).SetBytes(src), numeric.DefaultDecimals)
}
