package chain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/0xc0d3d00d/swapcandles/internal/domain"
)

type hexUint64 uint64

func (h *hexUint64) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return fmt.Errorf("parse hex quantity %q: %w", s, err)
	}
	*h = hexUint64(v)
	return nil
}

func encodeUint64(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}

// decodeWords splits 0x-prefixed ABI data into n unsigned 256-bit words.
func decodeWords(data string, n int) ([]*big.Int, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: log data: %v", domain.ErrMalformedNumericInput, err)
	}
	if len(raw) < n*32 {
		return nil, fmt.Errorf("%w: log data has %d bytes, want %d", domain.ErrMalformedNumericInput, len(raw), n*32)
	}

	words := make([]*big.Int, n)
	for i := range words {
		words[i] = new(big.Int).SetBytes(raw[i*32 : (i+1)*32])
	}
	return words, nil
}
