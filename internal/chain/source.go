package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0xc0d3d00d/swapcandles/internal/domain"
	"github.com/0xc0d3d00d/swapcandles/internal/numeric"
)

// UniswapV2SwapTopic is keccak256("Swap(address,uint256,uint256,uint256,uint256,address)").
const UniswapV2SwapTopic = "0xd78ad95fa46c994b6551d0da85fc275fe613ce37657fb8d5e3d130840159d822"

const (
	logIndexBits = 20
	logIndexMask = 1<<logIndexBits - 1

	maxCachedBlocks = 4096
)

// SequenceID orders swaps globally by block, then by position in the block.
func SequenceID(block, logIndex uint64) uint64 {
	return block<<logIndexBits | logIndex&logIndexMask
}

// BlockOf returns the block a sequence id was taken from.
func BlockOf(seq uint64) uint64 {
	return seq >> logIndexBits
}

type SourceConfig struct {
	Topic         string
	StartBlock    uint64
	BlockRange    uint64
	Confirmations uint64
	Decimals      int32
}

// Source turns pool Swap logs into trade events. It keeps one block cursor per
// pair and is safe for concurrent use across pairs.
type Source struct {
	client *Client
	cfg    SourceConfig
	logger *slog.Logger

	mu      sync.Mutex
	cursors map[string]uint64
	blocks  map[uint64]time.Time
}

func NewSource(client *Client, cfg SourceConfig, logger *slog.Logger) *Source {
	if cfg.Topic == "" {
		cfg.Topic = UniswapV2SwapTopic
	}
	if cfg.BlockRange == 0 {
		cfg.BlockRange = 1000
	}
	if cfg.Decimals == 0 {
		cfg.Decimals = numeric.DefaultDecimals
	}
	return &Source{
		client:  client,
		cfg:     cfg,
		logger:  logger.With("component", "chain"),
		cursors: make(map[string]uint64),
		blocks:  make(map[uint64]time.Time),
	}
}

// Poll scans the next confirmed block range for pair and returns the swaps in
// it with sequence id above since. The cursor only moves on success.
func (s *Source) Poll(ctx context.Context, pair string, since uint64) ([]domain.TradeEvent, error) {
	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	if head < s.cfg.Confirmations {
		return nil, nil
	}
	confirmed := head - s.cfg.Confirmations

	from := s.cursor(pair, since)
	if from > confirmed {
		return nil, nil
	}
	to := min(from+s.cfg.BlockRange-1, confirmed)

	logs, err := s.client.GetLogs(ctx, LogFilter{
		Address:   pair,
		Topic:     s.cfg.Topic,
		FromBlock: from,
		ToBlock:   to,
	})
	if err != nil {
		return nil, err
	}

	events := make([]domain.TradeEvent, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		if len(l.Topics) == 0 || !strings.EqualFold(l.Topics[0], s.cfg.Topic) {
			continue
		}
		seq := SequenceID(uint64(l.BlockNumber), uint64(l.LogIndex))
		if seq <= since {
			continue
		}

		price, volume, err := s.decodeSwap(l.Data)
		if err != nil {
			s.logger.Warn("skipping malformed swap log",
				"pair", pair,
				"block", uint64(l.BlockNumber),
				"log_index", uint64(l.LogIndex),
				"tx_hash", l.TxHash,
				"error", err,
			)
			continue
		}

		ts, err := s.blockTime(ctx, uint64(l.BlockNumber))
		if err != nil {
			return nil, err
		}

		events = append(events, domain.TradeEvent{
			Pair:       pair,
			Price:      price,
			Volume:     volume,
			OccurredAt: ts,
			SequenceID: seq,
		})
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].SequenceID < events[j].SequenceID
	})

	s.advance(pair, to+1)
	s.logger.Debug("scanned blocks",
		"pair", pair,
		"from_block", from,
		"to_block", to,
		"swaps", len(events),
	)

	return events, nil
}

// Cursor returns the next block to scan for pair.
func (s *Source) Cursor(pair string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[pair]
	return c, ok
}

func (s *Source) cursor(pair string, since uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cursors[pair]
	if !ok {
		c = s.cfg.StartBlock
	}
	if since > 0 {
		c = max(c, BlockOf(since))
	}
	return c
}

func (s *Source) advance(pair string, next uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[pair] = max(s.cursors[pair], next)
}

func (s *Source) blockTime(ctx context.Context, number uint64) (time.Time, error) {
	s.mu.Lock()
	ts, ok := s.blocks[number]
	s.mu.Unlock()
	if ok {
		return ts, nil
	}

	ts, err := s.client.BlockTimestamp(ctx, number)
	if err != nil {
		return time.Time{}, fmt.Errorf("block %d timestamp: %w", number, err)
	}

	s.mu.Lock()
	if len(s.blocks) >= maxCachedBlocks {
		clear(s.blocks)
	}
	s.blocks[number] = ts
	s.mu.Unlock()

	return ts, nil
}

// decodeSwap reads amount0In, amount1In, amount0Out, amount1Out. Token0 is
// the base asset.
func (s *Source) decodeSwap(data string) (price, volume decimal.Decimal, err error) {
	words, err := decodeWords(data, 4)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	amount0In, amount1In, amount0Out, amount1Out := words[0], words[1], words[2], words[3]

	var base, quote *big.Int
	switch {
	case amount0In.Sign() > 0:
		base, quote = amount0In, amount1Out
	case amount0Out.Sign() > 0:
		base, quote = amount0Out, amount1In
	default:
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: swap moves no base token", domain.ErrMalformedNumericInput)
	}
	if quote.Sign() == 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: swap moves no quote token", domain.ErrMalformedNumericInput)
	}

	volume = numeric.ToDecimal(base, s.cfg.Decimals)
	price = numeric.ToDecimal(quote, s.cfg.Decimals).DivRound(volume, s.cfg.Decimals)
	return price, volume, nil
}
