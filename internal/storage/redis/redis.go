// Package redis stores closed candles in Redis: one JSON value per candle
// plus a sorted-set index per series keyed by bucket start.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/0xc0d3d00d/swapcandles/internal/domain"
)

const keyPrefix = "swapcandles"

type Store struct {
	client *redis.Client
}

// New parses redisURL, applies password when set and pings the server.
func New(ctx context.Context, redisURL, password string) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if password != "" {
		opt.Password = password
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Store{client: client}, nil
}

type candleRecord struct {
	Pair           string          `json:"pair"`
	Timeframe      string          `json:"timeframe"`
	BucketStart    int64           `json:"bucket_start"`
	Open           decimal.Decimal `json:"open"`
	High           decimal.Decimal `json:"high"`
	Low            decimal.Decimal `json:"low"`
	Close          decimal.Decimal `json:"close"`
	Volume         decimal.Decimal `json:"volume"`
	TradeCount     uint32          `json:"trade_count"`
	LastSequenceID uint64          `json:"last_sequence_id"`
}

func indexKey(pair string, tf domain.Timeframe) string {
	return fmt.Sprintf("%s:index:%s:%s", keyPrefix, pair, tf)
}

func candleKey(pair string, tf domain.Timeframe, bucket int64) string {
	return fmt.Sprintf("%s:candle:%s:%s:%d", keyPrefix, pair, tf, bucket)
}

func (s *Store) UpsertClosedCandle(ctx context.Context, c *domain.Candle) error {
	bucket := c.BucketStart.Unix()
	payload, err := json.Marshal(candleRecord{
		Pair:           c.Pair,
		Timeframe:      c.Timeframe.String(),
		BucketStart:    bucket,
		Open:           c.Open,
		High:           c.High,
		Low:            c.Low,
		Close:          c.Close,
		Volume:         c.Volume,
		TradeCount:     c.TradeCount,
		LastSequenceID: c.LastSequenceID,
	})
	if err != nil {
		return fmt.Errorf("json marshal failed: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, candleKey(c.Pair, c.Timeframe, bucket), payload, 0)
		pipe.ZAdd(ctx, indexKey(c.Pair, c.Timeframe), redis.Z{
			Score:  float64(bucket),
			Member: strconv.FormatInt(bucket, 10),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis upsert candle: %w", err)
	}
	return nil
}

func (s *Store) LoadLastKnownBucket(ctx context.Context, pair string, tf domain.Timeframe) (*domain.Candle, error) {
	members, err := s.client.ZRevRange(ctx, indexKey(pair, tf), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ZREVRANGE failed: %w", err)
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: no candle for pair=%s timeframe=%s", domain.ErrNotFound, pair, tf)
	}

	bucket, err := strconv.ParseInt(members[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis index member %q: %w", members[0], err)
	}

	payload, err := s.client.Get(ctx, candleKey(pair, tf, bucket)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: index points at missing candle %d", domain.ErrNotFound, bucket)
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET failed: %w", err)
	}
	return decodeRecord(payload)
}

// GetCandles returns candles with bucket start in [from, to], oldest first.
func (s *Store) GetCandles(ctx context.Context, pair string, tf domain.Timeframe, from, to time.Time) ([]*domain.Candle, error) {
	members, err := s.client.ZRangeByScore(ctx, indexKey(pair, tf), &redis.ZRangeBy{
		Min: strconv.FormatInt(from.Unix(), 10),
		Max: strconv.FormatInt(to.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ZRANGEBYSCORE failed: %w", err)
	}

	candles := []*domain.Candle{}
	if len(members) == 0 {
		return candles, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		bucket, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis index member %q: %w", m, err)
		}
		keys[i] = candleKey(pair, tf, bucket)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis MGET failed: %w", err)
	}
	for _, v := range values {
		payload, ok := v.(string)
		if !ok {
			continue
		}
		c, err := decodeRecord([]byte(payload))
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func decodeRecord(payload []byte) (*domain.Candle, error) {
	var r candleRecord
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedNumericInput, err)
	}
	tf, err := domain.ParseTimeframe(r.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("timeframe %q: %w", r.Timeframe, err)
	}
	return &domain.Candle{
		Pair:           r.Pair,
		Timeframe:      tf,
		BucketStart:    time.Unix(r.BucketStart, 0).UTC(),
		Open:           r.Open,
		High:           r.High,
		Low:            r.Low,
		Close:          r.Close,
		Volume:         r.Volume,
		TradeCount:     r.TradeCount,
		IsClosed:       true,
		LastSequenceID: r.LastSequenceID,
	}, nil
}
