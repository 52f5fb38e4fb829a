// Package postgres stores closed candles in a PostgreSQL table.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/0xc0d3d00d/swapcandles/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn and verifies the connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Migrate applies the embedded SQL files in lexical order. Migrations are
// idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		data, err := fs.ReadFile(migrationsFS, "migrations/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if _, err := s.pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}
	return nil
}

func (s *Store) UpsertClosedCandle(ctx context.Context, c *domain.Candle) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO candles (
			pair, timeframe, bucket_start, open, high, low, close, volume,
			trade_count, last_sequence_id
		) VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9, $10)
		ON CONFLICT (pair, timeframe, bucket_start) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			trade_count = EXCLUDED.trade_count,
			last_sequence_id = EXCLUDED.last_sequence_id,
			updated_at = now()
	`,
		c.Pair, c.Timeframe.String(), c.BucketStart.UTC(),
		c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String(),
		int32(c.TradeCount), int64(c.LastSequenceID),
	)
	if err != nil {
		return fmt.Errorf("upsert candle: %w", err)
	}
	return nil
}

const selectColumns = `
	pair, timeframe, bucket_start, open::text, high::text, low::text, close::text,
	volume::text, trade_count, last_sequence_id
`

func (s *Store) LoadLastKnownBucket(ctx context.Context, pair string, tf domain.Timeframe) (*domain.Candle, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+selectColumns+`
		FROM candles
		WHERE pair = $1 AND timeframe = $2
		ORDER BY bucket_start DESC
		LIMIT 1
	`, pair, tf.String())

	c, err := scanCandle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no candle for pair=%s timeframe=%s", domain.ErrNotFound, pair, tf)
	}
	if err != nil {
		return nil, fmt.Errorf("load last candle: %w", err)
	}
	return c, nil
}

// GetCandles returns candles with bucket start in [from, to], oldest first.
func (s *Store) GetCandles(ctx context.Context, pair string, tf domain.Timeframe, from, to time.Time) ([]*domain.Candle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM candles
		WHERE pair = $1 AND timeframe = $2 AND bucket_start BETWEEN $3 AND $4
		ORDER BY bucket_start
	`, pair, tf.String(), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	candles := []*domain.Candle{}
	for rows.Next() {
		c, err := scanCandle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candles: %w", err)
	}
	return candles, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanCandle(row pgx.Row) (*domain.Candle, error) {
	var (
		c          domain.Candle
		tf         string
		prices     [5]string
		tradeCount int32
		lastSeq    int64
	)
	err := row.Scan(&c.Pair, &tf, &c.BucketStart,
		&prices[0], &prices[1], &prices[2], &prices[3], &prices[4],
		&tradeCount, &lastSeq)
	if err != nil {
		return nil, err
	}

	if c.Timeframe, err = domain.ParseTimeframe(tf); err != nil {
		return nil, fmt.Errorf("timeframe %q: %w", tf, err)
	}
	for i, dst := range []*decimal.Decimal{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume} {
		if *dst, err = decimal.NewFromString(prices[i]); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedNumericInput, err)
		}
	}
	c.BucketStart = c.BucketStart.UTC()
	c.TradeCount = uint32(tradeCount)
	c.LastSequenceID = uint64(lastSeq)
	c.IsClosed = true
	return &c, nil
}
