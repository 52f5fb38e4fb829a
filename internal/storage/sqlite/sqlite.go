// Package sqlite stores closed candles in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/0xc0d3d00d/swapcandles/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS candles (
	pair             TEXT    NOT NULL,
	timeframe        TEXT    NOT NULL,
	ts               INTEGER NOT NULL,
	open             TEXT    NOT NULL,
	high             TEXT    NOT NULL,
	low              TEXT    NOT NULL,
	close            TEXT    NOT NULL,
	volume           TEXT    NOT NULL,
	trade_count      INTEGER NOT NULL,
	last_sequence_id INTEGER NOT NULL,
	PRIMARY KEY (pair, timeframe, ts)
);
`

type Store struct {
	db *sql.DB
}

// New opens path in WAL mode and creates the schema.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// a single writer avoids SQLITE_BUSY between pollers
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) UpsertClosedCandle(ctx context.Context, c *domain.Candle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO candles (pair, timeframe, ts, open, high, low, close, volume, trade_count, last_sequence_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (pair, timeframe, ts) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			trade_count = excluded.trade_count,
			last_sequence_id = excluded.last_sequence_id
	`,
		c.Pair, c.Timeframe.String(), c.BucketStart.Unix(),
		c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String(),
		c.TradeCount, int64(c.LastSequenceID),
	)
	if err != nil {
		return fmt.Errorf("sqlite upsert candle: %w", err)
	}
	return nil
}

func (s *Store) LoadLastKnownBucket(ctx context.Context, pair string, tf domain.Timeframe) (*domain.Candle, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pair, timeframe, ts, open, high, low, close, volume, trade_count, last_sequence_id
		FROM candles
		WHERE pair = ? AND timeframe = ?
		ORDER BY ts DESC
		LIMIT 1
	`, pair, tf.String())

	c, err := scanCandle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no candle for pair=%s timeframe=%s", domain.ErrNotFound, pair, tf)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite load last candle: %w", err)
	}
	return c, nil
}

// GetCandles returns candles with bucket start in [from, to], oldest first.
func (s *Store) GetCandles(ctx context.Context, pair string, tf domain.Timeframe, from, to time.Time) ([]*domain.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pair, timeframe, ts, open, high, low, close, volume, trade_count, last_sequence_id
		FROM candles
		WHERE pair = ? AND timeframe = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, pair, tf.String(), from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	candles := []*domain.Candle{}
	for rows.Next() {
		c, err := scanCandle(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCandle(row scanner) (*domain.Candle, error) {
	var (
		c       domain.Candle
		tf      string
		ts      int64
		prices  [5]string
		lastSeq int64
	)
	err := row.Scan(&c.Pair, &tf, &ts,
		&prices[0], &prices[1], &prices[2], &prices[3], &prices[4],
		&c.TradeCount, &lastSeq)
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
	c.BucketStart = time.Unix(ts, 0).UTC()
	c.LastSequenceID = uint64(lastSeq)
	c.IsClosed = true
	return &c, nil
}
