// Package storage is the default candle store: chunked fixed-slot binary
// files with a write-ahead journal, on any afero filesystem.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/0xc0d3d00d/swapcandles/internal/domain"
)

const (
	DefaultChunkCandleCount = 1024

	defaultMaxWalSize = 16 << 20
)

// timeRange is half-open: [from, to).
type timeRange struct {
	from time.Time
	to   time.Time
}

func (tr timeRange) contains(t time.Time) bool {
	return !t.Before(tr.from) && t.Before(tr.to)
}

// intersects reports whether tr overlaps the closed interval [from, to].
func (tr timeRange) intersects(from, to time.Time) bool {
	return !tr.from.After(to) && from.Before(tr.to)
}

type seriesKey struct {
	pair      string
	timeframe domain.Timeframe
}

func (k seriesKey) dirName() string {
	return fmt.Sprintf("%s_%s", k.pair, k.timeframe)
}

type candleFileKey struct {
	seriesKey seriesKey
	timeRange timeRange
}

func (k candleFileKey) slots() int {
	return int(k.timeRange.to.Sub(k.timeRange.from) / k.seriesKey.timeframe.Duration())
}

// Storage lays files out as
//
//	wal/
//	  0000000001.wal
//	data/
//	  <pair>_<timeframe>/
//	    <from>_<to>.bin
//
// where every .bin file holds one fixed-size slot per bucket of its range.
type Storage struct {
	fs      afero.Fs
	dataDir string
	walDir  string
	logger  *slog.Logger

	mu          sync.RWMutex
	wal         afero.File
	walSize     int64
	maxWalSize  int64
	candleFiles map[candleFileKey]afero.File
	// sorted by from
	seriesTimeRanges map[seriesKey][]timeRange
	chunkCandleCount int
}

func NewStorage(fs afero.Fs, rootDir string, chunkCandleCount int, logger *slog.Logger) (*Storage, error) {
	if chunkCandleCount <= 0 {
		chunkCandleCount = DefaultChunkCandleCount
	}
	if logger == nil {
		logger = slog.Default()
	}

	walDir := path.Join(rootDir, "wal")
	dataDir := path.Join(rootDir, "data")

	if err := fs.MkdirAll(walDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create wal directory: %w", err)
	}
	if err := fs.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Storage{
		fs:               fs,
		dataDir:          dataDir,
		walDir:           walDir,
		logger:           logger.With("component", "storage"),
		maxWalSize:       defaultMaxWalSize,
		candleFiles:      make(map[candleFileKey]afero.File),
		seriesTimeRanges: make(map[seriesKey][]timeRange),
		chunkCandleCount: chunkCandleCount,
	}

	if err := s.loadCandleFiles(); err != nil {
		s.Close()
		return nil, err
	}

	wal, err := fs.OpenFile(path.Join(walDir, fmt.Sprintf("%010d.wal", 1)), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open wal file: %w", err)
	}
	s.wal = wal

	if err := s.replayJournal(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// NewOsStorage opens a Storage rooted at dir on the local disk.
func NewOsStorage(dir string, chunkCandleCount int, logger *slog.Logger) (*Storage, error) {
	return NewStorage(afero.NewOsFs(), dir, chunkCandleCount, logger)
}

func (s *Storage) loadCandleFiles() error {
	seriesDirs, err := afero.ReadDir(s.fs, s.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	for _, seriesDir := range seriesDirs {
		sep := strings.LastIndex(seriesDir.Name(), "_")
		if !seriesDir.IsDir() || sep <= 0 {
			s.logger.Warn("skipping unknown entry in data directory", "name", seriesDir.Name())
			continue
		}
		tf, err := domain.ParseTimeframe(seriesDir.Name()[sep+1:])
		if err != nil {
			s.logger.Warn("skipping series with unknown timeframe", "name", seriesDir.Name())
			continue
		}
		series := seriesKey{pair: seriesDir.Name()[:sep], timeframe: tf}

		dir := path.Join(s.dataDir, seriesDir.Name())
		chunks, err := afero.ReadDir(s.fs, dir)
		if err != nil {
			return fmt.Errorf("failed to read candles directory: %w", err)
		}

		for _, chunk := range chunks {
			tr, ok := parseChunkName(chunk.Name())
			if !ok {
				s.logger.Warn("skipping invalid candle file", "series", seriesDir.Name(), "name", chunk.Name())
				continue
			}

			file, err := s.fs.OpenFile(path.Join(dir, chunk.Name()), os.O_RDWR, 0644)
			if err != nil {
				return fmt.Errorf("failed to open candle file: %w", err)
			}

			s.candleFiles[candleFileKey{seriesKey: series, timeRange: tr}] = file
			s.seriesTimeRanges[series] = append(s.seriesTimeRanges[series], tr)
		}
	}

	for _, ranges := range s.seriesTimeRanges {
		sort.Slice(ranges, func(i, j int) bool {
			return ranges[i].from.Before(ranges[j].from)
		})
	}

	return nil
}

func parseChunkName(name string) (timeRange, bool) {
	parts := strings.Split(strings.TrimSuffix(name, path.Ext(name)), "_")
	if len(parts) != 2 || path.Ext(name) != ".bin" {
		return timeRange{}, false
	}
	from, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return timeRange{}, false
	}
	to, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || to <= from {
		return timeRange{}, false
	}
	return timeRange{from: time.Unix(from, 0).UTC(), to: time.Unix(to, 0).UTC()}, true
}

// UpsertClosedCandle writes candle into its bucket slot, replacing any
// earlier version.
func (s *Storage) UpsertClosedCandle(ctx context.Context, candle *domain.Candle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !candle.Timeframe.Valid() {
		return domain.ErrInvalidTimeframe
	}
	if !candle.BucketStart.Equal(domain.BucketStart(candle.BucketStart, candle.Timeframe)) {
		return fmt.Errorf("bucket start %s is not aligned to %s", candle.BucketStart, candle.Timeframe)
	}

	slot, err := encodeCandle(candle)
	if err != nil {
		return fmt.Errorf("failed to encode candle: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.fileKeyFor(seriesKey{pair: candle.Pair, timeframe: candle.Timeframe}, candle.BucketStart)
	file, err := s.candleFile(key)
	if err != nil {
		return err
	}
	offset := int64(candle.BucketStart.Sub(key.timeRange.from) / candle.Timeframe.Duration())

	if err := s.writeCandleUpsert(key, slot, offset, false); err != nil {
		return err
	}
	if err := writeSlot(file, offset, slot); err != nil {
		return err
	}
	if err := s.writeCandleUpsert(key, slot, offset, true); err != nil {
		return err
	}

	if s.walSize > s.maxWalSize {
		return s.truncateJournal()
	}
	return nil
}

func writeSlot(file afero.File, offset int64, slot []byte) error {
	written, err := file.WriteAt(slot, offset*candleByteSize)
	if written != candleByteSize && err == nil {
		err = io.ErrShortWrite
	}
	if err != nil {
		return fmt.Errorf("failed to write candle slot: %w", err)
	}
	return file.Sync()
}

// GetCandles returns the stored candles with bucket start in [from, to],
// oldest first.
func (s *Storage) GetCandles(ctx context.Context, pair string, tf domain.Timeframe, from, to time.Time) ([]*domain.Candle, error) {
	s.logger.DebugContext(ctx, "get candles", "pair", pair, "timeframe", tf, "from", from, "to", to)
	series := seriesKey{pair: pair, timeframe: tf}

	s.mu.RLock()
	defer s.mu.RUnlock()

	candles := []*domain.Candle{}
	for _, tr := range s.seriesTimeRanges[series] {
		if !tr.intersects(from, to) {
			continue
		}
		rangeCandles, err := s.readChunk(candleFileKey{seriesKey: series, timeRange: tr})
		if err != nil {
			return nil, err
		}
		for _, c := range rangeCandles {
			if c.BucketStart.Before(from) || c.BucketStart.After(to) {
				continue
			}
			candles = append(candles, c)
		}
	}

	return candles, nil
}

// LoadLastKnownBucket returns the most recent stored candle of the series.
func (s *Storage) LoadLastKnownBucket(ctx context.Context, pair string, tf domain.Timeframe) (*domain.Candle, error) {
	series := seriesKey{pair: pair, timeframe: tf}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ranges := s.seriesTimeRanges[series]
	for i := len(ranges) - 1; i >= 0; i-- {
		candles, err := s.readChunk(candleFileKey{seriesKey: series, timeRange: ranges[i]})
		if err != nil {
			return nil, err
		}
		if len(candles) > 0 {
			return candles[len(candles)-1], nil
		}
	}

	return nil, fmt.Errorf("%w: no candle for pair=%s timeframe=%s", domain.ErrNotFound, pair, tf)
}

// readChunk decodes every written slot of a file. Callers hold s.mu.
func (s *Storage) readChunk(key candleFileKey) ([]*domain.Candle, error) {
	file := s.candleFiles[key]
	slots := key.slots()

	buf := make([]byte, slots*candleByteSize)
	n, err := file.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read candle file: %w", err)
	}

	candles := make([]*domain.Candle, 0, slots)
	for i := 0; i < n/candleByteSize; i++ {
		candle := &domain.Candle{}
		err := decodeCandle(buf[i*candleByteSize:(i+1)*candleByteSize], candle)
		if err == ErrCandleNotWritten {
			continue
		}
		if err != nil {
			return nil, err
		}
		candle.Pair = key.seriesKey.pair
		candle.Timeframe = key.seriesKey.timeframe
		candles = append(candles, candle)
	}

	return candles, nil
}

// fileKeyFor picks the existing chunk covering bucket or the aligned chunk
// that would be allocated for it.
func (s *Storage) fileKeyFor(series seriesKey, bucket time.Time) candleFileKey {
	for _, tr := range s.seriesTimeRanges[series] {
		if tr.from.After(bucket) {
			break
		}
		if tr.contains(bucket) {
			return candleFileKey{seriesKey: series, timeRange: tr}
		}
	}

	chunk := series.timeframe.Seconds() * int64(s.chunkCandleCount)
	sec := bucket.Unix()
	from := sec - sec%chunk
	if sec%chunk < 0 {
		from -= chunk
	}

	return candleFileKey{
		seriesKey: series,
		timeRange: timeRange{
			from: time.Unix(from, 0).UTC(),
			to:   time.Unix(from+chunk, 0).UTC(),
		},
	}
}

// candleFile returns the open file for key, allocating it when missing.
// Callers hold s.mu for writing.
func (s *Storage) candleFile(key candleFileKey) (afero.File, error) {
	if file, ok := s.candleFiles[key]; ok {
		return file, nil
	}

	seriesDir := path.Join(s.dataDir, key.seriesKey.dirName())
	filename := path.Join(
		seriesDir,
		fmt.Sprintf("%d_%d.bin", key.timeRange.from.Unix(), key.timeRange.to.Unix()),
	)

	if err := s.fs.MkdirAll(seriesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create series directory: %w", err)
	}

	file, err := s.fs.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create candle file: %w", err)
	}

	// zeroed slots read back as not written
	if err := file.Truncate(int64(key.slots() * candleByteSize)); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to size candle file: %w", err)
	}

	s.candleFiles[key] = file
	ranges := append(s.seriesTimeRanges[key.seriesKey], key.timeRange)
	sort.Slice(ranges, func(i, j int) bool {
		return ranges[i].from.Before(ranges[j].from)
	})
	s.seriesTimeRanges[key.seriesKey] = ranges

	s.logger.Debug("allocated candle file", "file", filename)
	return file, nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for key, file := range s.candleFiles {
		if err := file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.candleFiles, key)
	}
	if s.wal != nil {
		if err := s.wal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.wal = nil
	}
	return firstErr
}
