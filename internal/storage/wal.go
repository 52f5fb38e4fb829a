package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/0xc0d3d00d/swapcandles/internal/domain"
)

// upsertCandleLog is one journal record. Every slot write is bracketed by a
// record with written=false before it and written=true after it.
type upsertCandleLog struct {
	timestamp time.Time
	fileKey   candleFileKey
	slot      []byte
	offset    int64
	written   bool
}

func encodeUpsertCandleLog(log upsertCandleLog) ([]byte, error) {
	pair := log.fileKey.seriesKey.pair
	if len(pair) > 0xffff {
		return nil, fmt.Errorf("pair %q too long for wal record", pair)
	}
	if len(log.slot) != candleByteSize {
		return nil, fmt.Errorf("failed to encode candle into wal log: %w", io.ErrShortWrite)
	}

	pairLen := len(pair)
	logSize := 8 + // timestamp
		2 + pairLen +
		8 + // timeframe
		8 + // timeRange.from
		8 + // timeRange.to
		8 + // offset
		candleByteSize +
		1 // written
	buf := make([]byte, logSize)

	binary.LittleEndian.PutUint64(buf, uint64(log.timestamp.UnixNano()))
	binary.LittleEndian.PutUint16(buf[8:], uint16(pairLen))
	copy(buf[10:], pair)

	p := 10 + pairLen
	binary.LittleEndian.PutUint64(buf[p:], uint64(log.fileKey.seriesKey.timeframe))
	binary.LittleEndian.PutUint64(buf[p+8:], uint64(log.fileKey.timeRange.from.Unix()))
	binary.LittleEndian.PutUint64(buf[p+16:], uint64(log.fileKey.timeRange.to.Unix()))
	binary.LittleEndian.PutUint64(buf[p+24:], uint64(log.offset))
	copy(buf[p+32:], log.slot)

	if log.written {
		buf[p+32+candleByteSize] = 1
	}

	return buf, nil
}

func decodeUpsertCandleLog(buf []byte) (upsertCandleLog, error) {
	var log upsertCandleLog
	if len(buf) < 10 {
		return log, io.ErrUnexpectedEOF
	}
	pairLen := int(binary.LittleEndian.Uint16(buf[8:]))
	if len(buf) != 10+pairLen+32+candleByteSize+1 {
		return log, fmt.Errorf("wal record has %d bytes: %w", len(buf), io.ErrUnexpectedEOF)
	}

	p := 10 + pairLen
	log.timestamp = time.Unix(0, int64(binary.LittleEndian.Uint64(buf))).UTC()
	log.fileKey = candleFileKey{
		seriesKey: seriesKey{
			pair:      string(buf[10:p]),
			timeframe: domain.Timeframe(binary.LittleEndian.Uint64(buf[p:])),
		},
		timeRange: timeRange{
			from: time.Unix(int64(binary.LittleEndian.Uint64(buf[p+8:])), 0).UTC(),
			to:   time.Unix(int64(binary.LittleEndian.Uint64(buf[p+16:])), 0).UTC(),
		},
	}
	log.offset = int64(binary.LittleEndian.Uint64(buf[p+24:]))
	log.slot = append([]byte(nil), buf[p+32:p+32+candleByteSize]...)
	log.written = buf[p+32+candleByteSize] == 1

	return log, nil
}

// writeCandleUpsert appends a length-prefixed record to the journal. Callers
// hold s.mu.
func (s *Storage) writeCandleUpsert(fileKey candleFileKey, slot []byte, offset int64, written bool) error {
	encodedLog, err := encodeUpsertCandleLog(upsertCandleLog{
		timestamp: time.Now(),
		fileKey:   fileKey,
		slot:      slot,
		offset:    offset,
		written:   written,
	})
	if err != nil {
		return err
	}

	record := make([]byte, 8+len(encodedLog))
	binary.LittleEndian.PutUint64(record, uint64(len(encodedLog)))
	copy(record[8:], encodedLog)

	n, err := s.wal.WriteAt(record, s.walSize)
	if n != len(record) && err == nil {
		err = io.ErrShortWrite
	}
	if err != nil {
		return fmt.Errorf("failed to append wal record: %w", err)
	}
	s.walSize += int64(n)

	return s.wal.Sync()
}

// readJournal returns the records found in the journal. A torn record at the
// tail is dropped.
func (s *Storage) readJournal() ([]upsertCandleLog, error) {
	if _, err := s.wal.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	logs := []upsertCandleLog{}
	for {
		var length uint64
		err := binary.Read(s.wal, binary.LittleEndian, &length)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return logs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read wal record length: %w", err)
		}

		buf := make([]byte, length)
		if _, err := io.ReadFull(s.wal, buf); err != nil {
			s.logger.Warn("dropping torn wal record", "error", err)
			return logs, nil
		}

		log, err := decodeUpsertCandleLog(buf)
		if err != nil {
			s.logger.Warn("dropping malformed wal record", "error", err)
			return logs, nil
		}
		logs = append(logs, log)
	}
}

type slotRef struct {
	fileKey candleFileKey
	offset  int64
}

// replayJournal rewrites every slot whose write was started but never
// confirmed, then empties the journal.
func (s *Storage) replayJournal() error {
	logs, err := s.readJournal()
	if err != nil {
		return err
	}

	pending := make(map[slotRef]upsertCandleLog)
	order := []slotRef{}
	for _, log := range logs {
		ref := slotRef{fileKey: log.fileKey, offset: log.offset}
		if log.written {
			delete(pending, ref)
			continue
		}
		if _, ok := pending[ref]; !ok {
			order = append(order, ref)
		}
		pending[ref] = log
	}

	replayed := 0
	for _, ref := range order {
		log, ok := pending[ref]
		if !ok {
			continue
		}
		file, err := s.candleFile(log.fileKey)
		if err != nil {
			return err
		}
		if err := writeSlot(file, log.offset, log.slot); err != nil {
			return fmt.Errorf("failed to replay wal record: %w", err)
		}
		replayed++
	}
	if replayed > 0 {
		s.logger.Info("replayed wal", "records", replayed)
	}

	return s.truncateJournal()
}

func (s *Storage) truncateJournal() error {
	if err := s.wal.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate wal: %w", err)
	}
	s.walSize = 0
	return s.wal.Sync()
}
