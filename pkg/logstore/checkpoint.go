package logstore

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// GetCheckpoint returns the newest ingested message ID for a channel. The
// boolean is false when the channel was never scanned.
func (s *Store) GetCheckpoint(channelID uint64) (uint64, bool, error) {
	return s.getUint64(checkpointKey(channelID))
}

// SetCheckpoint records messageID as the newest ingested message for a
// channel. Checkpoints only move forward: a lower value is ignored.
func (s *Store) SetCheckpoint(channelID, messageID uint64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, ok, err := s.getUint64(checkpointKey(channelID))
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return err
	}
	if ok && current >= messageID {
		return nil
	}
	return s.setUint64(checkpointKey(channelID), messageID)
}

// ClearCheckpoint forgets a channel's checkpoint so the next scan starts a
// fresh backfill.
func (s *Store) ClearCheckpoint(channelID uint64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.db.Delete(checkpointKey(channelID), pebble.Sync); err != nil {
		return fmt.Errorf("%w: clear checkpoint %d: %w", ErrStore, channelID, err)
	}
	return nil
}

// GetBackfillCursor returns the oldest message reached by an unfinished
// backward walk.
func (s *Store) GetBackfillCursor(channelID uint64) (uint64, bool, error) {
	return s.getUint64(backfillKey(channelID))
}

// SetBackfillCursor stores the oldest message reached by the backward walk.
func (s *Store) SetBackfillCursor(channelID, messageID uint64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.setUint64(backfillKey(channelID), messageID)
}

// ClearBackfillCursor marks the channel's backfill as complete.
func (s *Store) ClearBackfillCursor(channelID uint64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.db.Delete(backfillKey(channelID), pebble.Sync); err != nil {
		return fmt.Errorf("%w: clear backfill %d: %w", ErrStore, channelID, err)
	}
	return nil
}

func (s *Store) getUint64(key []byte) (uint64, bool, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: %w", ErrStore, err)
	}
	defer closer.Close()

	v, ok := decodeUint64(value)
	if !ok {
		return 0, false, fmt.Errorf("%w: %d byte counter", ErrCorrupt, len(value))
	}
	return v, true, nil
}

func (s *Store) setUint64(key []byte, v uint64) error {
	if err := s.db.Set(key, encodeUint64(v), pebble.Sync); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return nil
}
