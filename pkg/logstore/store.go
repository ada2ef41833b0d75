// Package logstore persists moderation log records in an embedded Pebble
// database together with a reverse index from user ID to message IDs and a
// per-channel scan checkpoint.
//
// Writes are serialized by a store-level lock and each one commits a single
// Pebble batch, so a record and its index entries are always written
// together. Reads run on snapshots and never block writers.
package logstore

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/goccy/go-json"

	"github.com/PancyStudios/PancyModLogs/pkg/logger"
	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

var (
	// ErrStore wraps every storage I/O failure.
	ErrStore = errors.New("logstore: storage error")
	// ErrCorrupt marks a stored value that could not be decoded.
	ErrCorrupt = errors.New("logstore: corrupt value")
	// ErrInvalidRecord is returned by Save for records without a message ID.
	ErrInvalidRecord = errors.New("logstore: invalid record")
)

const logPrefix = "LogStore"

// Options configures Open.
type Options struct {
	// FS overrides the filesystem, vfs.NewMem() in tests.
	FS vfs.FS
}

// Store is the durable home of every LogRecord.
type Store struct {
	db      *pebble.DB
	writeMu sync.Mutex
}

// reader is satisfied by *pebble.DB and *pebble.Snapshot.
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

// Open opens (or creates) the database at path.
func Open(path string, opts ...Options) (*Store, error) {
	pebbleOpts := &pebble.Options{}
	if len(opts) > 0 && opts[0].FS != nil {
		pebbleOpts.FS = opts[0].FS
	}

	db, err := pebble.Open(path, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStore, path, err)
	}

	logger.System(fmt.Sprintf("Base de datos de logs abierta en %s", path), logPrefix)
	return &Store{db: db}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrStore, err)
	}
	return nil
}

// Save upserts rec and indexes every user ID it mentions. When a record
// with the same message ID already exists, IDs it no longer mentions are
// removed from the index in the same batch.
func (s *Store) Save(rec models.LogRecord) error {
	if rec.MessageID == 0 {
		return fmt.Errorf("%w: message id is zero", ErrInvalidRecord)
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode record %d: %w", ErrInvalidRecord, rec.MessageID, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	newIDs := rec.UserIDs()

	old, found, err := getRecord(s.db, rec.MessageID)
	switch {
	case errors.Is(err, ErrCorrupt):
		logger.Warn(fmt.Sprintf("Registro %d corrupto, se sobrescribe y se purga del índice", rec.MessageID), logPrefix)
		if err := s.purgeFromIndex(batch, rec.MessageID, newIDs); err != nil {
			return err
		}
	case err != nil:
		return err
	case found:
		for _, id := range difference(old.UserIDs(), newIDs) {
			if err := s.removeFromSet(batch, id, rec.MessageID); err != nil {
				return err
			}
		}
	}

	for _, id := range newIDs {
		if err := s.addToSet(batch, id, rec.MessageID); err != nil {
			return err
		}
	}

	if err := batch.Set(recordKey(rec.MessageID), value, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("%w: commit save %d: %w", ErrStore, rec.MessageID, err)
	}
	return nil
}

// Get returns every record that mentions userID, newest first. Missing and
// corrupt records are skipped.
func (s *Store) Get(userID uint64) ([]models.LogRecord, error) {
	snap := s.db.NewSnapshot()
	defer snap.Close()

	ids, err := readSet(snap, userID)
	if errors.Is(err, ErrCorrupt) {
		logger.Warn(fmt.Sprintf("Índice corrupto para el usuario %d, se ignora", userID), logPrefix)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	records := make([]models.LogRecord, 0, len(ids))
	for _, id := range ids {
		rec, found, err := getRecord(snap, id)
		if errors.Is(err, ErrCorrupt) {
			logger.Warn(fmt.Sprintf("Registro %d corrupto, se omite: %v", id, err), logPrefix)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		records = append(records, rec)
	}

	slices.SortFunc(records, func(a, b models.LogRecord) int {
		switch {
		case a.MessageID > b.MessageID:
			return -1
		case a.MessageID < b.MessageID:
			return 1
		}
		return 0
	})
	return records, nil
}

// Record returns the record stored under messageID.
func (s *Store) Record(messageID uint64) (models.LogRecord, bool, error) {
	return getRecord(s.db, messageID)
}

// Delete removes the record and its index entries. Deleting a message that
// was never stored is not an error.
func (s *Store) Delete(messageID uint64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	old, found, err := getRecord(s.db, messageID)
	corrupt := errors.Is(err, ErrCorrupt)
	if err != nil && !corrupt {
		return err
	}
	if !found && !corrupt {
		return nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if corrupt {
		// the old ID set is unreadable, walk the whole index instead
		if err := s.purgeFromIndex(batch, messageID, nil); err != nil {
			return err
		}
	} else {
		for _, id := range old.UserIDs() {
			if err := s.removeFromSet(batch, id, messageID); err != nil {
				return err
			}
		}
	}

	if err := batch.Delete(recordKey(messageID), nil); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("%w: commit delete %d: %w", ErrStore, messageID, err)
	}
	return nil
}

// ForEach calls fn for every readable record in message ID order. Iteration
// stops at the first error returned by fn.
func (s *Store) ForEach(fn func(models.LogRecord) error) error {
	snap := s.db.NewSnapshot()
	defer snap.Close()

	return scanRecords(snap, func(id uint64, rec models.LogRecord, err error) error {
		if err != nil {
			logger.Warn(fmt.Sprintf("Registro %d corrupto, se omite", id), logPrefix)
			return nil
		}
		return fn(rec)
	})
}

func (s *Store) addToSet(batch *pebble.Batch, userID, messageID uint64) error {
	ids, err := readSet(s.db, userID)
	if errors.Is(err, ErrCorrupt) {
		logger.Warn(fmt.Sprintf("Índice corrupto para el usuario %d, se reconstruye", userID), logPrefix)
		ids = nil
	} else if err != nil {
		return err
	}

	pos, exists := slices.BinarySearch(ids, messageID)
	if exists {
		return nil
	}
	ids = slices.Insert(ids, pos, messageID)
	return writeSet(batch, userID, ids)
}

func (s *Store) removeFromSet(batch *pebble.Batch, userID, messageID uint64) error {
	ids, err := readSet(s.db, userID)
	if errors.Is(err, ErrCorrupt) {
		logger.Warn(fmt.Sprintf("Índice corrupto para el usuario %d, se elimina", userID), logPrefix)
		return deleteKey(batch, userKey(userID))
	}
	if err != nil {
		return err
	}

	pos, exists := slices.BinarySearch(ids, messageID)
	if !exists {
		return nil
	}
	ids = slices.Delete(ids, pos, pos+1)
	if len(ids) == 0 {
		return deleteKey(batch, userKey(userID))
	}
	return writeSet(batch, userID, ids)
}

// purgeFromIndex removes messageID from every index set except those in
// keep, which the caller is about to rewrite.
func (s *Store) purgeFromIndex(batch *pebble.Batch, messageID uint64, keep []uint64) error {
	lower, upper := prefixBounds(prefixUser)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	defer iter.Close()

	var affected []uint64
	for iter.First(); iter.Valid(); iter.Next() {
		userID, ok := keyID(iter.Key())
		if !ok || slices.Contains(keep, userID) {
			continue
		}
		var ids []uint64
		if err := json.Unmarshal(iter.Value(), &ids); err != nil {
			continue
		}
		if slices.Contains(ids, messageID) {
			affected = append(affected, userID)
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}

	for _, userID := range affected {
		if err := s.removeFromSet(batch, userID, messageID); err != nil {
			return err
		}
	}
	return nil
}

func getRecord(r reader, messageID uint64) (models.LogRecord, bool, error) {
	var rec models.LogRecord

	value, closer, err := r.Get(recordKey(messageID))
	if errors.Is(err, pebble.ErrNotFound) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, fmt.Errorf("%w: get record %d: %w", ErrStore, messageID, err)
	}
	defer closer.Close()

	if err := json.Unmarshal(value, &rec); err != nil {
		return rec, false, fmt.Errorf("%w: record %d: %w", ErrCorrupt, messageID, err)
	}
	return rec, true, nil
}

func readSet(r reader, userID uint64) ([]uint64, error) {
	value, closer, err := r.Get(userKey(userID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get index %d: %w", ErrStore, userID, err)
	}
	defer closer.Close()

	var ids []uint64
	if err := json.Unmarshal(value, &ids); err != nil {
		return nil, fmt.Errorf("%w: index %d: %w", ErrCorrupt, userID, err)
	}
	return ids, nil
}

func writeSet(batch *pebble.Batch, userID uint64, ids []uint64) error {
	value, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("%w: encode index %d: %w", ErrStore, userID, err)
	}
	if err := batch.Set(userKey(userID), value, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return nil
}

func deleteKey(batch *pebble.Batch, key []byte) error {
	if err := batch.Delete(key, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return nil
}

// scanRecords walks the record table. fn receives decode errors instead of
// the walk aborting on them.
func scanRecords(r reader, fn func(id uint64, rec models.LogRecord, err error) error) error {
	lower, upper := prefixBounds(prefixRecord)
	iter, err := r.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		id, ok := keyID(iter.Key())
		if !ok {
			continue
		}
		var rec models.LogRecord
		var decodeErr error
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			decodeErr = fmt.Errorf("%w: record %d: %w", ErrCorrupt, id, err)
		}
		if err := fn(id, rec, decodeErr); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return nil
}

// difference returns the elements of a that are not in b.
func difference(a, b []uint64) []uint64 {
	var out []uint64
	for _, id := range a {
		if !slices.Contains(b, id) {
			out = append(out, id)
		}
	}
	return out
}
