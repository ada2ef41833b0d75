package logstore

import (
	"fmt"
	"slices"

	"github.com/cockroachdb/pebble"
	"github.com/goccy/go-json"

	"github.com/PancyStudios/PancyModLogs/pkg/logger"
	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

// Report describes how far the reverse index is from the records it should
// be derived from.
type Report struct {
	Records        int      `json:"records"`
	CorruptRecords []uint64 `json:"corruptRecords,omitempty"`
	IndexKeys      int      `json:"indexKeys"`
	CorruptSets    int      `json:"corruptSets"`
	EmptySets      int      `json:"emptySets"`
	// Missing counts (user, message) pairs a record implies but the index lacks.
	Missing int `json:"missing"`
	// Stale counts index entries with no matching record.
	Stale int `json:"stale"`
}

// Consistent reports whether the index matches the records exactly.
func (r Report) Consistent() bool {
	return len(r.CorruptRecords) == 0 && r.CorruptSets == 0 && r.EmptySets == 0 && r.Missing == 0 && r.Stale == 0
}

// Stats holds table sizes.
type Stats struct {
	Records         int `json:"records"`
	IndexKeys       int `json:"indexKeys"`
	Checkpoints     int `json:"checkpoints"`
	BackfillCursors int `json:"backfillCursors"`
}

// Verify compares the reverse index against the records without changing
// anything.
func (s *Store) Verify() (Report, error) {
	snap := s.db.NewSnapshot()
	defer snap.Close()

	report, _, err := check(snap)
	return report, err
}

// Repair rebuilds the reverse index from the records and drops records that
// can no longer be decoded. It returns the state found before the rebuild.
func (s *Store) Repair() (Report, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	report, expected, err := check(s.db)
	if err != nil {
		return report, err
	}
	if report.Consistent() {
		return report, nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	lower, upper := prefixBounds(prefixUser)
	if err := batch.DeleteRange(lower, upper, nil); err != nil {
		return report, fmt.Errorf("%w: %w", ErrStore, err)
	}
	for userID, msgs := range expected {
		ids := make([]uint64, 0, len(msgs))
		for id := range msgs {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		if err := writeSet(batch, userID, ids); err != nil {
			return report, err
		}
	}
	for _, id := range report.CorruptRecords {
		if err := deleteKey(batch, recordKey(id)); err != nil {
			return report, err
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return report, fmt.Errorf("%w: commit repair: %w", ErrStore, err)
	}

	logger.Success(fmt.Sprintf("Índice reconstruido: %d usuarios, %d registros corruptos eliminados", len(expected), len(report.CorruptRecords)), logPrefix)
	return report, nil
}

// Stats counts the entries of every table.
func (s *Store) Stats() (Stats, error) {
	snap := s.db.NewSnapshot()
	defer snap.Close()

	var st Stats
	var err error
	if st.Records, err = countPrefix(snap, prefixRecord); err != nil {
		return st, err
	}
	if st.IndexKeys, err = countPrefix(snap, prefixUser); err != nil {
		return st, err
	}
	if st.Checkpoints, err = countPrefix(snap, prefixCheckpoint); err != nil {
		return st, err
	}
	if st.BackfillCursors, err = countPrefix(snap, prefixBackfill); err != nil {
		return st, err
	}
	return st, nil
}

func check(r reader) (Report, map[uint64]map[uint64]struct{}, error) {
	var report Report
	expected := make(map[uint64]map[uint64]struct{})

	err := scanRecords(r, func(id uint64, rec models.LogRecord, decodeErr error) error {
		if decodeErr != nil {
			report.CorruptRecords = append(report.CorruptRecords, id)
			return nil
		}
		report.Records++
		for _, userID := range rec.UserIDs() {
			if expected[userID] == nil {
				expected[userID] = make(map[uint64]struct{})
			}
			expected[userID][id] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return report, nil, err
	}

	lower, upper := prefixBounds(prefixUser)
	iter, err := r.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return report, nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	defer iter.Close()

	matched := 0
	for iter.First(); iter.Valid(); iter.Next() {
		report.IndexKeys++
		userID, ok := keyID(iter.Key())
		if !ok {
			report.CorruptSets++
			continue
		}

		var ids []uint64
		if err := json.Unmarshal(iter.Value(), &ids); err != nil {
			report.CorruptSets++
			continue
		}
		if len(ids) == 0 {
			report.EmptySets++
			continue
		}
		for _, id := range ids {
			if _, ok := expected[userID][id]; ok {
				matched++
			} else {
				report.Stale++
			}
		}
	}
	if err := iter.Error(); err != nil {
		return report, nil, fmt.Errorf("%w: %w", ErrStore, err)
	}

	pairs := 0
	for _, msgs := range expected {
		pairs += len(msgs)
	}
	report.Missing = pairs - matched
	return report, expected, nil
}

func countPrefix(r reader, prefix byte) (int, error) {
	lower, upper := prefixBounds(prefix)
	iter, err := r.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStore, err)
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	if err := iter.Error(); err != nil {
		return n, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return n, nil
}
