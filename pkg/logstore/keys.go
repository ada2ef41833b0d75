package logstore

import (
	"encoding/binary"
)

// Every table lives in the same Pebble keyspace under a one-byte prefix.
const (
	prefixRecord     byte = 'r' // message_id -> LogRecord
	prefixUser       byte = 'u' // user_id -> sorted message_id set
	prefixCheckpoint byte = 'c' // channel_id -> newest ingested message_id
	prefixBackfill   byte = 'b' // channel_id -> oldest backfilled message_id
)

func makeKey(prefix byte, id uint64) []byte {
	k := make([]byte, 9)
	k[0] = prefix
	binary.BigEndian.PutUint64(k[1:], id)
	return k
}

func recordKey(messageID uint64) []byte { return makeKey(prefixRecord, messageID) }
func userKey(userID uint64) []byte { return makeKey(prefixUser, userID) }
func checkpointKey(channel uint64) []byte { return makeKey(prefixCheckpoint, channel) }
func backfillKey(channel uint64) []byte { return makeKey(prefixBackfill, channel) }

// keyID returns the id part of a table key.
func keyID(k []byte) (uint64, bool) {
	if len(k) != 9 {
		return 0, false
	}
	return binary.BigEndian.Uint64(k[1:]), true
}

// prefixBounds returns [lower, upper) covering every key of a table.
func prefixBounds(prefix byte) ([]byte, []byte) {
	return []byte{prefix}, []byte{prefix + 1}
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) (uint64, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(b), true
}
