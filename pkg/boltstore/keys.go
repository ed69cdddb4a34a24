package boltstore

import (
	"encoding/binary"

	"github.com/crystal-mush/gochanserv/pkg/chandb"
)

// Bucket name constants for bbolt storage.
var (
	bucketMeta     = []byte("meta")
	bucketAccounts = []byte("accounts")
	bucketChannels = []byte("channels")
)

// Meta key constants.
var (
	keySchema = []byte("schema")
)

const schemaVersion = 1

// nameKey folds an account or channel name into its bucket key.
func nameKey(name string) []byte {
	return []byte(chandb.Fold(name))
}

// intToKey converts an int to an 8-byte big-endian key.
func intToKey(n int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf
}

// keyToInt converts an 8-byte big-endian key back to an int.
func keyToInt(b []byte) int {
	if len(b) != 8 {
		return 0
	}
	return int(binary.BigEndian.Uint64(b))
}
