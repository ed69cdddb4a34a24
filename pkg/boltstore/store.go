package boltstore

import (
	"fmt"
	"os"

	"github.com/crystal-mush/gochanserv/pkg/chandb"
	"github.com/rs/zerolog/log"
	bbolt "go.etcd.io/bbolt"
)

// Store wraps a bbolt database holding accounts and channel records.
// The registry keeps the authoritative in-memory copy and writes
// through to the store on every change.
type Store struct {
	bolt *bbolt.DB
}

// Open opens or creates a bbolt database file and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketAccounts, bucketChannels} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		if v := meta.Get(keySchema); v != nil && keyToInt(v) > schemaVersion {
			return fmt.Errorf("schema version %d is newer than supported %d", keyToInt(v), schemaVersion)
		}
		return meta.Put(keySchema, intToKey(schemaVersion))
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: init buckets: %w", err)
	}

	return &Store{bolt: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// Path returns the filesystem path of the underlying bbolt database.
func (s *Store) Path() string {
	if s.bolt != nil {
		return s.bolt.Path()
	}
	return ""
}

// PutAccount persists an account, keyed by folded name.
func (s *Store) PutAccount(a *chandb.Account) error {
	data, err := encodeAccount(a)
	if err != nil {
		return fmt.Errorf("boltstore: encode account %q: %w", a.Name, err)
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAccounts).Put(nameKey(a.Name), data)
	})
}

// LoadAccounts reads all accounts.
func (s *Store) LoadAccounts() ([]*chandb.Account, error) {
	var accounts []*chandb.Account
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(k, v []byte) error {
			a, err := decodeAccount(v)
			if err != nil {
				return fmt.Errorf("decode account %q: %w", string(k), err)
			}
			accounts = append(accounts, a)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: load accounts: %w", err)
	}
	return accounts, nil
}

// PutChannel persists a channel record, keyed by folded name.
func (s *Store) PutChannel(ch *chandb.Channel) error {
	data, err := encodeChannel(ch)
	if err != nil {
		return fmt.Errorf("boltstore: encode channel %q: %w", ch.Name, err)
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChannels).Put(nameKey(ch.Name), data)
	})
}

// DeleteChannel removes a channel record.
func (s *Store) DeleteChannel(name string) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChannels).Delete(nameKey(name))
	})
}

// LoadChannels reads all channel records.
func (s *Store) LoadChannels() ([]*chandb.Channel, error) {
	var channels []*chandb.Channel
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChannels).ForEach(func(k, v []byte) error {
			ch, err := decodeChannel(v)
			if err != nil {
				return fmt.Errorf("decode channel %q: %w", string(k), err)
			}
			channels = append(channels, ch)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: load channels: %w", err)
	}
	log.Info().Str("component", "boltstore").Int("channels", len(channels)).Msg("loaded channels from bolt")
	return channels, nil
}

// Backup creates a hot snapshot of the bbolt database using tx.WriteTo().
func (s *Store) Backup(path string) error {
	return s.bolt.View(func(tx *bbolt.Tx) error {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("boltstore: create backup %s: %w", path, err)
		}
		defer f.Close()
		if _, err := tx.WriteTo(f); err != nil {
			return fmt.Errorf("boltstore: write backup: %w", err)
		}
		log.Info().Str("component", "boltstore").Str("path", path).Msg("backup written")
		return nil
	})
}
