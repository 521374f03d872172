package db

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"
)

var bucketSnapshots = []byte("snapshots")
var keyLatestGeneration = []byte("latest")

// BoltCheckpointStore is an opaque, binary side-channel for database
// checkpoints: a compressed full-database snapshot keyed by generation
// number, stored alongside (not instead of) the portable textdump format
// in checkpoint.go. Unlike the textdump, nothing outside this package
// needs to read or edit these bytes, so a key-value store with no schema
// migration story is the right tool.
type BoltCheckpointStore struct {
	db *bolt.DB
}

// OpenBoltCheckpointStore opens (creating if necessary) a bbolt-backed
// checkpoint store at path.
func OpenBoltCheckpointStore(path string) (*BoltCheckpointStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSnapshots)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshots bucket: %w", err)
	}

	return &BoltCheckpointStore{db: db}, nil
}

// Close closes the underlying bbolt handle.
func (b *BoltCheckpointStore) Close() error {
	return b.db.Close()
}

// SaveSnapshot serializes store via a Writer, zstd-compresses the result,
// and stores it under generation. It also updates the "latest" pointer.
func (b *BoltCheckpointStore) SaveSnapshot(generation int64, store *Store) error {
	var raw bytes.Buffer
	w := NewWriter(&raw, store)
	if err := w.WriteDatabase(); err != nil {
		return fmt.Errorf("serialize snapshot: %w", err)
	}

	var compressed bytes.Buffer
	zw, err := zstd.NewWriter(&compressed)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := zw.Write(raw.Bytes()); err != nil {
		zw.Close()
		return fmt.Errorf("compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flush zstd writer: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketSnapshots)
		if err := bkt.Put(generationKey(generation), compressed.Bytes()); err != nil {
			return err
		}
		return bkt.Put(keyLatestGeneration, generationKey(generation))
	})
}

// LoadLatestSnapshot decompresses and returns the most recently saved
// snapshot's raw textdump bytes, along with its generation number.
func (b *BoltCheckpointStore) LoadLatestSnapshot() ([]byte, int64, error) {
	var compressed []byte
	var generation int64

	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketSnapshots)
		latestKey := bkt.Get(keyLatestGeneration)
		if latestKey == nil {
			return fmt.Errorf("no snapshots saved")
		}
		data := bkt.Get(latestKey)
		if data == nil {
			return fmt.Errorf("latest pointer references missing snapshot")
		}
		compressed = append([]byte(nil), data...)
		generation = generationFromKey(latestKey)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	zr, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, 0, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, 0, fmt.Errorf("decompress snapshot: %w", err)
	}

	return raw, generation, nil
}

// Prune removes all but the keep most recent snapshot generations.
func (b *BoltCheckpointStore) Prune(keep int) error {
	if keep <= 0 {
		return fmt.Errorf("keep must be positive")
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketSnapshots)
		var generations []int64
		c := bkt.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if bytes.Equal(k, keyLatestGeneration) {
				continue
			}
			generations = append(generations, generationFromKey(k))
		}
		if len(generations) <= keep {
			return nil
		}

		// generationKey is big-endian so cursor order is ascending; drop
		// everything but the last `keep` entries.
		cutoff := len(generations) - keep
		for _, gen := range generations[:cutoff] {
			if err := bkt.Delete(generationKey(gen)); err != nil {
				return err
			}
		}
		return nil
	})
}

func generationKey(generation int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(generation))
	return buf
}

func generationFromKey(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key))
}
