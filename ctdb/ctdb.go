// Package ctdb stands in for the out-of-scope local chunk database (§1):
// "records which SHAs are live for a given generation". The engine only
// ever calls CullStart, CullMark and CullEnd (§6 "Persisted state"); this
// implementation backs them with go.etcd.io/bbolt, the same embedded K/V
// store the corpus's own persistent caches use.
package ctdb

import (
	"encoding/binary"
	"encoding/hex"

	bolt "go.etcd.io/bbolt"
)

var shaBucket = []byte("shas")
var metaBucket = []byte("meta")
var generationKey = []byte("generation")

// DB wraps a bbolt database recording, per chunk SHA, the most recent
// generation at which it was marked live.
type DB struct {
	bolt *bolt.DB
}

// Open opens (creating if absent) the chunk-liveness database at path.
func Open(path string) (*DB, error) {
	b, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, err
	}
	err = b.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(shaBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		b.Close()
		return nil, err
	}
	return &DB{bolt: b}, nil
}

// Close closes the underlying bbolt database.
func (d *DB) Close() error { return d.bolt.Close() }

// CullStart marks the beginning of a cull sweep (§4.7 step 3: "ctdb_cull_start").
// It is a no-op against bbolt beyond documenting intent at the call site;
// the real bookkeeping happens in CullMark/CullEnd.
func (d *DB) CullStart() error { return nil }

// CullMark records sha as live in the in-progress generation (§4.7 step 3:
// "marking the local chunk DB to retain it"). The generation isn't known
// until CullEnd, so marks are recorded against generation 0 ("pending")
// and stamped with the real generation by CullEnd.
func (d *DB) CullMark(sha [32]byte) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(shaBucket)
		return b.Put(sha[:], encodeGen(0))
	})
}

// CullEnd commits newGeneration (§4.7 step 6: "the server reply carries a
// new generation id, passed to the local chunk DB which then garbage-
// collects SHAs not marked live at that generation"): every SHA marked live
// this sweep (generation 0, "pending") is stamped with newGeneration; every
// other SHA whose stored generation is below newGeneration (i.e. was not
// remarked this sweep) is deleted.
func (d *DB) CullEnd(newGeneration int64) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(shaBucket)
		var stale [][]byte
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			gen := decodeGen(v)
			if gen == 0 {
				key := make([]byte, len(k))
				copy(key, k)
				if err := b.Put(key, encodeGen(newGeneration)); err != nil {
					return err
				}
				continue
			}
			if gen < newGeneration {
				key := make([]byte, len(k))
				copy(key, k)
				stale = append(stale, key)
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return tx.Bucket(metaBucket).Put(generationKey, encodeGen(newGeneration))
	})
}

// CurrentGeneration returns the last generation committed by CullEnd, or 0
// if none has run yet.
func (d *DB) CurrentGeneration() (int64, error) {
	var gen int64
	err := d.bolt.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(generationKey)
		if v == nil {
			return nil
		}
		gen = decodeGen(v)
		return nil
	})
	return gen, err
}

// IsLive reports whether sha is currently recorded as live, for tests.
func (d *DB) IsLive(sha [32]byte) (bool, error) {
	var live bool
	err := d.bolt.View(func(tx *bolt.Tx) error {
		live = tx.Bucket(shaBucket).Get(sha[:]) != nil
		return nil
	})
	return live, err
}

// ShaHex is a convenience for logging/debugging.
func ShaHex(sha [32]byte) string { return hex.EncodeToString(sha[:]) }

func encodeGen(g int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(g))
	return b[:]
}

func decodeGen(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}
