package store

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"os"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/vx-labs/broker/brokererr"
	"github.com/vx-labs/broker/command"
	"github.com/vx-labs/broker/data"
)

const dbFileMode = os.FileMode(0600)

var (
	entriesBucket   = []byte("broker.store.entries")
	deadlinesBucket = []byte("broker.store.deadlines")
)

// BoltOptions configures a disk-backed Backend, mirroring
// services/kv/store/bolt.go's Options.
type BoltOptions struct {
	// Path is the file path to the BoltDB to use.
	Path string
	// BoltOptions carries any bolt.Options a caller wants (open
	// timeout, read-only, ...).
	BoltOptions *bolt.Options
	// NoSync skips fsync after each write; unsafe, matches the
	// teacher's identically-named knob.
	NoSync bool
}

// BoltBackend is a disk-backed Backend built on boltdb/bolt, grounded
// on services/kv/store/bolt.go and queues/store/bolt.go. Records are
// gob-encoded: this is an internal persistence detail of one plugin
// backend, distinct from the on-wire serialization of the data model
// between endpoints, which spec.md §1 puts out of scope.
type BoltBackend struct {
	conn *bolt.DB
}

var _ Backend = &BoltBackend{}

type boltRecord struct {
	KeyValue data.Value
	Value    data.Value
	Deadline uint64
}

// NewBoltBackend opens (creating if absent) a BoltDB-backed Backend.
func NewBoltBackend(opts BoltOptions) (*BoltBackend, error) {
	handle, err := bolt.Open(opts.Path, dbFileMode, opts.BoltOptions)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.CannotOpenFile, err, "failed to open bolt store")
	}
	handle.NoSync = opts.NoSync
	b := &BoltBackend{conn: handle}
	if err := b.init(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *BoltBackend) init() error {
	return b.conn.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(entriesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(deadlinesBucket)
		return err
	})
}

// Close releases the underlying BoltDB handle.
func (b *BoltBackend) Close() error { return b.conn.Close() }

func uint64ToBytes(u uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, u)
	return buf
}

func encodeRecord(r boltRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func decodeRecord(raw []byte) (boltRecord, error) {
	var r boltRecord
	err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&r)
	return r, err
}

func (b *BoltBackend) Put(key, value data.Value, expiry command.Expiry) error {
	return b.conn.Update(func(tx *bolt.Tx) error {
		return b.put(tx, key, value, deadlineOf(expiry))
	})
}

func (b *BoltBackend) put(tx *bolt.Tx, key, value data.Value, deadline uint64) error {
	bucket := tx.Bucket(entriesBucket)
	existing, err := b.getRecord(tx, key)
	if err == nil && existing.Deadline > 0 {
		tx.Bucket(deadlinesBucket).Delete(deadlineKey(existing.Deadline, key))
	}
	payload, err := encodeRecord(boltRecord{KeyValue: key, Value: value, Deadline: deadline})
	if err != nil {
		return brokererr.Wrap(brokererr.BackendFailure, err, "encode failed")
	}
	if err := bucket.Put([]byte(key.Key()), payload); err != nil {
		return brokererr.Wrap(brokererr.BackendFailure, err, "put failed")
	}
	if deadline > 0 {
		if err := tx.Bucket(deadlinesBucket).Put(deadlineKey(deadline, key), []byte(key.Key())); err != nil {
			return brokererr.Wrap(brokererr.BackendFailure, err, "put deadline index failed")
		}
	}
	return nil
}

func deadlineKey(deadline uint64, key data.Value) []byte {
	return append(uint64ToBytes(deadline), []byte(key.Key())...)
}

func (b *BoltBackend) getRecord(tx *bolt.Tx, key data.Value) (boltRecord, error) {
	raw := tx.Bucket(entriesBucket).Get([]byte(key.Key()))
	if raw == nil {
		return boltRecord{}, brokererr.New(brokererr.NoSuchKey, key.String())
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return boltRecord{}, brokererr.Wrap(brokererr.BackendFailure, err, "decode failed")
	}
	return rec, nil
}

func (b *BoltBackend) Get(key data.Value) (data.Value, error) {
	var out data.Value
	err := b.conn.View(func(tx *bolt.Tx) error {
		rec, err := b.getRecord(tx, key)
		if err != nil {
			return err
		}
		out = rec.Value
		return nil
	})
	return out, err
}

func (b *BoltBackend) GetAspect(key data.Value, aspect KeyAspect) (data.Value, error) {
	if aspect == ValueAspect {
		return b.Get(key)
	}
	var out data.Value
	err := b.conn.View(func(tx *bolt.Tx) error {
		rec, err := b.getRecord(tx, key)
		if err != nil {
			return err
		}
		if rec.Deadline == 0 {
			out = data.None()
			return nil
		}
		out = data.Timestamp(time.Unix(0, int64(rec.Deadline)))
		return nil
	})
	return out, err
}

func (b *BoltBackend) Add(key, value data.Value, initType command.InitType, expiry command.Expiry) (data.Value, error) {
	var out data.Value
	err := b.conn.Update(func(tx *bolt.Tx) error {
		rec, err := b.getRecord(tx, key)
		var base data.Value
		if err != nil {
			if !brokererr.Is(err, brokererr.NoSuchKey) {
				return err
			}
			base = zeroOf(initType)
		} else {
			base = rec.Value
		}
		fresh, err := addValues(base, value)
		if err != nil {
			return err
		}
		out = fresh
		deadline := deadlineOf(expiry)
		if !expiry.IsSet {
			deadline = rec.Deadline
		}
		return b.put(tx, key, fresh, deadline)
	})
	return out, err
}

func (b *BoltBackend) Subtract(key, value data.Value, expiry command.Expiry) (data.Value, error) {
	var out data.Value
	err := b.conn.Update(func(tx *bolt.Tx) error {
		rec, err := b.getRecord(tx, key)
		if err != nil {
			return err
		}
		fresh, err := subtractValues(rec.Value, value)
		if err != nil {
			return err
		}
		out = fresh
		deadline := deadlineOf(expiry)
		if !expiry.IsSet {
			deadline = rec.Deadline
		}
		return b.put(tx, key, fresh, deadline)
	})
	return out, err
}

func (b *BoltBackend) Erase(key data.Value) error {
	return b.conn.Update(func(tx *bolt.Tx) error {
		rec, err := b.getRecord(tx, key)
		if err != nil {
			if brokererr.Is(err, brokererr.NoSuchKey) {
				return nil
			}
			return err
		}
		if rec.Deadline > 0 {
			tx.Bucket(deadlinesBucket).Delete(deadlineKey(rec.Deadline, key))
		}
		return tx.Bucket(entriesBucket).Delete([]byte(key.Key()))
	})
}

func (b *BoltBackend) Exists(key data.Value) bool {
	found := false
	b.conn.View(func(tx *bolt.Tx) error {
		_, err := b.getRecord(tx, key)
		found = err == nil
		return nil
	})
	return found
}

func (b *BoltBackend) Clear() error {
	return b.conn.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(entriesBucket); err != nil {
			return err
		}
		if err := tx.DeleteBucket(deadlinesBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(entriesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(deadlinesBucket)
		return err
	})
}

func (b *BoltBackend) Keys() ([]data.Value, error) {
	var out []data.Value
	err := b.conn.View(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).ForEach(func(_, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			out = append(out, rec.KeyValue)
			return nil
		})
	})
	if err != nil {
		return nil, brokererr.Wrap(brokererr.BackendFailure, err, "keys failed")
	}
	return out, nil
}

func (b *BoltBackend) Snapshot() (map[string]command.SnapshotEntry, error) {
	out := map[string]command.SnapshotEntry{}
	err := b.conn.View(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			exp := command.Expiry{}
			if rec.Deadline > 0 {
				exp = command.Expiry{IsSet: true, Nanos: int64(rec.Deadline)}
			}
			out[string(k)] = command.SnapshotEntry{Key: rec.KeyValue, Value: rec.Value, Expiry: exp}
			return nil
		})
	})
	if err != nil {
		return nil, brokererr.Wrap(brokererr.BackendFailure, err, "snapshot failed")
	}
	return out, nil
}

func (b *BoltBackend) InstallSnapshot(snapshot map[string]command.SnapshotEntry) error {
	return b.conn.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(entriesBucket); err != nil {
			return err
		}
		if err := tx.DeleteBucket(deadlinesBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(entriesBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(deadlinesBucket); err != nil {
			return err
		}
		for _, se := range snapshot {
			if err := b.put(tx, se.Key, se.Value, deadlineOf(se.Expiry)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltBackend) Expiries() ([]ExpiryEntry, error) {
	var out []ExpiryEntry
	err := b.conn.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(deadlinesBucket).Cursor()
		for dk, keyBytes := cursor.First(); dk != nil; dk, keyBytes = cursor.Next() {
			if len(dk) < 8 {
				continue
			}
			deadline := binary.BigEndian.Uint64(dk[:8])
			raw := tx.Bucket(entriesBucket).Get(keyBytes)
			if raw == nil {
				continue
			}
			rec, err := decodeRecord(raw)
			if err != nil {
				return err
			}
			out = append(out, ExpiryEntry{Key: rec.KeyValue, Deadline: int64(deadline)})
		}
		return nil
	})
	if err != nil {
		return nil, brokererr.Wrap(brokererr.BackendFailure, err, "expiries failed")
	}
	return out, nil
}

func (b *BoltBackend) Expire(key data.Value, now int64) (bool, error) {
	expired := false
	err := b.conn.Update(func(tx *bolt.Tx) error {
		rec, err := b.getRecord(tx, key)
		if err != nil {
			if brokererr.Is(err, brokererr.NoSuchKey) {
				return nil
			}
			return err
		}
		if rec.Deadline == 0 || int64(rec.Deadline) > now {
			return nil
		}
		tx.Bucket(deadlinesBucket).Delete(deadlineKey(rec.Deadline, key))
		if err := tx.Bucket(entriesBucket).Delete([]byte(key.Key())); err != nil {
			return err
		}
		expired = true
		return nil
	})
	return expired, err
}
