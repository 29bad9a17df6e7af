package store

import (
	"time"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/vx-labs/broker/brokererr"
	"github.com/vx-labs/broker/command"
	"github.com/vx-labs/broker/data"
)

const entryTable = "entries"

// entry is the record stored in the memdb table, keyed by the value
// language's stable string encoding (data.Value.Key).
type entry struct {
	Key      string
	KeyValue data.Value
	Value    data.Value
	Deadline uint64 // UnixNano, 0 means no expiry
}

func memdbSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			entryTable: {
				Name: entryTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Key"},
					},
					"deadline": {
						Name:    "deadline",
						Unique:  false,
						Indexer: &memdb.UintFieldIndex{Field: "Deadline"},
					},
				},
			},
		},
	}
}

// MemDBBackend is the default in-memory Backend, grounded on the
// teacher's memdb.Txn-based stores (topics/state.go, sessions/state.go)
// but built around a single generic value-keyed table instead of a
// protobuf-shaped record.
type MemDBBackend struct {
	db *memdb.MemDB
}

var _ Backend = &MemDBBackend{}

// NewMemDBBackend builds an empty in-memory backend.
func NewMemDBBackend() (*MemDBBackend, error) {
	db, err := memdb.NewMemDB(memdbSchema())
	if err != nil {
		return nil, brokererr.Wrap(brokererr.BackendFailure, err, "failed to init memdb backend")
	}
	return &MemDBBackend{db: db}, nil
}

func (m *MemDBBackend) read(f func(tx *memdb.Txn) error) error {
	tx := m.db.Txn(false)
	defer tx.Abort()
	return f(tx)
}
func (m *MemDBBackend) write(f func(tx *memdb.Txn) error) error {
	tx := m.db.Txn(true)
	err := f(tx)
	if err != nil {
		tx.Abort()
		return err
	}
	tx.Commit()
	return nil
}

func deadlineOf(exp command.Expiry) uint64 {
	if !exp.IsSet {
		return 0
	}
	return uint64(exp.Nanos)
}

func (m *MemDBBackend) Put(key, value data.Value, expiry command.Expiry) error {
	return m.write(func(tx *memdb.Txn) error {
		return tx.Insert(entryTable, &entry{
			Key:      key.Key(),
			KeyValue: key,
			Value:    value,
			Deadline: deadlineOf(expiry),
		})
	})
}

func (m *MemDBBackend) lookup(tx *memdb.Txn, key data.Value) (*entry, error) {
	raw, err := tx.First(entryTable, "id", key.Key())
	if err != nil {
		return nil, brokererr.Wrap(brokererr.BackendFailure, err, "lookup failed")
	}
	if raw == nil {
		return nil, brokererr.New(brokererr.NoSuchKey, key.String())
	}
	return raw.(*entry), nil
}

func (m *MemDBBackend) Get(key data.Value) (data.Value, error) {
	var out data.Value
	err := m.read(func(tx *memdb.Txn) error {
		e, err := m.lookup(tx, key)
		if err != nil {
			return err
		}
		out = e.Value
		return nil
	})
	return out, err
}

func (m *MemDBBackend) GetAspect(key data.Value, aspect KeyAspect) (data.Value, error) {
	if aspect == ValueAspect {
		return m.Get(key)
	}
	var out data.Value
	err := m.read(func(tx *memdb.Txn) error {
		e, err := m.lookup(tx, key)
		if err != nil {
			return err
		}
		if e.Deadline == 0 {
			out = data.None()
			return nil
		}
		out = data.Timestamp(time.Unix(0, int64(e.Deadline)))
		return nil
	})
	return out, err
}

func zeroOf(initType command.InitType) data.Value {
	switch initType {
	case command.InitInteger:
		return data.Integer(0)
	case command.InitReal:
		return data.Real(0)
	default:
		return data.Count(0)
	}
}

func addValues(base, delta data.Value) (data.Value, error) {
	if base.Tag() != delta.Tag() {
		return data.Value{}, brokererr.New(brokererr.TypeClash, "add: mismatched value types")
	}
	switch base.Tag() {
	case data.TagCount:
		b, _ := base.AsCount()
		d, _ := delta.AsCount()
		return data.Count(b + d), nil
	case data.TagInteger:
		b, _ := base.AsInteger()
		d, _ := delta.AsInteger()
		return data.Integer(b + d), nil
	case data.TagReal:
		b, _ := base.AsReal()
		d, _ := delta.AsReal()
		return data.Real(b + d), nil
	default:
		return data.Value{}, brokererr.New(brokererr.TypeClash, "add: non-numeric value")
	}
}

func subtractValues(base, delta data.Value) (data.Value, error) {
	if base.Tag() != delta.Tag() {
		return data.Value{}, brokererr.New(brokererr.TypeClash, "subtract: mismatched value types")
	}
	switch base.Tag() {
	case data.TagCount:
		b, _ := base.AsCount()
		d, _ := delta.AsCount()
		if d > b {
			return data.Count(0), nil
		}
		return data.Count(b - d), nil
	case data.TagInteger:
		b, _ := base.AsInteger()
		d, _ := delta.AsInteger()
		return data.Integer(b - d), nil
	case data.TagReal:
		b, _ := base.AsReal()
		d, _ := delta.AsReal()
		return data.Real(b - d), nil
	default:
		return data.Value{}, brokererr.New(brokererr.TypeClash, "subtract: non-numeric value")
	}
}

func (m *MemDBBackend) Add(key, value data.Value, initType command.InitType, expiry command.Expiry) (data.Value, error) {
	var out data.Value
	err := m.write(func(tx *memdb.Txn) error {
		e, err := m.lookup(tx, key)
		var base data.Value
		if err != nil {
			if !brokererr.Is(err, brokererr.NoSuchKey) {
				return err
			}
			base = zeroOf(initType)
		} else {
			base = e.Value
		}
		fresh, err := addValues(base, value)
		if err != nil {
			return err
		}
		out = fresh
		deadline := deadlineOf(expiry)
		if !expiry.IsSet && e != nil {
			deadline = e.Deadline
		}
		return tx.Insert(entryTable, &entry{Key: key.Key(), KeyValue: key, Value: fresh, Deadline: deadline})
	})
	return out, err
}

func (m *MemDBBackend) Subtract(key, value data.Value, expiry command.Expiry) (data.Value, error) {
	var out data.Value
	err := m.write(func(tx *memdb.Txn) error {
		e, err := m.lookup(tx, key)
		if err != nil {
			return err
		}
		fresh, err := subtractValues(e.Value, value)
		if err != nil {
			return err
		}
		out = fresh
		deadline := deadlineOf(expiry)
		if !expiry.IsSet {
			deadline = e.Deadline
		}
		return tx.Insert(entryTable, &entry{Key: key.Key(), KeyValue: key, Value: fresh, Deadline: deadline})
	})
	return out, err
}

func (m *MemDBBackend) Erase(key data.Value) error {
	return m.write(func(tx *memdb.Txn) error {
		_, err := m.lookup(tx, key)
		if err != nil {
			if brokererr.Is(err, brokererr.NoSuchKey) {
				return nil
			}
			return err
		}
		_, err = tx.DeleteAll(entryTable, "id", key.Key())
		return err
	})
}

func (m *MemDBBackend) Exists(key data.Value) bool {
	found := false
	m.read(func(tx *memdb.Txn) error {
		_, err := m.lookup(tx, key)
		found = err == nil
		return nil
	})
	return found
}

func (m *MemDBBackend) Clear() error {
	return m.write(func(tx *memdb.Txn) error {
		_, err := tx.DeleteAll(entryTable, "id")
		return err
	})
}

func (m *MemDBBackend) Keys() ([]data.Value, error) {
	var out []data.Value
	err := m.read(func(tx *memdb.Txn) error {
		it, err := tx.Get(entryTable, "id")
		if err != nil {
			return brokererr.Wrap(brokererr.BackendFailure, err, "keys failed")
		}
		for raw := it.Next(); raw != nil; raw = it.Next() {
			out = append(out, raw.(*entry).KeyValue)
		}
		return nil
	})
	return out, err
}

func (m *MemDBBackend) Snapshot() (map[string]command.SnapshotEntry, error) {
	out := map[string]command.SnapshotEntry{}
	err := m.read(func(tx *memdb.Txn) error {
		it, err := tx.Get(entryTable, "id")
		if err != nil {
			return brokererr.Wrap(brokererr.BackendFailure, err, "snapshot failed")
		}
		for raw := it.Next(); raw != nil; raw = it.Next() {
			e := raw.(*entry)
			exp := command.Expiry{}
			if e.Deadline > 0 {
				exp = command.Expiry{IsSet: true, Nanos: int64(e.Deadline)}
			}
			out[e.Key] = command.SnapshotEntry{Key: e.KeyValue, Value: e.Value, Expiry: exp}
		}
		return nil
	})
	return out, err
}

func (m *MemDBBackend) InstallSnapshot(snapshot map[string]command.SnapshotEntry) error {
	return m.write(func(tx *memdb.Txn) error {
		if _, err := tx.DeleteAll(entryTable, "id"); err != nil {
			return err
		}
		for key, se := range snapshot {
			if err := tx.Insert(entryTable, &entry{
				Key:      key,
				KeyValue: se.Key,
				Value:    se.Value,
				Deadline: deadlineOf(se.Expiry),
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *MemDBBackend) Expiries() ([]ExpiryEntry, error) {
	var out []ExpiryEntry
	err := m.read(func(tx *memdb.Txn) error {
		it, err := tx.LowerBound(entryTable, "deadline", uint64(1))
		if err != nil {
			return brokererr.Wrap(brokererr.BackendFailure, err, "expiries failed")
		}
		for raw := it.Next(); raw != nil; raw = it.Next() {
			e := raw.(*entry)
			if e.Deadline == 0 {
				continue
			}
			out = append(out, ExpiryEntry{Key: e.KeyValue, Deadline: int64(e.Deadline)})
		}
		return nil
	})
	return out, err
}

func (m *MemDBBackend) Expire(key data.Value, now int64) (bool, error) {
	expired := false
	err := m.write(func(tx *memdb.Txn) error {
		e, err := m.lookup(tx, key)
		if err != nil {
			if brokererr.Is(err, brokererr.NoSuchKey) {
				return nil
			}
			return err
		}
		if e.Deadline == 0 || int64(e.Deadline) > now {
			return nil
		}
		if _, err := tx.DeleteAll(entryTable, "id", key.Key()); err != nil {
			return err
		}
		expired = true
		return nil
	})
	return expired, err
}
