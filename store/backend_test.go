package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vx-labs/broker/command"
	"github.com/vx-labs/broker/data"
)

func backendSuite(t *testing.T, b Backend) {
	t.Helper()

	require.NoError(t, b.Put(data.String("k1"), data.String("v1"), command.Expiry{}))
	v, err := b.Get(data.String("k1"))
	require.NoError(t, err)
	s, _ := v.AsString()
	assert.Equal(t, "v1", s)

	assert.True(t, b.Exists(data.String("k1")))
	assert.False(t, b.Exists(data.String("missing")))

	_, err = b.Get(data.String("missing"))
	assert.Error(t, err)

	fresh, err := b.Add(data.String("counter"), data.Count(1), command.InitCount, command.Expiry{})
	require.NoError(t, err)
	c, _ := fresh.AsCount()
	assert.Equal(t, uint64(1), c)

	fresh, err = b.Add(data.String("counter"), data.Count(4), command.InitCount, command.Expiry{})
	require.NoError(t, err)
	c, _ = fresh.AsCount()
	assert.Equal(t, uint64(5), c)

	fresh, err = b.Subtract(data.String("counter"), data.Count(2), command.Expiry{})
	require.NoError(t, err)
	c, _ = fresh.AsCount()
	assert.Equal(t, uint64(3), c)

	_, err = b.Subtract(data.String("no-such-counter"), data.Count(1), command.Expiry{})
	assert.Error(t, err)

	require.NoError(t, b.Erase(data.String("k1")))
	assert.False(t, b.Exists(data.String("k1")))

	keys, err := b.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 1) // only "counter" left

	snap, err := b.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap, 1)

	require.NoError(t, b.Clear())
	keys, err = b.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemDBBackend(t *testing.T) {
	b, err := NewMemDBBackend()
	require.NoError(t, err)
	backendSuite(t, b)
}

func TestBoltBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	b, err := NewBoltBackend(BoltOptions{Path: path})
	require.NoError(t, err)
	defer b.Close()
	backendSuite(t, b)
}

func TestMemDBBackendExpiries(t *testing.T) {
	b, err := NewMemDBBackend()
	require.NoError(t, err)
	require.NoError(t, b.Put(data.String("k"), data.String("v"), command.Expiry{IsSet: true, Nanos: 100}))

	entries, err := b.Expiries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(100), entries[0].Deadline)

	expired, err := b.Expire(data.String("k"), 50)
	require.NoError(t, err)
	assert.False(t, expired)

	expired, err = b.Expire(data.String("k"), 200)
	require.NoError(t, err)
	assert.True(t, expired)
	assert.False(t, b.Exists(data.String("k")))
}

func TestSnapshotInstallRoundTrip(t *testing.T) {
	src, err := NewMemDBBackend()
	require.NoError(t, err)
	require.NoError(t, src.Put(data.String("a"), data.Integer(1), command.Expiry{}))
	require.NoError(t, src.Put(data.String("b"), data.Integer(2), command.Expiry{}))

	snap, err := src.Snapshot()
	require.NoError(t, err)

	dst, err := NewMemDBBackend()
	require.NoError(t, err)
	require.NoError(t, dst.InstallSnapshot(snap))

	v, err := dst.Get(data.String("a"))
	require.NoError(t, err)
	iv, _ := v.AsInteger()
	assert.Equal(t, int64(1), iv)
}
