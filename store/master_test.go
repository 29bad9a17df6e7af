package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vx-labs/broker/channel"
	"github.com/vx-labs/broker/command"
	"github.com/vx-labs/broker/data"
)

type recordingTransport struct {
	handshakes map[string]channel.Seq
	events     []channel.Event[command.Command]
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{handshakes: map[string]channel.Seq{}}
}
func (r *recordingTransport) SendHandshake(id string, firstSeq channel.Seq) {
	r.handshakes[id] = firstSeq
}
func (r *recordingTransport) SendEvent(id string, ev channel.Event[command.Command]) {
	r.events = append(r.events, ev)
}
func (r *recordingTransport) SendRetransmitFailed(id string, seq channel.Seq) {}

type recordingEvents struct {
	inserts    []data.Value
	updates    []data.Value
	updateOlds []data.Value
	updateNews []data.Value
	erases     []data.Value
	expires    []data.Value
}

func (e *recordingEvents) Insert(key, value data.Value, pub command.PublisherID) {
	e.inserts = append(e.inserts, key)
}
func (e *recordingEvents) Update(key, old, new data.Value, pub command.PublisherID) {
	e.updates = append(e.updates, key)
	e.updateOlds = append(e.updateOlds, old)
	e.updateNews = append(e.updateNews, new)
}
func (e *recordingEvents) Erase(key data.Value, pub command.PublisherID) {
	e.erases = append(e.erases, key)
}
func (e *recordingEvents) Expire(key data.Value, pub command.PublisherID) {
	e.expires = append(e.expires, key)
}

type recordingReplies struct {
	replies []bool
}

func (r *recordingReplies) ReplyPutUnique(who, reqID string, ok bool) {
	r.replies = append(r.replies, ok)
}

type recordingSnapshotTransport struct {
	sets map[string]map[string]command.SnapshotEntry
}

func (r *recordingSnapshotTransport) SendSet(cloneID string, snapshot map[string]command.SnapshotEntry) {
	if r.sets == nil {
		r.sets = map[string]map[string]command.SnapshotEntry{}
	}
	r.sets[cloneID] = snapshot
}

func newTestMaster(t *testing.T) (*Master, *recordingTransport, *recordingEvents, *recordingReplies, *recordingSnapshotTransport) {
	t.Helper()
	backend, err := NewMemDBBackend()
	require.NoError(t, err)
	transport := newRecordingTransport()
	events := &recordingEvents{}
	replies := &recordingReplies{}
	snaps := &recordingSnapshotTransport{}
	self := command.PublisherID{NodeID: "node-1", ActorID: "master"}
	m := NewMaster("kv", backend, transport, snaps, self, events, replies, nil)
	return m, transport, events, replies, snaps
}

func TestMasterPutEmitsInsertAndBroadcasts(t *testing.T) {
	m, transport, events, _, _ := newTestMaster(t)
	require.NoError(t, m.producer.Add("clone-a"))

	cmd := command.Put(data.String("k"), data.Integer(1), command.Expiry{}, command.PublisherID{NodeID: "n", ActorID: "a"})
	require.NoError(t, m.Local(cmd))

	assert.Len(t, events.inserts, 1)
	assert.Len(t, transport.events, 1)

	v, err := m.Get(data.String("k"), ValueAspect)
	require.NoError(t, err)
	iv, _ := v.AsInteger()
	assert.Equal(t, int64(1), iv)
}

func TestMasterPutUniqueRejectsDuplicate(t *testing.T) {
	m, transport, events, replies, _ := newTestMaster(t)
	require.NoError(t, m.producer.Add("clone-a"))

	first := command.PutUnique(data.String("k"), data.Integer(1), command.Expiry{}, command.PublisherID{}, "requester", "req-1")
	require.NoError(t, m.Local(first))
	assert.Equal(t, []bool{true}, replies.replies)
	assert.Len(t, events.inserts, 1)
	assert.Len(t, transport.events, 1) // translated into a plain put broadcast

	second := command.PutUnique(data.String("k"), data.Integer(2), command.Expiry{}, command.PublisherID{}, "requester", "req-2")
	require.NoError(t, m.Local(second))
	assert.Equal(t, []bool{true, false}, replies.replies)
	assert.Len(t, events.inserts, 1) // no second insert
	assert.Len(t, transport.events, 1) // no second broadcast
}

func TestMasterAddInitializesAndAccumulates(t *testing.T) {
	m, transport, events, _, _ := newTestMaster(t)

	require.NoError(t, m.Local(command.Add(data.String("counter"), data.Count(3), command.InitCount, command.Expiry{}, command.PublisherID{})))
	require.NoError(t, m.Local(command.Add(data.String("counter"), data.Count(4), command.InitCount, command.Expiry{}, command.PublisherID{})))

	v, err := m.Get(data.String("counter"), ValueAspect)
	require.NoError(t, err)
	c, _ := v.AsCount()
	assert.Equal(t, uint64(7), c)

	assert.Len(t, events.inserts, 1)
	assert.Len(t, events.updates, 1)
	// both adds broadcast as plain puts of the fresh value
	require.Len(t, transport.events, 0) // no clones registered yet, nothing to fan out to
}

func TestMasterSubtractIgnoresMissingKey(t *testing.T) {
	m, _, events, _, _ := newTestMaster(t)
	err := m.Local(command.Subtract(data.String("missing"), data.Count(1), command.Expiry{}, command.PublisherID{}))
	require.NoError(t, err)
	assert.Empty(t, events.updates)
}

func TestMasterSubtractEmitsRealOldValueOnUpdate(t *testing.T) {
	m, _, events, _, _ := newTestMaster(t)
	require.NoError(t, m.Local(command.Add(data.String("counter"), data.Count(10), command.InitCount, command.Expiry{}, command.PublisherID{})))

	require.NoError(t, m.Local(command.Subtract(data.String("counter"), data.Count(4), command.Expiry{}, command.PublisherID{})))

	require.Len(t, events.updates, 1)
	oldCount, _ := events.updateOlds[0].AsCount()
	newCount, _ := events.updateNews[0].AsCount()
	assert.Equal(t, uint64(10), oldCount)
	assert.Equal(t, uint64(6), newCount)
}

func TestMasterClearEmitsEraseForEveryKeyThenBroadcasts(t *testing.T) {
	m, _, events, _, _ := newTestMaster(t)
	require.NoError(t, m.producer.Add("clone-a"))
	require.NoError(t, m.Local(command.Put(data.String("a"), data.Integer(1), command.Expiry{}, command.PublisherID{})))
	require.NoError(t, m.Local(command.Put(data.String("b"), data.Integer(2), command.Expiry{}, command.PublisherID{})))

	require.NoError(t, m.Local(command.Clear(command.PublisherID{})))

	assert.Len(t, events.erases, 2)
	keys, err := m.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMasterIgnoresCloneOnlyCommandsAsLocalInput(t *testing.T) {
	m, transport, _, _, _ := newTestMaster(t)
	require.NoError(t, m.Local(command.Expire(data.String("k"), command.PublisherID{})))
	require.NoError(t, m.Local(command.SnapshotSync("clone-a")))
	require.NoError(t, m.Local(command.Set(map[string]command.SnapshotEntry{})))
	assert.Empty(t, transport.events)
}

func TestMasterExpireKeyIgnoresStaleReminder(t *testing.T) {
	m, transport, events, _, _ := newTestMaster(t)
	now := time.Unix(1000, 0)
	require.NoError(t, m.Local(command.Put(data.String("k"), data.String("v"), command.Expiry{IsSet: true, Nanos: now.Add(time.Hour).UnixNano()}, command.PublisherID{})))

	m.ExpireKey(data.String("k"), now) // deadline not yet due
	assert.True(t, m.Exists(data.String("k")))
	assert.Empty(t, events.expires)

	m.ExpireKey(data.String("k"), now.Add(2*time.Hour))
	assert.False(t, m.Exists(data.String("k")))
	assert.Len(t, events.expires, 1)
	assert.Len(t, transport.events, 0) // no clones registered
}

func TestMasterSnapshotEnrollsCloneAndFencesThenSendsSet(t *testing.T) {
	m, transport, _, _, snaps := newTestMaster(t)
	require.NoError(t, m.Local(command.Put(data.String("k"), data.String("v"), command.Expiry{}, command.PublisherID{})))

	snap, err := m.Snapshot("core-1", "clone-a")
	require.NoError(t, err)
	assert.Len(t, snap, 1)

	_, handshaked := transport.handshakes["clone-a"]
	assert.True(t, handshaked)

	require.Len(t, transport.events, 1) // snapshot_sync broadcast
	assert.Equal(t, command.KindSnapshotSync, transport.events[0].Payload.Kind)
	assert.Equal(t, "clone-a", transport.events[0].Payload.RemoteClone)

	require.Contains(t, snaps.sets, "clone-a")
	assert.Len(t, snaps.sets["clone-a"], 1)
}
