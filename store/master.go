package store

import (
	"time"

	"go.uber.org/zap"

	"github.com/vx-labs/broker/channel"
	"github.com/vx-labs/broker/command"
	"github.com/vx-labs/broker/data"
)

// EventSink is the external change event bus of spec.md §6: every
// insert/update/erase/expire fires here, carrying the originating
// PublisherID.
type EventSink interface {
	Insert(key, value data.Value, pub command.PublisherID)
	Update(key, old, new data.Value, pub command.PublisherID)
	Erase(key data.Value, pub command.PublisherID)
	Expire(key data.Value, pub command.PublisherID)
}

// NopEventSink discards every event; useful where no bus is wired.
type NopEventSink struct{}

func (NopEventSink) Insert(data.Value, data.Value, command.PublisherID)       {}
func (NopEventSink) Update(data.Value, data.Value, data.Value, command.PublisherID) {}
func (NopEventSink) Erase(data.Value, command.PublisherID)                   {}
func (NopEventSink) Expire(data.Value, command.PublisherID)                  {}

// ReplySink answers a put_unique caller without broadcasting a
// command. who is the (topic-addressable) requester, not necessarily
// the master's own endpoint: a clone's forwarded put_unique rides on
// the master topic and the reply rides back the same way.
type ReplySink interface {
	ReplyPutUnique(who, reqID string, ok bool)
}

// NopReplySink discards replies.
type NopReplySink struct{}

func (NopReplySink) ReplyPutUnique(who, reqID string, ok bool) {}

// SnapshotTransport delivers a set{} payload out-of-band directly to
// one clone, bypassing the channel producer entirely (spec.md §4.3,
// §4.4).
type SnapshotTransport interface {
	SendSet(cloneID string, snapshot map[string]command.SnapshotEntry)
}

// Master holds the authoritative state of one named store (spec.md
// §4.4). It is owned by exactly one actor; none of its methods are
// safe for concurrent use (spec.md §5) — callers are expected to
// drive it from a single-goroutine mailbox, the way every service
// actor in the teacher pack owns its state.
type Master struct {
	Name string

	backend  Backend
	producer *channel.Producer[command.Command]
	self     command.PublisherID

	events   EventSink
	replies  ReplySink
	snapshot SnapshotTransport

	log *zap.Logger
}

// NewMaster builds a Master for store name, backed by backend, fanning
// broadcasts out over transport. Any of events/replies/snapshot/log
// may be nil, in which case a no-op implementation is used.
func NewMaster(name string, backend Backend, transport channel.Transport[command.Command], snapshot SnapshotTransport, self command.PublisherID, events EventSink, replies ReplySink, log *zap.Logger) *Master {
	if events == nil {
		events = NopEventSink{}
	}
	if replies == nil {
		replies = NopReplySink{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Master{
		Name:     name,
		backend:  backend,
		producer: channel.NewProducer[command.Command](transport, log),
		self:     self,
		events:   events,
		replies:  replies,
		snapshot: snapshot,
		log:      log,
	}
}

// HandleAck / HandleNack forward to the underlying channel producer;
// see channel.Producer for the protocol semantics.
func (m *Master) HandleAck(cloneID string, ackSeq channel.Seq)    { m.producer.HandleAck(cloneID, ackSeq) }
func (m *Master) HandleNack(cloneID string, seqs []channel.Seq)   { m.producer.HandleNack(cloneID, seqs) }

// RemoveClone tears down a clone's path after its monitored link goes
// down (spec.md §4.4 failure model): the clone is expected to
// re-request a snapshot upon reconnection.
func (m *Master) RemoveClone(cloneID string) { m.producer.Remove(cloneID) }

// Snapshot enrolls remoteClone as a consumer of this store's channel,
// fences the broadcast stream with snapshot_sync, sends the backend
// snapshot to remoteClone out-of-band through the SnapshotTransport
// when one is configured (spec.md §4.4), and returns that snapshot.
func (m *Master) Snapshot(remoteCore, remoteClone string) (map[string]command.SnapshotEntry, error) {
	m.producer.Remove(remoteClone) // drop any stale path from a prior session
	if err := m.producer.Add(remoteClone); err != nil {
		return nil, err
	}
	snap, err := m.backend.Snapshot()
	if err != nil {
		m.log.Warn("failed to snapshot backend", zap.String("store", m.Name), zap.Error(err))
		return nil, err
	}
	m.producer.Produce(command.SnapshotSync(remoteClone))
	if m.snapshot != nil {
		m.snapshot.SendSet(remoteClone, snap)
	}
	return snap, nil
}

// Local applies a command as if it arrived from any clone (spec.md
// §4.4 "local"). It is the single dispatch point for every mutating
// command kind.
func (m *Master) Local(cmd command.Command) error {
	switch cmd.Kind {
	case command.KindPut:
		return m.applyPut(cmd)
	case command.KindPutUnique:
		return m.applyPutUnique(cmd)
	case command.KindErase:
		return m.applyErase(cmd)
	case command.KindAdd:
		return m.applyAdd(cmd)
	case command.KindSubtract:
		return m.applySubtract(cmd)
	case command.KindClear:
		return m.applyClear(cmd)
	case command.KindExpire:
		m.log.Warn("ignoring expire command from a clone: only master-originated expirations are valid", zap.String("store", m.Name))
		return nil
	case command.KindSnapshotSync, command.KindSet:
		m.log.Warn("ignoring master-to-clone-only command received as local input", zap.String("store", m.Name), zap.String("kind", cmd.Kind.String()))
		return nil
	default:
		m.log.Warn("ignoring unknown command kind", zap.String("store", m.Name))
		return nil
	}
}

func (m *Master) applyPut(cmd command.Command) error {
	old, getErr := m.backend.Get(cmd.Key)
	existed := getErr == nil
	if err := m.backend.Put(cmd.Key, cmd.Value, cmd.Expiry); err != nil {
		m.log.Warn("dropping put: backend write failed", zap.String("store", m.Name), zap.Error(err))
		return err
	}
	if existed {
		m.events.Update(cmd.Key, old, cmd.Value, cmd.Publisher)
	} else {
		m.events.Insert(cmd.Key, cmd.Value, cmd.Publisher)
	}
	m.producer.Produce(cmd)
	return nil
}

func (m *Master) applyPutUnique(cmd command.Command) error {
	if m.backend.Exists(cmd.Key) {
		m.replies.ReplyPutUnique(cmd.Who, cmd.ReqID, false)
		return nil
	}
	if err := m.backend.Put(cmd.Key, cmd.Value, cmd.Expiry); err != nil {
		m.log.Warn("dropping put_unique: backend write failed", zap.String("store", m.Name), zap.Error(err))
		return err
	}
	m.events.Insert(cmd.Key, cmd.Value, cmd.Publisher)
	m.replies.ReplyPutUnique(cmd.Who, cmd.ReqID, true)
	// clones never see put_unique; they get a plain put and do not
	// re-check existence (spec.md §3).
	m.producer.Produce(command.Put(cmd.Key, cmd.Value, cmd.Expiry, cmd.Publisher))
	return nil
}

func (m *Master) applyErase(cmd command.Command) error {
	if !m.backend.Exists(cmd.Key) {
		return nil
	}
	if err := m.backend.Erase(cmd.Key); err != nil {
		m.log.Warn("dropping erase: backend write failed", zap.String("store", m.Name), zap.Error(err))
		return err
	}
	m.events.Erase(cmd.Key, cmd.Publisher)
	m.producer.Produce(cmd)
	return nil
}

func (m *Master) applyAdd(cmd command.Command) error {
	old, getErr := m.backend.Get(cmd.Key) // pre-add value, read before Add overwrites it
	existed := getErr == nil
	fresh, err := m.backend.Add(cmd.Key, cmd.Value, cmd.InitType, cmd.Expiry)
	if err != nil {
		m.log.Warn("dropping add: backend write failed", zap.String("store", m.Name), zap.Error(err))
		return err
	}
	if existed {
		m.events.Update(cmd.Key, old, fresh, cmd.Publisher)
	} else {
		m.events.Insert(cmd.Key, fresh, cmd.Publisher)
	}
	// clones stay purely value-driven: broadcast the fresh value, not
	// the delta (spec.md §4.4).
	m.producer.Produce(command.Put(cmd.Key, fresh, cmd.Expiry, cmd.Publisher))
	return nil
}

func (m *Master) applySubtract(cmd command.Command) error {
	old, err := m.backend.Get(cmd.Key)
	if err != nil {
		return nil // fails silently: subtract requires the key to exist
	}
	fresh, err := m.backend.Subtract(cmd.Key, cmd.Value, cmd.Expiry)
	if err != nil {
		m.log.Warn("dropping subtract: backend write failed", zap.String("store", m.Name), zap.Error(err))
		return err
	}
	m.events.Update(cmd.Key, old, fresh, cmd.Publisher)
	m.producer.Produce(command.Put(cmd.Key, fresh, cmd.Expiry, cmd.Publisher))
	return nil
}

func (m *Master) applyClear(cmd command.Command) error {
	keys, err := m.backend.Keys()
	if err != nil {
		m.log.Error("fatal: failed to enumerate keys during clear", zap.String("store", m.Name), zap.Error(err))
		return err
	}
	for _, key := range keys {
		m.events.Erase(key, cmd.Publisher)
	}
	if err := m.backend.Clear(); err != nil {
		// spec.md §7: failure to clear the backend during clear is
		// one of the three fatal conditions; the caller is expected
		// to terminate the actor on this error.
		m.log.Error("fatal: failed to clear backend", zap.String("store", m.Name), zap.Error(err))
		return err
	}
	m.producer.Produce(cmd)
	return nil
}

// ExpireKey is the clock callback of spec.md §4.4: it fires once per
// key with a due expiry. A stale reminder (the key was since
// refreshed, or deleted) is silently ignored.
func (m *Master) ExpireKey(key data.Value, now time.Time) {
	deadlineValue, err := m.backend.GetAspect(key, ExpiryAspect)
	if err != nil {
		return // key no longer exists
	}
	if deadlineValue.IsNone() {
		return // key currently has no expiry scheduled
	}
	storedExpiry, _ := deadlineValue.AsTimestamp()
	if now.Before(storedExpiry) {
		return // stale reminder: the key's expiry was pushed back since
	}
	if !m.backend.Exists(key) {
		return
	}
	if err := m.backend.Erase(key); err != nil {
		m.log.Warn("failed to erase expired key", zap.String("store", m.Name), zap.Error(err))
		return
	}
	m.events.Expire(key, m.self)
	m.producer.Produce(command.Expire(key, m.self))
}

// ScanExpiries polls the backend for every key whose deadline has
// passed and fires ExpireKey for each, the way services/kv/cli.go
// drives expiry off a 1-second ticker instead of per-key OS timers.
func (m *Master) ScanExpiries(now time.Time) {
	entries, err := m.backend.Expiries()
	if err != nil {
		// spec.md §7: failing to enumerate expiries during master
		// initialization is fatal; during steady-state polling it is
		// logged and retried on the next tick instead.
		m.log.Error("failed to list expiries", zap.String("store", m.Name), zap.Error(err))
		return
	}
	nowNanos := now.UnixNano()
	for _, e := range entries {
		if e.Deadline <= nowNanos {
			m.ExpireKey(e.Key, now)
		}
	}
}

// Get serves a read-only lookup directly from the backend.
func (m *Master) Get(key data.Value, aspect KeyAspect) (data.Value, error) {
	return m.backend.GetAspect(key, aspect)
}

// Exists serves a read-only existence check directly from the backend.
func (m *Master) Exists(key data.Value) bool { return m.backend.Exists(key) }

// Keys serves a read-only key enumeration directly from the backend.
func (m *Master) Keys() ([]data.Value, error) { return m.backend.Keys() }
