package store

import (
	"go.uber.org/zap"

	"github.com/vx-labs/broker/brokererr"
	"github.com/vx-labs/broker/channel"
	"github.com/vx-labs/broker/command"
	"github.com/vx-labs/broker/data"
)

// WriteForwarder ships a locally-initiated mutating command to the
// master topic on behalf of a Clone, which never applies a write
// itself (spec.md §4.5).
type WriteForwarder interface {
	Forward(cmd command.Command)
}

// Clone mirrors one named store's state by consuming its channel
// (spec.md §4.5). It is read-only except by way of the master: every
// local mutation request is forwarded upstream and only takes effect
// locally once it comes back around as a broadcast command.
//
// A Clone is owned by exactly one actor; none of its methods are safe
// for concurrent use.
type Clone struct {
	Name string

	// cloneID is this clone's channel consumer identity: the string a
	// master's Producer paths are keyed by, and the value a
	// snapshot_sync fence names in its RemoteClone field.
	cloneID string

	backend  Backend
	consumer *channel.Consumer[command.Command]
	forward  WriteForwarder
	self     command.PublisherID

	events EventSink
	log    *zap.Logger

	haveSnapshot bool
	haveFence    bool
	synced       bool
	pending      []command.Command
}

var _ channel.Backend[command.Command] = &Clone{}

// NewClone builds a Clone for store name, identified on the channel as
// cloneID. acker reports ack/nack progress back to the remote master;
// forward ships locally-issued writes to the master topic. self is
// stored on the Clone but read by none of its methods: forwarded
// writes keep whatever Publisher the caller set on the command.
func NewClone(name, cloneID string, backend Backend, acker channel.ConsumerAckSink, forward WriteForwarder, self command.PublisherID, opts channel.ConsumerOptions, events EventSink, log *zap.Logger) *Clone {
	if events == nil {
		events = NopEventSink{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Clone{
		Name:    name,
		cloneID: cloneID,
		backend: backend,
		forward: forward,
		self:    self,
		events:  events,
		log:     log,
	}
	c.consumer = channel.NewConsumer[command.Command](c, acker, opts, log)
	return c
}

// Synced reports whether this clone has completed its initial
// snapshot bootstrap and can serve reads.
func (c *Clone) Synced() bool { return c.synced }

// HandleHandshake / HandleEvent / Tick forward to the underlying
// channel consumer.
func (c *Clone) HandleHandshake(offset channel.Seq) { c.consumer.HandleHandshake(offset) }
func (c *Clone) HandleEvent(ev channel.Event[command.Command]) { c.consumer.HandleEvent(ev) }
func (c *Clone) Tick()                                         { c.consumer.Tick() }

// InstallSnapshot applies the out-of-band set{} payload a master sent
// in response to this clone's snapshot request. It may arrive before
// or after the snapshot_sync fence travels through the channel
// (spec.md's Open Question on bootstrap ordering is resolved in favor
// of tolerating either arrival order).
func (c *Clone) InstallSnapshot(snapshot map[string]command.SnapshotEntry) error {
	if err := c.backend.InstallSnapshot(snapshot); err != nil {
		return err
	}
	c.haveSnapshot = true
	return c.maybeCompleteSync()
}

// Deliver is the channel.Backend hook: every command this clone's
// consumer releases in order lands here, including its own
// snapshot_sync fence and other clones' unrelated bootstrap fences.
func (c *Clone) Deliver(cmd command.Command) {
	if cmd.Kind == command.KindSnapshotSync {
		if cmd.RemoteClone != c.cloneID {
			return // fencing a different clone's bootstrap; not ours
		}
		c.haveFence = true
		if err := c.maybeCompleteSync(); err != nil {
			c.log.Error("fatal: failed to complete clone sync", zap.String("store", c.Name), zap.Error(err))
		}
		return
	}
	if !c.synced {
		c.pending = append(c.pending, cmd)
		return
	}
	if err := c.apply(cmd); err != nil {
		c.log.Error("fatal: failed to apply command to clone backend", zap.String("store", c.Name), zap.Error(err))
	}
}

func (c *Clone) maybeCompleteSync() error {
	if c.synced || !c.haveSnapshot || !c.haveFence {
		return nil
	}
	c.synced = true
	queued := c.pending
	c.pending = nil
	for _, cmd := range queued {
		if err := c.apply(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (c *Clone) apply(cmd command.Command) error {
	switch cmd.Kind {
	case command.KindPut:
		old, getErr := c.backend.Get(cmd.Key)
		existed := getErr == nil
		if err := c.backend.Put(cmd.Key, cmd.Value, cmd.Expiry); err != nil {
			c.log.Warn("dropping replicated put: backend write failed", zap.String("store", c.Name), zap.Error(err))
			return nil
		}
		if existed {
			c.events.Update(cmd.Key, old, cmd.Value, cmd.Publisher)
		} else {
			c.events.Insert(cmd.Key, cmd.Value, cmd.Publisher)
		}
		return nil
	case command.KindErase:
		if !c.backend.Exists(cmd.Key) {
			return nil
		}
		if err := c.backend.Erase(cmd.Key); err != nil {
			c.log.Warn("dropping replicated erase: backend write failed", zap.String("store", c.Name), zap.Error(err))
			return nil
		}
		c.events.Erase(cmd.Key, cmd.Publisher)
		return nil
	case command.KindExpire:
		if !c.backend.Exists(cmd.Key) {
			return nil
		}
		if err := c.backend.Erase(cmd.Key); err != nil {
			c.log.Warn("dropping replicated expire: backend write failed", zap.String("store", c.Name), zap.Error(err))
			return nil
		}
		c.events.Expire(cmd.Key, cmd.Publisher)
		return nil
	case command.KindClear:
		keys, err := c.backend.Keys()
		if err != nil {
			return err
		}
		for _, key := range keys {
			c.events.Erase(key, cmd.Publisher)
		}
		if err := c.backend.Clear(); err != nil {
			// spec.md §7: a clone failing to clear its backend is fatal,
			// mirroring the master's own clear path.
			return err
		}
		return nil
	default:
		c.log.Warn("ignoring unexpected broadcast command kind on clone", zap.String("store", c.Name), zap.String("kind", cmd.Kind.String()))
		return nil
	}
}

// Local forwards a locally-issued mutating command to the master; a
// clone never mutates its own backend directly.
func (c *Clone) Local(cmd command.Command) {
	c.forward.Forward(cmd)
}

// Get serves a read from the local backend once synced; before that
// it reports stale_data rather than risk answering from a backend that
// has not yet seen the initial snapshot.
func (c *Clone) Get(key data.Value, aspect KeyAspect) (data.Value, error) {
	if !c.synced {
		return data.Value{}, brokererr.New(brokererr.StaleData, "clone has not completed its initial sync")
	}
	return c.backend.GetAspect(key, aspect)
}

// Exists mirrors Get's stale_data gating.
func (c *Clone) Exists(key data.Value) (bool, error) {
	if !c.synced {
		return false, brokererr.New(brokererr.StaleData, "clone has not completed its initial sync")
	}
	return c.backend.Exists(key), nil
}

// Keys mirrors Get's stale_data gating.
func (c *Clone) Keys() ([]data.Value, error) {
	if !c.synced {
		return nil, brokererr.New(brokererr.StaleData, "clone has not completed its initial sync")
	}
	return c.backend.Keys()
}
