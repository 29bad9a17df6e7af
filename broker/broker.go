// Package broker is the top-level facade of spec.md §6: it wires a
// named store registry, peering, and Broker Options together behind
// one struct, the way the teacher's own broker.Broker struct held a
// PeerStore/QueuesStore/SessionsStore/TopicsStore side by side and
// let cli.go/server.go drive them as one unit.
package broker

import (
	"time"

	"go.uber.org/zap"

	"github.com/vx-labs/broker/channel"
	"github.com/vx-labs/broker/command"
	"github.com/vx-labs/broker/config"
	"github.com/vx-labs/broker/peering"
	"github.com/vx-labs/broker/store"
)

// Broker owns every named store this node masters or clones, plus the
// peering adapter used to reach the rest of the cluster. None of its
// methods are safe for concurrent use beyond what the underlying
// Master/Clone actors already guarantee (spec.md §5): Broker is a
// registry, not a lock.
type Broker struct {
	self    command.PublisherID
	opts    config.Options
	peering *peering.Peering
	log     *zap.Logger

	masters map[string]*store.Master
	clones  map[string]*store.Clone
}

// New builds an empty Broker for node self, governed by opts and
// reachable over p. log may be nil.
func New(self command.PublisherID, opts config.Options, p *peering.Peering, log *zap.Logger) *Broker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broker{
		self:    self,
		opts:    opts,
		peering: p,
		log:     log,
		masters: map[string]*store.Master{},
		clones:  map[string]*store.Clone{},
	}
}

// MasterStore registers name as a store this node masters, backed by
// backend and broadcasting over transport. It is an error to register
// the same name twice as both a master and a clone.
func (b *Broker) MasterStore(name string, backend store.Backend, transport channel.Transport[command.Command], snapshot store.SnapshotTransport, events store.EventSink, replies store.ReplySink) *store.Master {
	m := store.NewMaster(name, backend, transport, snapshot, b.self, events, replies, b.log.Named(name))
	b.masters[name] = m
	return m
}

// CloneStore registers name as a store this node clones from
// cloneID's master, forwarding local writes over forward and applying
// replicated commands from acker's consumer.
func (b *Broker) CloneStore(name, cloneID string, backend store.Backend, acker channel.ConsumerAckSink, forward store.WriteForwarder, opts channel.ConsumerOptions, events store.EventSink) *store.Clone {
	c := store.NewClone(name, cloneID, backend, acker, forward, b.self, opts, events, b.log.Named(name))
	b.clones[name] = c
	return c
}

// Master returns the named master store, or nil if this node doesn't
// master it.
func (b *Broker) Master(name string) *store.Master { return b.masters[name] }

// Clone returns the named clone store, or nil if this node doesn't
// clone it.
func (b *Broker) Clone(name string) *store.Clone { return b.clones[name] }

// Peers lists every currently known cluster peer.
func (b *Broker) Peers() []peering.Endpoint {
	if b.peering == nil {
		return nil
	}
	return b.peering.Peers()
}

// Options returns the Broker Options this instance was constructed
// with (spec.md §6).
func (b *Broker) Options() config.Options { return b.opts }

// Tick drives every registered master's expiry scan and every
// registered clone's channel-consumer tick (ACK/NACK emission), the way
// services/kv/cli.go drives a single store off one ticker; here it
// fans the same tick out across the whole registry.
func (b *Broker) Tick(now time.Time) {
	for _, m := range b.masters {
		m.ScanExpiries(now)
	}
	for _, c := range b.clones {
		c.Tick()
	}
}
