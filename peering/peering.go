// Package peering adapts spec.md §6's peering API (listen, peer,
// peer_nosync, unpeer, unpeer_nosync, peers, forward) onto
// hashicorp/memberlist, the teacher's own cluster membership library
// (broker/mesh.go implements the same NotifyJoin/NotifyLeave/
// NotifyUpdate delegate this package does, against the real
// *memberlist.Memberlist).
package peering

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"

	"github.com/vx-labs/broker/brokererr"
)

// Endpoint identifies one peer broker node, matching spec.md's
// glossary PublisherID address triple.
type Endpoint struct {
	NodeID  string
	Address string
	Port    int
}

// membership is the narrow slice of *memberlist.Memberlist this
// package depends on, so tests can substitute a fake.
type membership interface {
	Join(existing []string) (int, error)
	Members() []*memberlist.Node
	Leave(timeout time.Duration) error
	Shutdown() error
}

var _ membership = (*memberlist.Memberlist)(nil)

// Peering tracks this node's cluster peers over a membership
// transport, retrying outbound peer requests with backoff the way
// cli.JoinConsulPeers polls until a peer set stabilizes, but driven by
// cenkalti/backoff instead of a bare ticker.
type Peering struct {
	ml  membership
	log *zap.Logger

	mu    sync.RWMutex
	peers map[string]Endpoint // node name -> endpoint
	forwarding map[string]bool // store/topic names this node forwards

	// asyncTimeout bounds how long PeerNoSync's background retry keeps
	// trying before giving up and logging peer_unavailable.
	asyncTimeout time.Duration
}

// New builds a Peering adapter over ml. ml may be nil when the
// membership transport isn't constructed yet — a node needs its
// EventDelegate (this Peering) in hand before memberlist.Create builds
// one, so callers wire the transport in afterwards with Bind. log may
// be nil.
func New(ml membership, log *zap.Logger) *Peering {
	if log == nil {
		log = zap.NewNop()
	}
	return &Peering{
		ml:           ml,
		log:          log,
		peers:        map[string]Endpoint{},
		forwarding:   map[string]bool{},
		asyncTimeout: 30 * time.Second,
	}
}

// Bind attaches the membership transport once it exists. Use this when
// Peering must be constructed before memberlist.Create (so its
// EventDelegate methods can be wired into the config passed to
// Create); every other method on Peering assumes Bind has already run.
func (p *Peering) Bind(ml membership) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ml = ml
}

func (p *Peering) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

// NotifyJoin implements memberlist.EventDelegate.
func (p *Peering) NotifyJoin(n *memberlist.Node) {
	p.mu.Lock()
	p.peers[n.Name] = Endpoint{NodeID: n.Name, Address: n.Addr.String(), Port: int(n.Port)}
	p.mu.Unlock()
	p.log.Info("peer joined", zap.String("node_id", n.Name), zap.String("address", n.Addr.String()))
}

// NotifyLeave implements memberlist.EventDelegate.
func (p *Peering) NotifyLeave(n *memberlist.Node) {
	p.mu.Lock()
	delete(p.peers, n.Name)
	p.mu.Unlock()
	p.log.Info("peer left", zap.String("node_id", n.Name))
}

// NotifyUpdate implements memberlist.EventDelegate. Peer metadata
// updates carry nothing this adapter currently interprets.
func (p *Peering) NotifyUpdate(n *memberlist.Node) {}

// Peers returns a snapshot of every currently known peer.
func (p *Peering) Peers() []Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Endpoint, 0, len(p.peers))
	for _, ep := range p.peers {
		out = append(out, ep)
	}
	return out
}

// Peer synchronously joins the peer at address:port, retrying with
// backoff until ctx is done. A PeerUnavailable error is returned if
// ctx expires before the join succeeds.
func (p *Peering) Peer(ctx context.Context, address string, port int) error {
	target := fmt.Sprintf("%s:%d", address, port)
	op := func() error {
		if _, err := p.ml.Join([]string{target}); err != nil {
			return brokererr.Wrap(brokererr.PeerUnavailable, err, "join failed for "+target)
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(p.newBackoff(), ctx)); err != nil {
		return brokererr.Wrap(brokererr.PeerUnavailable, err, "peer never became reachable").
			WithEndpoint(brokererr.EndpointInfo{Address: address, Port: port})
	}
	return nil
}

// PeerNoSync starts an asynchronous peering attempt and returns
// immediately; failures after asyncTimeout are logged, not returned,
// matching spec.md's "peer_nosync" fire-and-forget variant of peer.
func (p *Peering) PeerNoSync(address string, port int) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.asyncTimeout)
		defer cancel()
		if err := p.Peer(ctx, address, port); err != nil {
			p.log.Warn("peer_nosync failed", zap.String("address", address), zap.Int("port", port), zap.Error(err))
		}
	}()
}

// Unpeer removes nodeID from the local peer set and calls Leave on the
// membership transport. Leave announces that this node itself is
// leaving the cluster; nodeID is not passed to the transport.
func (p *Peering) Unpeer(nodeID string) error {
	p.mu.Lock()
	delete(p.peers, nodeID)
	p.mu.Unlock()
	if err := p.ml.Leave(5 * time.Second); err != nil {
		return brokererr.Wrap(brokererr.PeerUnavailable, err, "leave failed")
	}
	return nil
}

// UnpeerNoSync is Unpeer's fire-and-forget counterpart.
func (p *Peering) UnpeerNoSync(nodeID string) {
	go func() {
		if err := p.Unpeer(nodeID); err != nil {
			p.log.Warn("unpeer_nosync failed", zap.String("node_id", nodeID), zap.Error(err))
		}
	}()
}

// Forward records that this node should receive broadcasts for the
// given store/topic names. Actual cluster-wide propagation of this
// preference is left to whatever memberlist.Delegate a deployment
// wires in for node metadata; this method is the local bookkeeping
// side of spec.md §6's forward(topics).
func (p *Peering) Forward(topics ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range topics {
		p.forwarding[t] = true
	}
}

// Forwarding reports whether this node currently forwards topic.
func (p *Peering) Forwarding(topic string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.forwarding[topic]
}

// Shutdown leaves the cluster and releases the membership transport.
func (p *Peering) Shutdown() error {
	return p.ml.Shutdown()
}
