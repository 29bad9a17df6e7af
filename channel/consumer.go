package channel

import (
	"sort"

	"github.com/google/btree"
	"go.uber.org/zap"
)

// bufItem is one out-of-order event waiting for its predecessors,
// ordered in the btree by Seq the way queues/inflight.Queue orders
// its deliverers by message id.
type bufItem[P any] struct {
	ev Event[P]
}

// Consumer delivers payloads to a Backend in strictly ascending
// sequence order, buffering out-of-order arrivals and driving
// ACK/NACK emission from a periodic Tick call (spec.md §4.2).
//
// Like Producer, a Consumer is owned by exactly one actor and is not
// safe for concurrent use.
type Consumer[P any] struct {
	nextSeq Seq
	buf     *btree.BTree // keyed by bufItem, ordered ascending by Seq

	tick        int
	lastTickSeq Seq
	idleTicks   int

	ackInterval int
	nackTimeout int

	backend Backend[P]
	acker   ConsumerAckSink
	log     *zap.Logger
}

// ConsumerAckSink is how a Consumer reports progress upstream. In a
// real deployment this routes over the network transport shim back to
// the producer's HandleAck/HandleNack.
type ConsumerAckSink interface {
	SendCumulativeAck(ackSeq Seq)
	SendNack(seqs []Seq)
}

// ConsumerOptions tunes ack/nack cadence; both must be >= 1, defaulting
// to 1 per spec.md §3.
type ConsumerOptions struct {
	AckInterval int
	NackTimeout int
}

func (o ConsumerOptions) withDefaults() ConsumerOptions {
	if o.AckInterval < 1 {
		o.AckInterval = 1
	}
	if o.NackTimeout < 1 {
		o.NackTimeout = 1
	}
	return o
}

type btreeItem[P any] struct{ *bufItem[P] }

func (b btreeItem[P]) Less(other btree.Item) bool {
	return b.ev.Seq < other.(btreeItem[P]).ev.Seq
}

// NewConsumer builds a Consumer delivering to backend and reporting
// progress through acker.
func NewConsumer[P any](backend Backend[P], acker ConsumerAckSink, opts ConsumerOptions, log *zap.Logger) *Consumer[P] {
	if log == nil {
		log = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &Consumer[P]{
		buf:         btree.New(2),
		ackInterval: opts.AckInterval,
		nackTimeout: opts.NackTimeout,
		backend:     backend,
		acker:       acker,
		log:         log,
	}
}

// NextSeq returns the first sequence number this consumer has not yet
// delivered.
func (c *Consumer[P]) NextSeq() Seq { return c.nextSeq }

// HandleHandshake processes a handshake{first_seq=offset}: offset is
// the sequence number of the first event this consumer should expect,
// so nextSeq becomes offset exactly (see DESIGN.md's resolution of the
// off-by-one between spec.md §4.2's prose and its own worked example
// in §8 scenario 1). Handshakes carrying an offset already passed are
// ignored (the consumer is already ahead).
func (c *Consumer[P]) HandleHandshake(offset Seq) {
	if offset < c.nextSeq {
		return
	}
	c.nextSeq = offset
	c.drain()
}

// HandleEvent processes one event arriving off the transport. Events
// at or behind nextSeq are either delivered (exact match) or discarded
// (stale duplicate); events ahead of nextSeq are buffered.
func (c *Consumer[P]) HandleEvent(ev Event[P]) {
	switch {
	case ev.Seq == c.nextSeq:
		c.backend.Deliver(ev.Payload)
		c.nextSeq++
		c.drain()
	case ev.Seq > c.nextSeq:
		item := btreeItem[P]{&bufItem[P]{ev: ev}}
		if c.buf.Get(item) != nil {
			return // duplicate, discard
		}
		c.buf.ReplaceOrInsert(item)
	default:
		// ev.Seq < c.nextSeq: already delivered, discard.
	}
}

// drain delivers every buffered event whose Seq picks up exactly
// where nextSeq left off.
func (c *Consumer[P]) drain() {
	for {
		min := c.buf.Min()
		if min == nil {
			return
		}
		head := min.(btreeItem[P])
		if head.ev.Seq != c.nextSeq {
			return
		}
		c.buf.DeleteMin()
		c.backend.Deliver(head.ev.Payload)
		c.nextSeq++
	}
}

// Tick is called by the transport shim at a fixed cadence and drives
// cumulative-ACK and NACK emission.
func (c *Consumer[P]) Tick() {
	progressed := c.nextSeq > c.lastTickSeq
	c.lastTickSeq = c.nextSeq
	c.tick++

	if progressed {
		c.idleTicks = 0
		if c.tick%c.ackInterval == 0 {
			c.sendAck()
		}
		return
	}

	c.idleTicks++
	if c.buf.Len() > 0 && c.idleTicks >= c.nackTimeout {
		c.idleTicks = 0
		c.acker.SendNack(c.missing())
		return
	}
	if c.tick%c.ackInterval == 0 {
		c.sendAck()
	}
}

func (c *Consumer[P]) sendAck() {
	ack := c.nextSeq - 1
	if c.nextSeq == 0 {
		ack = 0
	}
	c.acker.SendCumulativeAck(ack)
}

// missing computes the sorted set of sequences still absent between
// nextSeq and the highest buffered sequence.
func (c *Consumer[P]) missing() []Seq {
	max := c.buf.Max()
	if max == nil {
		return nil
	}
	last := max.(btreeItem[P]).ev.Seq
	present := make(map[Seq]bool)
	c.buf.Ascend(func(it btree.Item) bool {
		present[it.(btreeItem[P]).ev.Seq] = true
		return true
	})
	out := []Seq{}
	for s := c.nextSeq; s <= last; s++ {
		if !present[s] {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// BufLen exposes the current out-of-order buffer length, for tests.
func (c *Consumer[P]) BufLen() int { return c.buf.Len() }
