package channel

import "go.uber.org/zap"

// ErrConsumerExists is returned by Producer.Add when a path already
// exists for the given consumer id.
type ErrConsumerExists struct{ ConsumerID string }

func (e *ErrConsumerExists) Error() string {
	return "consumer_exists: " + e.ConsumerID
}

// path is the producer-side bookkeeping for one registered consumer
// (spec.md §3 "Producer state").
type path struct {
	consumerID string
	offset     Seq
	acked      Seq
}

// Producer assigns sequence numbers to produced payloads, fans them
// out to every registered consumer path, and retains unacknowledged
// events until every path has caught up.
//
// Producer is owned by exactly one actor (spec.md §5); none of its
// methods are safe for concurrent use, mirroring how
// queues/inflight.Queue is only ever touched from its owning worker.
type Producer[P any] struct {
	seq       Seq
	buf       []Event[P] // sorted ascending by Seq, head = oldest
	paths     []*path
	transport Transport[P]
	log       *zap.Logger
}

// NewProducer builds a Producer that fans out over the given
// transport. log may be nil, in which case a no-op logger is used.
func NewProducer[P any](transport Transport[P], log *zap.Logger) *Producer[P] {
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer[P]{transport: transport, log: log}
}

// Seq returns the last assigned sequence number.
func (p *Producer[P]) Seq() Seq { return p.seq }

// Produce assigns the next sequence number to payload, buffers it,
// and fans it out to every registered consumer. It never fails: a
// producer with no demand still advances its own sequence counter.
func (p *Producer[P]) Produce(payload P) Seq {
	p.seq++
	ev := Event[P]{Seq: p.seq, Payload: payload}
	p.buf = append(p.buf, ev)
	for _, pth := range p.paths {
		p.transport.SendEvent(pth.consumerID, ev)
	}
	return p.seq
}

// Add registers a new consumer path and sends it its handshake. It
// rejects a consumer id that is already registered.
func (p *Producer[P]) Add(consumerID string) error {
	for _, pth := range p.paths {
		if pth.consumerID == consumerID {
			return &ErrConsumerExists{ConsumerID: consumerID}
		}
	}
	offset := p.seq + 1
	p.paths = append(p.paths, &path{
		consumerID: consumerID,
		offset:     offset,
		acked:      p.seq,
	})
	p.transport.SendHandshake(consumerID, offset)
	return nil
}

// Remove tears down a path, e.g. after the monitored endpoint link to
// that consumer is permanently lost (spec.md §4.4 failure model). The
// consumer will re-synchronize by requesting a fresh snapshot.
func (p *Producer[P]) Remove(consumerID string) {
	for i, pth := range p.paths {
		if pth.consumerID == consumerID {
			p.paths = append(p.paths[:i], p.paths[i+1:]...)
			return
		}
	}
}

func (p *Producer[P]) findPath(consumerID string) *path {
	for _, pth := range p.paths {
		if pth.consumerID == consumerID {
			return pth
		}
	}
	return nil
}

func (p *Producer[P]) minAcked() Seq {
	if len(p.paths) == 0 {
		return p.seq
	}
	min := p.paths[0].acked
	for _, pth := range p.paths[1:] {
		if pth.acked < min {
			min = pth.acked
		}
	}
	return min
}

// evict drops every buffered event with Seq <= the current min-acked
// watermark across all paths.
func (p *Producer[P]) evict() {
	min := p.minAcked()
	i := 0
	for i < len(p.buf) && p.buf[i].Seq <= min {
		i++
	}
	if i > 0 {
		p.buf = p.buf[i:]
	}
}

// HandleAck processes a cumulative ACK from one consumer. Unknown ids
// are ignored. ACKs beyond the producer's current seq are clamped, not
// treated as a protocol error.
func (p *Producer[P]) HandleAck(consumerID string, ackSeq Seq) {
	pth := p.findPath(consumerID)
	if pth == nil {
		p.log.Debug("ack from unknown consumer ignored", zap.String("consumer_id", consumerID))
		return
	}
	if ackSeq > p.seq {
		ackSeq = p.seq
	}
	pth.acked = ackSeq
	p.evict()
}

// HandleNack processes a NACK (ascending list of missing sequences).
// An empty list is ignored. A leading 0 means the consumer lost
// synchronization entirely and is re-sent its handshake. Otherwise
// seqs[0]-1 is folded in as a cumulative ack, and each requested
// sequence is either resent (if still buffered) or reported as
// retransmit_failed (if already evicted).
func (p *Producer[P]) HandleNack(consumerID string, seqs []Seq) {
	if len(seqs) == 0 {
		return
	}
	pth := p.findPath(consumerID)
	if pth == nil {
		p.log.Debug("nack from unknown consumer ignored", zap.String("consumer_id", consumerID))
		return
	}
	if seqs[0] == 0 {
		p.transport.SendHandshake(consumerID, pth.offset)
		return
	}
	p.HandleAck(consumerID, seqs[0]-1)
	for _, seq := range seqs {
		if ev, ok := p.find(seq); ok {
			p.transport.SendEvent(consumerID, ev)
		} else {
			p.transport.SendRetransmitFailed(consumerID, seq)
		}
	}
}

func (p *Producer[P]) find(seq Seq) (Event[P], bool) {
	for _, ev := range p.buf {
		if ev.Seq == seq {
			return ev, true
		}
		if ev.Seq > seq {
			break
		}
	}
	return Event[P]{}, false
}

// Idle reports whether every path has acknowledged up to the current
// sequence number, i.e. there is nothing left in flight.
func (p *Producer[P]) Idle() bool {
	for _, pth := range p.paths {
		if pth.acked != p.seq {
			return false
		}
	}
	return true
}

// BufLen exposes the current unacked buffer length, mainly for tests
// and metrics (spec.md §8 "Buffer reclamation").
func (p *Producer[P]) BufLen() int { return len(p.buf) }
