package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport fans producer sends into per-consumer recorders, so
// tests can assert on exactly what a consumer would have received.
type fakeTransport struct {
	handshakes []struct {
		id  string
		seq Seq
	}
	events []struct {
		id string
		ev Event[string]
	}
	failed []struct {
		id  string
		seq Seq
	}
}

func (f *fakeTransport) SendHandshake(id string, firstSeq Seq) {
	f.handshakes = append(f.handshakes, struct {
		id  string
		seq Seq
	}{id, firstSeq})
}
func (f *fakeTransport) SendEvent(id string, ev Event[string]) {
	f.events = append(f.events, struct {
		id string
		ev Event[string]
	}{id, ev})
}
func (f *fakeTransport) SendRetransmitFailed(id string, seq Seq) {
	f.failed = append(f.failed, struct {
		id  string
		seq Seq
	}{id, seq})
}

type fakeBackend struct{ delivered []string }

func (f *fakeBackend) Deliver(p string) { f.delivered = append(f.delivered, p) }

type fakeAcker struct {
	acks  []Seq
	nacks [][]Seq
}

func (f *fakeAcker) SendCumulativeAck(seq Seq)  { f.acks = append(f.acks, seq) }
func (f *fakeAcker) SendNack(seqs []Seq)        { f.nacks = append(f.nacks, seqs) }

func TestHandshakeAndInOrderDelivery(t *testing.T) {
	transport := &fakeTransport{}
	p := NewProducer[string](transport, nil)
	require.NoError(t, p.Add("C"))
	p.Produce("a")
	p.Produce("b")

	require.Len(t, transport.handshakes, 1)
	assert.Equal(t, Seq(1), transport.handshakes[0].seq)
	require.Len(t, transport.events, 2)

	backend := &fakeBackend{}
	acker := &fakeAcker{}
	c := NewConsumer[string](backend, acker, ConsumerOptions{}, nil)
	c.HandleHandshake(transport.handshakes[0].seq)
	for _, e := range transport.events {
		c.HandleEvent(e.ev)
	}
	assert.Equal(t, []string{"a", "b"}, backend.delivered)

	c.Tick()
	require.Len(t, acker.acks, 1)
	assert.Equal(t, Seq(2), acker.acks[0])

	p.HandleAck("C", 2)
	assert.Equal(t, 0, p.BufLen())
	assert.True(t, p.Idle())
}

func TestLossNackRetransmit(t *testing.T) {
	transport := &fakeTransport{}
	p := NewProducer[string](transport, nil)
	require.NoError(t, p.Add("C"))
	p.Produce("1")
	p.Produce("2")
	p.Produce("3")

	backend := &fakeBackend{}
	acker := &fakeAcker{}
	c := NewConsumer[string](backend, acker, ConsumerOptions{NackTimeout: 1}, nil)
	c.HandleHandshake(1)
	// only 1 and 3 arrive
	c.HandleEvent(transport.events[0].ev)
	c.HandleEvent(transport.events[2].ev)
	assert.Equal(t, []string{"1"}, backend.delivered)

	c.Tick() // progressed (delivered "1" since the last tick) -> ack, no nack yet
	require.Len(t, acker.acks, 1)
	assert.Empty(t, acker.nacks)

	c.Tick() // no further progress, buf non-empty -> nack
	require.Len(t, acker.nacks, 1)
	assert.Equal(t, []Seq{2}, acker.nacks[0])

	p.HandleNack("C", acker.nacks[0])
	// event 2 resent
	last := transport.events[len(transport.events)-1]
	assert.Equal(t, Seq(2), last.ev.Seq)

	c.HandleEvent(last.ev)
	assert.Equal(t, []string{"1", "2", "3"}, backend.delivered)

	c.Tick()
	assert.Equal(t, Seq(3), acker.acks[len(acker.acks)-1])
}

func TestStaleAckEviction(t *testing.T) {
	transport := &fakeTransport{}
	p := NewProducer[string](transport, nil)
	require.NoError(t, p.Add("C1"))
	require.NoError(t, p.Add("C2"))
	for i := 0; i < 10; i++ {
		p.Produce("x")
	}
	p.HandleAck("C1", 5)
	p.HandleAck("C2", 5)
	assert.Equal(t, 5, p.BufLen())

	p.HandleAck("C1", 10)
	assert.Equal(t, 5, p.BufLen(), "must not evict while C2 still at 5")

	p.HandleAck("C2", 10)
	assert.Equal(t, 0, p.BufLen())
}

func TestAddRejectsDuplicateConsumer(t *testing.T) {
	p := NewProducer[string](&fakeTransport{}, nil)
	require.NoError(t, p.Add("C"))
	err := p.Add("C")
	assert.Error(t, err)
}

func TestNackZeroTriggersResync(t *testing.T) {
	transport := &fakeTransport{}
	p := NewProducer[string](transport, nil)
	require.NoError(t, p.Add("C"))
	p.Produce("a")
	p.HandleNack("C", []Seq{0})
	last := transport.handshakes[len(transport.handshakes)-1]
	assert.Equal(t, "C", last.id)
}

func TestNackBeyondSeqSendsRetransmitFailed(t *testing.T) {
	transport := &fakeTransport{}
	p := NewProducer[string](transport, nil)
	require.NoError(t, p.Add("C"))
	p.Produce("a")
	p.HandleNack("C", []Seq{5})
	require.Len(t, transport.failed, 1)
	assert.Equal(t, Seq(5), transport.failed[0].seq)
}

func TestIdempotentRedelivery(t *testing.T) {
	backend := &fakeBackend{}
	acker := &fakeAcker{}
	c := NewConsumer[string](backend, acker, ConsumerOptions{}, nil)
	c.HandleHandshake(1)
	c.HandleEvent(Event[string]{Seq: 1, Payload: "a"})
	c.HandleEvent(Event[string]{Seq: 1, Payload: "a"})
	assert.Equal(t, []string{"a"}, backend.delivered)
}
