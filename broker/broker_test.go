package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vx-labs/broker/channel"
	"github.com/vx-labs/broker/command"
	"github.com/vx-labs/broker/config"
	"github.com/vx-labs/broker/data"
	"github.com/vx-labs/broker/store"
)

type nopTransport struct{}

func (nopTransport) SendHandshake(string, channel.Seq)                      {}
func (nopTransport) SendEvent(string, channel.Event[command.Command])       {}
func (nopTransport) SendRetransmitFailed(string, channel.Seq)               {}

type nopAcker struct{}

func (nopAcker) SendCumulativeAck(channel.Seq) {}
func (nopAcker) SendNack([]channel.Seq)        {}

type recordingForwarder struct {
	forwarded []command.Command
}

func (f *recordingForwarder) Forward(cmd command.Command) { f.forwarded = append(f.forwarded, cmd) }

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	self := command.PublisherID{NodeID: "node-a", ActorID: "test"}
	return New(self, config.Options{MaxThreads: 1}, nil, nil)
}

func TestNewBrokerHasNoStoresOrPeersInitially(t *testing.T) {
	b := newTestBroker(t)
	assert.Nil(t, b.Master("kv"))
	assert.Nil(t, b.Clone("kv"))
	assert.Empty(t, b.Peers())
}

func TestMasterStoreRegistersAndIsRetrievable(t *testing.T) {
	b := newTestBroker(t)
	backend, err := store.NewMemDBBackend()
	require.NoError(t, err)

	m := b.MasterStore("kv", backend, nopTransport{}, nil, nil, nil)
	require.NotNil(t, m)
	assert.Same(t, m, b.Master("kv"))
}

func TestCloneStoreRegistersAndIsRetrievable(t *testing.T) {
	b := newTestBroker(t)
	backend, err := store.NewMemDBBackend()
	require.NoError(t, err)

	c := b.CloneStore("kv", "node-a", backend, nopAcker{}, &recordingForwarder{}, channel.ConsumerOptions{}, nil)
	require.NotNil(t, c)
	assert.Same(t, c, b.Clone("kv"))
}

func TestTickScansMasterExpiriesAndTicksClones(t *testing.T) {
	b := newTestBroker(t)
	masterBackend, err := store.NewMemDBBackend()
	require.NoError(t, err)
	m := b.MasterStore("kv", masterBackend, nopTransport{}, nil, nil, nil)
	cloneBackend, err := store.NewMemDBBackend()
	require.NoError(t, err)
	b.CloneStore("kv", "node-a", cloneBackend, nopAcker{}, &recordingForwarder{}, channel.ConsumerOptions{}, nil)

	due := command.Expiry{IsSet: true, Nanos: time.Now().Add(-time.Second).UnixNano()}
	require.NoError(t, m.Local(command.Put(data.String("k"), data.Integer(1), due, command.PublisherID{})))
	assert.True(t, m.Exists(data.String("k")))

	b.Tick(time.Now())
	assert.False(t, m.Exists(data.String("k")))
}

func TestOptionsReturnsWhatBrokerWasConstructedWith(t *testing.T) {
	self := command.PublisherID{NodeID: "node-a"}
	opts := config.Options{MaxThreads: 7}
	b := New(self, opts, nil, nil)
	assert.Equal(t, 7, b.Options().MaxThreads)
}
