package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishAndGetInOrder(t *testing.T) {
	sub := NewSubscriber[int](4)
	pub := sub.NewPublisher()

	require.NoError(t, pub.Publish(context.Background(), 1))
	require.NoError(t, pub.Publish(context.Background(), 2))

	v, err := sub.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = sub.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestTryPublishFailsWhenFull(t *testing.T) {
	sub := NewSubscriber[int](1)
	pub := sub.NewPublisher()

	assert.True(t, pub.TryPublish(1))
	assert.False(t, pub.TryPublish(2))

	v, ok := sub.TryGet()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestGetTimeoutOnEmptyQueue(t *testing.T) {
	sub := NewSubscriber[int](1)
	_, ok := sub.GetTimeout(10 * time.Millisecond)
	assert.False(t, ok)
}

func TestPublishBlocksUntilSpaceThenUnblocks(t *testing.T) {
	sub := NewSubscriber[int](1)
	pub := sub.NewPublisher()
	require.NoError(t, pub.Publish(context.Background(), 1))

	done := make(chan error, 1)
	go func() {
		done <- pub.Publish(context.Background(), 2)
	}()

	select {
	case <-done:
		t.Fatal("publish should have blocked on a full queue")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := sub.Get(context.Background())
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publish never unblocked after space freed up")
	}
}

func TestMultiplePublishersShareOneSubscriberQueue(t *testing.T) {
	sub := NewSubscriber[int](10)
	a := sub.NewPublisher()
	b := sub.NewPublisher()

	require.NoError(t, a.Publish(context.Background(), 1))
	require.NoError(t, b.Publish(context.Background(), 2))

	assert.Equal(t, 2, sub.Stats().Buffered)
}

func TestCooperativeCloseLeavesBufferedItemsReadable(t *testing.T) {
	sub := NewSubscriber[int](2)
	pub := sub.NewPublisher()
	require.NoError(t, pub.Publish(context.Background(), 1))

	sub.Close(Cooperative)

	v, ok := sub.TryGet()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.False(t, pub.TryPublish(2))
}

func TestImmediateCloseDropsBufferedItems(t *testing.T) {
	sub := NewSubscriber[int](2)
	pub := sub.NewPublisher()
	require.NoError(t, pub.Publish(context.Background(), 1))

	sub.Close(Immediate)

	_, ok := sub.TryGet()
	assert.False(t, ok)
}

func TestGetNReturnsUpToNBufferedItems(t *testing.T) {
	sub := NewSubscriber[int](5)
	pub := sub.NewPublisher()
	for i := 1; i <= 4; i++ {
		require.True(t, pub.TryPublish(i))
	}

	got, err := sub.GetN(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got)

	got, err = sub.GetN(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, got)
}

func TestTryGetNReturnsFalseWhenEmpty(t *testing.T) {
	sub := NewSubscriber[int](2)
	got, ok := sub.TryGetN(2)
	assert.False(t, ok)
	assert.Empty(t, got)
}

func TestGetNTimeoutExpiresWhenNothingArrives(t *testing.T) {
	sub := NewSubscriber[int](2)
	got, ok := sub.GetNTimeout(10*time.Millisecond, 2)
	assert.False(t, ok)
	assert.Empty(t, got)
}

func TestGetAllDrainsEverythingBuffered(t *testing.T) {
	sub := NewSubscriber[int](5)
	pub := sub.NewPublisher()
	for i := 1; i <= 3; i++ {
		require.True(t, pub.TryPublish(i))
	}

	got, err := sub.GetAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)

	_, ok := sub.TryGet()
	assert.False(t, ok)
}

func TestTryGetAllReturnsFalseWhenEmpty(t *testing.T) {
	sub := NewSubscriber[int](2)
	got, ok := sub.TryGetAll()
	assert.False(t, ok)
	assert.Empty(t, got)
}

func TestRateCounterAveragesOverWindow(t *testing.T) {
	r := NewRateCounter()
	r.Sample(0)
	for i := 1; i <= 10; i++ {
		r.Sample(uint64(i * 5)) // 5 events per 1Hz tick => 5/s
	}
	assert.InDelta(t, 5.0, r.Rate(), 0.001)
}

func TestStatsReportsCapacityAndPending(t *testing.T) {
	sub := NewSubscriber[int](5)
	pub := sub.NewPublisher()
	require.NoError(t, pub.Publish(context.Background(), 1))

	st := sub.Stats()
	assert.Equal(t, 5, st.Capacity)
	assert.Equal(t, 1, st.Buffered)
	assert.Equal(t, 4, st.Pending)
}
