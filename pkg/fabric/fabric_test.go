package fabric

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/store"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/types"
)

func newTestStore(t *testing.T, mr *miniredis.Miniredis) *store.Store {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	s, err := store.NewClient(context.Background(), store.Config{Host: mr.Host(), Port: port}, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestLocalSubscriberReceivesPublishedEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()
	s := newTestStore(t, mr)
	f := New(s)
	ctx := context.Background()

	received := make(chan types.MessageEvent, 1)
	unsub := f.Subscribe(ctx, "sess-1", func(evt types.MessageEvent) {
		received <- evt
	})
	defer unsub()

	require.NoError(t, f.Publish(ctx, "sess-1", types.MessageEvent{Type: types.EventUserPrompt, Content: "hello"}))

	select {
	case evt := <-received:
		assert.Equal(t, "hello", evt.Content)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for local delivery")
	}
}

func TestOwnPublishNotDeliveredTwice(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()
	s := newTestStore(t, mr)
	f := New(s)
	ctx := context.Background()

	var mu sync.Mutex
	count := 0
	unsub := f.Subscribe(ctx, "sess-1", func(evt types.MessageEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	defer unsub()

	require.NoError(t, f.Publish(ctx, "sess-1", types.MessageEvent{Type: types.EventUserPrompt, Content: "hello"}))

	// give the bridge goroutine a chance to receive the echo, if any
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count, "own publish must be delivered exactly once")
}

func TestCrossProcessDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()
	s1 := newTestStore(t, mr)
	s2 := newTestStore(t, mr)
	f1 := New(s1)
	f2 := New(s2)
	ctx := context.Background()

	received := make(chan types.MessageEvent, 1)
	unsub := f2.Subscribe(ctx, "sess-1", func(evt types.MessageEvent) {
		received <- evt
	})
	defer unsub()

	require.NoError(t, f1.Publish(ctx, "sess-1", types.MessageEvent{Type: types.EventAgentResponse, Content: "from f1"}))

	select {
	case evt := <-received:
		assert.Equal(t, "from f1", evt.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cross-process delivery")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()
	s := newTestStore(t, mr)
	f := New(s)
	ctx := context.Background()

	var mu sync.Mutex
	count := 0
	unsub := f.Subscribe(ctx, "sess-1", func(evt types.MessageEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	unsub()

	require.NoError(t, f.Publish(ctx, "sess-1", types.MessageEvent{Type: types.EventUserPrompt, Content: "after unsub"}))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, f.SubscriberCount("sess-1"))
}

func TestPanickingSubscriberDoesNotAffectOthers(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()
	s := newTestStore(t, mr)
	f := New(s)
	ctx := context.Background()

	received := make(chan struct{}, 1)
	unsub1 := f.Subscribe(ctx, "sess-1", func(evt types.MessageEvent) {
		panic("boom")
	})
	defer unsub1()
	unsub2 := f.Subscribe(ctx, "sess-1", func(evt types.MessageEvent) {
		received <- struct{}{}
	})
	defer unsub2()

	require.NoError(t, f.Publish(ctx, "sess-1", types.MessageEvent{Type: types.EventUserPrompt, Content: "hi"}))

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("well-behaved subscriber never received event")
	}
}

func TestMultipleSessionsAreIsolated(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()
	s := newTestStore(t, mr)
	f := New(s)
	ctx := context.Background()

	var gotA, gotB bool
	unsubA := f.Subscribe(ctx, "sess-a", func(evt types.MessageEvent) { gotA = true })
	defer unsubA()
	unsubB := f.Subscribe(ctx, "sess-b", func(evt types.MessageEvent) { gotB = true })
	defer unsubB()

	require.NoError(t, f.Publish(ctx, "sess-a", types.MessageEvent{Type: types.EventUserPrompt, Content: "a"}))
	time.Sleep(50 * time.Millisecond)

	assert.True(t, gotA)
	assert.False(t, gotB)
}
