package eventbus_test

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/minionfabric/internal/coremodel"
	"github.com/nugget/minionfabric/internal/eventbus"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition never became true")
}

func TestEmitChannelMessageSingleSubscriber(t *testing.T) {
	b := eventbus.New(nil)
	defer b.Close()

	var got atomic.Int64
	var lastContent string
	var lastID string
	var mu sync.Mutex

	_, err := b.Subscribe(coremodel.EventChannelMessage, func(ctx context.Context, e coremodel.Event) {
		mu.Lock()
		lastContent = e.Data["content"].(string)
		lastID = e.Data["message_id"].(string)
		mu.Unlock()
		got.Add(1)
	})
	require.NoError(t, err)

	_, err = b.EmitChannelMessage("general", "u1", "hi", "", "test", nil)
	require.NoError(t, err)

	waitFor(t, func() bool { return got.Load() == 1 })

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "hi", lastContent)
	assert.Regexp(t, regexp.MustCompile(`^msg_[0-9a-fA-F-]{36}$`), lastID)
}

func TestConcurrentSendsProduceUniqueIDs(t *testing.T) {
	b := eventbus.New(nil)
	defer b.Close()

	const n = 20
	b.SetRateLimit("test", n) // the default budget of 10/s would reject half the sends
	var mu sync.Mutex
	seen := make(map[string]string)

	_, err := b.Subscribe(coremodel.EventChannelMessage, func(ctx context.Context, e coremodel.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen[e.Data["message_id"].(string)] = e.Data["content"].(string)
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := b.EmitChannelMessage("c1", "u", "msg", "", "test", nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == n
	})
}

func TestOrderingPerSubscriberMatchesEmission(t *testing.T) {
	b := eventbus.New(nil)
	defer b.Close()

	var mu sync.Mutex
	var order []string

	_, err := b.Subscribe(coremodel.EventChannelMessage, func(ctx context.Context, e coremodel.Event) {
		mu.Lock()
		order = append(order, e.Data["content"].(string))
		mu.Unlock()
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := b.EmitChannelMessage("c1", "u1", string(rune('a'+i)), "", "test", nil)
		require.NoError(t, err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 10
	})

	mu.Lock()
	defer mu.Unlock()
	for i, c := range order {
		assert.Equal(t, string(rune('a'+i)), c)
	}
}

func TestRateLimitBoundary(t *testing.T) {
	b := eventbus.New(nil)
	defer b.Close()
	b.SetRateLimit("spammer", 2)

	successes, rejections := 0, 0
	for i := 0; i < 5; i++ {
		_, err := b.Emit(coremodel.EventSystemHealth, nil, nil, "spammer")
		if err == nil {
			successes++
		} else {
			assert.ErrorAs(t, err, &eventbus.ErrRateLimited{})
			rejections++
		}
	}
	assert.Equal(t, 2, successes)
	assert.Equal(t, 3, rejections)

	time.Sleep(1100 * time.Millisecond)
	_, err := b.Emit(coremodel.EventSystemHealth, nil, nil, "spammer")
	assert.NoError(t, err)
}

func TestHandlerIsolation(t *testing.T) {
	b := eventbus.New(nil)
	defer b.Close()

	var recorded atomic.Int64
	_, err := b.Subscribe(coremodel.EventChannelMessage, func(ctx context.Context, e coremodel.Event) {
		panic("boom")
	})
	require.NoError(t, err)
	_, err = b.Subscribe(coremodel.EventChannelMessage, func(ctx context.Context, e coremodel.Event) {
		recorded.Add(1)
	})
	require.NoError(t, err)

	_, err = b.EmitChannelMessage("c1", "u1", "x", "", "test", nil)
	require.NoError(t, err)

	waitFor(t, func() bool { return recorded.Load() == 1 })

	_, err = b.EmitChannelMessage("c1", "u1", "y", "", "test", nil)
	require.NoError(t, err)
	waitFor(t, func() bool { return recorded.Load() == 2 })
}

func TestUnknownEventTypeRejected(t *testing.T) {
	b := eventbus.New(nil)
	defer b.Close()

	_, err := b.Subscribe(coremodel.EventType("bogus.type"), func(context.Context, coremodel.Event) {})
	assert.Error(t, err)

	_, err = b.Emit(coremodel.EventType("bogus.type"), nil, nil, "test")
	assert.Error(t, err)
}

func TestSubscribeAllCoversEveryKnownType(t *testing.T) {
	b := eventbus.New(nil)
	defer b.Close()

	ids, err := b.SubscribeAll(func(context.Context, coremodel.Event) {})
	require.NoError(t, err)
	assert.Len(t, ids, len(coremodel.KnownEventTypes))
}

func TestRecentEventsAndClearHistory(t *testing.T) {
	b := eventbus.New(nil)
	defer b.Close()

	for i := 0; i < 3; i++ {
		_, err := b.Emit(coremodel.EventSystemHealth, nil, nil, "probe")
		require.NoError(t, err)
	}
	assert.Len(t, b.RecentEvents(nil, 0), 3)

	b.ClearHistory()
	assert.Len(t, b.RecentEvents(nil, 0), 0)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := eventbus.New(nil)
	defer b.Close()

	var got atomic.Int64
	id, err := b.Subscribe(coremodel.EventSystemHealth, func(context.Context, coremodel.Event) {
		got.Add(1)
	})
	require.NoError(t, err)

	_, err = b.Emit(coremodel.EventSystemHealth, nil, nil, "probe")
	require.NoError(t, err)
	waitFor(t, func() bool { return got.Load() == 1 })

	b.Unsubscribe(id)

	_, err = b.Emit(coremodel.EventSystemHealth, nil, nil, "probe")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), got.Load())
}
