// Package eventbus is the sole inter-component communication channel
// for the minion fabric: a typed, rate-limited, in-process pub/sub
// with bounded history and isolated handler execution. No subsystem
// calls another's methods directly when the same information could
// instead be expressed as an event.
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nugget/minionfabric/internal/coremodel"
)

// DefaultRateLimit is the events-per-second budget assigned to a
// source the first time it emits, absent an explicit SetRateLimit.
const DefaultRateLimit = 10

// DefaultHistoryLimit bounds the in-memory ring of recent events.
const DefaultHistoryLimit = 1000

// defaultQueueSize is the per-subscription buffer. A subscriber slower
// than this falls behind and starts losing events, same tradeoff the
// teacher's events.Bus makes for WebSocket consumers.
const defaultQueueSize = 256

// Handler is invoked once per delivered event. It must not block
// indefinitely; a handler that blocks forever starves only its own
// subscription's queue, never the bus or sibling subscribers.
type Handler func(ctx context.Context, e coremodel.Event)

// SubscriptionID identifies one Subscribe call so it can later be
// passed to Unsubscribe.
type SubscriptionID string

// ErrRateLimited is returned by Emit when the source has exhausted its
// per-second budget.
type ErrRateLimited struct {
	Source string
}

func (e ErrRateLimited) Error() string {
	return fmt.Sprintf("eventbus: source %q rate-limited", e.Source)
}

type subscription struct {
	id      SubscriptionID
	evType  coremodel.EventType
	handler Handler
	queue   chan coremodel.Event
	cancel  context.CancelFunc
}

// Bus is the event bus. The zero value is not usable, and neither is a
// nil *Bus; construct with New. Unlike the teacher's events.Bus it
// owns goroutines (one worker per subscription) and must be Closed.
type Bus struct {
	log *zap.Logger

	mu        sync.RWMutex
	subsByTyp map[coremodel.EventType][]*subscription
	nextSubID uint64

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
	limits     map[string]float64

	historyMu    sync.Mutex
	history      []coremodel.Event
	historyLimit int

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	now func() time.Time
}

// New constructs a ready-to-use Bus. log may be nil, in which case a
// no-op logger is used.
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)
	return &Bus{
		log:          log,
		subsByTyp:    make(map[coremodel.EventType][]*subscription),
		limiters:     make(map[string]*rate.Limiter),
		limits:       make(map[string]float64),
		historyLimit: DefaultHistoryLimit,
		group:        eg,
		ctx:          egCtx,
		cancel:       cancel,
		now:          time.Now,
	}
}

// Close cancels every subscription worker and waits for them to exit.
// Events still waiting in a subscription's queue are not delivered.
// Safe to call once.
func (b *Bus) Close() error {
	b.mu.Lock()
	var cancels []context.CancelFunc
	for _, subs := range b.subsByTyp {
		for _, s := range subs {
			cancels = append(cancels, s.cancel)
		}
	}
	b.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	b.cancel()
	return b.group.Wait()
}

// Subscribe appends handler to the list for t and starts a dedicated
// worker goroutine that delivers events to it in emission order.
// Returns ErrUnknownEventType if t is not in coremodel.KnownEventTypes.
func (b *Bus) Subscribe(t coremodel.EventType, handler Handler) (SubscriptionID, error) {
	if !coremodel.IsKnownEventType(t) {
		return "", coremodel.ErrUnknownEventType{Type: t}
	}
	subCtx, cancel := context.WithCancel(b.ctx)
	b.mu.Lock()
	b.nextSubID++
	id := SubscriptionID(fmt.Sprintf("sub_%d", b.nextSubID))
	sub := &subscription{
		id:      id,
		evType:  t,
		handler: handler,
		queue:   make(chan coremodel.Event, defaultQueueSize),
		cancel:  cancel,
	}
	b.subsByTyp[t] = append(b.subsByTyp[t], sub)
	b.mu.Unlock()

	b.group.Go(func() error {
		b.runSubscriber(subCtx, sub)
		return nil
	})
	return id, nil
}

// SubscribeAll registers handler for every known event type and
// returns one subscription id per type.
func (b *Bus) SubscribeAll(handler Handler) ([]SubscriptionID, error) {
	ids := make([]SubscriptionID, 0, len(coremodel.KnownEventTypes))
	for _, t := range coremodel.KnownEventTypes {
		id, err := b.Subscribe(t, handler)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Unsubscribe removes subscription id from whatever type it was
// registered under. O(handlers-per-type). Unknown ids are a no-op.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for t, subs := range b.subsByTyp {
		for i, s := range subs {
			if s.id != id {
				continue
			}
			s.cancel()
			b.subsByTyp[t] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) runSubscriber(ctx context.Context, sub *subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.queue:
			if !ok {
				return
			}
			b.invoke(ctx, sub, e)
		}
	}
}

// invoke runs handler under a panic barrier: a panicking handler is
// logged and never affects sibling subscribers or future events.
func (b *Bus) invoke(ctx context.Context, sub *subscription, e coremodel.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("eventbus: handler panicked",
				zap.String("subscription_id", string(sub.id)),
				zap.String("event_type", string(e.Type)),
				zap.String("event_id", e.ID),
				zap.Any("panic", r),
			)
		}
	}()
	sub.handler(ctx, e)
}

// limiterFor returns the rate.Limiter for source, creating one at
// DefaultRateLimit (or a previously configured limit) on first use.
func (b *Bus) limiterFor(source string) *rate.Limiter {
	b.limitersMu.Lock()
	defer b.limitersMu.Unlock()
	if l, ok := b.limiters[source]; ok {
		return l
	}
	eps := DefaultRateLimit
	if v, ok := b.limits[source]; ok {
		eps = int(v)
	}
	l := rate.NewLimiter(rate.Limit(eps), eps)
	b.limiters[source] = l
	return l
}

// SetRateLimit sets source's events-per-second budget. Takes effect
// immediately, including for a source that has already emitted.
func (b *Bus) SetRateLimit(source string, eventsPerSecond int) {
	b.limitersMu.Lock()
	b.limits[source] = float64(eventsPerSecond)
	delete(b.limiters, source) // recreated fresh on next Emit
	b.limitersMu.Unlock()
}

// Emit publishes an event of type t from source. Returns
// ErrUnknownEventType if t is not a known type and ErrRateLimited if
// source's budget is exhausted; emission otherwise succeeds and
// returns promptly, before handlers run.
func (b *Bus) Emit(t coremodel.EventType, data, metadata map[string]any, source string) (coremodel.Event, error) {
	if !coremodel.IsKnownEventType(t) {
		return coremodel.Event{}, coremodel.ErrUnknownEventType{Type: t}
	}
	if !b.limiterFor(source).Allow() {
		return coremodel.Event{}, ErrRateLimited{Source: source}
	}
	e := coremodel.NewEvent(t, source, data, metadata, b.now())
	b.appendHistory(e)
	b.dispatch(e)
	return e, nil
}

// EmitChannelMessage is the convenience wrapper the Channel Service
// uses on its single message write-path. messageID should be the id of
// the already-persisted message this event describes, so a consumer
// (wsbridge, an agent runtime) can correlate the event back to its
// stored record; pass "" to have the bus mint one itself for callers
// with no persisted message to key off of.
func (b *Bus) EmitChannelMessage(channelID, senderID, content, messageID, source string, metadata map[string]any) (coremodel.Event, error) {
	if messageID == "" {
		messageID = coremodel.NewMessageID()
	}
	now := b.now()
	data := map[string]any{
		"message_id": messageID,
		"channel_id": channelID,
		"sender_id":  senderID,
		"content":    content,
		"timestamp":  now,
	}
	return b.Emit(coremodel.EventChannelMessage, data, metadata, source)
}

func (b *Bus) dispatch(e coremodel.Event) {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subsByTyp[e.Type]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub.queue <- e:
		default:
			b.log.Warn("eventbus: subscriber queue full, dropping event",
				zap.String("subscription_id", string(sub.id)),
				zap.String("event_type", string(e.Type)),
				zap.String("event_id", e.ID),
			)
		}
	}
}

func (b *Bus) appendHistory(e coremodel.Event) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()
	b.history = append(b.history, e)
	if over := len(b.history) - b.historyLimit; over > 0 {
		b.history = b.history[over:]
	}
}

// RecentEvents returns up to limit most-recent events, newest last,
// optionally filtered by type. limit <= 0 means no cap.
func (b *Bus) RecentEvents(t *coremodel.EventType, limit int) []coremodel.Event {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()
	var out []coremodel.Event
	for _, e := range b.history {
		if t != nil && e.Type != *t {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// ClearHistory empties the history ring.
func (b *Bus) ClearHistory() {
	b.historyMu.Lock()
	b.history = nil
	b.historyMu.Unlock()
}
