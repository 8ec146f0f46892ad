// Package eventbus provides the in-process event bus that connects the
// domain's publishers to registered handlers and live WebSocket
// subscribers. Events flow through three priority tiers, each drained by
// its own dispatch loop, and handlers execute on a bounded worker pool so
// a slow handler never stalls dispatch.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"appraisal-backend/internal/config"
	"appraisal-backend/internal/domain/events"
	"appraisal-backend/internal/infrastructure/observability"
	apperrors "appraisal-backend/pkg/errors"
)

const (
	defaultQueueSize        = 1000
	defaultSubscriberBuffer = 100
)

// Bus routes events to handlers and WebSocket subscribers.
//
// Publish is fire-and-forget and never blocks. When an event's own tier is
// full it cascades to the next lower tier, and when every tier is full it
// is dropped and logged. Delivery is at most once per destination.
type Bus struct {
	queues [3]chan events.Event

	handlerMu sync.RWMutex
	handlers  map[events.Type][]events.Handler

	subMu       sync.RWMutex
	subscribers map[string]chan events.Event

	pool             *workerPool
	subscriberBuffer int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	logger  *zap.Logger
	metrics *observability.Collector

	published       int64
	cascaded        int64
	dropped         int64
	subscriberDrops int64
}

// Stats is a point-in-time snapshot of bus activity.
type Stats struct {
	QueueDepths     map[string]int `json:"queue_depths"`
	QueueCapacity   int            `json:"queue_capacity"`
	Published       int64          `json:"published"`
	Cascaded        int64          `json:"cascaded"`
	Dropped         int64          `json:"dropped"`
	HandlerTypes    int            `json:"handler_types"`
	Subscribers     int            `json:"subscribers"`
	SubscriberDrops int64          `json:"subscriber_drops"`
}

// New creates a Bus from the events configuration. Zero config values fall
// back to the package defaults. The bus does not dispatch until Start is
// called; events published before Start simply wait in their tier queues.
func New(cfg config.Events, logger *zap.Logger, metrics *observability.Collector) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	subscriberBuffer := cfg.SubscriberBuffer
	if subscriberBuffer <= 0 {
		subscriberBuffer = defaultSubscriberBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bus{
		handlers:         make(map[events.Type][]events.Handler),
		subscribers:      make(map[string]chan events.Event),
		pool:             newWorkerPool(cfg.Workers, queueSize, cfg.HandlerTimeout, logger, metrics),
		subscriberBuffer: subscriberBuffer,
		ctx:              ctx,
		cancel:           cancel,
		logger:           logger,
		metrics:          metrics,
	}
	for i := range b.queues {
		b.queues[i] = make(chan events.Event, queueSize)
	}
	return b
}

// Start launches the worker pool and one dispatch loop per priority tier.
func (b *Bus) Start() {
	b.startOnce.Do(func() {
		b.pool.Start()
		for _, tier := range []events.Priority{events.PriorityHigh, events.PriorityNormal, events.PriorityLow} {
			b.wg.Add(1)
			go b.dispatchLoop(tier)
		}
		b.logger.Info("event bus started",
			zap.Int("queueCapacity", cap(b.queues[0])),
			zap.Int("workers", b.pool.workers),
		)
	})
}

// Stop shuts down dispatch and closes every subscriber channel. Events
// still queued when Stop is called are discarded.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		b.cancel()
		b.wg.Wait()
		b.pool.Stop()

		b.subMu.Lock()
		for id, ch := range b.subscribers {
			close(ch)
			delete(b.subscribers, id)
		}
		b.subMu.Unlock()

		remaining := 0
		for i := range b.queues {
			remaining += len(b.queues[i])
		}
		if remaining > 0 {
			b.logger.Warn("event bus stopped with undelivered events", zap.Int("remaining", remaining))
			return
		}
		b.logger.Info("event bus stopped")
	})
}

// Publish enqueues an event for dispatch and returns immediately. The
// event's priority selects the starting tier; if that tier's queue is full
// the event cascades downward (high to normal to low) and lands on the
// first tier with room. When every tier from the starting one down is full
// the event is dropped and logged. Publish never blocks the caller.
func (b *Bus) Publish(event events.Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	tier := event.Priority()
	for t := tier; t <= events.PriorityLow; t++ {
		select {
		case b.queues[t] <- event:
			atomic.AddInt64(&b.published, 1)
			b.metrics.RecordEventPublished(string(event.Type), t.String())
			if t != tier {
				atomic.AddInt64(&b.cascaded, 1)
				b.metrics.RecordEventCascaded(string(event.Type))
				b.logger.Debug("event cascaded to lower tier",
					zap.String("eventType", string(event.Type)),
					zap.String("from", tier.String()),
					zap.String("to", t.String()),
				)
			}
			return
		default:
		}
	}

	atomic.AddInt64(&b.dropped, 1)
	b.metrics.RecordEventDropped(string(event.Type))
	b.logger.Warn("event dropped, all queues full",
		zap.String("eventType", string(event.Type)),
		zap.String("eventID", event.ID),
		zap.String("tier", tier.String()),
	)
}

// Subscribe registers a handler for every event type it declares. A
// handler registered twice is invoked twice; callers own idempotency.
func (b *Bus) Subscribe(handler events.Handler) error {
	if handler == nil {
		return apperrors.NewValidation("handler must not be nil")
	}
	types := handler.EventTypes()
	if len(types) == 0 {
		return apperrors.NewValidation("handler declares no event types")
	}
	for _, t := range types {
		if !t.Valid() {
			return apperrors.NewValidation("unknown event type: " + string(t))
		}
	}

	b.handlerMu.Lock()
	defer b.handlerMu.Unlock()
	for _, t := range types {
		b.handlers[t] = append(b.handlers[t], handler)
	}

	b.logger.Info("event handler registered",
		zap.String("handler", handler.Name()),
		zap.Int("eventTypes", len(types)),
	)
	return nil
}

// SubscribeWebSocket registers a live subscriber and returns its event
// channel. Subscribing again with the same connection ID closes the old
// channel and replaces it, so a reconnecting client never leaves a stale
// channel behind.
func (b *Bus) SubscribeWebSocket(connectionID string) <-chan events.Event {
	ch := make(chan events.Event, b.subscriberBuffer)

	b.subMu.Lock()
	if old, ok := b.subscribers[connectionID]; ok {
		close(old)
	}
	b.subscribers[connectionID] = ch
	count := len(b.subscribers)
	b.subMu.Unlock()

	b.metrics.SetSubscribers(count)
	b.logger.Info("websocket subscriber registered",
		zap.String("connectionID", connectionID),
		zap.Int("subscribers", count),
	)
	return ch
}

// UnsubscribeWebSocket removes a subscriber and closes its channel. It is
// a no-op for unknown connection IDs, so disconnect paths may call it
// unconditionally.
func (b *Bus) UnsubscribeWebSocket(connectionID string) {
	b.subMu.Lock()
	ch, ok := b.subscribers[connectionID]
	if ok {
		close(ch)
		delete(b.subscribers, connectionID)
	}
	count := len(b.subscribers)
	b.subMu.Unlock()

	if !ok {
		return
	}
	b.metrics.SetSubscribers(count)
	b.logger.Info("websocket subscriber removed",
		zap.String("connectionID", connectionID),
		zap.Int("subscribers", count),
	)
}

// Stats returns a snapshot of queue depths and lifetime counters.
func (b *Bus) Stats() Stats {
	depths := map[string]int{
		events.PriorityHigh.String():   len(b.queues[events.PriorityHigh]),
		events.PriorityNormal.String(): len(b.queues[events.PriorityNormal]),
		events.PriorityLow.String():    len(b.queues[events.PriorityLow]),
	}

	b.handlerMu.RLock()
	handlerTypes := len(b.handlers)
	b.handlerMu.RUnlock()

	b.subMu.RLock()
	subscribers := len(b.subscribers)
	b.subMu.RUnlock()

	return Stats{
		QueueDepths:     depths,
		QueueCapacity:   cap(b.queues[0]),
		Published:       atomic.LoadInt64(&b.published),
		Cascaded:        atomic.LoadInt64(&b.cascaded),
		Dropped:         atomic.LoadInt64(&b.dropped),
		HandlerTypes:    handlerTypes,
		Subscribers:     subscribers,
		SubscriberDrops: atomic.LoadInt64(&b.subscriberDrops),
	}
}

// dispatchLoop drains one tier queue in FIFO order. Each event is handed
// to the worker pool for every matching handler, then broadcast to the
// live subscribers. The loop exits on Stop; events left in the queue at
// that point are abandoned.
func (b *Bus) dispatchLoop(tier events.Priority) {
	defer b.wg.Done()

	queue := b.queues[tier]
	for {
		select {
		case <-b.ctx.Done():
			return
		case event := <-queue:
			b.dispatch(event)
		}
	}
}

func (b *Bus) dispatch(event events.Event) {
	b.handlerMu.RLock()
	registered := b.handlers[event.Type]
	handlers := make([]events.Handler, len(registered))
	copy(handlers, registered)
	b.handlerMu.RUnlock()

	for _, h := range handlers {
		if err := b.pool.Submit(invocation{handler: h, event: event}); err != nil {
			b.logger.Debug("handler invocation dropped",
				zap.String("handler", h.Name()),
				zap.String("eventType", string(event.Type)),
				zap.Error(err),
			)
		}
	}

	b.broadcast(event)
}

// broadcast delivers an event to every subscriber channel without
// blocking. A subscriber whose buffer is full misses the event; the drop
// is counted and logged but never stalls dispatch.
func (b *Bus) broadcast(event events.Event) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			atomic.AddInt64(&b.subscriberDrops, 1)
			b.metrics.RecordSubscriberDrop()
			b.logger.Warn("subscriber buffer full, event dropped",
				zap.String("connectionID", id),
				zap.String("eventType", string(event.Type)),
				zap.String("eventID", event.ID),
			)
		}
	}
}
