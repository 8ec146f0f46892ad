package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"appraisal-backend/internal/config"
	"appraisal-backend/internal/domain/events"
	apperrors "appraisal-backend/pkg/errors"
)

const (
	defaultBridgeChannel = "appraisal:events"
	defaultSeenCapacity  = 4096
)

// PubSub is the slice of the cache the bridge needs for cross-instance
// event transport.
type PubSub interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// frame is the wire format for bridged events. The instance ID lets each
// instance discard its own frames.
type frame struct {
	InstanceID string       `json:"instance_id"`
	Event      events.Event `json:"event"`
}

// Bridge connects the in-process bus to a Redis pub/sub channel so
// several instances share one event stream. Locally published events are
// republished to the channel; frames from other instances are injected
// into the local bus. A bounded set of recently seen event IDs stops a
// bridged event from echoing back onto the wire.
type Bridge struct {
	bus        *Bus
	transport  PubSub
	channel    string
	instanceID string
	seen       *seenSet

	sub *redis.PubSub
	wg  sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	logger *zap.Logger
}

// NewBridge creates a bridge for the given bus and transport. The bridge
// does nothing until Start is called.
func NewBridge(bus *Bus, transport PubSub, cfg config.Bridge, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	channel := cfg.Channel
	if channel == "" {
		channel = defaultBridgeChannel
	}
	return &Bridge{
		bus:        bus,
		transport:  transport,
		channel:    channel,
		instanceID: uuid.New().String(),
		seen:       newSeenSet(cfg.SeenCapacity),
		logger:     logger,
	}
}

// Name implements events.Handler.
func (b *Bridge) Name() string { return "redis-bridge" }

// EventTypes implements events.Handler. The bridge forwards every type.
func (b *Bridge) EventTypes() []events.Type { return events.AllTypes() }

// Handle republishes a locally dispatched event to the shared channel.
// Events that arrived over the wire are already in the seen set and are
// not sent again.
func (b *Bridge) Handle(ctx context.Context, event events.Event) error {
	if b.seen.Contains(event.ID) {
		return nil
	}
	payload, err := json.Marshal(frame{InstanceID: b.instanceID, Event: event})
	if err != nil {
		return apperrors.NewSerialization("encode bridge frame", err)
	}
	return b.transport.Publish(ctx, b.channel, payload)
}

// Start registers the bridge as a bus handler and begins receiving frames
// from the shared channel. The context bounds the subscription handshake
// only; the receive loop runs until Stop.
func (b *Bridge) Start(ctx context.Context) error {
	var err error
	b.startOnce.Do(func() {
		if serr := b.bus.Subscribe(b); serr != nil {
			err = serr
			return
		}

		b.sub = b.transport.Subscribe(ctx, b.channel)
		if _, rerr := b.sub.Receive(ctx); rerr != nil {
			err = apperrors.NewUnavailable("bridge channel subscription failed", rerr)
			return
		}

		b.wg.Add(1)
		go b.receiveLoop()

		b.logger.Info("event bridge started",
			zap.String("channel", b.channel),
			zap.String("instanceID", b.instanceID),
		)
	})
	return err
}

// Stop closes the subscription and waits for the receive loop to exit.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.sub == nil {
			return
		}
		if err := b.sub.Close(); err != nil {
			b.logger.Warn("bridge subscription close failed", zap.Error(err))
		}
		b.wg.Wait()
		b.logger.Info("event bridge stopped")
	})
}

func (b *Bridge) receiveLoop() {
	defer b.wg.Done()

	for msg := range b.sub.Channel() {
		var f frame
		if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
			b.logger.Warn("bridge dropped malformed frame", zap.Error(err))
			continue
		}
		if f.InstanceID == b.instanceID {
			continue
		}
		if f.Event.ID == "" || !f.Event.Type.Valid() {
			b.logger.Warn("bridge dropped invalid event",
				zap.String("instanceID", f.InstanceID),
				zap.String("eventType", string(f.Event.Type)),
			)
			continue
		}
		// Recording the ID before publishing keeps Handle from echoing
		// this event back onto the wire.
		if !b.seen.Add(f.Event.ID) {
			continue
		}
		b.bus.Publish(f.Event)
	}
}

// seenSet is a fixed-capacity set of event IDs with FIFO eviction.
type seenSet struct {
	mu    sync.Mutex
	limit int
	ids   map[string]struct{}
	order []string
	next  int
}

func newSeenSet(limit int) *seenSet {
	if limit <= 0 {
		limit = defaultSeenCapacity
	}
	return &seenSet{
		limit: limit,
		ids:   make(map[string]struct{}, limit),
		order: make([]string, limit),
	}
}

// Add inserts an ID and reports whether it was new. At capacity the
// oldest ID is evicted first.
func (s *seenSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return false
	}
	if evict := s.order[s.next]; evict != "" {
		delete(s.ids, evict)
	}
	s.order[s.next] = id
	s.next = (s.next + 1) % s.limit
	s.ids[id] = struct{}{}
	return true
}

func (s *seenSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}
