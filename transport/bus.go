// Package transport is an in-process publish/subscribe bus with asynchronous,
// per-subscriber ordered delivery.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.viam.com/rdk/logging"

	"triggeredcamera/msgs"
)

var (
	ErrTypeMismatch = errors.New("message type does not match advertised type")
	ErrClosed       = errors.New("node is closed")
	ErrEmptyTopic   = errors.New("topic must not be empty")
)

// DefaultQueueSize bounds each subscriber's pending deliveries. Publishing to a
// full queue drops the message for that subscriber and logs a warning.
const DefaultQueueSize = 64

// Handler receives messages published on a topic. It runs on the subscriber's
// delivery goroutine, never on the publisher's.
type Handler func(ctx context.Context, topic string, msg msgs.Message)

// Bus routes messages between nodes.
type Bus struct {
	logger    logging.Logger
	queueSize int

	mu         sync.RWMutex
	subs       map[string][]*subscription
	allSubs    []*subscription
	publishers map[string]int
	nextID     uint64
}

// NewBus creates an empty bus.
func NewBus(logger logging.Logger) *Bus {
	return &Bus{
		logger:     logger,
		queueSize:  DefaultQueueSize,
		subs:       make(map[string][]*subscription),
		publishers: make(map[string]int),
	}
}

// NewNode creates a node attached to the bus.
func (b *Bus) NewNode() *Node {
	return &Node{
		bus:  b,
		subs: make(map[string][]*subscription),
	}
}

// Topics returns every topic that has a publisher or a subscriber, sorted.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]struct{})
	for topic, n := range b.publishers {
		if n > 0 {
			seen[topic] = struct{}{}
		}
	}
	for topic, list := range b.subs {
		if len(list) > 0 {
			seen[topic] = struct{}{}
		}
	}
	topics := make([]string, 0, len(seen))
	for topic := range seen {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// SubscribeAll taps every topic. The returned function removes the tap and
// waits for its delivery goroutine to finish.
func (b *Bus) SubscribeAll(handler Handler) (unsubscribe func()) {
	s := b.newSubscription("*", handler)
	b.mu.Lock()
	b.allSubs = append(b.allSubs, s)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		for i, e := range b.allSubs {
			if e.id == s.id {
				b.allSubs = append(b.allSubs[:i], b.allSubs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		s.stop()
	}
}

func (b *Bus) hasSubscribers(topic string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic]) > 0
}

func (b *Bus) publish(ctx context.Context, topic string, msg msgs.Message) {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs[topic])+len(b.allSubs))
	targets = append(targets, b.subs[topic]...)
	targets = append(targets, b.allSubs...)
	b.mu.RUnlock()

	for _, s := range targets {
		if !s.enqueue(ctx, topic, msg) {
			b.logger.Warnw("dropping message, subscriber queue full",
				"topic", topic,
				"type", msg.TypeName(),
			)
		}
	}
}

func (b *Bus) newSubscription(topic string, handler Handler) *subscription {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.mu.Unlock()

	s := &subscription{
		id:      id,
		topic:   topic,
		handler: handler,
		logger:  b.logger,
		queue:   make(chan delivery, b.queueSize),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (b *Bus) addSubscription(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[s.topic] = append(b.subs[s.topic], s)
}

func (b *Bus) removeSubscription(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[s.topic]
	for i, e := range list {
		if e.id == s.id {
			b.subs[s.topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[s.topic]) == 0 {
		delete(b.subs, s.topic)
	}
}

func (b *Bus) addPublisher(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishers[topic]++
}

func (b *Bus) removePublisher(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishers[topic]--
	if b.publishers[topic] <= 0 {
		delete(b.publishers, topic)
	}
}

type delivery struct {
	ctx   context.Context
	topic string
	msg   msgs.Message
}

type subscription struct {
	id      uint64
	topic   string
	handler Handler
	logger  logging.Logger

	mu      sync.Mutex
	stopped bool
	queue   chan delivery
	done    chan struct{}
}

func (s *subscription) enqueue(ctx context.Context, topic string, msg msgs.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return true
	}
	select {
	case s.queue <- delivery{ctx: context.WithoutCancel(ctx), topic: topic, msg: msg}:
		return true
	default:
		return false
	}
}

func (s *subscription) run() {
	defer close(s.done)
	for d := range s.queue {
		s.safeCall(d)
	}
}

func (s *subscription) safeCall(d delivery) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("subscriber panicked",
				"topic", d.topic,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	s.handler(d.ctx, d.topic, d.msg)
}

// stop closes the queue, lets pending deliveries drain and waits for the
// delivery goroutine. Safe to call more than once.
func (s *subscription) stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}
