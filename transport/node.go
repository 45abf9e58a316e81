package transport

import (
	"context"
	"fmt"
	"sync"

	"triggeredcamera/msgs"
)

// Node owns a set of publishers and subscriptions on a bus.
type Node struct {
	bus *Bus

	mu         sync.Mutex
	closed     bool
	subs       map[string][]*subscription
	publishers []*Publisher
}

// Advertise registers the node as a publisher of typeName messages on topic.
func (n *Node) Advertise(topic, typeName string) (*Publisher, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrClosed
	}

	n.bus.addPublisher(topic)
	p := &Publisher{bus: n.bus, topic: topic, typeName: typeName}
	n.publishers = append(n.publishers, p)
	return p, nil
}

// Subscribe registers handler for topic. A node may subscribe to the same
// topic more than once; Unsubscribe removes all of them.
func (n *Node) Subscribe(topic string, handler Handler) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}

	s := n.bus.newSubscription(topic, handler)
	n.bus.addSubscription(s)
	n.subs[topic] = append(n.subs[topic], s)
	return nil
}

// Subscribe is the typed form of Node.Subscribe. Messages of any other type
// published on the topic are ignored.
func Subscribe[T msgs.Message](n *Node, topic string, handler func(ctx context.Context, msg T)) error {
	return n.Subscribe(topic, func(ctx context.Context, _ string, msg msgs.Message) {
		if typed, ok := msg.(T); ok {
			handler(ctx, typed)
		}
	})
}

// Unsubscribe removes every subscription the node holds on topic and waits
// for in-flight deliveries to finish. It must not be called from a handler of
// the same subscription.
func (n *Node) Unsubscribe(topic string) {
	n.mu.Lock()
	subs := n.subs[topic]
	delete(n.subs, topic)
	n.mu.Unlock()

	for _, s := range subs {
		n.bus.removeSubscription(s)
		s.stop()
	}
}

// SubscribedTopics lists the topics the node currently listens on.
func (n *Node) SubscribedTopics() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	topics := make([]string, 0, len(n.subs))
	for topic := range n.subs {
		topics = append(topics, topic)
	}
	return topics
}

// Close drops all publishers and subscriptions. Pending deliveries are
// drained before Close returns.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	subs := n.subs
	n.subs = make(map[string][]*subscription)
	pubs := n.publishers
	n.publishers = nil
	n.mu.Unlock()

	for _, p := range pubs {
		p.close()
	}
	for _, list := range subs {
		for _, s := range list {
			n.bus.removeSubscription(s)
			s.stop()
		}
	}
	return nil
}

// Publisher sends messages of one type on one topic.
type Publisher struct {
	bus      *Bus
	topic    string
	typeName string

	mu     sync.Mutex
	closed bool
}

func (p *Publisher) Topic() string { return p.topic }

// HasConnections reports whether anyone subscribes to the topic.
func (p *Publisher) HasConnections() bool {
	return p.bus.hasSubscribers(p.topic)
}

// Publish hands msg to every subscriber's queue and returns without waiting
// for handlers to run.
func (p *Publisher) Publish(ctx context.Context, msg msgs.Message) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if msg.TypeName() != p.typeName {
		return fmt.Errorf("%w: topic %s wants %s, got %s", ErrTypeMismatch, p.topic, p.typeName, msg.TypeName())
	}
	p.bus.publish(ctx, p.topic, msg)
	return nil
}

func (p *Publisher) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.bus.removePublisher(p.topic)
}
