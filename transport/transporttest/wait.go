// Package transporttest provides helpers for tests that observe bus traffic.
package transporttest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"triggeredcamera/msgs"
	"triggeredcamera/transport"
)

// MessageWaiter subscribes to a topic on creation and records what arrives.
type MessageWaiter struct {
	topic string
	node  *transport.Node

	mu       sync.Mutex
	count    int
	last     msgs.Message
	received chan struct{}
}

// WaitForMessage starts listening on topic. Call Close when done.
func WaitForMessage(bus *transport.Bus, topic string) (*MessageWaiter, error) {
	w := &MessageWaiter{
		topic:    topic,
		node:     bus.NewNode(),
		received: make(chan struct{}, 1),
	}
	if err := w.node.Subscribe(topic, w.onMessage); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *MessageWaiter) onMessage(_ context.Context, _ string, msg msgs.Message) {
	w.mu.Lock()
	w.count++
	w.last = msg
	w.mu.Unlock()

	select {
	case w.received <- struct{}{}:
	default:
	}
}

// Wait blocks until at least one message has arrived or timeout elapses.
func (w *MessageWaiter) Wait(timeout time.Duration) bool {
	if w.Count() > 0 {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.received:
		return true
	case <-timer.C:
		return w.Count() > 0
	}
}

func (w *MessageWaiter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Last returns the most recent message, or nil.
func (w *MessageWaiter) Last() msgs.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

func (w *MessageWaiter) String() string {
	return fmt.Sprintf("waiter{topic: %s, received: %d}", w.topic, w.Count())
}

func (w *MessageWaiter) Close() error {
	return w.node.Close()
}
