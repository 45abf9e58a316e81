package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"triggeredcamera/msgs"
)

func TestPublishSubscribe(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := NewBus(logging.NewTestLogger(t))
	sub := bus.NewNode()
	pubNode := bus.NewNode()

	got := make(chan msgs.Boolean, 1)
	err := Subscribe(sub, "/flag", func(_ context.Context, msg msgs.Boolean) {
		got <- msg
	})
	test.That(t, err, test.ShouldBeNil)

	pub, err := pubNode.Advertise("/flag", msgs.BooleanType)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pub.HasConnections(), test.ShouldBeTrue)
	test.That(t, pub.Publish(context.Background(), msgs.Boolean{Data: true}), test.ShouldBeNil)

	select {
	case msg := <-got:
		test.That(t, msg.Data, test.ShouldBeTrue)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	test.That(t, sub.Close(), test.ShouldBeNil)
	test.That(t, pubNode.Close(), test.ShouldBeNil)
}

func TestPublishTypeMismatch(t *testing.T) {
	bus := NewBus(logging.NewTestLogger(t))
	node := bus.NewNode()
	defer node.Close()

	pub, err := node.Advertise("/img", msgs.ImageType)
	test.That(t, err, test.ShouldBeNil)
	err = pub.Publish(context.Background(), msgs.Boolean{Data: true})
	test.That(t, errors.Is(err, ErrTypeMismatch), test.ShouldBeTrue)
}

func TestEmptyTopic(t *testing.T) {
	bus := NewBus(logging.NewTestLogger(t))
	node := bus.NewNode()
	defer node.Close()

	_, err := node.Advertise("", msgs.BooleanType)
	test.That(t, errors.Is(err, ErrEmptyTopic), test.ShouldBeTrue)
	err = node.Subscribe("", func(context.Context, string, msgs.Message) {})
	test.That(t, errors.Is(err, ErrEmptyTopic), test.ShouldBeTrue)
}

func TestPublishIsAsynchronous(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := NewBus(logging.NewTestLogger(t))
	node := bus.NewNode()

	release := make(chan struct{})
	delivered := make(chan struct{})
	err := node.Subscribe("/slow", func(context.Context, string, msgs.Message) {
		<-release
		close(delivered)
	})
	test.That(t, err, test.ShouldBeNil)

	pub, err := node.Advertise("/slow", msgs.BooleanType)
	test.That(t, err, test.ShouldBeNil)

	// Publish must return while the handler is still blocked.
	test.That(t, pub.Publish(context.Background(), msgs.Boolean{}), test.ShouldBeNil)
	close(release)
	<-delivered

	test.That(t, node.Close(), test.ShouldBeNil)
}

func TestDeliveryOrder(t *testing.T) {
	bus := NewBus(logging.NewTestLogger(t))
	node := bus.NewNode()

	var mu sync.Mutex
	var seen []uint32
	done := make(chan struct{})
	err := Subscribe(node, "/seq", func(_ context.Context, msg msgs.Image) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg.Width)
		if len(seen) == 10 {
			close(done)
		}
	})
	test.That(t, err, test.ShouldBeNil)

	pub, err := node.Advertise("/seq", msgs.ImageType)
	test.That(t, err, test.ShouldBeNil)
	for i := uint32(0); i < 10; i++ {
		test.That(t, pub.Publish(context.Background(), msgs.Image{Width: i}), test.ShouldBeNil)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for deliveries")
	}
	test.That(t, node.Close(), test.ShouldBeNil)

	for i, w := range seen {
		test.That(t, w, test.ShouldEqual, uint32(i))
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(logging.NewTestLogger(t))
	node := bus.NewNode()
	defer node.Close()

	err := node.Subscribe("/a", func(context.Context, string, msgs.Message) {})
	test.That(t, err, test.ShouldBeNil)
	pub, err := node.Advertise("/a", msgs.BooleanType)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pub.HasConnections(), test.ShouldBeTrue)

	node.Unsubscribe("/a")
	test.That(t, pub.HasConnections(), test.ShouldBeFalse)
	test.That(t, node.SubscribedTopics(), test.ShouldBeEmpty)
}

func TestTopics(t *testing.T) {
	bus := NewBus(logging.NewTestLogger(t))
	node := bus.NewNode()

	_, err := node.Advertise("/b", msgs.BooleanType)
	test.That(t, err, test.ShouldBeNil)
	err = node.Subscribe("/a", func(context.Context, string, msgs.Message) {})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bus.Topics(), test.ShouldResemble, []string{"/a", "/b"})

	test.That(t, node.Close(), test.ShouldBeNil)
	test.That(t, bus.Topics(), test.ShouldBeEmpty)
}

func TestClosedNode(t *testing.T) {
	bus := NewBus(logging.NewTestLogger(t))
	node := bus.NewNode()
	pub, err := node.Advertise("/c", msgs.BooleanType)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, node.Close(), test.ShouldBeNil)
	test.That(t, node.Close(), test.ShouldBeNil)

	_, err = node.Advertise("/c", msgs.BooleanType)
	test.That(t, errors.Is(err, ErrClosed), test.ShouldBeTrue)
	test.That(t, errors.Is(pub.Publish(context.Background(), msgs.Boolean{}), ErrClosed), test.ShouldBeTrue)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	bus := NewBus(logging.NewTestLogger(t))
	node := bus.NewNode()
	defer node.Close()

	calls := make(chan struct{}, 2)
	err := node.Subscribe("/p", func(context.Context, string, msgs.Message) {
		calls <- struct{}{}
		panic("boom")
	})
	test.That(t, err, test.ShouldBeNil)

	pub, err := node.Advertise("/p", msgs.BooleanType)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pub.Publish(context.Background(), msgs.Boolean{}), test.ShouldBeNil)
	test.That(t, pub.Publish(context.Background(), msgs.Boolean{}), test.ShouldBeNil)

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(time.Second):
			t.Fatal("subscriber stopped after panic")
		}
	}
}

func TestSubscribeAll(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := NewBus(logging.NewTestLogger(t))
	node := bus.NewNode()

	topics := make(chan string, 2)
	unsubscribe := bus.SubscribeAll(func(_ context.Context, topic string, _ msgs.Message) {
		topics <- topic
	})

	a, err := node.Advertise("/x", msgs.BooleanType)
	test.That(t, err, test.ShouldBeNil)
	b, err := node.Advertise("/y", msgs.BooleanType)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a.Publish(context.Background(), msgs.Boolean{}), test.ShouldBeNil)
	test.That(t, b.Publish(context.Background(), msgs.Boolean{}), test.ShouldBeNil)

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case topic := <-topics:
			got[topic] = true
		case <-time.After(time.Second):
			t.Fatal("tap missed a message")
		}
	}
	test.That(t, got["/x"], test.ShouldBeTrue)
	test.That(t, got["/y"], test.ShouldBeTrue)

	unsubscribe()
	test.That(t, node.Close(), test.ShouldBeNil)
}
