// Package mqttbridge carries bus messages to and from an MQTT broker as
// JSON cloudevents.
package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"

	"triggeredcamera/msgs"
	"triggeredcamera/transport"
)

var ErrTimeout = errors.New("mqtt operation timed out")

// Client is the part of a paho client the bridge uses.
type Client interface {
	Connect() pahomqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Unsubscribe(topics ...string) pahomqtt.Token
}

var _ Client = pahomqtt.Client(nil)

// injectedKey marks deliveries the bridge itself published on the bus.
type injectedKey struct{}

// Stats counts bridged messages.
type Stats struct {
	Sent     uint64 `json:"sent"`
	Received uint64 `json:"received"`
	Dropped  uint64 `json:"dropped"`
}

// Bridge forwards messages between a bus and a broker.
type Bridge struct {
	cfg    Config
	client Client
	node   *transport.Node
	logger logging.Logger
	source string

	untap func()

	mu   sync.Mutex
	pubs map[string]*transport.Publisher

	sent, received, dropped atomic.Uint64
	closeOnce               sync.Once
}

// New connects to cfg.Broker and starts bridging.
func New(cfg Config, bus *transport.Bus, logger logging.Logger) (*Bridge, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate("mqtt"); err != nil {
		return nil, err
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(cfg.Timeout())
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	return NewWithClient(cfg, pahomqtt.NewClient(opts), bus, logger)
}

// NewWithClient bridges through an existing client, connecting it first.
func NewWithClient(cfg Config, client Client, bus *transport.Bus, logger logging.Logger) (*Bridge, error) {
	cfg = cfg.WithDefaults()
	b := &Bridge{
		cfg:    cfg,
		client: client,
		node:   bus.NewNode(),
		logger: logger,
		source: "triggeredcamera/" + cfg.ClientID,
		pubs:   map[string]*transport.Publisher{},
	}

	if err := b.wait(client.Connect()); err != nil {
		return nil, multierr.Combine(fmt.Errorf("connecting to %s: %w", cfg.Broker, err), b.node.Close())
	}
	logger.Infof("connected to mqtt broker %s as %s", cfg.Broker, cfg.ClientID)

	if err := b.start(bus); err != nil {
		return nil, multierr.Combine(err, b.Close())
	}
	return b, nil
}

func (b *Bridge) start(bus *transport.Bus) error {
	for _, topic := range b.cfg.Outbound {
		if err := b.node.Subscribe(topic, b.forward); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}
	if b.cfg.ForwardAll {
		// Outbound topics are already forwarded by their subscription.
		outbound := make(map[string]bool, len(b.cfg.Outbound))
		for _, topic := range b.cfg.Outbound {
			outbound[topic] = true
		}
		b.untap = bus.SubscribeAll(func(ctx context.Context, topic string, msg msgs.Message) {
			if !outbound[topic] {
				b.forward(ctx, topic, msg)
			}
		})
	}
	for _, topic := range b.cfg.Inbound {
		remote := ToMQTT(b.cfg.TopicPrefix, topic)
		if err := b.wait(b.client.Subscribe(remote, b.cfg.QoS, b.onMessage)); err != nil {
			return fmt.Errorf("subscribing to mqtt topic %s: %w", remote, err)
		}
		b.logger.Debugf("bridging %s from mqtt topic %s", topic, remote)
	}
	return nil
}

func (b *Bridge) wait(token pahomqtt.Token) error {
	if !token.WaitTimeout(b.cfg.Timeout()) {
		return ErrTimeout
	}
	return token.Error()
}

// forward publishes one local message to the broker.
func (b *Bridge) forward(ctx context.Context, topic string, msg msgs.Message) {
	if ctx.Value(injectedKey{}) == b {
		return
	}
	if err := b.send(topic, msg); err != nil {
		b.dropped.Add(1)
		b.logger.Warnw("mqtt publish failed", "topic", topic, "error", err)
		return
	}
	b.sent.Add(1)
}

func (b *Bridge) send(topic string, msg msgs.Message) error {
	event, err := msgs.ToEvent(topic, b.source, msg)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return b.wait(b.client.Publish(ToMQTT(b.cfg.TopicPrefix, topic), b.cfg.QoS, false, payload))
}

// onMessage republishes one broker message on the bus.
func (b *Bridge) onMessage(_ pahomqtt.Client, m pahomqtt.Message) {
	var event cloudevents.Event
	if err := json.Unmarshal(m.Payload(), &event); err != nil {
		b.dropped.Add(1)
		b.logger.Warnw("ignoring malformed mqtt payload", "mqtt_topic", m.Topic(), "error", err)
		return
	}
	if event.Source() == b.source {
		return
	}
	subject, msg, err := msgs.FromEvent(event)
	if err != nil {
		b.dropped.Add(1)
		b.logger.Warnw("ignoring mqtt event", "mqtt_topic", m.Topic(), "error", err)
		return
	}
	topic, ok := FromMQTT(b.cfg.TopicPrefix, m.Topic())
	if !ok {
		topic = subject
	}

	pub, err := b.publisher(topic, msg.TypeName())
	if err == nil {
		ctx := context.WithValue(context.Background(), injectedKey{}, b)
		err = pub.Publish(ctx, msg)
	}
	if err != nil {
		b.dropped.Add(1)
		b.logger.Warnw("republishing mqtt event failed", "topic", topic, "error", err)
		return
	}
	b.received.Add(1)
}

func (b *Bridge) publisher(topic, typeName string) (*transport.Publisher, error) {
	key := topic + "\x00" + typeName
	b.mu.Lock()
	defer b.mu.Unlock()
	if pub, ok := b.pubs[key]; ok {
		return pub, nil
	}
	pub, err := b.node.Advertise(topic, typeName)
	if err != nil {
		return nil, err
	}
	b.pubs[key] = pub
	return pub, nil
}

// Connected reports whether the client currently holds a broker connection.
func (b *Bridge) Connected() bool { return b.client.IsConnected() }

// Stats returns message counters since the bridge started.
func (b *Bridge) Stats() Stats {
	return Stats{
		Sent:     b.sent.Load(),
		Received: b.received.Load(),
		Dropped:  b.dropped.Load(),
	}
}

// Close stops bridging and disconnects from the broker.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		if b.untap != nil {
			b.untap()
		}
		if len(b.cfg.Inbound) > 0 && b.client.IsConnected() {
			remote := make([]string, 0, len(b.cfg.Inbound))
			for _, topic := range b.cfg.Inbound {
				remote = append(remote, ToMQTT(b.cfg.TopicPrefix, topic))
			}
			if unsubErr := b.wait(b.client.Unsubscribe(remote...)); unsubErr != nil {
				err = multierr.Append(err, fmt.Errorf("unsubscribing: %w", unsubErr))
			}
		}
		err = multierr.Append(err, b.node.Close())
		b.client.Disconnect(250)
	})
	return err
}
