package mqttbridge

import (
	"errors"
	"fmt"
	"time"
)

// Config describes the broker connection and which topics cross it.
type Config struct {
	Broker      string  `json:"broker" yaml:"broker"`
	ClientID    string  `json:"client_id,omitempty" yaml:"client_id"`
	Username    string  `json:"username,omitempty" yaml:"username"`
	Password    string  `json:"password,omitempty" yaml:"password"` //nolint:gosec // G101: config field
	TopicPrefix string  `json:"topic_prefix,omitempty" yaml:"topic_prefix"`
	QoS         byte    `json:"qos,omitempty" yaml:"qos"`
	TimeoutSec  float64 `json:"timeout_sec,omitempty" yaml:"timeout_sec"`

	// Outbound lists local topics published to the broker.
	Outbound []string `json:"outbound,omitempty" yaml:"outbound"`
	// Inbound lists local topics fed from the broker.
	Inbound []string `json:"inbound,omitempty" yaml:"inbound"`
	// ForwardAll publishes every local message to the broker. Unlike
	// Outbound it does not count as a subscriber, so cameras with no other
	// listener stay idle. Topics also listed in Outbound are sent once.
	ForwardAll bool `json:"forward_all,omitempty" yaml:"forward_all"`
}

// DefaultConfig returns a config with no broker and the default prefix.
func DefaultConfig() Config {
	return Config{
		ClientID:    "triggered-camera",
		TopicPrefix: "triggeredcamera",
		QoS:         1,
		TimeoutSec:  10,
	}
}

// Timeout is how long broker operations may block.
func (c Config) Timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSec * float64(time.Second))
}

// WithDefaults fills unset fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ClientID == "" {
		c.ClientID = def.ClientID
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = def.TopicPrefix
	}
	if c.TimeoutSec <= 0 {
		c.TimeoutSec = def.TimeoutSec
	}
	return c
}

// Validate checks the config. path locates it in error messages.
func (c Config) Validate(path string) error {
	if c.Broker == "" {
		return fmt.Errorf("%s: broker is required", path)
	}
	if c.QoS > 2 {
		return fmt.Errorf("%s: qos must be 0, 1 or 2, got %d", path, c.QoS)
	}
	for i, topic := range append(append([]string{}, c.Outbound...), c.Inbound...) {
		if topic == "" {
			return fmt.Errorf("%s: topic %d is empty", path, i)
		}
	}
	if len(c.Outbound) == 0 && len(c.Inbound) == 0 && !c.ForwardAll {
		return errors.New(path + ": nothing to bridge, set outbound, inbound or forward_all")
	}
	return nil
}
