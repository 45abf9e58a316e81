package mqttbridge

import "strings"

// ToMQTT maps a bus topic to its broker topic, "<prefix>/<topic>" with the
// leading slash of topic removed.
func ToMQTT(prefix, topic string) string {
	topic = strings.TrimLeft(topic, "/")
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return topic
	}
	return prefix + "/" + topic
}

// FromMQTT is the inverse of ToMQTT. It reports false for broker topics
// outside prefix.
func FromMQTT(prefix, mqttTopic string) (string, bool) {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		rest, ok := strings.CutPrefix(mqttTopic, prefix+"/")
		if !ok {
			return "", false
		}
		mqttTopic = rest
	}
	if mqttTopic == "" {
		return "", false
	}
	return "/" + mqttTopic, true
}
