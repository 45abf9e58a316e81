package msgs

import (
	"errors"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// ErrUnknownType is returned when an event names a message type that is not registered.
var ErrUnknownType = errors.New("unknown message type")

var factories = map[string]func() Message{
	BooleanType: func() Message { return &Boolean{} },
	ImageType:   func() Message { return &Image{} },
}

// New returns an empty message of the named type.
func New(typeName string) (Message, error) {
	f, ok := factories[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	return f(), nil
}

// ToEvent wraps msg in a cloudevent. The topic travels as the event subject.
func ToEvent(topic, source string, msg Message) (cloudevents.Event, error) {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(source)
	event.SetType(msg.TypeName())
	event.SetSubject(topic)
	event.SetTime(time.Now())
	if err := event.SetData(cloudevents.ApplicationJSON, msg); err != nil {
		return event, fmt.Errorf("encoding %s: %w", msg.TypeName(), err)
	}
	return event, nil
}

// FromEvent is the inverse of ToEvent. The returned message is a value, not a pointer.
func FromEvent(event cloudevents.Event) (string, Message, error) {
	if err := event.Validate(); err != nil {
		return "", nil, fmt.Errorf("invalid event: %w", err)
	}
	ptr, err := New(event.Type())
	if err != nil {
		return "", nil, err
	}
	if err := event.DataAs(ptr); err != nil {
		return "", nil, fmt.Errorf("decoding %s: %w", event.Type(), err)
	}

	switch m := ptr.(type) {
	case *Boolean:
		return event.Subject(), *m, nil
	case *Image:
		return event.Subject(), *m, nil
	default:
		return event.Subject(), ptr, nil
	}
}
