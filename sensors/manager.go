package sensors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"

	"triggeredcamera/sdf"
	"triggeredcamera/transport"
)

var (
	ErrUnsupportedType = errors.New("unsupported sensor type")
	ErrWrongType       = errors.New("sensor is not of the requested type")
)

// Factory builds a sensor from its description.
type Factory func(cfg *sdf.Sensor, bus *transport.Bus, logger logging.Logger) (Sensor, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{
		"camera": func(cfg *sdf.Sensor, bus *transport.Bus, logger logging.Logger) (Sensor, error) {
			return NewCameraSensor(cfg, bus, logger)
		},
	}
)

// RegisterFactory makes sensorType available to Manager.CreateSensor.
func RegisterFactory(sensorType string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[sensorType] = f
}

// Manager owns sensors and advances them one tick at a time.
type Manager struct {
	bus    *transport.Bus
	logger logging.Logger

	mu      sync.RWMutex
	sensors map[SensorID]Sensor
}

func NewManager(bus *transport.Bus, logger logging.Logger) *Manager {
	return &Manager{
		bus:     bus,
		logger:  logger,
		sensors: map[SensorID]Sensor{},
	}
}

// Bus is the bus sensors publish on.
func (m *Manager) Bus() *transport.Bus { return m.bus }

// CreateSensor builds a sensor of type T from cfg and adds it to m. It fails
// if the description yields a different sensor type.
func CreateSensor[T Sensor](m *Manager, cfg *sdf.Sensor) (T, error) {
	var zero T
	s, err := m.CreateSensor(cfg)
	if err != nil {
		return zero, err
	}
	typed, ok := s.(T)
	if !ok {
		m.Remove(s.ID())
		return zero, fmt.Errorf("%w: %q is %T", ErrWrongType, cfg.Name, s)
	}
	return typed, nil
}

// CreateSensor builds a sensor of whatever type cfg describes and adds it to m.
func (m *Manager) CreateSensor(cfg *sdf.Sensor) (Sensor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: sensor", sdf.ErrMissingElement)
	}
	factoriesMu.RLock()
	f, ok := factories[cfg.Type]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, cfg.Type)
	}

	s, err := f(cfg, m.bus, m.logger.Sublogger(cfg.Name))
	if err != nil {
		return nil, fmt.Errorf("creating sensor %q: %w", cfg.Name, err)
	}
	m.AddSensor(s)
	m.logger.Infof("created %s sensor %q (id %d) on %s", cfg.Type, s.Name(), s.ID(), s.Topic())
	return s, nil
}

// AddSensor takes ownership of an already built sensor.
func (m *Manager) AddSensor(s Sensor) SensorID {
	if s == nil {
		return NoSensor
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sensors[s.ID()] = s
	return s.ID()
}

// Sensor returns nil when id is unknown.
func (m *Manager) Sensor(id SensorID) Sensor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sensors[id]
	if !ok {
		return nil
	}
	return s
}

// SensorByName returns the first sensor with the given name, or nil.
func (m *Manager) SensorByName(name string) Sensor {
	for _, s := range m.Sensors() {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// Sensors returns every sensor ordered by id.
func (m *Manager) Sensors() []Sensor {
	m.mu.RLock()
	out := make([]Sensor, 0, len(m.sensors))
	for _, s := range m.sensors {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Remove closes and forgets the sensor. It returns false when id is unknown.
func (m *Manager) Remove(id SensorID) bool {
	m.mu.Lock()
	s, ok := m.sensors[id]
	delete(m.sensors, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	if err := s.Close(); err != nil {
		m.logger.Warnw("error closing sensor", "sensor", s.Name(), "id", id, "error", err)
	}
	return true
}

// RunOnce offers one tick at simulation time now to every sensor. Sensors
// whose update rate says they are not due are skipped unless force is set.
// Errors from individual sensors do not stop the tick; they are returned
// together.
func (m *Manager) RunOnce(ctx context.Context, now time.Duration, force bool) error {
	var err error
	for _, s := range m.Sensors() {
		if !s.base().due(now, force) {
			continue
		}
		if updateErr := s.Update(ctx, now); updateErr != nil {
			m.logger.Debugw("sensor update failed", "sensor", s.Name(), "error", updateErr)
			err = multierr.Append(err, fmt.Errorf("%s: %w", s.Name(), updateErr))
		}
	}
	return err
}

// Close removes every sensor.
func (m *Manager) Close() error {
	m.mu.Lock()
	all := m.sensors
	m.sensors = map[SensorID]Sensor{}
	m.mu.Unlock()

	var err error
	for _, s := range all {
		err = multierr.Append(err, s.Close())
	}
	return err
}
