// Package sensors manages sensor instances and drives their updates.
package sensors

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"triggeredcamera/sdf"
)

// SensorID identifies a sensor within the process.
type SensorID uint64

// NoSensor is never assigned to a sensor.
const NoSensor SensorID = math.MaxUint64

// FirstSensorID is the lowest sensor id. Rendering objects use 32-bit ids,
// so sensor ids never collide with them.
const FirstSensorID SensorID = math.MaxUint32 + 1

var lastID atomic.Uint64

func nextSensorID() SensorID {
	return FirstSensorID + SensorID(lastID.Add(1)-1)
}

// Sensor is implemented by types that embed Base.
type Sensor interface {
	ID() SensorID
	Name() string
	Topic() string
	UpdateRate() float64
	NextDataUpdateTime() time.Duration

	// Update produces output for simulation time now. The manager only calls
	// it when the sensor's update rate allows or the tick is forced.
	Update(ctx context.Context, now time.Duration) error
	Close() error

	base() *Base
}

// Base carries identity and update scheduling shared by all sensors.
type Base struct {
	id    SensorID
	name  string
	topic string

	mu         sync.Mutex
	updateRate float64
	nextUpdate time.Duration
}

func (b *Base) init(cfg *sdf.Sensor) {
	b.id = nextSensorID()
	b.name = cfg.Name
	b.topic = cfg.Topic
	b.updateRate = cfg.UpdateRate
}

func (b *Base) base() *Base { return b }

func (b *Base) ID() SensorID  { return b.id }
func (b *Base) Name() string  { return b.name }
func (b *Base) Topic() string { return b.topic }

func (b *Base) UpdateRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updateRate
}

// SetUpdateRate changes the rate in Hz. Zero means every tick.
func (b *Base) SetUpdateRate(hz float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if hz < 0 {
		hz = 0
	}
	b.updateRate = hz
}

func (b *Base) NextDataUpdateTime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextUpdate
}

// due decides whether a tick at now should update the sensor and, for
// unforced ticks, schedules the next one. A sensor that fell behind skips
// the missed periods instead of bursting.
func (b *Base) due(now time.Duration, force bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if force {
		return true
	}
	if now < b.nextUpdate {
		return false
	}
	if b.updateRate > 0 {
		period := time.Duration(float64(time.Second) / b.updateRate)
		b.nextUpdate += period
		if b.nextUpdate <= now {
			b.nextUpdate = now + period
		}
	}
	return true
}
