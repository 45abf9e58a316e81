package render

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"sync"

	"github.com/golang/geo/r3"
)

// ObjectID identifies a scene object. Ids are handed out downward from
// math.MaxUint32 and never exceed it.
type ObjectID uint32

var (
	ErrSceneDestroyed = errors.New("scene destroyed")
	ErrNameTaken      = errors.New("object name already used in scene")
	ErrIDsExhausted   = errors.New("scene object ids exhausted")
)

// Shape of a visual.
type Shape int

const (
	Sphere Shape = iota
	Box
)

// Visual is a colored primitive placed in the world frame.
type Visual struct {
	Name     string
	Shape    Shape
	Position r3.Vector
	Size     float64 // diameter for spheres, edge length for boxes
	Color    color.Color
}

// Scene is a set of visuals observed by cameras.
type Scene struct {
	engine *Engine
	name   string

	mu         sync.RWMutex
	destroyed  bool
	nextID     ObjectID
	cameras    map[ObjectID]*Camera
	visuals    []Visual
	background color.Color
}

func newScene(e *Engine, name string) *Scene {
	return &Scene{
		engine:     e,
		name:       name,
		nextID:     math.MaxUint32,
		cameras:    map[ObjectID]*Camera{},
		background: color.RGBA{R: 0, G: 0, B: 0, A: 255},
	}
}

func (s *Scene) Name() string    { return s.name }
func (s *Scene) Engine() *Engine { return s.engine }

// SetBackground sets the color of pixels no visual covers.
func (s *Scene) SetBackground(c color.Color) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.background = c
}

func (s *Scene) Background() color.Color {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.background
}

// AddVisual places a primitive in the scene.
func (s *Scene) AddVisual(v Visual) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrSceneDestroyed
	}
	for _, existing := range s.visuals {
		if existing.Name == v.Name {
			return fmt.Errorf("%w: %q", ErrNameTaken, v.Name)
		}
	}
	s.visuals = append(s.visuals, v)
	return nil
}

// Visuals returns a copy of the scene's visuals.
func (s *Scene) Visuals() []Visual {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Visual, len(s.visuals))
	copy(out, s.visuals)
	return out
}

// CreateCamera adds a camera with a 320x240 RGB image and a 60 degree field
// of view; callers adjust it with the setters.
func (s *Scene) CreateCamera(name string) (*Camera, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil, ErrSceneDestroyed
	}
	for _, c := range s.cameras {
		if c.name == name {
			return nil, fmt.Errorf("%w: %q", ErrNameTaken, name)
		}
	}
	if s.nextID == 0 {
		return nil, ErrIDsExhausted
	}
	id := s.nextID
	s.nextID--

	c := newCamera(s, id, name)
	s.cameras[id] = c
	return c, nil
}

// SensorByID returns the camera with the given id, or nil.
func (s *Scene) SensorByID(id ObjectID) *Camera {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cameras[id]
}

// SensorByName returns the named camera, or nil.
func (s *Scene) SensorByName(name string) *Camera {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.cameras {
		if c.name == name {
			return c
		}
	}
	return nil
}

// SensorCount is the number of cameras in the scene.
func (s *Scene) SensorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cameras)
}

// DestroySensor removes the camera from the scene. The camera cannot capture
// afterwards. Destroying a camera twice is a no-op.
func (s *Scene) DestroySensor(c *Camera) {
	if c == nil {
		return
	}
	s.mu.Lock()
	if cur, ok := s.cameras[c.id]; ok && cur == c {
		delete(s.cameras, c.id)
	}
	s.mu.Unlock()
	c.markDestroyed()
}

func (s *Scene) destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	cams := s.cameras
	s.cameras = map[ObjectID]*Camera{}
	s.visuals = nil
	s.mu.Unlock()

	for _, c := range cams {
		c.markDestroyed()
	}
	return nil
}

// snapshot is what a camera needs to draw one frame.
func (s *Scene) snapshot() (color.Color, []Visual, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.destroyed {
		return nil, nil, ErrSceneDestroyed
	}
	vis := make([]Visual, len(s.visuals))
	copy(vis, s.visuals)
	return s.background, vis, nil
}
