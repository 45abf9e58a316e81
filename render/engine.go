// Package render is a small software rendering engine. Scenes hold visuals and
// cameras; cameras rasterize the scene with a pinhole projection.
package render

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
)

// SoftwareEngine is the name of the built-in rasterizer.
const SoftwareEngine = "gg"

var (
	ErrEngineUnavailable = errors.New("render engine unavailable")
	ErrSceneExists       = errors.New("scene already exists")
)

var (
	enginesMu sync.Mutex
	loaded    = map[string]*Engine{}
	available = map[string]bool{SoftwareEngine: true}
)

// Available reports whether LoadEngine can succeed for name.
func Available(name string) bool {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	return available[name]
}

// LoadEngine returns the named engine, loading it on first use. Engines that
// are not built into this binary return ErrEngineUnavailable.
func LoadEngine(name string) (*Engine, error) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	if e, ok := loaded[name]; ok {
		return e, nil
	}
	if !available[name] {
		return nil, fmt.Errorf("%w: %q", ErrEngineUnavailable, name)
	}
	e := &Engine{name: name, scenes: map[string]*Scene{}}
	loaded[name] = e
	return e, nil
}

// UnloadEngine destroys every scene of the named engine and forgets it.
// Unloading an engine that is not loaded is a no-op.
func UnloadEngine(name string) error {
	enginesMu.Lock()
	e, ok := loaded[name]
	delete(loaded, name)
	enginesMu.Unlock()
	if !ok {
		return nil
	}
	return e.destroyAll()
}

// Engine owns scenes.
type Engine struct {
	name string

	mu     sync.Mutex
	scenes map[string]*Scene
}

func (e *Engine) Name() string { return e.name }

// CreateScene makes an empty scene. Names are unique per engine.
func (e *Engine) CreateScene(name string) (*Scene, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.scenes[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrSceneExists, name)
	}
	s := newScene(e, name)
	e.scenes[name] = s
	return s, nil
}

// SceneByName returns nil when no such scene exists.
func (e *Engine) SceneByName(name string) *Scene {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scenes[name]
}

// SceneCount is the number of live scenes.
func (e *Engine) SceneCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.scenes)
}

// DestroyScene removes the scene and every camera in it.
func (e *Engine) DestroyScene(s *Scene) error {
	if s == nil {
		return nil
	}
	e.mu.Lock()
	if cur, ok := e.scenes[s.name]; ok && cur == s {
		delete(e.scenes, s.name)
	}
	e.mu.Unlock()
	return s.destroy()
}

func (e *Engine) destroyAll() error {
	e.mu.Lock()
	scenes := e.scenes
	e.scenes = map[string]*Scene{}
	e.mu.Unlock()

	var err error
	for _, s := range scenes {
		err = multierr.Append(err, s.destroy())
	}
	return err
}
