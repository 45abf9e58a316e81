// Package config loads the standalone runner's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"time"

	"github.com/golang/geo/r3"
	"gopkg.in/yaml.v3"

	"triggeredcamera/render"
	"triggeredcamera/transport/mqttbridge"
)

// Visual places a primitive in the rendered scene.
type Visual struct {
	Name     string     `yaml:"name" json:"name"`
	Shape    string     `yaml:"shape" json:"shape"` // "sphere" or "box"
	Position [3]float64 `yaml:"position" json:"position"`
	Size     float64    `yaml:"size" json:"size"`
	Color    [3]uint8   `yaml:"color" json:"color"`
}

// Build converts v into a render visual.
func (v Visual) Build() (render.Visual, error) {
	out := render.Visual{
		Name:     v.Name,
		Position: r3.Vector{X: v.Position[0], Y: v.Position[1], Z: v.Position[2]},
		Size:     v.Size,
		Color:    color.RGBA{R: v.Color[0], G: v.Color[1], B: v.Color[2], A: 255},
	}
	switch v.Shape {
	case "", "sphere":
		out.Shape = render.Sphere
	case "box":
		out.Shape = render.Box
	default:
		return out, fmt.Errorf("visual %q: unknown shape %q", v.Name, v.Shape)
	}
	if v.Name == "" {
		return out, errors.New("visual name is required")
	}
	if v.Size <= 0 {
		return out, fmt.Errorf("visual %q: size must be > 0", v.Name)
	}
	return out, nil
}

// Config aggregates the runner configuration.
type Config struct {
	Engine    string             `yaml:"engine"`
	Scene     string             `yaml:"scene"`
	SDFPath   string             `yaml:"sdf_path"`
	RateHz    float64            `yaml:"rate_hz"`
	LogLevel  string             `yaml:"log_level"`
	OutputDir string             `yaml:"output_dir"` // optional, PNG per published image
	Visuals   []Visual           `yaml:"visuals"`
	MQTT      *mqttbridge.Config `yaml:"mqtt,omitempty"` // optional
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if cfg.SDFPath == "" {
		return nil, errors.New("sdf_path is required")
	}
	if cfg.Engine == "" {
		cfg.Engine = render.SoftwareEngine
	}
	if cfg.Scene == "" {
		cfg.Scene = "default"
	}
	if cfg.RateHz < 0 {
		return nil, fmt.Errorf("rate_hz must be >= 0, got %.2f", cfg.RateHz)
	}
	if cfg.RateHz == 0 {
		cfg.RateHz = 10
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("log_level must be debug, info, warn or error, got %q", cfg.LogLevel)
	}
	for _, v := range cfg.Visuals {
		if _, err := v.Build(); err != nil {
			return nil, err
		}
	}
	if cfg.MQTT != nil {
		m := cfg.MQTT.WithDefaults()
		if err := m.Validate("mqtt"); err != nil {
			return nil, err
		}
		cfg.MQTT = &m
	}
	return &cfg, nil
}

// TickInterval is the wall-clock time between ticks.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.RateHz)
}
