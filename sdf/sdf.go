// Package sdf reads the subset of the simulation description format needed to
// build sensors: models, links and their camera sensors.
package sdf

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"triggeredcamera/msgs"
)

// ErrMissingElement is wrapped by every lookup that fails because a required
// section of the document is absent.
var ErrMissingElement = errors.New("missing element")

const (
	defaultImageWidth  = 320
	defaultImageHeight = 240
	defaultImageFormat = "R8G8B8"
	defaultHFOV        = 1.047
	defaultClipNear    = 0.1
	defaultClipFar     = 100
)

// Root is the <sdf> element.
type Root struct {
	XMLName xml.Name `xml:"sdf"`
	Version string   `xml:"version,attr"`
	Models  []Model  `xml:"model"`
}

type Model struct {
	Name  string `xml:"name,attr"`
	Pose  Pose   `xml:"pose"`
	Links []Link `xml:"link"`
}

type Link struct {
	Name    string   `xml:"name,attr"`
	Pose    Pose     `xml:"pose"`
	Sensors []Sensor `xml:"sensor"`
}

// Sensor is a <sensor> element. Only camera sensors carry a Camera block.
type Sensor struct {
	Name       string  `xml:"name,attr"`
	Type       string  `xml:"type,attr"`
	Topic      string  `xml:"topic"`
	UpdateRate float64 `xml:"update_rate"`
	AlwaysOn   bool    `xml:"always_on"`
	Pose       Pose    `xml:"pose"`
	Camera     *Camera `xml:"camera"`
}

type Camera struct {
	Name          string  `xml:"name,attr"`
	HorizontalFOV float64 `xml:"horizontal_fov"`
	Image         Image   `xml:"image"`
	Clip          Clip    `xml:"clip"`
	Triggered     bool    `xml:"triggered"`
	TriggerTopic  string  `xml:"trigger_topic"`
}

type Image struct {
	Width  uint32 `xml:"width"`
	Height uint32 `xml:"height"`
	Format string `xml:"format"`
}

type Clip struct {
	Near float64 `xml:"near"`
	Far  float64 `xml:"far"`
}

// PixelFormat returns the parsed image format.
func (i Image) PixelFormat() (msgs.PixelFormat, error) {
	return msgs.ParsePixelFormat(i.Format)
}

// ResolvedTriggerTopic is the topic the camera listens on for triggers: the
// explicit <trigger_topic> when present, otherwise "<sensorTopic>/trigger".
func (c *Camera) ResolvedTriggerTopic(sensorTopic string) string {
	if c.TriggerTopic != "" {
		return c.TriggerTopic
	}
	return strings.TrimRight(sensorTopic, "/") + "/trigger"
}

// Parse decodes a document, applies defaults and validates every sensor.
func Parse(r io.Reader) (*Root, error) {
	var root Root
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return nil, fmt.Errorf("decoding sdf: %w", err)
	}
	for mi := range root.Models {
		for li := range root.Models[mi].Links {
			link := &root.Models[mi].Links[li]
			for si := range link.Sensors {
				s := &link.Sensors[si]
				s.applyDefaults()
				path := fmt.Sprintf("model[%s]/link[%s]/sensor[%s]", root.Models[mi].Name, link.Name, s.Name)
				if err := s.Validate(path); err != nil {
					return nil, err
				}
			}
		}
	}
	return &root, nil
}

// ReadFile parses the document at path.
func ReadFile(path string) (*Root, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening sdf: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Model returns the named model.
func (r *Root) Model(name string) (*Model, error) {
	for i := range r.Models {
		if r.Models[i].Name == name {
			return &r.Models[i], nil
		}
	}
	return nil, fmt.Errorf("%w: model %q", ErrMissingElement, name)
}

// FirstSensor walks model -> link -> sensor taking the first of each.
func (r *Root) FirstSensor() (*Sensor, error) {
	if len(r.Models) == 0 {
		return nil, fmt.Errorf("%w: sdf/model", ErrMissingElement)
	}
	m := &r.Models[0]
	if len(m.Links) == 0 {
		return nil, fmt.Errorf("%w: model[%s]/link", ErrMissingElement, m.Name)
	}
	l := &m.Links[0]
	if len(l.Sensors) == 0 {
		return nil, fmt.Errorf("%w: model[%s]/link[%s]/sensor", ErrMissingElement, m.Name, l.Name)
	}
	return &l.Sensors[0], nil
}

// Sensors returns every sensor in document order.
func (r *Root) Sensors() []*Sensor {
	var out []*Sensor
	for mi := range r.Models {
		for li := range r.Models[mi].Links {
			link := &r.Models[mi].Links[li]
			for si := range link.Sensors {
				out = append(out, &link.Sensors[si])
			}
		}
	}
	return out
}

func (s *Sensor) applyDefaults() {
	if s.Camera == nil {
		return
	}
	c := s.Camera
	if c.Image.Width == 0 {
		c.Image.Width = defaultImageWidth
	}
	if c.Image.Height == 0 {
		c.Image.Height = defaultImageHeight
	}
	if c.Image.Format == "" {
		c.Image.Format = defaultImageFormat
	}
	if c.HorizontalFOV == 0 {
		c.HorizontalFOV = defaultHFOV
	}
	if c.Clip.Near == 0 {
		c.Clip.Near = defaultClipNear
	}
	if c.Clip.Far == 0 {
		c.Clip.Far = defaultClipFar
	}
}

// Validate checks the sensor after defaults have been applied.
func (s *Sensor) Validate(path string) error {
	if s.Name == "" {
		return fmt.Errorf("%s: sensor name is required", path)
	}
	if s.UpdateRate < 0 {
		return fmt.Errorf("%s: update_rate must be >= 0, got %v", path, s.UpdateRate)
	}
	if s.Type != "camera" {
		return nil
	}
	if s.Camera == nil {
		return fmt.Errorf("%w: %s/camera", ErrMissingElement, path)
	}
	if s.Topic == "" {
		return fmt.Errorf("%s: topic is required for camera sensors", path)
	}
	if _, err := s.Camera.Image.PixelFormat(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if s.Camera.HorizontalFOV <= 0 {
		return fmt.Errorf("%s: horizontal_fov must be > 0", path)
	}
	if s.Camera.Clip.Near >= s.Camera.Clip.Far {
		return fmt.Errorf("%s: clip near (%v) must be less than far (%v)", path, s.Camera.Clip.Near, s.Camera.Clip.Far)
	}
	return nil
}
