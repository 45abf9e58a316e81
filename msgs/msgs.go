// Package msgs defines the messages carried on the transport bus.
package msgs

import (
	"fmt"
	"strings"
	"time"
)

// Message is implemented by every payload that can travel on a topic.
type Message interface {
	TypeName() string
}

const (
	BooleanType = "msgs.Boolean"
	ImageType   = "msgs.Image"
)

// Boolean carries a single flag. Trigger topics use it.
type Boolean struct {
	Data bool `json:"data"`
}

func (Boolean) TypeName() string { return BooleanType }

// Header is attached to sensor output.
type Header struct {
	Stamp   time.Duration `json:"stamp"`
	FrameID string        `json:"frame_id,omitempty"`
}

// Image is a raw, row-major image.
type Image struct {
	Header      Header      `json:"header"`
	Width       uint32      `json:"width"`
	Height      uint32      `json:"height"`
	Step        uint32      `json:"step"`
	PixelFormat PixelFormat `json:"pixel_format"`
	Data        []byte      `json:"data"`
}

func (Image) TypeName() string { return ImageType }

// PixelFormat describes how pixels are packed in Image.Data.
type PixelFormat int

const (
	UnknownPixelFormat PixelFormat = iota
	L8
	R8G8B8
	RGBA8
)

var pixelFormatNames = map[PixelFormat]string{
	L8:     "L8",
	R8G8B8: "R8G8B8",
	RGBA8:  "RGBA8",
}

func (f PixelFormat) String() string {
	if name, ok := pixelFormatNames[f]; ok {
		return name
	}
	return "UNKNOWN_PIXEL_FORMAT"
}

// BytesPerPixel returns 0 for unknown formats.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case L8:
		return 1
	case R8G8B8:
		return 3
	case RGBA8:
		return 4
	default:
		return 0
	}
}

// ParsePixelFormat accepts the names used in sensor descriptions.
func ParsePixelFormat(s string) (PixelFormat, error) {
	for f, name := range pixelFormatNames {
		if strings.EqualFold(name, s) {
			return f, nil
		}
	}
	return UnknownPixelFormat, fmt.Errorf("unknown pixel format %q", s)
}

func (f PixelFormat) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *PixelFormat) UnmarshalText(text []byte) error {
	parsed, err := ParsePixelFormat(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
