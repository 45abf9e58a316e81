package render

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math"
	"sort"
	"sync"

	"github.com/fogleman/gg"
	"go.viam.com/rdk/spatialmath"

	"triggeredcamera/msgs"
)

var ErrCameraDestroyed = errors.New("camera destroyed")

// Image is one captured frame, tightly packed.
type Image struct {
	Width  uint32
	Height uint32
	Format msgs.PixelFormat
	Data   []byte
}

// Step is the row length in bytes.
func (i *Image) Step() uint32 {
	return i.Width * uint32(i.Format.BytesPerPixel())
}

// Camera renders its scene from a pose. The optical axis is +X, with +Y to
// the left of the image and +Z up.
type Camera struct {
	scene *Scene
	id    ObjectID
	name  string

	mu        sync.RWMutex
	destroyed bool
	width     uint32
	height    uint32
	format    msgs.PixelFormat
	hfov      float64
	near, far float64
	pose      spatialmath.Pose
}

func newCamera(s *Scene, id ObjectID, name string) *Camera {
	return &Camera{
		scene:  s,
		id:     id,
		name:   name,
		width:  320,
		height: 240,
		format: msgs.R8G8B8,
		hfov:   math.Pi / 3,
		near:   0.1,
		far:    100,
		pose:   spatialmath.NewZeroPose(),
	}
}

func (c *Camera) ID() ObjectID  { return c.id }
func (c *Camera) Name() string  { return c.name }
func (c *Camera) Scene() *Scene { return c.scene }

func (c *Camera) SetImageSize(width, height uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.width, c.height = width, height
}

func (c *Camera) ImageSize() (uint32, uint32) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.width, c.height
}

func (c *Camera) SetImageFormat(f msgs.PixelFormat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.format = f
}

func (c *Camera) ImageFormat() msgs.PixelFormat {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.format
}

// SetHFOV sets the horizontal field of view in radians.
func (c *Camera) SetHFOV(rad float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hfov = rad
}

func (c *Camera) SetClip(near, far float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.near, c.far = near, far
}

// SetPose places the camera in the world frame.
func (c *Camera) SetPose(p spatialmath.Pose) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pose = p
}

func (c *Camera) Pose() spatialmath.Pose {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pose
}

func (c *Camera) markDestroyed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
}

type projected struct {
	visual Visual
	u, v   float64
	radius float64
	depth  float64
}

// Capture renders one frame.
func (c *Camera) Capture() (*Image, error) {
	c.mu.RLock()
	destroyed := c.destroyed
	width, height, format := c.width, c.height, c.format
	hfov, near, far, pose := c.hfov, c.near, c.far, c.pose
	c.mu.RUnlock()

	if destroyed {
		return nil, fmt.Errorf("%w: %s", ErrCameraDestroyed, c.name)
	}
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("camera %s has empty image size %dx%d", c.name, width, height)
	}
	if format.BytesPerPixel() == 0 {
		return nil, fmt.Errorf("camera %s has unsupported format %s", c.name, format)
	}

	background, visuals, err := c.scene.snapshot()
	if err != nil {
		return nil, err
	}

	w, h := float64(width), float64(height)
	focal := (w / 2) / math.Tan(hfov/2)

	var items []projected
	for _, vis := range visuals {
		local := ToLocal(pose, vis.Position)
		depth := local.X
		if depth < near || depth > far {
			continue
		}
		items = append(items, projected{
			visual: vis,
			u:      w/2 - focal*local.Y/depth,
			v:      h/2 - focal*local.Z/depth,
			radius: focal * vis.Size / 2 / depth,
			depth:  depth,
		})
	}
	// Painter's order: farthest first.
	sort.SliceStable(items, func(i, j int) bool { return items[i].depth > items[j].depth })

	dc := gg.NewContext(int(width), int(height))
	dc.SetColor(background)
	dc.Clear()
	for _, it := range items {
		switch it.visual.Shape {
		case Box:
			dc.DrawRectangle(it.u-it.radius, it.v-it.radius, 2*it.radius, 2*it.radius)
		default:
			dc.DrawCircle(it.u, it.v, it.radius)
		}
		dc.SetColor(it.visual.Color)
		dc.Fill()
	}

	return &Image{
		Width:  width,
		Height: height,
		Format: format,
		Data:   pack(toRGBA(dc.Image()), format),
	}, nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	return rgba
}

func pack(img *image.RGBA, format msgs.PixelFormat) []byte {
	b := img.Bounds()
	bpp := format.BytesPerPixel()
	out := make([]byte, 0, b.Dx()*b.Dy()*bpp)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[(y-b.Min.Y)*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, a := row[4*x], row[4*x+1], row[4*x+2], row[4*x+3]
			switch format {
			case msgs.L8:
				out = append(out, uint8((299*uint32(r)+587*uint32(g)+114*uint32(bl))/1000))
			case msgs.RGBA8:
				out = append(out, r, g, bl, a)
			default:
				out = append(out, r, g, bl)
			}
		}
	}
	return out
}
