package sensors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"

	"triggeredcamera/msgs"
	"triggeredcamera/render"
	"triggeredcamera/sdf"
	"triggeredcamera/transport"
)

var ErrNoScene = errors.New("rendering sensor has no scene")

// RenderingSensor is a sensor that draws through a render.Scene.
type RenderingSensor interface {
	Sensor
	SetScene(scene *render.Scene) error
}

// CameraSensor publishes images on its topic. In triggered mode it only
// captures on ticks that follow a true message on its trigger topic.
type CameraSensor struct {
	Base

	logger logging.Logger
	node   *transport.Node
	pub    *transport.Publisher

	width, height uint32
	format        msgs.PixelFormat
	hfov          float64
	near, far     float64
	pose          spatialmath.Pose

	triggered    bool
	triggerTopic string
	latch        Latch

	mu          sync.Mutex
	scene       *render.Scene
	camera      *render.Camera
	callbacks   map[int]func(msgs.Image)
	nextCB      int
	frames      uint64
	lastFrameAt time.Duration
}

var _ RenderingSensor = (*CameraSensor)(nil)

// NewCameraSensor builds a camera from its description and connects it to
// the bus. The rendering camera is created later by SetScene.
func NewCameraSensor(cfg *sdf.Sensor, bus *transport.Bus, logger logging.Logger) (*CameraSensor, error) {
	if cfg.Camera == nil {
		return nil, fmt.Errorf("%w: sensor[%s]/camera", sdf.ErrMissingElement, cfg.Name)
	}
	if err := cfg.Validate("sensor[" + cfg.Name + "]"); err != nil {
		return nil, err
	}
	format, err := cfg.Camera.Image.PixelFormat()
	if err != nil {
		return nil, err
	}

	c := &CameraSensor{
		logger:    logger,
		width:     cfg.Camera.Image.Width,
		height:    cfg.Camera.Image.Height,
		format:    format,
		hfov:      cfg.Camera.HorizontalFOV,
		near:      cfg.Camera.Clip.Near,
		far:       cfg.Camera.Clip.Far,
		pose:      render.NewPose(cfg.Pose.X, cfg.Pose.Y, cfg.Pose.Z, cfg.Pose.Roll, cfg.Pose.Pitch, cfg.Pose.Yaw),
		triggered: cfg.Camera.Triggered,
		callbacks: map[int]func(msgs.Image){},
	}
	c.Base.init(cfg)

	c.node = bus.NewNode()
	c.pub, err = c.node.Advertise(c.Topic(), msgs.ImageType)
	if err != nil {
		return nil, multierr.Combine(fmt.Errorf("advertising %s: %w", c.Topic(), err), c.node.Close())
	}

	if c.triggered {
		c.triggerTopic = cfg.Camera.ResolvedTriggerTopic(c.Topic())
		if err := transport.Subscribe(c.node, c.triggerTopic, c.OnTriggerMessage); err != nil {
			return nil, multierr.Combine(fmt.Errorf("subscribing to %s: %w", c.triggerTopic, err), c.node.Close())
		}
		logger.Debugf("camera %q waits for triggers on %s", c.Name(), c.triggerTopic)
	}
	return c, nil
}

// OnTriggerMessage arms the camera. False payloads are ignored.
func (c *CameraSensor) OnTriggerMessage(_ context.Context, msg msgs.Boolean) {
	if !msg.Data {
		return
	}
	c.latch.Set()
}

// SetScene creates the rendering camera in scene, replacing any camera the
// sensor had in a previous scene.
func (c *CameraSensor) SetScene(scene *render.Scene) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if scene == c.scene {
		return nil
	}
	if c.camera != nil {
		c.scene.DestroySensor(c.camera)
		c.camera = nil
		c.scene = nil
	}
	if scene == nil {
		return nil
	}

	cam, err := scene.CreateCamera(c.Name())
	if err != nil {
		return fmt.Errorf("creating rendering camera for %q: %w", c.Name(), err)
	}
	cam.SetImageSize(c.width, c.height)
	cam.SetImageFormat(c.format)
	cam.SetHFOV(c.hfov)
	cam.SetClip(c.near, c.far)
	cam.SetPose(c.pose)

	c.scene = scene
	c.camera = cam
	return nil
}

// SetPose moves the sensor in the world frame.
func (c *CameraSensor) SetPose(p spatialmath.Pose) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pose = p
	if c.camera != nil {
		c.camera.SetPose(p)
	}
}

// RenderingCamera is nil until SetScene succeeds.
func (c *CameraSensor) RenderingCamera() *render.Camera {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.camera
}

func (c *CameraSensor) ImageWidth() uint32  { return c.width }
func (c *CameraSensor) ImageHeight() uint32 { return c.height }

// Triggered reports whether the camera waits for trigger messages.
func (c *CameraSensor) Triggered() bool { return c.triggered }

// TriggerTopic is empty for cameras that are not triggered.
func (c *CameraSensor) TriggerTopic() string { return c.triggerTopic }

// Armed reports whether a trigger is pending.
func (c *CameraSensor) Armed() bool { return c.latch.Armed() }

// Frames is the number of images produced so far.
func (c *CameraSensor) Frames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// LastFrameTime is the simulation time of the most recent image.
func (c *CameraSensor) LastFrameTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFrameAt
}

// OnImage registers cb to receive every image the camera produces. Callbacks
// run on the goroutine that ticks the manager. The returned function
// disconnects the callback.
func (c *CameraSensor) OnImage(cb func(msgs.Image)) (disconnect func()) {
	c.mu.Lock()
	id := c.nextCB
	c.nextCB++
	c.callbacks[id] = cb
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.callbacks, id)
	}
}

func (c *CameraSensor) hasListeners() bool {
	c.mu.Lock()
	n := len(c.callbacks)
	c.mu.Unlock()
	return n > 0 || c.pub.HasConnections()
}

// Update captures and publishes one image. Nothing happens when nobody
// listens, or when the camera is triggered and no trigger is pending. A
// pending trigger is consumed before capture, so a trigger that arrives
// while this frame renders is kept for the next tick.
func (c *CameraSensor) Update(ctx context.Context, now time.Duration) error {
	cam := c.RenderingCamera()
	if cam == nil {
		return fmt.Errorf("%w: %s", ErrNoScene, c.Name())
	}
	if c.triggered && !c.latch.Armed() {
		return nil
	}
	if !c.hasListeners() {
		return nil
	}
	if c.triggered && !c.latch.Take() {
		return nil
	}

	frame, err := cam.Capture()
	if err != nil {
		c.rearm()
		return fmt.Errorf("capturing %s: %w", c.Name(), err)
	}

	img := msgs.Image{
		Header:      msgs.Header{Stamp: now, FrameID: c.Name()},
		Width:       frame.Width,
		Height:      frame.Height,
		Step:        frame.Step(),
		PixelFormat: frame.Format,
		Data:        frame.Data,
	}
	if err := c.pub.Publish(ctx, img); err != nil {
		c.rearm()
		return fmt.Errorf("publishing %s: %w", c.Topic(), err)
	}

	c.mu.Lock()
	c.frames++
	c.lastFrameAt = now
	cbs := make([]func(msgs.Image), 0, len(c.callbacks))
	for _, cb := range c.callbacks {
		cbs = append(cbs, cb)
	}
	c.mu.Unlock()

	for _, cb := range cbs {
		cb(img)
	}
	return nil
}

func (c *CameraSensor) rearm() {
	if c.triggered {
		c.latch.Set()
	}
}

// Close stops listening for triggers and removes the rendering camera from
// its scene.
func (c *CameraSensor) Close() error {
	err := c.node.Close()
	if setErr := c.SetScene(nil); setErr != nil {
		err = multierr.Append(err, setErr)
	}
	return err
}
