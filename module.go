package triggeredcamera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	generic "go.viam.com/rdk/services/generic"
	"go.viam.com/rdk/spatialmath"

	"triggeredcamera/config"
	"triggeredcamera/msgs"
	"triggeredcamera/render"
	"triggeredcamera/sdf"
	"triggeredcamera/sensors"
	"triggeredcamera/transport"
	"triggeredcamera/transport/mqttbridge"
)

var SceneRunner = resource.NewModel("viamdemo", "triggered-camera", "scene-runner")

var (
	errUnknownCamera = errors.New("unknown camera")
	errNotTriggered  = errors.New("camera is not triggered")
)

func init() {
	resource.RegisterService(generic.API, SceneRunner,
		resource.Registration[resource.Resource, *Config]{
			Constructor: newSceneRunner,
		},
	)
}

type Config struct {
	SDFPath string             `json:"sdf_path"`
	Model   string             `json:"model,omitempty"`   // optional: only sensors of this SDF model
	Engine  string             `json:"engine,omitempty"`  // default: gg
	Scene   string             `json:"scene,omitempty"`   // default: resource name
	RateHz  float64            `json:"rate_hz,omitempty"` // tick rate (default: 10)
	Visuals []config.Visual    `json:"visuals,omitempty"`
	MQTT    *mqttbridge.Config `json:"mqtt,omitempty"`
}

func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.SDFPath == "" {
		return nil, nil, fmt.Errorf("%s: sdf_path is required", path)
	}
	if cfg.RateHz < 0 {
		return nil, nil, fmt.Errorf("%s: rate_hz must be >= 0", path)
	}
	for _, v := range cfg.Visuals {
		if _, err := v.Build(); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if cfg.MQTT != nil && cfg.MQTT.Broker == "" {
		return nil, nil, fmt.Errorf("%s: mqtt.broker is required", path)
	}
	return nil, nil, nil
}

type sceneRunner struct {
	resource.AlwaysRebuild

	name   resource.Name
	logger logging.Logger
	cfg    *Config

	engine  *render.Engine
	scene   *render.Scene
	bus     *transport.Bus
	manager *sensors.Manager
	node    *transport.Node
	bridge  *mqttbridge.Bridge

	start time.Time

	tickMu sync.Mutex
	ticks  uint64

	mu       sync.Mutex
	triggers map[string]*transport.Publisher
	lastErr  string

	cancelCtx  context.Context
	cancelFunc func()
	loopDone   chan struct{}
}

func newSceneRunner(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (resource.Resource, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}

	return NewSceneRunner(ctx, rawConf.ResourceName(), conf, logger)
}

// NewSceneRunner loads the SDF document, builds a scene holding every sensor
// it describes and starts ticking them at conf.RateHz.
func NewSceneRunner(ctx context.Context, name resource.Name, conf *Config, logger logging.Logger) (resource.Resource, error) {
	root, err := sdf.ReadFile(conf.SDFPath)
	if err != nil {
		return nil, fmt.Errorf("reading sdf: %w", err)
	}
	placed, err := selectSensors(root, conf.Model)
	if err != nil {
		return nil, err
	}

	engineName := conf.Engine
	if engineName == "" {
		engineName = render.SoftwareEngine
	}
	engine, err := render.LoadEngine(engineName)
	if err != nil {
		return nil, err
	}
	sceneName := conf.Scene
	if sceneName == "" {
		sceneName = name.Name
	}
	scene, err := engine.CreateScene(sceneName)
	if err != nil {
		return nil, err
	}

	bus := transport.NewBus(logger.Sublogger("bus"))
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	s := &sceneRunner{
		name:       name,
		logger:     logger,
		cfg:        conf,
		engine:     engine,
		scene:      scene,
		bus:        bus,
		manager:    sensors.NewManager(bus, logger),
		node:       bus.NewNode(),
		start:      time.Now(),
		triggers:   map[string]*transport.Publisher{},
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
		loopDone:   make(chan struct{}),
	}

	if err := s.populate(placed); err != nil {
		close(s.loopDone)
		return nil, multierr.Combine(err, s.Close(ctx))
	}

	if conf.MQTT != nil {
		s.bridge, err = mqttbridge.New(s.bridgeConfig(*conf.MQTT), bus, logger.Sublogger("mqtt"))
		if err != nil {
			close(s.loopDone)
			return nil, multierr.Combine(fmt.Errorf("starting mqtt bridge: %w", err), s.Close(ctx))
		}
	}

	rate := conf.RateHz
	if rate <= 0 {
		rate = 10
	}
	go s.tickLoop(time.Duration(float64(time.Second) / rate))

	logger.Infof("scene-runner %q ticking %d sensors at %.1f Hz on engine %s", sceneName, len(s.manager.Sensors()), rate, engineName)
	return s, nil
}

// placedSensor is a sensor description with its pose resolved to the world
// frame through its model and link.
type placedSensor struct {
	desc *sdf.Sensor
	pose spatialmath.Pose
}

func renderPose(p sdf.Pose) spatialmath.Pose {
	return render.NewPose(p.X, p.Y, p.Z, p.Roll, p.Pitch, p.Yaw)
}

func selectSensors(root *sdf.Root, model string) ([]placedSensor, error) {
	if model != "" {
		if _, err := root.Model(model); err != nil {
			return nil, err
		}
	}
	var out []placedSensor
	for mi := range root.Models {
		m := &root.Models[mi]
		if model != "" && m.Name != model {
			continue
		}
		for li := range m.Links {
			link := &m.Links[li]
			base := spatialmath.Compose(renderPose(m.Pose), renderPose(link.Pose))
			for si := range link.Sensors {
				desc := &link.Sensors[si]
				out = append(out, placedSensor{desc: desc, pose: spatialmath.Compose(base, renderPose(desc.Pose))})
			}
		}
	}
	return out, nil
}

func (s *sceneRunner) populate(placed []placedSensor) error {
	for _, v := range s.cfg.Visuals {
		vis, err := v.Build()
		if err != nil {
			return err
		}
		if err := s.scene.AddVisual(vis); err != nil {
			return err
		}
	}
	for _, p := range placed {
		if p.desc.Type != "camera" {
			s.logger.Debugf("skipping %s sensor %q", p.desc.Type, p.desc.Name)
			continue
		}
		cam, err := sensors.CreateSensor[*sensors.CameraSensor](s.manager, p.desc)
		if err != nil {
			return err
		}
		cam.SetPose(p.pose)
		if err := cam.SetScene(s.scene); err != nil {
			return err
		}
	}
	return nil
}

// bridgeConfig bridges every trigger topic in and every image topic out
// unless the config names topics itself.
func (s *sceneRunner) bridgeConfig(cfg mqttbridge.Config) mqttbridge.Config {
	if len(cfg.Inbound) > 0 || len(cfg.Outbound) > 0 || cfg.ForwardAll {
		return cfg
	}
	for _, cam := range s.cameras() {
		if cam.Triggered() {
			cfg.Inbound = append(cfg.Inbound, cam.TriggerTopic())
		}
		cfg.Outbound = append(cfg.Outbound, cam.Topic())
	}
	return cfg
}

func (s *sceneRunner) tickLoop(interval time.Duration) {
	defer close(s.loopDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.cancelCtx.Done():
			return
		case <-ticker.C:
			if err := s.runOnce(s.cancelCtx, false); err != nil && s.cancelCtx.Err() == nil {
				s.logger.Warnf("tick failed: %v", err)
			}
		}
	}
}

func (s *sceneRunner) runOnce(ctx context.Context, force bool) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	s.ticks++
	err := s.manager.RunOnce(ctx, time.Since(s.start), force)

	s.mu.Lock()
	if err != nil {
		s.lastErr = err.Error()
	} else {
		s.lastErr = ""
	}
	s.mu.Unlock()
	return err
}

func (s *sceneRunner) Name() resource.Name {
	return s.name
}

func (s *sceneRunner) cameras() []*sensors.CameraSensor {
	var out []*sensors.CameraSensor
	for _, sn := range s.manager.Sensors() {
		if cam, ok := sn.(*sensors.CameraSensor); ok {
			out = append(out, cam)
		}
	}
	return out
}

func (s *sceneRunner) camera(name string) (*sensors.CameraSensor, error) {
	cam, ok := s.manager.SensorByName(name).(*sensors.CameraSensor)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownCamera, name)
	}
	return cam, nil
}

func cameraState(cam *sensors.CameraSensor) map[string]interface{} {
	state := map[string]interface{}{
		"id":            int(cam.ID()),
		"topic":         cam.Topic(),
		"triggered":     cam.Triggered(),
		"armed":         cam.Armed(),
		"frames":        int(cam.Frames()),
		"width":         int(cam.ImageWidth()),
		"height":        int(cam.ImageHeight()),
		"update_rate":   cam.UpdateRate(),
		"last_frame_at": cam.LastFrameTime().Seconds(),
	}
	if cam.Triggered() {
		state["trigger_topic"] = cam.TriggerTopic()
	}
	return state
}

// CameraState returns the state of one camera.
func (s *sceneRunner) CameraState(name string) (map[string]interface{}, error) {
	cam, err := s.camera(name)
	if err != nil {
		return nil, err
	}
	return cameraState(cam), nil
}

// GetState summarizes the runner and every camera it ticks.
func (s *sceneRunner) GetState() map[string]interface{} {
	cams := map[string]interface{}{}
	for _, cam := range s.cameras() {
		cams[cam.Name()] = cameraState(cam)
	}

	s.tickMu.Lock()
	ticks := s.ticks
	s.tickMu.Unlock()
	s.mu.Lock()
	lastErr := s.lastErr
	s.mu.Unlock()

	state := map[string]interface{}{
		"engine":   s.engine.Name(),
		"scene":    s.scene.Name(),
		"ticks":    int(ticks),
		"sim_time": time.Since(s.start).Seconds(),
		"cameras":  cams,
	}
	if lastErr != "" {
		state["last_error"] = lastErr
	}
	if s.bridge != nil {
		stats := s.bridge.Stats()
		state["mqtt"] = map[string]interface{}{
			"connected": s.bridge.Connected(),
			"sent":      int(stats.Sent),
			"received":  int(stats.Received),
			"dropped":   int(stats.Dropped),
		}
	}
	return state
}

// TriggerCamera publishes a trigger on the camera's trigger topic, the same
// way any other node on the bus would.
func (s *sceneRunner) TriggerCamera(ctx context.Context, name string) error {
	cam, err := s.camera(name)
	if err != nil {
		return err
	}
	if !cam.Triggered() {
		return fmt.Errorf("%w: %q", errNotTriggered, name)
	}

	s.mu.Lock()
	pub, ok := s.triggers[cam.TriggerTopic()]
	if !ok {
		pub, err = s.node.Advertise(cam.TriggerTopic(), msgs.BooleanType)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.triggers[cam.TriggerTopic()] = pub
	}
	s.mu.Unlock()

	return pub.Publish(ctx, msgs.Boolean{Data: true})
}

// SubscribeImages calls fn with every image the named camera publishes. The
// subscription counts as a listener, so the camera renders while it is held.
func (s *sceneRunner) SubscribeImages(name string, fn func(msgs.Image)) (func(), error) {
	cam, err := s.camera(name)
	if err != nil {
		return nil, err
	}
	node := s.bus.NewNode()
	err = transport.Subscribe(node, cam.Topic(), func(_ context.Context, img msgs.Image) {
		fn(img)
	})
	if err != nil {
		return nil, multierr.Combine(err, node.Close())
	}
	return func() {
		if err := node.Close(); err != nil {
			s.logger.Warnf("closing image subscription for %q: %v", name, err)
		}
	}, nil
}

func (s *sceneRunner) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	command, ok := cmd["command"].(string)
	if !ok {
		return nil, fmt.Errorf("missing or invalid 'command' field")
	}

	switch command {
	case "run_once":
		force, _ := cmd["force"].(bool)
		if err := s.runOnce(ctx, force); err != nil {
			return nil, err
		}
		return map[string]interface{}{"status": "completed"}, nil
	case "trigger":
		return s.handleTrigger(ctx, cmd)
	case "status":
		return s.GetState(), nil
	case "remove":
		return s.handleRemove(cmd)
	case "set_update_rate":
		return s.handleSetUpdateRate(cmd)
	default:
		return nil, fmt.Errorf("unknown command: %s", command)
	}
}

func sensorArg(cmd map[string]interface{}) (string, error) {
	name, ok := cmd["sensor"].(string)
	if !ok || name == "" {
		return "", fmt.Errorf("missing or invalid 'sensor' field")
	}
	return name, nil
}

func (s *sceneRunner) handleTrigger(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	name, err := sensorArg(cmd)
	if err != nil {
		return nil, err
	}
	if err := s.TriggerCamera(ctx, name); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "triggered", "sensor": name}, nil
}

func (s *sceneRunner) handleRemove(cmd map[string]interface{}) (map[string]interface{}, error) {
	name, err := sensorArg(cmd)
	if err != nil {
		return nil, err
	}
	sn := s.manager.SensorByName(name)
	if sn == nil || !s.manager.Remove(sn.ID()) {
		return nil, fmt.Errorf("%w: %q", errUnknownCamera, name)
	}
	s.logger.Infof("removed sensor %q", name)
	return map[string]interface{}{"status": "removed", "sensor": name}, nil
}

func (s *sceneRunner) handleSetUpdateRate(cmd map[string]interface{}) (map[string]interface{}, error) {
	name, err := sensorArg(cmd)
	if err != nil {
		return nil, err
	}
	rate, ok := cmd["rate_hz"].(float64)
	if !ok || rate < 0 {
		return nil, fmt.Errorf("missing or invalid 'rate_hz' field")
	}
	cam, err := s.camera(name)
	if err != nil {
		return nil, err
	}
	cam.SetUpdateRate(rate)
	return map[string]interface{}{"status": "updated", "sensor": name, "rate_hz": rate}, nil
}

func (s *sceneRunner) Close(context.Context) error {
	s.cancelFunc()
	<-s.loopDone

	var err error
	if s.bridge != nil {
		err = multierr.Append(err, s.bridge.Close())
	}
	err = multierr.Append(err, s.node.Close())
	err = multierr.Append(err, s.manager.Close())
	err = multierr.Append(err, s.engine.DestroyScene(s.scene))
	return err
}
