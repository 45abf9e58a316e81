package triggeredcamera

import (
	"context"
	"fmt"

	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

var CameraStatus = resource.NewModel("viamdemo", "triggered-camera", "camera-status")

func init() {
	resource.RegisterComponent(sensor.API, CameraStatus,
		resource.Registration[sensor.Sensor, *CameraStatusConfig]{
			Constructor: newCameraStatus,
		},
	)
}

type CameraStatusConfig struct {
	Runner string `json:"runner"`
	Camera string `json:"camera"` // sensor name in the runner's SDF
}

func (cfg *CameraStatusConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Runner == "" {
		return nil, nil, fmt.Errorf("%s: runner is required", path)
	}
	if cfg.Camera == "" {
		return nil, nil, fmt.Errorf("%s: camera is required", path)
	}
	return []string{runnerName(cfg.Runner).String()}, nil, nil
}

// runnerName is the full resource name of a scene-runner, so Viam knows the
// dependency is a generic service.
func runnerName(name string) resource.Name {
	return resource.NewName(resource.APINamespaceRDK.WithServiceType("generic"), name)
}

type cameraProvider interface {
	CameraState(name string) (map[string]interface{}, error)
	TriggerCamera(ctx context.Context, name string) error
}

// runnerFromDependencies finds the scene-runner named runner and checks that
// it offers what the caller needs.
func runnerFromDependencies[T any](deps resource.Dependencies, runner string) (T, error) {
	var zero T
	res, ok := deps[runnerName(runner)]
	if !ok {
		return zero, fmt.Errorf("runner %q not found in dependencies", runner)
	}
	provider, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("runner %q is not a scene-runner", runner)
	}
	return provider, nil
}

type cameraStatus struct {
	resource.AlwaysRebuild

	name   resource.Name
	logger logging.Logger
	camera string
	runner cameraProvider
}

func newCameraStatus(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (sensor.Sensor, error) {
	conf, err := resource.NativeConfig[*CameraStatusConfig](rawConf)
	if err != nil {
		return nil, err
	}

	provider, err := runnerFromDependencies[cameraProvider](deps, conf.Runner)
	if err != nil {
		return nil, err
	}
	if _, err := provider.CameraState(conf.Camera); err != nil {
		return nil, err
	}

	return &cameraStatus{
		name:   rawConf.ResourceName(),
		logger: logger,
		camera: conf.Camera,
		runner: provider,
	}, nil
}

func (s *cameraStatus) Name() resource.Name {
	return s.name
}

func (s *cameraStatus) Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
	return s.runner.CameraState(s.camera)
}

func (s *cameraStatus) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	command, ok := cmd["command"].(string)
	if !ok {
		return nil, fmt.Errorf("missing or invalid 'command' field")
	}

	switch command {
	case "trigger":
		if err := s.runner.TriggerCamera(ctx, s.camera); err != nil {
			return nil, err
		}
		s.logger.Debugf("triggered camera %q", s.camera)
		return map[string]interface{}{"status": "triggered"}, nil
	default:
		return nil, fmt.Errorf("unknown command: %s", command)
	}
}

func (s *cameraStatus) Close(context.Context) error {
	return nil
}
