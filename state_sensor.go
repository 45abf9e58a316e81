package triggeredcamera

import (
	"context"
	"fmt"

	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

var SceneState = resource.NewModel("viamdemo", "triggered-camera", "scene-state")

func init() {
	resource.RegisterComponent(sensor.API, SceneState,
		resource.Registration[sensor.Sensor, *SceneStateConfig]{
			Constructor: newSceneStateSensor,
		},
	)
}

type SceneStateConfig struct {
	Runner string `json:"runner"`
}

func (cfg *SceneStateConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Runner == "" {
		return nil, nil, fmt.Errorf("%s: runner is required", path)
	}
	return []string{runnerName(cfg.Runner).String()}, nil, nil
}

type stateProvider interface {
	GetState() map[string]interface{}
}

type sceneStateSensor struct {
	resource.AlwaysRebuild

	name   resource.Name
	logger logging.Logger
	runner stateProvider
}

func newSceneStateSensor(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (sensor.Sensor, error) {
	conf, err := resource.NativeConfig[*SceneStateConfig](rawConf)
	if err != nil {
		return nil, err
	}

	provider, err := runnerFromDependencies[stateProvider](deps, conf.Runner)
	if err != nil {
		return nil, err
	}

	return &sceneStateSensor{
		name:   rawConf.ResourceName(),
		logger: logger,
		runner: provider,
	}, nil
}

func (s *sceneStateSensor) Name() resource.Name {
	return s.name
}

func (s *sceneStateSensor) Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
	return s.runner.GetState(), nil
}

func (s *sceneStateSensor) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	return nil, fmt.Errorf("DoCommand not supported on scene-state")
}

func (s *sceneStateSensor) Close(context.Context) error {
	return nil
}
