package main

import (
	"triggeredcamera"

	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	generic "go.viam.com/rdk/services/generic"
)

func main() {
	module.ModularMain(
		resource.APIModel{API: generic.API, Model: triggeredcamera.SceneRunner},
		resource.APIModel{API: sensor.API, Model: triggeredcamera.CameraStatus},
		resource.APIModel{API: sensor.API, Model: triggeredcamera.SceneState},
		resource.APIModel{API: sensor.API, Model: triggeredcamera.FrameStats},
	)
}
