package triggeredcamera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"

	"triggeredcamera/msgs"
)

var FrameStats = resource.NewModel("viamdemo", "triggered-camera", "frame-stats")

func init() {
	resource.RegisterComponent(sensor.API, FrameStats,
		resource.Registration[sensor.Sensor, *FrameStatsConfig]{
			Constructor: newFrameStatsSensor,
		},
	)
}

type FrameStatsConfig struct {
	Runner         string  `json:"runner"`                       // REQUIRED: scene-runner service
	Camera         string  `json:"camera"`                       // REQUIRED: camera sensor name
	BufferSize     int     `json:"buffer_size,omitempty"`        // samples kept (default: 100)
	Threshold      float64 `json:"threshold,omitempty"`          // brightness that starts a capture (default: 5.0)
	CaptureTimeout int     `json:"capture_timeout_ms,omitempty"` // timeout in ms (default: 10000)
}

func (cfg *FrameStatsConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Runner == "" {
		return nil, nil, fmt.Errorf("%s: runner is required", path)
	}
	if cfg.Camera == "" {
		return nil, nil, fmt.Errorf("%s: camera is required", path)
	}
	return []string{runnerName(cfg.Runner).String()}, nil, nil
}

// frameSource delivers a camera's images while a subscription is held.
type frameSource interface {
	SubscribeImages(camera string, fn func(msgs.Image)) (unsubscribe func(), err error)
}

// meanBrightness is the average intensity of img on a 0-255 scale.
func meanBrightness(img msgs.Image) (float64, error) {
	bpp := img.PixelFormat.BytesPerPixel()
	if bpp == 0 {
		return 0, fmt.Errorf("unsupported pixel format %s", img.PixelFormat)
	}
	step := int(img.Step)
	if step == 0 {
		step = int(img.Width) * bpp
	}
	w, h := int(img.Width), int(img.Height)
	if w == 0 || h == 0 {
		return 0, fmt.Errorf("empty image")
	}
	if len(img.Data) < step*h {
		return 0, fmt.Errorf("image data too short: %d bytes for %dx%d", len(img.Data), w, h)
	}

	var sum uint64
	for y := 0; y < h; y++ {
		row := img.Data[y*step:]
		for x := 0; x < w; x++ {
			px := row[x*bpp:]
			if bpp == 1 {
				sum += uint64(px[0])
				continue
			}
			sum += (299*uint64(px[0]) + 587*uint64(px[1]) + 114*uint64(px[2])) / 1000
		}
	}
	return float64(sum) / float64(w*h), nil
}

type captureState int

const (
	captureIdle captureState = iota
	captureWaiting  // waiting for the first frame above threshold
	captureActive   // recording every frame
)

func (s captureState) String() string {
	switch s {
	case captureWaiting:
		return "waiting"
	case captureActive:
		return "capturing"
	default:
		return "idle"
	}
}

type frameStatsSensor struct {
	resource.AlwaysRebuild

	name   resource.Name
	logger logging.Logger
	source frameSource
	camera string

	bufferSize     int
	threshold      float64
	captureTimeout time.Duration

	mu           sync.Mutex
	samples      []float64
	state        captureState
	framesSeen   int
	unsubscribe  func()
	timeoutTimer *time.Timer

	// Metadata passed via start_capture
	label string
}

func newFrameStatsSensor(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (sensor.Sensor, error) {
	conf, err := resource.NativeConfig[*FrameStatsConfig](rawConf)
	if err != nil {
		return nil, err
	}

	source, err := runnerFromDependencies[frameSource](deps, conf.Runner)
	if err != nil {
		return nil, err
	}

	return newFrameStats(rawConf.ResourceName(), source, conf, logger), nil
}

func newFrameStats(name resource.Name, source frameSource, conf *FrameStatsConfig, logger logging.Logger) *frameStatsSensor {
	bufferSize := conf.BufferSize
	if bufferSize <= 0 {
		bufferSize = 100
	}

	threshold := conf.Threshold
	if threshold <= 0 {
		threshold = 5.0
	}

	captureTimeout := conf.CaptureTimeout
	if captureTimeout <= 0 {
		captureTimeout = 10000 // 10 seconds default
	}

	return &frameStatsSensor{
		name:           name,
		logger:         logger,
		source:         source,
		camera:         conf.Camera,
		bufferSize:     bufferSize,
		threshold:      threshold,
		captureTimeout: time.Duration(captureTimeout) * time.Millisecond,
		samples:        make([]float64, 0, bufferSize),
		state:          captureIdle,
	}
}

func (fs *frameStatsSensor) Name() resource.Name {
	return fs.name
}

func (fs *frameStatsSensor) Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
	fs.mu.Lock()
	samplesCopy := make([]float64, len(fs.samples))
	copy(samplesCopy, fs.samples)
	state := fs.state
	label := fs.label
	framesSeen := fs.framesSeen
	fs.mu.Unlock()

	samplesInterface := make([]interface{}, len(samplesCopy))
	for i, v := range samplesCopy {
		samplesInterface[i] = v
	}

	result := map[string]interface{}{
		"camera":        fs.camera,
		"label":         label,
		"samples":       samplesInterface,
		"sample_count":  len(samplesCopy),
		"frames_seen":   framesSeen,
		"capture_state": state.String(),
	}

	if len(samplesCopy) > 0 {
		max, sum := samplesCopy[0], 0.0
		for _, v := range samplesCopy {
			if v > max {
				max = v
			}
			sum += v
		}
		result["max_brightness"] = max
		result["mean_brightness"] = sum / float64(len(samplesCopy))
	}

	return result, nil
}

func (fs *frameStatsSensor) onImage(img msgs.Image) {
	brightness, err := meanBrightness(img)
	if err != nil {
		fs.logger.Warnf("failed to measure frame: %v", err)
		return
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.state == captureIdle {
		return
	}
	fs.framesSeen++

	if fs.state == captureWaiting && brightness >= fs.threshold {
		fs.state = captureActive
		fs.samples = fs.samples[:0]
		fs.logger.Infof("frame capture started (first brightness: %.2f)", brightness)
	}

	if fs.state == captureActive {
		if len(fs.samples) >= fs.bufferSize {
			fs.samples = fs.samples[1:]
		}
		fs.samples = append(fs.samples, brightness)
	}
}

func (fs *frameStatsSensor) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	command, ok := cmd["command"].(string)
	if !ok {
		return nil, fmt.Errorf("missing or invalid 'command' field")
	}

	switch command {
	case "start_capture":
		return fs.handleStartCapture(cmd)
	case "end_capture":
		return fs.handleEndCapture()
	default:
		return nil, fmt.Errorf("unknown command: %s", command)
	}
}

func (fs *frameStatsSensor) handleStartCapture(cmd map[string]interface{}) (map[string]interface{}, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.state != captureIdle {
		return nil, fmt.Errorf("capture already in progress (state: %s)", fs.state)
	}

	// Subscribing makes the camera render, so only hold it while capturing.
	unsubscribe, err := fs.source.SubscribeImages(fs.camera, fs.onImage)
	if err != nil {
		return nil, fmt.Errorf("subscribing to camera %q: %w", fs.camera, err)
	}
	fs.unsubscribe = unsubscribe

	fs.label = ""
	if label, ok := cmd["label"].(string); ok {
		fs.label = label
	}

	fs.state = captureWaiting
	fs.samples = fs.samples[:0]
	fs.framesSeen = 0

	// A timer that already fired can still be waiting on fs.mu after its
	// capture ended, so it only acts while it is the current timer.
	var timer *time.Timer
	timer = time.AfterFunc(fs.captureTimeout, func() {
		fs.mu.Lock()
		if fs.timeoutTimer != timer || fs.state == captureIdle {
			fs.mu.Unlock()
			return
		}
		fs.logger.Errorf("capture timeout: end_capture not called within %v", fs.captureTimeout)
		fs.state = captureIdle
		fs.timeoutTimer = nil
		unsubscribe := fs.takeUnsubscribe()
		fs.mu.Unlock()
		unsubscribe()
	})
	fs.timeoutTimer = timer

	fs.logger.Infof("capture started on %q, waiting for brightness >= %.2f", fs.camera, fs.threshold)
	return map[string]interface{}{"status": "waiting"}, nil
}

// takeUnsubscribe must be called with fs.mu held. The returned function is
// called after unlocking, since it waits for in-flight deliveries that need
// the lock.
func (fs *frameStatsSensor) takeUnsubscribe() func() {
	unsubscribe := fs.unsubscribe
	fs.unsubscribe = nil
	if unsubscribe == nil {
		return func() {}
	}
	return unsubscribe
}

func (fs *frameStatsSensor) handleEndCapture() (map[string]interface{}, error) {
	fs.mu.Lock()

	if fs.state == captureIdle {
		fs.mu.Unlock()
		return nil, fmt.Errorf("no capture in progress")
	}

	if fs.timeoutTimer != nil {
		fs.timeoutTimer.Stop()
		fs.timeoutTimer = nil
	}

	sampleCount := len(fs.samples)
	var maxBrightness float64
	if sampleCount > 0 {
		maxBrightness = fs.samples[0]
		for _, v := range fs.samples[1:] {
			if v > maxBrightness {
				maxBrightness = v
			}
		}
	}

	prevState := fs.state
	fs.state = captureIdle
	label := fs.label
	fs.label = ""
	unsubscribe := fs.takeUnsubscribe()
	fs.mu.Unlock()

	unsubscribe()

	fs.logger.Infof("capture ended (was %s): %d samples, max brightness: %.2f", prevState, sampleCount, maxBrightness)
	return map[string]interface{}{
		"status":         "completed",
		"sample_count":   sampleCount,
		"max_brightness": maxBrightness,
		"label":          label,
	}, nil
}

func (fs *frameStatsSensor) Close(context.Context) error {
	fs.mu.Lock()
	if fs.timeoutTimer != nil {
		fs.timeoutTimer.Stop()
		fs.timeoutTimer = nil
	}
	fs.state = captureIdle
	unsubscribe := fs.takeUnsubscribe()
	fs.mu.Unlock()
	unsubscribe()
	return nil
}
