package triggeredcamera

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"

	"triggeredcamera/msgs"
)

// fakeFrameSource hands images to whoever is subscribed.
type fakeFrameSource struct {
	mu           sync.Mutex
	fn           func(msgs.Image)
	subscribes   int
	unsubscribes int
	subscribeErr error
}

func (f *fakeFrameSource) SubscribeImages(camera string, fn func(msgs.Image)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.fn = fn
	f.subscribes++
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.fn = nil
		f.unsubscribes++
	}, nil
}

func (f *fakeFrameSource) push(value byte) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		fn(grayImage(value))
	}
}

func (f *fakeFrameSource) subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fn != nil
}

func grayImage(value byte) msgs.Image {
	return msgs.Image{
		Width: 2, Height: 2, Step: 2, PixelFormat: msgs.L8,
		Data: []byte{value, value, value, value},
	}
}

func newTestFrameStats(t *testing.T, source frameSource) *frameStatsSensor {
	return newFrameStats(
		resource.NewName(resource.APINamespaceRDK.WithComponentType("sensor"), "test"),
		source,
		&FrameStatsConfig{Runner: "runner", Camera: "front", BufferSize: 3, Threshold: 5.0},
		logging.NewTestLogger(t),
	)
}

func TestFrameStatsConfig(t *testing.T) {
	t.Run("requires runner", func(t *testing.T) {
		cfg := &FrameStatsConfig{Camera: "front"}
		if _, _, err := cfg.Validate("test"); err == nil {
			t.Error("expected error for missing runner")
		}
	})

	t.Run("requires camera", func(t *testing.T) {
		cfg := &FrameStatsConfig{Runner: "runner"}
		if _, _, err := cfg.Validate("test"); err == nil {
			t.Error("expected error for missing camera")
		}
	})

	t.Run("defaults", func(t *testing.T) {
		fs := newFrameStats(resource.Name{}, &fakeFrameSource{}, &FrameStatsConfig{Camera: "front"}, logging.NewTestLogger(t))
		if fs.bufferSize != 100 || fs.threshold != 5.0 || fs.captureTimeout != 10*time.Second {
			t.Errorf("unexpected defaults: %d %v %v", fs.bufferSize, fs.threshold, fs.captureTimeout)
		}
	})
}

func TestMeanBrightness(t *testing.T) {
	got, err := meanBrightness(msgs.Image{
		Width: 2, Height: 1, Step: 6, PixelFormat: msgs.R8G8B8,
		Data: []byte{255, 0, 0, 0, 0, 0},
	})
	if err != nil {
		t.Fatalf("meanBrightness failed: %v", err)
	}
	if got != 38 {
		t.Errorf("brightness = %v, want 38", got)
	}

	if got, _ := meanBrightness(grayImage(200)); got != 200 {
		t.Errorf("gray brightness = %v, want 200", got)
	}
	if _, err := meanBrightness(msgs.Image{Width: 4, Height: 4, PixelFormat: msgs.L8}); err == nil {
		t.Error("expected error for short data")
	}
	if _, err := meanBrightness(msgs.Image{PixelFormat: msgs.L8}); err == nil {
		t.Error("expected error for empty image")
	}
}

func TestFrameStats_StateMachine(t *testing.T) {
	t.Run("starts in idle state and ignores frames", func(t *testing.T) {
		source := &fakeFrameSource{}
		fs := newTestFrameStats(t, source)
		fs.onImage(grayImage(100))

		readings, _ := fs.Readings(context.Background(), nil)
		if readings["capture_state"] != "idle" {
			t.Errorf("expected capture_state=idle, got %v", readings["capture_state"])
		}
		if readings["sample_count"] != 0 {
			t.Errorf("expected no samples, got %v", readings["sample_count"])
		}
		if source.subscribed() {
			t.Error("idle sensor should not hold a subscription")
		}
	})

	t.Run("start_capture subscribes and waits", func(t *testing.T) {
		source := &fakeFrameSource{}
		fs := newTestFrameStats(t, source)

		result, err := fs.DoCommand(context.Background(), map[string]interface{}{"command": "start_capture", "label": "run-1"})
		if err != nil {
			t.Fatalf("start_capture failed: %v", err)
		}
		if result["status"] != "waiting" {
			t.Errorf("expected status=waiting, got %v", result["status"])
		}
		if !source.subscribed() {
			t.Error("expected a subscription while capturing")
		}

		// Dark frames do not start the capture.
		source.push(1)
		readings, _ := fs.Readings(context.Background(), nil)
		if readings["capture_state"] != "waiting" {
			t.Errorf("expected capture_state=waiting, got %v", readings["capture_state"])
		}
		if readings["label"] != "run-1" {
			t.Errorf("expected label=run-1, got %v", readings["label"])
		}

		if _, err := fs.DoCommand(context.Background(), map[string]interface{}{"command": "start_capture"}); err == nil {
			t.Error("expected error when capture already in progress")
		}
		fs.handleEndCapture()
	})

	t.Run("bright frame starts capturing and buffer is bounded", func(t *testing.T) {
		source := &fakeFrameSource{}
		fs := newTestFrameStats(t, source)
		fs.handleStartCapture(map[string]interface{}{})

		for _, v := range []byte{10, 20, 30, 40} {
			source.push(v)
		}

		readings, _ := fs.Readings(context.Background(), nil)
		if readings["capture_state"] != "capturing" {
			t.Errorf("expected capture_state=capturing, got %v", readings["capture_state"])
		}
		if readings["sample_count"] != 3 {
			t.Errorf("expected 3 samples, got %v", readings["sample_count"])
		}
		if readings["max_brightness"] != 40.0 {
			t.Errorf("expected max_brightness=40, got %v", readings["max_brightness"])
		}
		if readings["mean_brightness"] != 30.0 {
			t.Errorf("expected mean_brightness=30, got %v", readings["mean_brightness"])
		}
		if readings["frames_seen"] != 4 {
			t.Errorf("expected frames_seen=4, got %v", readings["frames_seen"])
		}

		result, err := fs.DoCommand(context.Background(), map[string]interface{}{"command": "end_capture"})
		if err != nil {
			t.Fatalf("end_capture failed: %v", err)
		}
		if result["sample_count"] != 3 || result["max_brightness"] != 40.0 {
			t.Errorf("unexpected end_capture result %v", result)
		}
		if source.subscribed() {
			t.Error("end_capture should release the subscription")
		}
	})

	t.Run("end_capture when idle returns error", func(t *testing.T) {
		fs := newTestFrameStats(t, &fakeFrameSource{})
		if _, err := fs.handleEndCapture(); err == nil {
			t.Error("expected error when no capture in progress")
		}
	})

	t.Run("subscribe failure leaves sensor idle", func(t *testing.T) {
		fs := newTestFrameStats(t, &fakeFrameSource{subscribeErr: errors.New("unknown camera")})
		if _, err := fs.handleStartCapture(map[string]interface{}{}); err == nil {
			t.Fatal("expected error")
		}
		readings, _ := fs.Readings(context.Background(), nil)
		if readings["capture_state"] != "idle" {
			t.Errorf("expected capture_state=idle, got %v", readings["capture_state"])
		}
	})

	t.Run("timeout returns to idle", func(t *testing.T) {
		source := &fakeFrameSource{}
		fs := newTestFrameStats(t, source)
		fs.captureTimeout = 20 * time.Millisecond
		fs.handleStartCapture(map[string]interface{}{})

		time.Sleep(100 * time.Millisecond)
		readings, _ := fs.Readings(context.Background(), nil)
		if readings["capture_state"] != "idle" {
			t.Errorf("expected capture_state=idle after timeout, got %v", readings["capture_state"])
		}
		if source.subscribed() {
			t.Error("timeout should release the subscription")
		}
	})

	t.Run("stale timeout does not end the next capture", func(t *testing.T) {
		source := &fakeFrameSource{}
		fs := newTestFrameStats(t, source)
		fs.captureTimeout = 5 * time.Millisecond
		fs.handleStartCapture(map[string]interface{}{})

		// Let the timer fire while the lock is held so its callback is
		// still pending when the capture is restarted.
		fs.mu.Lock()
		time.Sleep(20 * time.Millisecond)
		fs.mu.Unlock()

		fs.handleEndCapture()
		fs.captureTimeout = time.Hour
		if _, err := fs.handleStartCapture(map[string]interface{}{"label": "second"}); err != nil {
			t.Fatalf("second start_capture failed: %v", err)
		}

		time.Sleep(20 * time.Millisecond)
		readings, _ := fs.Readings(context.Background(), nil)
		if readings["capture_state"] != "waiting" {
			t.Errorf("expected capture_state=waiting, got %v", readings["capture_state"])
		}
		if !source.subscribed() {
			t.Error("second capture lost its subscription")
		}
		fs.handleEndCapture()
	})

	t.Run("unknown command", func(t *testing.T) {
		fs := newTestFrameStats(t, &fakeFrameSource{})
		if _, err := fs.DoCommand(context.Background(), map[string]interface{}{"command": "zero"}); err == nil {
			t.Error("expected error for unknown command")
		}
	})
}

func TestFrameStats_WithRunner(t *testing.T) {
	runner := newTestRunner(t, testConfig(t))
	fs := newTestFrameStats(t, runner)
	fs.camera = "rear"

	if _, err := fs.handleStartCapture(map[string]interface{}{}); err != nil {
		t.Fatalf("start_capture failed: %v", err)
	}
	if err := runner.runOnce(context.Background(), true); err != nil {
		t.Fatalf("runOnce failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		readings, _ := fs.Readings(context.Background(), nil)
		if readings["frames_seen"] == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("frame-stats never saw a frame")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := fs.handleEndCapture(); err != nil {
		t.Fatalf("end_capture failed: %v", err)
	}
	if err := fs.Close(context.Background()); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
