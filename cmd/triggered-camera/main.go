// Command triggered-camera runs a scene of SDF-described cameras outside of
// viam-server, optionally bridged to MQTT and dumping every image as PNG.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	generic "go.viam.com/rdk/services/generic"

	"triggeredcamera"
	"triggeredcamera/config"
	"triggeredcamera/msgs"
	"triggeredcamera/render"
)

type runner interface {
	resource.Resource
	GetState() map[string]interface{}
	SubscribeImages(name string, fn func(msgs.Image)) (func(), error)
}

func main() {
	configPath := flag.String("config", "triggered-camera.yaml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Errorf("triggered-camera: %v", err)
		os.Exit(1)
	}
}

func newLogger(level string) logging.Logger {
	if level == "debug" {
		return logging.NewDebugLogger("triggered-camera")
	}
	logger := logging.NewLogger("triggered-camera")
	switch level {
	case "warn":
		logger.SetLevel(logging.WARN)
	case "error":
		logger.SetLevel(logging.ERROR)
	}
	return logger
}

func run(ctx context.Context, cfg *config.Config, logger logging.Logger) (err error) {
	res, err := triggeredcamera.NewSceneRunner(ctx, resource.NewName(generic.API, cfg.Scene), &triggeredcamera.Config{
		SDFPath: cfg.SDFPath,
		Engine:  cfg.Engine,
		Scene:   cfg.Scene,
		RateHz:  cfg.RateHz,
		Visuals: cfg.Visuals,
		MQTT:    cfg.MQTT,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := res.Close(context.Background()); closeErr != nil {
			err = multierr.Append(err, closeErr)
		}
	}()
	r, ok := res.(runner)
	if !ok {
		return fmt.Errorf("unexpected runner type %T", res)
	}

	var unsubscribe []func()
	defer func() {
		for _, fn := range unsubscribe {
			fn()
		}
	}()
	if cfg.OutputDir != "" {
		unsubscribe, err = dumpImages(r, cfg.OutputDir, logger)
		if err != nil {
			return err
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// dumpImages writes each camera's images to <dir>/<camera>/<frame>.png.
func dumpImages(r runner, dir string, logger logging.Logger) ([]func(), error) {
	cams, _ := r.GetState()["cameras"].(map[string]interface{})
	names := make([]string, 0, len(cams))
	for name := range cams {
		names = append(names, name)
	}
	sort.Strings(names)

	var unsubscribe []func()
	for _, name := range names {
		camDir := filepath.Join(dir, name)
		if err := os.MkdirAll(camDir, 0o755); err != nil {
			return unsubscribe, fmt.Errorf("creating %s: %w", camDir, err)
		}

		var mu sync.Mutex
		frame := 0
		fn, err := r.SubscribeImages(name, func(img msgs.Image) {
			mu.Lock()
			frame++
			path := filepath.Join(camDir, fmt.Sprintf("%06d.png", frame))
			mu.Unlock()
			if err := render.SavePNG(path, img); err != nil {
				logger.Warnf("saving %s: %v", path, err)
			}
		})
		if err != nil {
			return unsubscribe, err
		}
		unsubscribe = append(unsubscribe, fn)
		logger.Infof("writing %s images to %s", name, camDir)
	}
	return unsubscribe, nil
}
