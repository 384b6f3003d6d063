package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"syscall"

	adhoc "ObjectCounter/Adhoc"
	"ObjectCounter/capture"
	"ObjectCounter/config"
	"ObjectCounter/engine"
	"ObjectCounter/fps"
	control "ObjectCounter/gRPC"
	iface "ObjectCounter/interface"
	"ObjectCounter/logger"
	"ObjectCounter/monitor"
	"ObjectCounter/pipeline"
	"ObjectCounter/streamer"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	flag.Parse()

	cfg, found, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Failed to load config file:", err)
		return 1
	}
	if err := logger.Init(cfg.Log.Mode); err != nil {
		fmt.Println("Failed to init logger:", err)
		return 1
	}
	defer logger.Sync()
	if !found {
		logger.Log().Warn("Config file not found, using defaults", zap.String("path", *configPath))
	} else {
		logger.S().Infof("Loaded config from %s", *configPath)
	}

	fmt.Println(strings.Repeat("#", 64))
	fmt.Printf("CPU Cores: %d\n", runtime.NumCPU())
	fmt.Println(" Viewer  Port:", cfg.Streamer.Port)
	if cfg.Monitor.Enabled {
		fmt.Println(" Metrics Port:", cfg.Monitor.Port)
	}
	if cfg.Control.Enabled {
		fmt.Println(" gRPC    Port:", cfg.Control.Port)
	}
	fmt.Println(strings.Repeat("#", 64))

	labels := cfg.Model.Labels
	if cfg.Model.LabelsFile != "" {
		if labels, err = engine.ReadLabels(cfg.Model.LabelsFile); err != nil {
			logger.Log().Error("Failed to read labels", zap.Error(err))
			return 1
		}
	}
	detector, err := engine.Load(engine.ModelConfig{
		ID:          cfg.Model.ID,
		Weights:     cfg.Model.Weights,
		Config:      cfg.Model.Config,
		Labels:      labels,
		Engine:      cfg.Model.Engine,
		Accelerator: cfg.Model.Accelerator,
		InputSize:   cfg.Model.InputSize,
		Scale:       cfg.Model.Scale,
		Mean:        cfg.Model.Mean,
	})
	if err != nil {
		logger.Log().Error("Failed to load model", zap.Error(err))
		return 1
	}
	defer func() {
		if err := detector.Close(); err != nil {
			logger.Log().Error("Failed to release model", zap.Error(err))
		}
	}()
	pipeline.PrintStartup(os.Stdout, detector.Info(), cfg.Detect.Objects)

	viewer := streamer.New(cfg.Streamer.JPEGQuality)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	control.StopOnSignal(ctx, viewer, os.Interrupt, syscall.SIGTERM)

	var observers []pipeline.Observer
	var serverOpts []grpc.ServerOption
	var mon *monitor.Monitor
	if cfg.Monitor.Enabled {
		mon = monitor.New()
		if err := mon.Start(ctx, cfg.Monitor.Port); err != nil {
			logger.Log().Error("Failed to start metrics server", zap.Error(err))
			return 1
		}
		observers = append(observers, mon)
		serverOpts = append(serverOpts, grpc.UnaryInterceptor(mon.UnaryServerInterceptor()))
	}
	if cfg.Control.Enabled {
		ctl := control.NewServer(viewer)
		g, err := control.StartGRPCServer(cfg.Control.Port, ctl, serverOpts...)
		if err != nil {
			logger.Log().Error("Failed to start control server", zap.Error(err))
			return 1
		}
		defer g.GracefulStop()
		observers = append(observers, ctl)
	}
	if cfg.Registry.Enabled {
		ip, err := adhoc.GetOutboundIP()
		if err != nil {
			logger.Log().Warn("Failed to get outbound IP", zap.Error(err))
			ip = "127.0.0.1"
		}
		adhoc.RegServerCfg.SetAddress(cfg.Registry.Host, cfg.Registry.Port)
		adhoc.SendAliveMessage(ctx, &wg, adhoc.Announcement{
			IP:      ip,
			Port:    cfg.Streamer.Port,
			Model:   cfg.Model.ID,
			Objects: cfg.Detect.Objects,
		})
	} else {
		logger.Log().Info("Registry is disabled, skipping registration")
	}

	session := &pipeline.Session{
		OpenSource: func() (iface.FrameSource, error) {
			cam, err := capture.Open(cfg.Camera.Index, cfg.Camera.Width, cfg.Camera.Height)
			if err != nil {
				return nil, err
			}
			return cam, nil
		},
		OpenSink: func() (iface.Sink, error) {
			if err := viewer.Start(cfg.Streamer.Port); err != nil {
				return nil, multierr.Append(err, viewer.Close())
			}
			return viewer, nil
		},
		Detector:   detector,
		Objects:    cfg.Detect.Objects,
		Confidence: cfg.Detect.Confidence,
		Warmup:     cfg.Camera.Warmup,
		Tracker:    fps.New(nil),
		Observers:  observers,
		Out:        os.Stdout,
	}
	runErr := session.Run()

	cancel()
	wg.Wait()
	if mon != nil {
		mon.Wait()
	}
	if runErr != nil {
		logger.Log().Error("Object counter stopped with error", zap.Error(runErr))
		return 1
	}
	logger.Log().Info("Safely exited")
	return 0
}
