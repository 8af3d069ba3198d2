// Command server wires the Engine Manager, Track Manager, Pipeline
// Builder and WebRTC Data-Channel Transport into a running video
// analysis service: it subscribes one default track on startup from
// ServerConfig and then idle-reaps/serves until a shutdown signal, using
// the same flag/logger/config/signal-handling shape as this codebase's
// other entrypoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethan/visionrelay/pkg/analyzer"
	"github.com/ethan/visionrelay/pkg/builder"
	"github.com/ethan/visionrelay/pkg/config"
	"github.com/ethan/visionrelay/pkg/encoder"
	"github.com/ethan/visionrelay/pkg/frame"
	"github.com/ethan/visionrelay/pkg/inference"
	"github.com/ethan/visionrelay/pkg/logger"
	"github.com/ethan/visionrelay/pkg/source"
	"github.com/ethan/visionrelay/pkg/track"
	"github.com/ethan/visionrelay/pkg/transport"
)

func main() {
	fs := flag.NewFlagSet("visionrelay-server", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)
	envPath := fs.String("env", ".env", "path to the .env configuration file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Real-time video analysis service: RTSP ingest, pluggable DL inference, WebRTC data-channel publish\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		logger.PrintUsageExamples()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	log.Info("starting visionrelay server", "log_config", logFlags.String())

	cfg, err := config.Load(*envPath)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log.Info("configuration loaded", "default_source", cfg.Server.DefaultSourceURI, "signaling_port", cfg.Server.SignalingPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	engineManager := inference.NewManager()
	engineManager.SetDescriptor(inference.Descriptor{
		Name:     "default",
		Provider: inference.ProviderCPU,
	})

	modelRegistry := inference.NewRegistry()
	modelRegistry.Register("default", inference.NoopFactory())

	encoderRegistry := encoder.DefaultRegistry()

	policy := transport.Policy{
		BindAddress:   cfg.Server.BindAddress,
		ICEPortMin:    uint16(cfg.Server.ICEPortMin),
		ICEPortMax:    uint16(cfg.Server.ICEPortMax),
		SignalingPort: cfg.Server.SignalingPort,
	}
	sharedTransport := transport.New(policy, defaultStreamID, log)

	b, err := builder.New(builder.Deps{
		NewSource: func(sc builder.SourceConfig) (source.Source, error) {
			s := source.NewRTSPSource(sc.URI, log)
			if err := s.Open(context.Background()); err != nil {
				return nil, err
			}
			return s, nil
		},
		NewAnalyzer: func(fc builder.FilterConfig) (*analyzer.Analyzer, error) {
			session, ok := modelRegistry.Resolve(fc.ModelID, inference.ModelDesc{
				ID: fc.ModelID, Path: fc.ModelPath, Task: fc.Task, InWidth: fc.InWidth, InHeight: fc.InHeight,
			})
			if !ok {
				return nil, fmt.Errorf("no model session available for %q", fc.ModelID)
			}
			return analyzer.New(analyzer.Config{
				Preprocessor: inference.NoopPreprocessor{},
				Session:      session,
				Postprocessors: map[frame.Task]inference.Postprocessor{
					fc.Task: inference.NoopPostprocessor{Task: fc.Task},
				},
				Renderer: analyzer.NewDrawingRenderer(),
				Task:     fc.Task,
				ModelID:  fc.ModelID,
				InWidth:  fc.InWidth,
				InHeight: fc.InHeight,
				Params:   analyzer.Params{Confidence: fc.Confidence, IoU: fc.IoU},
				Logger:   log,
			})
		},
		NewEncoder: func(codecTag string) (encoder.Encoder, error) {
			return encoderRegistry.Resolve(codecTag)
		},
		Transport: sharedTransport,
		Logger:    log,
	})
	if err != nil {
		log.Error("failed to build pipeline builder", "error", err)
		os.Exit(1)
	}

	trackManager := track.New(b, log)

	defaultKey, err := trackManager.Subscribe(ctx,
		builder.SourceConfig{StreamID: defaultStreamID, URI: cfg.Server.DefaultSourceURI},
		builder.FilterConfig{
			ProfileID:  "det",
			Task:       frame.Task(cfg.Server.DefaultTask),
			ModelID:    cfg.Server.DefaultModelID,
			ModelPath:  cfg.Server.DefaultModelPath,
			InWidth:    640,
			InHeight:   640,
			Confidence: analyzer.DefaultParams().Confidence,
			IoU:        analyzer.DefaultParams().IoU,
		},
		encoder.Config{Width: 1280, Height: 720, FPS: 30, CodecTag: "mjpeg"},
		builder.TransportConfig{Endpoint: fmt.Sprintf("ws://%s:%d", cfg.Server.BindAddress, cfg.Server.SignalingPort)},
	)
	if err != nil {
		log.Error("failed to subscribe default track", "error", err)
		os.Exit(1)
	}
	log.Info("default track subscribed", "key", defaultKey)

	reapInterval := time.Duration(cfg.Server.IdleReapSeconds) * time.Second
	reapTicker := time.NewTicker(reapInterval)
	defer reapTicker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-reapTicker.C:
				reaped := trackManager.ReapIdle(reapInterval)
				if len(reaped) > 0 {
					log.Info("idle reap complete", "reaped", reaped)
				}
			}
		}
	}()

	log.Info("server ready", "signaling_port", cfg.Server.SignalingPort)

	<-ctx.Done()

	log.Info("shutting down")
	for _, snap := range trackManager.ListPipelines() {
		trackManager.Unsubscribe(snap.Stream, snap.Profile)
	}
	if err := sharedTransport.Disconnect(); err != nil {
		log.Warn("transport disconnect error", "error", err)
	}
	log.Info("graceful shutdown complete")
}

const defaultStreamID = "default"
