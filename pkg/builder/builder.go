// Package builder is the stateless factory that assembles a Source,
// Analyzer, Encoder, and Transport into a started-but-not-running
// pipeline.Pipeline for one subscription (C9). It follows a
// scoped-resource-cleanup discipline (tear down whatever already opened
// if a later step fails) and the config-bundle-to-stage wiring shape of
// other_examples/c9085037_AltairaLabs-PromptKit__sdk-internal-pipeline-builder.go.go.
package builder

import (
	"context"
	"fmt"

	"github.com/ethan/visionrelay/pkg/analyzer"
	"github.com/ethan/visionrelay/pkg/encoder"
	"github.com/ethan/visionrelay/pkg/frame"
	"github.com/ethan/visionrelay/pkg/logger"
	"github.com/ethan/visionrelay/pkg/pipeline"
	"github.com/ethan/visionrelay/pkg/source"
	"github.com/ethan/visionrelay/pkg/transport"
)

// SourceConfig bundles a subscription's source parameters.
type SourceConfig struct {
	StreamID string
	URI      string
}

// FilterConfig bundles a subscription's analyzer parameters.
type FilterConfig struct {
	ProfileID      string
	Task           frame.Task
	ModelID        string
	ModelPath      string
	InWidth        int
	InHeight       int
	Confidence     float64
	IoU            float64
	UseGPU         bool
}

// EncoderConfig bundles a subscription's encoder parameters.
type EncoderConfig = encoder.Config

// TransportConfig bundles a subscription's transport parameters: an
// endpoint the Transport contract connects to, e.g. a WebSocket signaling
// URL. Empty means "no outbound connect step", relying on a
// process-wide shared Transport (the normal wiring for this service: one
// WebRTC Streamer/SignalingServer instance shared by all tracks).
type TransportConfig struct {
	Endpoint string
}

// SourceFactory builds a Source for a SourceConfig.
type SourceFactory func(cfg SourceConfig) (source.Source, error)

// AnalyzerFactory builds an Analyzer for a FilterConfig.
type AnalyzerFactory func(cfg FilterConfig) (*analyzer.Analyzer, error)

// EncoderFactory builds an unopened Encoder for a codec tag.
type EncoderFactory func(codecTag string) (encoder.Encoder, error)

// Deps bundles the four factories plus the shared Transport every built
// Pipeline will send through.
type Deps struct {
	NewSource   SourceFactory
	NewAnalyzer AnalyzerFactory
	NewEncoder  EncoderFactory
	Transport   transport.Contract
	Logger      *logger.Logger
}

// Builder is the stateless factory described by §4.6: given the four
// config bundles it produces a started-but-not-yet-running Pipeline. It
// holds no subscription state itself; the Track Manager owns that.
type Builder struct {
	deps Deps
}

// New returns a Builder. Any nil factory is rejected: the Builder cannot
// construct anything meaningful without all four.
func New(deps Deps) (*Builder, error) {
	if deps.NewSource == nil || deps.NewAnalyzer == nil || deps.NewEncoder == nil || deps.Transport == nil {
		return nil, fmt.Errorf("builder: missing required factory or transport")
	}
	if deps.Logger == nil {
		deps.Logger = logger.Default()
	}
	return &Builder{deps: deps}, nil
}

// Build assembles Source, Analyzer, Encoder and Transport into a
// pipeline.Pipeline per §4.6's four-step order, tearing down whatever was
// already opened if a later step fails so a partial build never leaks a
// Source or Encoder.
func (b *Builder) Build(trackID string, src SourceConfig, filt FilterConfig, enc EncoderConfig, tr TransportConfig) (*pipeline.Pipeline, error) {
	s, err := b.deps.NewSource(src)
	if err != nil || s == nil {
		return nil, fmt.Errorf("builder: source factory failed for track %q: %w", trackID, errOrNilFactory(err))
	}

	a, err := b.deps.NewAnalyzer(filt)
	if err != nil || a == nil {
		_ = s.Close()
		return nil, fmt.Errorf("builder: analyzer factory failed for track %q: %w", trackID, errOrNilFactory(err))
	}

	e, err := b.deps.NewEncoder(enc.CodecTag)
	if err != nil || e == nil {
		_ = s.Close()
		return nil, fmt.Errorf("builder: encoder factory failed for track %q: %w", trackID, errOrNilFactory(err))
	}

	if err := e.Open(enc); err != nil {
		_ = s.Close()
		_ = e.Close()
		return nil, fmt.Errorf("builder: encoder open failed for track %q: %w", trackID, err)
	}
	b.deps.Logger.DebugEncoder("encoder opened", "track_id", trackID, "codec_tag", enc.CodecTag, "width", enc.Width, "height", enc.Height)

	if tr.Endpoint != "" {
		if err := b.deps.Transport.Connect(context.Background(), tr.Endpoint); err != nil {
			_ = s.Close()
			_ = e.Close()
			return nil, fmt.Errorf("builder: transport connect failed for track %q: %w", trackID, err)
		}
	}

	p := pipeline.New(pipeline.Config{
		TrackID:       trackID,
		Source:        s,
		Analyzer:      a,
		Encoder:       e,
		EncoderConfig: enc,
		Transport:     b.deps.Transport,
		Prewarm:       func() error { return prewarmAnalyzer(a, filt) },
		Logger:        b.deps.Logger,
	})
	return p, nil
}

// prewarmAnalyzer performs the "load model and do a dummy inference" step
// §4.1 describes as the typical Prewarming callback.
func prewarmAnalyzer(a *analyzer.Analyzer, filt FilterConfig) error {
	ok, err := a.SwitchModel(filt.ModelID, filt.ModelPath, filt.UseGPU)
	if err != nil {
		return fmt.Errorf("builder: prewarm load model: %w", err)
	}
	if !ok {
		return fmt.Errorf("builder: prewarm: model %q rejected", filt.ModelID)
	}
	dummy := frame.Frame{
		Width:  filt.InWidth,
		Height: filt.InHeight,
		Format: frame.PixelFormatBGR24,
		Pixels: make([]byte, filt.InWidth*filt.InHeight*3),
	}
	if _, err := a.Analyze(dummy); err != nil {
		return fmt.Errorf("builder: prewarm dummy inference: %w", err)
	}
	return nil
}

func errOrNilFactory(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("factory returned nil with no error")
}
