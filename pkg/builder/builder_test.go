package builder

import (
	"context"
	"errors"
	"testing"

	"github.com/ethan/visionrelay/pkg/analyzer"
	"github.com/ethan/visionrelay/pkg/encoder"
	"github.com/ethan/visionrelay/pkg/frame"
	"github.com/ethan/visionrelay/pkg/inference"
	"github.com/ethan/visionrelay/pkg/source"
	"github.com/ethan/visionrelay/pkg/transport"
)

type stubSource struct{ closed bool }

func (s *stubSource) Read(ctx context.Context) (frame.Frame, error) {
	return frame.Frame{Width: 2, Height: 2, Format: frame.PixelFormatBGR24, Pixels: make([]byte, 12)}, nil
}
func (s *stubSource) SwitchURI(uri string) error { return nil }
func (s *stubSource) Close() error               { s.closed = true; return nil }

type stubSession struct{}

func (stubSession) LoadModel(path string, useGPU bool) (bool, error) { return true, nil }
func (stubSession) Run(input frame.TensorView) ([]frame.TensorView, error) { return nil, nil }

type stubPre struct{}

func (stubPre) Preprocess(f frame.Frame, inW, inH int) (frame.TensorView, frame.LetterboxMeta, error) {
	return frame.TensorView{}, frame.LetterboxMeta{NetWidth: inW, NetHeight: inH}, nil
}

type stubPost struct{}

func (stubPost) Postprocess(outputs []frame.TensorView, meta frame.LetterboxMeta) (frame.ModelOutput, error) {
	return frame.ModelOutput{Task: frame.TaskDetect}, nil
}

func validDeps(t *testing.T) Deps {
	t.Helper()
	return Deps{
		NewSource: func(cfg SourceConfig) (source.Source, error) {
			return &stubSource{}, nil
		},
		NewAnalyzer: func(cfg FilterConfig) (*analyzer.Analyzer, error) {
			return analyzer.New(analyzer.Config{
				Preprocessor: stubPre{},
				Session:      stubSession{},
				Postprocessors: map[frame.Task]inference.Postprocessor{
					frame.TaskDetect: stubPost{},
				},
				Renderer: analyzer.PassthroughRenderer{},
				Task:     frame.TaskDetect,
				ModelID:  cfg.ModelID,
				InWidth:  cfg.InWidth,
				InHeight: cfg.InHeight,
			})
		},
		NewEncoder: func(codecTag string) (encoder.Encoder, error) {
			return encoder.NewJPEGEncoder(), nil
		},
		Transport: transport.New(transport.DefaultPolicy(), "default", nil),
	}
}

func TestBuilderBuildSucceeds(t *testing.T) {
	b, err := New(validDeps(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p, err := b.Build("cam1:det",
		SourceConfig{StreamID: "cam1", URI: "rtsp://example.invalid/stream"},
		FilterConfig{ProfileID: "det", Task: frame.TaskDetect, ModelID: "m1", InWidth: 2, InHeight: 2},
		EncoderConfig{Width: 2, Height: 2, FPS: 30, CodecTag: "mjpeg"},
		TransportConfig{},
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p == nil {
		t.Fatalf("expected non-nil pipeline")
	}
}

func TestBuilderCleansUpOnAnalyzerFailure(t *testing.T) {
	deps := validDeps(t)
	var closedSource *stubSource
	deps.NewSource = func(cfg SourceConfig) (source.Source, error) {
		closedSource = &stubSource{}
		return closedSource, nil
	}
	deps.NewAnalyzer = func(cfg FilterConfig) (*analyzer.Analyzer, error) {
		return nil, errors.New("simulated analyzer construction failure")
	}

	b, err := New(deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = b.Build("cam1:det",
		SourceConfig{StreamID: "cam1", URI: "rtsp://example.invalid/stream"},
		FilterConfig{Task: frame.TaskDetect, ModelID: "m1", InWidth: 2, InHeight: 2},
		EncoderConfig{CodecTag: "mjpeg"},
		TransportConfig{},
	)
	if err == nil {
		t.Fatalf("expected build error")
	}
	if closedSource == nil || !closedSource.closed {
		t.Fatalf("expected the already-opened source to be closed on analyzer failure")
	}
}

func TestNewRejectsMissingFactories(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatalf("expected error for empty Deps")
	}
}
