package track

import (
	"context"
	"testing"
	"time"

	"github.com/ethan/visionrelay/pkg/analyzer"
	"github.com/ethan/visionrelay/pkg/builder"
	"github.com/ethan/visionrelay/pkg/encoder"
	"github.com/ethan/visionrelay/pkg/frame"
	"github.com/ethan/visionrelay/pkg/inference"
	"github.com/ethan/visionrelay/pkg/source"
	"github.com/ethan/visionrelay/pkg/transport"
)

type fakeSrc struct{ closed bool }

func (s *fakeSrc) Read(ctx context.Context) (frame.Frame, error) {
	return frame.Frame{Width: 2, Height: 2, Format: frame.PixelFormatBGR24, Pixels: make([]byte, 12)}, nil
}
func (s *fakeSrc) SwitchURI(uri string) error { return nil }
func (s *fakeSrc) Close() error               { s.closed = true; return nil }

type fakeSession struct{}

func (fakeSession) LoadModel(path string, useGPU bool) (bool, error) { return true, nil }
func (fakeSession) Run(input frame.TensorView) ([]frame.TensorView, error) { return nil, nil }

// rejectingSession accepts its initial load (the pipeline's prewarm, which
// runs on the worker goroutine after Subscribe starts it) but reports every subsequent LoadModel call as rejected (ok=false,
// err=nil), matching a runtime that declined a model swap without error.
type rejectingSession struct {
	loaded bool
}

func (s *rejectingSession) LoadModel(path string, useGPU bool) (bool, error) {
	if !s.loaded {
		s.loaded = true
		return true, nil
	}
	return false, nil
}
func (s *rejectingSession) Run(input frame.TensorView) ([]frame.TensorView, error) { return nil, nil }

type fakePre struct{}

func (fakePre) Preprocess(f frame.Frame, inW, inH int) (frame.TensorView, frame.LetterboxMeta, error) {
	return frame.TensorView{}, frame.LetterboxMeta{NetWidth: inW, NetHeight: inH}, nil
}

type fakePost struct{}

func (fakePost) Postprocess(outputs []frame.TensorView, meta frame.LetterboxMeta) (frame.ModelOutput, error) {
	return frame.ModelOutput{Task: frame.TaskDetect}, nil
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	deps := builder.Deps{
		NewSource: func(cfg builder.SourceConfig) (source.Source, error) {
			return &fakeSrc{}, nil
		},
		NewAnalyzer: func(cfg builder.FilterConfig) (*analyzer.Analyzer, error) {
			return analyzer.New(analyzer.Config{
				Preprocessor: fakePre{},
				Session:      fakeSession{},
				Postprocessors: map[frame.Task]inference.Postprocessor{
					frame.TaskDetect: fakePost{},
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
	b, err := builder.New(deps)
	if err != nil {
		t.Fatalf("builder.New: %v", err)
	}
	return New(b, nil)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	src := builder.SourceConfig{StreamID: "cam1", URI: "rtsp://example.invalid/a"}
	filt := builder.FilterConfig{ProfileID: "det", Task: frame.TaskDetect, ModelID: "m1", InWidth: 2, InHeight: 2}
	enc := builder.EncoderConfig{CodecTag: "mjpeg", Width: 2, Height: 2}

	k1, err := m.Subscribe(ctx, src, filt, enc, builder.TransportConfig{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	k2, err := m.Subscribe(ctx, src, filt, enc, builder.TransportConfig{})
	if err != nil {
		t.Fatalf("second subscribe: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("expected idempotent key, got %v and %v", k1, k2)
	}
	if len(m.ListPipelines()) != 1 {
		t.Fatalf("expected exactly one pipeline entry")
	}

	m.Unsubscribe("cam1", "det")
	if len(m.ListPipelines()) != 0 {
		t.Fatalf("expected no entries after unsubscribe")
	}
	// unsubscribe again is a no-op
	m.Unsubscribe("cam1", "det")
}

// newTestManagerWithSession is like newTestManager but every built
// Analyzer shares the given session, so a test can control LoadModel's
// behavior across both the initial build and later SwitchModel calls.
func newTestManagerWithSession(t *testing.T, session inference.ModelSession) *Manager {
	t.Helper()
	deps := builder.Deps{
		NewSource: func(cfg builder.SourceConfig) (source.Source, error) {
			return &fakeSrc{}, nil
		},
		NewAnalyzer: func(cfg builder.FilterConfig) (*analyzer.Analyzer, error) {
			return analyzer.New(analyzer.Config{
				Preprocessor: fakePre{},
				Session:      session,
				Postprocessors: map[frame.Task]inference.Postprocessor{
					frame.TaskDetect: fakePost{},
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
	b, err := builder.New(deps)
	if err != nil {
		t.Fatalf("builder.New: %v", err)
	}
	return New(b, nil)
}

// TestSwitchModelRejectedLeavesModelIDUnchanged covers the case where the
// runtime declines a model swap (LoadModel returns ok=false, err=nil): the
// Track Manager must report failure and leave the entry's recorded model
// id exactly as it was before the call.
func TestSwitchModelRejectedLeavesModelIDUnchanged(t *testing.T) {
	m := newTestManagerWithSession(t, &rejectingSession{})
	ctx := context.Background()

	src := builder.SourceConfig{StreamID: "cam1", URI: "rtsp://example.invalid/a"}
	filt := builder.FilterConfig{ProfileID: "det", Task: frame.TaskDetect, ModelID: "m1", InWidth: 2, InHeight: 2}
	enc := builder.EncoderConfig{CodecTag: "mjpeg", Width: 2, Height: 2}

	if _, err := m.Subscribe(ctx, src, filt, enc, builder.TransportConfig{}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Wait for the prewarm to consume the session's initial load.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snaps := m.ListPipelines(); len(snaps) == 1 && snaps[0].Running {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if ok := m.SwitchModel("cam1", "det", "m2", "/models/m2.onnx", false); ok {
		t.Fatalf("expected switch model to report rejection")
	}

	snaps := m.ListPipelines()
	if len(snaps) != 1 || snaps[0].ModelID != "m1" {
		t.Fatalf("expected model id to remain m1 after a rejected switch, got %+v", snaps)
	}
	m.Unsubscribe("cam1", "det")
}

func TestSwitchOperationsFalseWhenAbsent(t *testing.T) {
	m := newTestManager(t)
	if m.SwitchSource("nope", "nope", "rtsp://x") {
		t.Fatalf("expected false for absent key")
	}
	if m.SwitchModel("nope", "nope", "m2", "/path", false) {
		t.Fatalf("expected false for absent key")
	}
	if m.SwitchTask("nope", "nope", frame.TaskDetect) {
		t.Fatalf("expected false for absent key")
	}
	if m.SetParams("nope", "nope", analyzer.DefaultParams()) {
		t.Fatalf("expected false for absent key")
	}
}

func TestSwitchModelUpdatesEntry(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	src := builder.SourceConfig{StreamID: "cam1", URI: "rtsp://example.invalid/a"}
	filt := builder.FilterConfig{ProfileID: "det", Task: frame.TaskDetect, ModelID: "m1", InWidth: 2, InHeight: 2}
	enc := builder.EncoderConfig{CodecTag: "mjpeg", Width: 2, Height: 2}

	if _, err := m.Subscribe(ctx, src, filt, enc, builder.TransportConfig{}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if ok := m.SwitchModel("cam1", "det", "m2", "/models/m2.onnx", false); !ok {
		t.Fatalf("expected switch model to succeed")
	}

	snaps := m.ListPipelines()
	if len(snaps) != 1 || snaps[0].ModelID != "m2" {
		t.Fatalf("expected recorded model id m2, got %+v", snaps)
	}
	m.Unsubscribe("cam1", "det")
}

func TestReapIdleRemovesStaleEntries(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	src := builder.SourceConfig{StreamID: "cam1", URI: "rtsp://example.invalid/a"}
	filt := builder.FilterConfig{ProfileID: "det", Task: frame.TaskDetect, ModelID: "m1", InWidth: 2, InHeight: 2}
	enc := builder.EncoderConfig{CodecTag: "mjpeg", Width: 2, Height: 2}

	if _, err := m.Subscribe(ctx, src, filt, enc, builder.TransportConfig{}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	reaped := m.ReapIdle(-time.Second) // cutoff is now+1s, so every last-active time is already before it
	if len(reaped) != 1 {
		t.Fatalf("expected one reaped entry, got %d", len(reaped))
	}
	if len(m.ListPipelines()) != 0 {
		t.Fatalf("expected entry removed after reap")
	}
}
