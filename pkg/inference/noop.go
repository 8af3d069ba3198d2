package inference

import "github.com/ethan/visionrelay/pkg/frame"

// NoopPreprocessor letterboxes nothing and hands the frame through as a
// zero-value TensorView. It exists so the server can run end-to-end
// (prewarm, per-frame step, hot-swap) without a real inference backend
// plugged in — concrete inference implementations are explicitly out of
// scope and pluggable via the Factory/Registry contracts above.
type NoopPreprocessor struct{}

func (NoopPreprocessor) Preprocess(f frame.Frame, inW, inH int) (frame.TensorView, frame.LetterboxMeta, error) {
	return frame.TensorView{}, frame.LetterboxMeta{
		Scale:      1,
		NetWidth:   inW,
		NetHeight:  inH,
		OrigWidth:  f.Width,
		OrigHeight: f.Height,
	}, nil
}

// NoopSession accepts any model path and always reports success, running
// a forward pass that produces no outputs.
type NoopSession struct{}

func (NoopSession) LoadModel(path string, useGPU bool) (bool, error) { return true, nil }
func (NoopSession) Run(input frame.TensorView) ([]frame.TensorView, error) {
	return nil, nil
}

// NoopPostprocessor returns an empty ModelOutput for the given task.
type NoopPostprocessor struct {
	Task frame.Task
}

func (p NoopPostprocessor) Postprocess(outputs []frame.TensorView, meta frame.LetterboxMeta) (frame.ModelOutput, error) {
	return frame.ModelOutput{Task: p.Task}, nil
}

// NoopFactory returns a Factory that always succeeds with a NoopSession,
// suitable for registering as the Registry's "default" family.
func NoopFactory() Factory {
	return func(desc ModelDesc) (ModelSession, bool) {
		return NoopSession{}, true
	}
}
