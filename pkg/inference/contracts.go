package inference

import (
	"errors"

	"github.com/ethan/visionrelay/pkg/frame"
)

// Sentinel errors surfaced by inference collaborators (§7 error taxonomy).
var (
	ErrModelLoadRejected = errors.New("inference: model rejected by session")
	ErrRunFailed         = errors.New("inference: run failed")
)

// Preprocessor turns a Frame into a TensorView sized for a network input,
// recording the letterbox transform needed to invert coordinates later.
type Preprocessor interface {
	Preprocess(f frame.Frame, inW, inH int) (frame.TensorView, frame.LetterboxMeta, error)
}

// ModelSession owns a loaded model artifact and runs forward passes.
// LoadModel reports false (not an error) when the artifact is syntactically
// fine but rejected for this session (e.g. incompatible shape); callers
// must not mutate further state on a false return.
type ModelSession interface {
	LoadModel(path string, useGPU bool) (bool, error)
	Run(input frame.TensorView) ([]frame.TensorView, error)
}

// Postprocessor turns raw model outputs plus the letterbox transform used
// to produce them into a normalized ModelOutput in original-frame
// coordinates. Confidence/IoU filtering happens after this step, in the
// Analyzer, not inside the postprocessor itself.
type Postprocessor interface {
	Postprocess(outputs []frame.TensorView, meta frame.LetterboxMeta) (frame.ModelOutput, error)
}

// Renderer draws (or passes through) a ModelOutput onto a Frame.
type Renderer interface {
	Render(f frame.Frame, out frame.ModelOutput) (frame.Frame, error)
}

// Factory builds a ModelSession for a given model descriptor. Registered
// per family in a Registry (see registry.go).
type Factory func(desc ModelDesc) (ModelSession, bool)

// ModelDesc is the minimal information needed to resolve a model family
// and hand it to a Factory.
type ModelDesc struct {
	ID       string
	Path     string
	Task     frame.Task
	InWidth  int
	InHeight int
}
