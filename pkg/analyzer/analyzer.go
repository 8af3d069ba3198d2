// Package analyzer wraps an inference runtime (preprocessor, model session,
// postprocessor, renderer) into a Frame -> Frame filter and supports
// hot-swap of model, task and analyzer parameters on a live analyzer, using
// the same cached-state-under-lock pattern as this codebase's WebRTC
// connection-state tracking, adapted from connection state to analyzer
// configuration.
package analyzer

import (
	"fmt"
	"sync"

	"github.com/ethan/visionrelay/pkg/frame"
	"github.com/ethan/visionrelay/pkg/inference"
	"github.com/ethan/visionrelay/pkg/logger"
)

// Params are the hot-swappable detection parameters: confidence/IoU
// thresholds and an optional class whitelist (nil/empty means all classes).
type Params struct {
	Confidence     float64
	IoU            float64
	ClassWhitelist map[int]struct{}
}

// DefaultParams returns the defaults: a 0.25 confidence floor, a
// conventional 0.45 NMS IoU, all classes allowed.
func DefaultParams() Params {
	return Params{Confidence: 0.25, IoU: 0.45}
}

// Analyzer executes preprocess -> run -> postprocess -> render for one
// frame at a time and supports hot-swapping model/task/params without
// rebuilding the pipeline around it.
type Analyzer struct {
	mu sync.RWMutex

	log *logger.Logger

	preprocessor   inference.Preprocessor
	session        inference.ModelSession
	postprocessors map[frame.Task]inference.Postprocessor
	renderer       inference.Renderer

	task     frame.Task
	modelID  string
	inW, inH int
	params   Params
}

// Config bundles the strategies and initial state needed to build an
// Analyzer (§4.6 Pipeline Builder calls a factory that returns one of
// these, fully wired).
type Config struct {
	Preprocessor   inference.Preprocessor
	Session        inference.ModelSession
	Postprocessors map[frame.Task]inference.Postprocessor
	Renderer       inference.Renderer
	Task           frame.Task
	ModelID        string
	InWidth        int
	InHeight       int
	Params         Params
	Logger         *logger.Logger
}

// New builds an Analyzer from a fully-specified Config. Any nil strategy
// is rejected so analyze() can fail fast instead of nil-dereferencing deep
// in a hot loop.
func New(cfg Config) (*Analyzer, error) {
	if cfg.Preprocessor == nil || cfg.Session == nil || cfg.Renderer == nil {
		return nil, fmt.Errorf("analyzer: missing required strategy")
	}
	if cfg.Postprocessors == nil || cfg.Postprocessors[cfg.Task] == nil {
		return nil, fmt.Errorf("analyzer: no postprocessor registered for task %q", cfg.Task)
	}
	if cfg.Params.Confidence == 0 && cfg.Params.IoU == 0 {
		cfg.Params = DefaultParams()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Analyzer{
		log:            log,
		preprocessor:   cfg.Preprocessor,
		session:        cfg.Session,
		postprocessors: cfg.Postprocessors,
		renderer:       cfg.Renderer,
		task:           cfg.Task,
		modelID:        cfg.ModelID,
		inW:            cfg.InWidth,
		inH:            cfg.InHeight,
		params:         cfg.Params,
	}, nil
}

type snapshot struct {
	task     frame.Task
	post     inference.Postprocessor
	inW, inH int
	params   Params
}

func (a *Analyzer) snapshot() snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return snapshot{task: a.task, post: a.postprocessors[a.task], inW: a.inW, inH: a.inH, params: a.params}
}

// Analyze runs the full preprocess/run/postprocess/render chain for one
// frame and returns the annotated frame. Any missing strategy fails the
// call rather than processing partially.
func (a *Analyzer) Analyze(in frame.Frame) (frame.Frame, error) {
	snap := a.snapshot()
	if snap.post == nil {
		return frame.Frame{}, fmt.Errorf("analyzer: no postprocessor for task %q", snap.task)
	}

	tensor, letterbox, err := a.preprocessor.Preprocess(in, snap.inW, snap.inH)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("analyzer: preprocess: %w", err)
	}

	outputs, err := a.session.Run(tensor)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("analyzer: run: %w", err)
	}

	out, err := snap.post.Postprocess(outputs, letterbox)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("analyzer: postprocess: %w", err)
	}

	out = normalize(out, snap.params)

	rendered, err := a.renderer.Render(in, out)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("analyzer: render: %w", err)
	}
	a.log.DebugAnalyzer("analyzed frame", "task", snap.task, "detections", len(out.Detections))
	return rendered, nil
}

// SwitchModel asks the session to load the new model artifact. On failure
// it reports false and leaves every other field, including the recorded
// model id, untouched.
func (a *Analyzer) SwitchModel(modelID, path string, useGPU bool) (bool, error) {
	ok, err := a.session.LoadModel(path, useGPU)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	a.mu.Lock()
	a.modelID = modelID
	a.mu.Unlock()
	a.log.DebugAnalyzer("model switched", "model_id", modelID, "use_gpu", useGPU)
	return true, nil
}

// ModelID returns the currently recorded model id.
func (a *Analyzer) ModelID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.modelID
}

// SwitchTask swaps the active postprocessor to the one registered for the
// given task. Fails if no postprocessor is registered for that task.
func (a *Analyzer) SwitchTask(task frame.Task) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.postprocessors[task] == nil {
		return fmt.Errorf("analyzer: no postprocessor registered for task %q", task)
	}
	a.task = task
	return nil
}

// Task returns the currently active task.
func (a *Analyzer) Task() frame.Task {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.task
}

// UpdateParams atomically replaces the confidence/IoU thresholds and class
// whitelist used by post-output normalization.
func (a *Analyzer) UpdateParams(p Params) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.params = p
}

// Params returns a copy of the currently active parameters.
func (a *Analyzer) Params() Params {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.params
}
