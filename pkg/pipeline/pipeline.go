// Package pipeline owns exactly one worker goroutine per subscribed track:
// while Running it repeatedly pulls a frame from the Source, analyzes it,
// encodes the result, and hands the packet to the Transport (C7). The
// state machine and atomic-counter metrics convention descend from
// pkg/relay.CameraRelay's readLoop/statsLoop split, generalized from a
// fixed Nest-to-Cloudflare chain into a hot-swappable Source/Analyzer/
// Encoder/Transport graph, with the priority-drain-under-select discipline
// from other_examples/76fffe68_zsiec-prism__internal-pipeline-pipeline.go.go
// informing how update_* calls are applied without blocking a frame step.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethan/visionrelay/pkg/analyzer"
	"github.com/ethan/visionrelay/pkg/encoder"
	"github.com/ethan/visionrelay/pkg/frame"
	"github.com/ethan/visionrelay/pkg/logger"
	"github.com/ethan/visionrelay/pkg/source"
	"github.com/ethan/visionrelay/pkg/transport"
)

// State is the Pipeline's lifecycle state, transitioning only in the order
// Idle -> Prewarming -> Running -> Stopping -> Idle.
type State int32

const (
	StateIdle State = iota
	StatePrewarming
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePrewarming:
		return "prewarming"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ErrAlreadyRunning is returned by start() when the pipeline is not Idle.
var ErrAlreadyRunning = errors.New("pipeline: already running")

// prewarmBackoff is the minimum delay between a failed prewarm attempt and
// the next one, per §4.1 ("failure re-enters Prewarming after a backoff
// (>= 200 ms)").
const prewarmBackoff = 200 * time.Millisecond

// sourceReadBackoff is slept after a Source.Read failure before the next
// per-frame iteration, per §4.1 step 1.
const sourceReadBackoff = 10 * time.Millisecond

// PrewarmFunc loads a model (or otherwise primes the analyzer) and
// performs a dummy inference; a non-nil error keeps the pipeline in
// Prewarming after the backoff.
type PrewarmFunc func() error

// Metrics is a point-in-time snapshot of the worker's processing counters.
type Metrics struct {
	FPS              float64
	AvgLatencyMs     float64
	LastProcessedMs  int64
	ProcessedFrames  uint64
	DroppedFrames    uint64
}

// Pipeline drives Source -> Analyzer -> Encoder -> Transport for one
// subscription key on a single worker goroutine.
type Pipeline struct {
	trackID string
	log     *logger.Logger

	src  source.Source
	an   *analyzer.Analyzer
	enc  encoder.Encoder
	tr   transport.Contract

	prewarm PrewarmFunc
	encCfg  encoder.Config

	state   atomic.Int32
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// reArm is set by update_* calls to force the worker back through
	// Prewarming on its next iteration without tearing down the goroutine.
	reArm atomic.Bool

	processedFrames atomic.Uint64
	droppedFrames   atomic.Uint64
	lastProcessedMs atomic.Int64

	metricsMu    sync.Mutex
	latencyMean  float64
	latencyCount uint64
	fpsEMA       float64
	lastFrameAt  time.Time
}

// Config bundles the collaborators a Pipeline drives. EncoderConfig is
// applied to Encoder.Open on every (re-)prewarm since update_* calls may
// change width/height/codec indirectly through a rebuilt Encoder.
type Config struct {
	TrackID      string
	Source       source.Source
	Analyzer     *analyzer.Analyzer
	Encoder      encoder.Encoder
	EncoderConfig encoder.Config
	Transport    transport.Contract
	Prewarm      PrewarmFunc
	Logger       *logger.Logger
}

// New builds a Pipeline in the Idle state. The worker goroutine is not
// started until start().
func New(cfg Config) *Pipeline {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	p := &Pipeline{
		trackID: cfg.TrackID,
		log:     log.With("track_id", cfg.TrackID, "component", "pipeline"),
		src:     cfg.Source,
		an:      cfg.Analyzer,
		enc:     cfg.Encoder,
		tr:      cfg.Transport,
		prewarm: cfg.Prewarm,
		encCfg:  cfg.EncoderConfig,
	}
	p.state.Store(int32(StateIdle))
	if err := p.enc.Open(cfg.EncoderConfig); err != nil {
		p.log.Warn("initial encoder open failed, will retry during prewarm", "error", err)
	}
	return p
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// start is idempotent: calling it while already running returns
// ErrAlreadyRunning; calling it from Idle transitions to Prewarming and
// launches the worker goroutine.
func (p *Pipeline) start(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StatePrewarming)) {
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.stopCh = make(chan struct{})
	p.wg.Add(1)
	go p.run(runCtx)
	return nil
}

// Start is the exported idempotent entry point: a second call while the
// pipeline is already running is a no-op rather than an error, since
// callers such as the Track Manager only care that it ends up running.
func (p *Pipeline) Start(ctx context.Context) error {
	err := p.start(ctx)
	if errors.Is(err, ErrAlreadyRunning) {
		return nil
	}
	return err
}

// Stop is idempotent and safe to call from any state; it blocks until the
// worker goroutine has joined, then closes the Source and Encoder. The
// Transport is not disconnected.
func (p *Pipeline) Stop() {
	if p.state.Load() == int32(StateIdle) {
		return
	}
	p.state.Store(int32(StateStopping))
	close(p.stopCh)
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	if err := p.src.Close(); err != nil {
		p.log.Warn("source close failed", "error", err)
	}
	if err := p.enc.Close(); err != nil {
		p.log.Warn("encoder close failed", "error", err)
	}
	p.state.Store(int32(StateIdle))
}

// UpdateSource hot-swaps the backing Source URI without restarting the
// worker; the next per-frame iteration re-prewarms (§4.1).
func (p *Pipeline) UpdateSource(uri string) error {
	if err := p.src.SwitchURI(uri); err != nil {
		return fmt.Errorf("pipeline: update source: %w", err)
	}
	p.reArm.Store(true)
	return nil
}

// UpdateModel hot-swaps the analyzer's model without restarting the
// worker.
func (p *Pipeline) UpdateModel(id, path string, useGPU bool) (bool, error) {
	ok, err := p.an.SwitchModel(id, path, useGPU)
	if ok {
		p.reArm.Store(true)
	}
	return ok, err
}

// UpdateTask hot-swaps the analyzer's active task.
func (p *Pipeline) UpdateTask(task frame.Task) error {
	if err := p.an.SwitchTask(task); err != nil {
		return fmt.Errorf("pipeline: update task: %w", err)
	}
	p.reArm.Store(true)
	return nil
}

// SetParams hot-swaps the analyzer's detection parameters. Params changes
// do not require re-prewarming the model, only the next frame picks them
// up via the analyzer's own snapshot-under-lock.
func (p *Pipeline) SetParams(params analyzer.Params) {
	p.an.UpdateParams(params)
}

// Metrics returns a snapshot of {fps, avg_latency_ms, last_processed_ms,
// processed_frames, dropped_frames} per §4.1.
func (p *Pipeline) Metrics() Metrics {
	p.metricsMu.Lock()
	fps := p.fpsEMA
	lat := p.latencyMean
	p.metricsMu.Unlock()
	return Metrics{
		FPS:             fps,
		AvgLatencyMs:    lat,
		LastProcessedMs: p.lastProcessedMs.Load(),
		ProcessedFrames: p.processedFrames.Load(),
		DroppedFrames:   p.droppedFrames.Load(),
	}
}

// TransportStats returns the underlying transport's per-track counters
// for this pipeline's track id.
func (p *Pipeline) TransportStats() transport.Stats {
	return p.tr.PerTrackStats()[p.trackID]
}

func (p *Pipeline) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		if p.stopRequested() {
			return
		}
		if err := p.prewarmOnce(); err != nil {
			p.log.Warn("prewarm failed, retrying after backoff", "error", err)
			if p.sleepOrStop(prewarmBackoff) {
				return
			}
			continue
		}
		p.state.Store(int32(StateRunning))
		p.processedFrames.Store(0)
		p.droppedFrames.Store(0)
		p.resetTimingMetrics()
		break
	}

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if p.reArm.CompareAndSwap(true, false) {
			p.state.Store(int32(StatePrewarming))
			if err := p.prewarmOnce(); err != nil {
				p.log.Warn("re-prewarm failed after hot-swap, retrying after backoff", "error", err)
				if p.sleepOrStop(prewarmBackoff) {
					return
				}
				p.reArm.Store(true)
				continue
			}
			p.state.Store(int32(StateRunning))
			p.processedFrames.Store(0)
			p.droppedFrames.Store(0)
			p.resetTimingMetrics()
		}

		p.step(ctx)
	}
}

func (p *Pipeline) prewarmOnce() error {
	if err := p.enc.Open(p.encCfg); err != nil {
		return fmt.Errorf("pipeline: encoder open: %w", err)
	}
	if p.prewarm == nil {
		return nil
	}
	return p.prewarm()
}

func (p *Pipeline) stopRequested() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

// sleepOrStop sleeps d unless stop is requested first; returns true if it
// returned early because of a stop request.
func (p *Pipeline) sleepOrStop(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.stopCh:
		return true
	case <-timer.C:
		return false
	}
}

// step executes one iteration of the per-frame algorithm from §4.1.
func (p *Pipeline) step(ctx context.Context) {
	start := time.Now()

	f, err := p.src.Read(ctx)
	if err != nil {
		p.droppedFrames.Add(1)
		p.log.DebugPipeline("frame dropped: source read failed", "track_id", p.trackID, "error", err)
		p.sleepOrStop(sourceReadBackoff)
		return
	}

	f.PTSMillis = time.Now().UnixMilli()

	annotated, err := p.an.Analyze(f)
	if err != nil {
		p.droppedFrames.Add(1)
		p.log.DebugPipeline("frame dropped: analyze failed", "track_id", p.trackID, "error", err)
		return
	}

	packet, err := p.enc.Encode(annotated)
	if err != nil {
		p.droppedFrames.Add(1)
		p.log.DebugPipeline("frame dropped: encode failed", "track_id", p.trackID, "error", err)
		return
	}

	if len(packet) > 0 {
		if err := p.tr.Send(p.trackID, packet); err != nil {
			p.log.Warn("transport send failed", "error", err)
		}
	}

	p.processedFrames.Add(1)
	p.lastProcessedMs.Store(time.Now().UnixMilli())
	p.recordTiming(start)
}

// fpsAlpha is the exponential smoothing weight applied to the fps
// estimate used by Metrics(), per §4.1 step 6.
const fpsAlpha = 0.1

// recordTiming folds one frame's timing into the running metrics used by
// Metrics(): avg_latency_ms is a true cumulative running mean over every
// frame processed since the last (re-)prewarm, and fps is an
// exponentially-weighted moving average with weight 0.1, per §4.1 step 6.
func (p *Pipeline) recordTiming(start time.Time) {
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()

	p.latencyCount++
	p.latencyMean += (latencyMs - p.latencyMean) / float64(p.latencyCount)

	if !p.lastFrameAt.IsZero() {
		interval := start.Sub(p.lastFrameAt).Seconds()
		if interval > 0 {
			instFPS := 1.0 / interval
			if p.fpsEMA == 0 {
				p.fpsEMA = instFPS
			} else {
				p.fpsEMA = fpsAlpha*instFPS + (1-fpsAlpha)*p.fpsEMA
			}
		}
	}
	p.lastFrameAt = start
	p.log.DebugFrameStep(p.trackID, true, latencyMs)
}

// resetTimingMetrics clears the running latency mean and fps EMA; called
// whenever the worker re-enters Running after a (re-)prewarm so a hot-swap
// does not blend pre- and post-swap timing into the same average.
func (p *Pipeline) resetTimingMetrics() {
	p.metricsMu.Lock()
	p.latencyMean = 0
	p.latencyCount = 0
	p.fpsEMA = 0
	p.lastFrameAt = time.Time{}
	p.metricsMu.Unlock()
}
