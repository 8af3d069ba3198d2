// Package track owns the keyed map of live pipelines (C10): at-most-one
// pipeline per (stream_id, profile_id), subscribe/unsubscribe reference
// semantics, idle reaping, and hot-swap delegation down to each
// pipeline.Pipeline. The one-mutex-over-the-map-only discipline (never
// held across pipeline construction or inference) is the same shape as a
// device map keyed by a stable id, generalized here to a (stream,
// profile) pair.
package track

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethan/visionrelay/pkg/analyzer"
	"github.com/ethan/visionrelay/pkg/builder"
	"github.com/ethan/visionrelay/pkg/frame"
	"github.com/ethan/visionrelay/pkg/logger"
	"github.com/ethan/visionrelay/pkg/pipeline"
)

// Key identifies one subscription by stream and profile id. String()
// returns the canonical "<stream>:<profile>" form used as the transport
// track id.
type Key struct {
	StreamID  string
	ProfileID string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.StreamID, k.ProfileID)
}

// Entry is the Track Manager's record for one live subscription: a
// strongly-owned Pipeline plus copies of the configs it was built from,
// per §3 "Pipeline entry".
type Entry struct {
	Key          Key
	Pipeline     *pipeline.Pipeline
	SourceCfg    builder.SourceConfig
	FilterCfg    builder.FilterConfig
	EncoderCfg   builder.EncoderConfig
	TransportCfg builder.TransportConfig
	subscribedAt time.Time
}

// Snapshot is the read-only view list_pipelines() returns for one entry.
type Snapshot struct {
	Key             string
	Stream          string
	Profile         string
	SourceURI       string
	ModelID         string
	Task            frame.Task
	Running         bool
	LastActiveMs    int64
	TrackID         string
	Metrics         pipeline.Metrics
	TransportStats  interface{}
	EncoderCfg      builder.EncoderConfig
}

// Manager is the Track Manager: a single mutex over the entry map, held
// only while mutating keys, never across pipeline construction or
// inference (§5 "Shared resources & locks").
type Manager struct {
	log     *logger.Logger
	builder *builder.Builder

	mu      sync.Mutex
	entries map[Key]*Entry
}

// New returns an empty Track Manager backed by b for pipeline
// construction.
func New(b *builder.Builder, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		log:     log.With("component", "track_manager"),
		builder: b,
		entries: make(map[Key]*Entry),
	}
}

// Subscribe returns the canonical key for (source.StreamID,
// filter.ProfileID). If the key already exists it is idempotent and
// returns the existing key without rebuilding anything. Otherwise it
// builds a Pipeline via the Builder entirely outside the map lock, then
// re-checks for a concurrent insert: if one raced in first, the freshly
// built pipeline is stopped and discarded rather than leaked (§4.2
// "subscribe never leaks a started pipeline").
func (m *Manager) Subscribe(ctx context.Context, src builder.SourceConfig, filt builder.FilterConfig, enc builder.EncoderConfig, tr builder.TransportConfig) (Key, error) {
	key := Key{StreamID: src.StreamID, ProfileID: filt.ProfileID}

	m.mu.Lock()
	if _, ok := m.entries[key]; ok {
		m.mu.Unlock()
		return key, nil
	}
	m.mu.Unlock()

	p, err := m.builder.Build(key.String(), src, filt, enc, tr)
	if err != nil {
		return Key{}, fmt.Errorf("track: subscribe %s: %w", key, err)
	}
	if err := p.Start(ctx); err != nil {
		return Key{}, fmt.Errorf("track: subscribe %s: start: %w", key, err)
	}

	entry := &Entry{
		Key:          key,
		Pipeline:     p,
		SourceCfg:    src,
		FilterCfg:    filt,
		EncoderCfg:   enc,
		TransportCfg: tr,
		subscribedAt: time.Now(),
	}

	m.mu.Lock()
	if existing, ok := m.entries[key]; ok {
		m.mu.Unlock()
		p.Stop()
		return existing.Key, nil
	}
	m.entries[key] = entry
	m.mu.Unlock()

	m.log.DebugTrack("subscribed", "key", key, "source", src.URI, "model_id", filt.ModelID)
	return key, nil
}

// Unsubscribe stops and removes the entry for (stream, profile); a no-op
// if absent.
func (m *Manager) Unsubscribe(streamID, profileID string) {
	key := Key{StreamID: streamID, ProfileID: profileID}

	m.mu.Lock()
	entry, ok := m.entries[key]
	if ok {
		delete(m.entries, key)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	entry.Pipeline.Stop()
}

// SwitchSource delegates to Pipeline.UpdateSource; returns false if the
// key is absent.
func (m *Manager) SwitchSource(streamID, profileID, newURI string) bool {
	entry, ok := m.lookup(streamID, profileID)
	if !ok {
		return false
	}
	if err := entry.Pipeline.UpdateSource(newURI); err != nil {
		m.log.Warn("switch source failed", "key", entry.Key, "error", err)
		return false
	}
	m.mu.Lock()
	entry.SourceCfg.URI = newURI
	m.mu.Unlock()
	return true
}

// SwitchModel delegates to the Analyzer via Pipeline and, on success,
// records the new model id in the entry.
func (m *Manager) SwitchModel(streamID, profileID, modelID, modelPath string, useGPU bool) bool {
	entry, ok := m.lookup(streamID, profileID)
	if !ok {
		return false
	}
	ok2, err := entry.Pipeline.UpdateModel(modelID, modelPath, useGPU)
	if err != nil {
		m.log.Warn("switch model failed", "key", entry.Key, "error", err)
		return false
	}
	if ok2 {
		m.mu.Lock()
		entry.FilterCfg.ModelID = modelID
		entry.FilterCfg.ModelPath = modelPath
		m.mu.Unlock()
	}
	return ok2
}

// SwitchTask delegates to Pipeline.UpdateTask.
func (m *Manager) SwitchTask(streamID, profileID string, task frame.Task) bool {
	entry, ok := m.lookup(streamID, profileID)
	if !ok {
		return false
	}
	if err := entry.Pipeline.UpdateTask(task); err != nil {
		m.log.Warn("switch task failed", "key", entry.Key, "error", err)
		return false
	}
	m.mu.Lock()
	entry.FilterCfg.Task = task
	m.mu.Unlock()
	return true
}

// SetParams delegates to Pipeline.SetParams.
func (m *Manager) SetParams(streamID, profileID string, params analyzer.Params) bool {
	entry, ok := m.lookup(streamID, profileID)
	if !ok {
		return false
	}
	entry.Pipeline.SetParams(params)
	m.mu.Lock()
	entry.FilterCfg.Confidence = params.Confidence
	entry.FilterCfg.IoU = params.IoU
	m.mu.Unlock()
	return true
}

// ReapIdle removes every entry whose last-active timestamp is older than
// now - idle. last_active_ms comes from the pipeline's metrics once they
// have advanced past zero; otherwise the subscribe time is used. Reaping
// stops the pipeline before removing it from the map.
func (m *Manager) ReapIdle(idle time.Duration) []Key {
	cutoff := time.Now().Add(-idle)

	m.mu.Lock()
	var toReap []*Entry
	for key, entry := range m.entries {
		if m.lastActive(entry).Before(cutoff) {
			toReap = append(toReap, entry)
			delete(m.entries, key)
		}
	}
	m.mu.Unlock()

	reaped := make([]Key, 0, len(toReap))
	for _, entry := range toReap {
		entry.Pipeline.Stop()
		reaped = append(reaped, entry.Key)
		m.log.Info("reaped idle pipeline", "key", entry.Key)
	}
	if len(toReap) == 0 {
		m.log.DebugTrack("idle reap found nothing to remove")
	}
	return reaped
}

func (m *Manager) lastActive(entry *Entry) time.Time {
	metrics := entry.Pipeline.Metrics()
	if metrics.LastProcessedMs > 0 {
		return time.UnixMilli(metrics.LastProcessedMs)
	}
	return entry.subscribedAt
}

// ListPipelines returns a point-in-time snapshot of every live entry.
func (m *Manager) ListPipelines() []Snapshot {
	m.mu.Lock()
	entries := make([]*Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		entries = append(entries, entry)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(entries))
	for _, entry := range entries {
		metrics := entry.Pipeline.Metrics()
		out = append(out, Snapshot{
			Key:            entry.Key.String(),
			Stream:         entry.Key.StreamID,
			Profile:        entry.Key.ProfileID,
			SourceURI:      entry.SourceCfg.URI,
			ModelID:        entry.FilterCfg.ModelID,
			Task:           entry.FilterCfg.Task,
			Running:        entry.Pipeline.State() == pipeline.StateRunning,
			LastActiveMs:   m.lastActive(entry).UnixMilli(),
			TrackID:        entry.Key.String(),
			Metrics:        metrics,
			TransportStats: entry.Pipeline.TransportStats(),
			EncoderCfg:     entry.EncoderCfg,
		})
	}
	return out
}

func (m *Manager) lookup(streamID, profileID string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[Key{StreamID: streamID, ProfileID: profileID}]
	return entry, ok
}
