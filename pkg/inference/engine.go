// Package inference defines the abstract inference-runtime contracts the
// core depends on (preprocessor, model session, postprocessor, renderer),
// the engine descriptor/status value types, and a family-keyed model
// registry. Concrete inference backends are collaborators outside this
// repository's scope; only the contracts they must satisfy live here.
package inference

import "sync"

// Provider is an execution-provider tag.
type Provider string

const (
	ProviderCPU      Provider = "cpu"
	ProviderCUDA     Provider = "cuda"
	ProviderTensorRT Provider = "tensorrt"
)

// Descriptor is the process-wide engine configuration: logical name,
// execution provider, device index, and a string option map. Recognized
// option keys mirror the reference implementation: use_io_binding,
// prefer_pinned_memory, allow_cpu_fallback, trt_fp16, trt_int8,
// trt_workspace_mb, io_binding_input_bytes, io_binding_output_bytes.
type Descriptor struct {
	Name       string
	Provider   Provider
	DeviceIdx  int
	Options    map[string]string
}

// Option looks up a descriptor option, returning ok=false when absent.
func (d Descriptor) Option(key string) (string, bool) {
	if d.Options == nil {
		return "", false
	}
	v, ok := d.Options[key]
	return v, ok
}

// Status is the last-known runtime status of the active engine. When no
// session has ever loaded successfully it reports CPU with every flag
// false; a session load only ever sets it to a reflection of its own
// result, never a guess.
type Status struct {
	ActiveProvider Provider
	GPUActive      bool
	IOBinding      bool
	DeviceBinding  bool
	CPUFallback    bool
}

// DefaultStatus is the value a fresh or reset Engine Manager reports.
func DefaultStatus() Status {
	return Status{ActiveProvider: ProviderCPU}
}

// Manager is the process-wide current engine descriptor plus last-known
// runtime status. Both reads and writes are serialized behind one mutex, as
// specified for the Engine Manager (C8): one mutex guarding both fields.
type Manager struct {
	mu         sync.Mutex
	descriptor Descriptor
	status     Status
}

// NewManager returns a Manager with no descriptor set and default status.
func NewManager() *Manager {
	return &Manager{status: DefaultStatus()}
}

// SetDescriptor installs a new engine descriptor and resets runtime status
// to CPU/all-flags-false until a session reports otherwise.
func (m *Manager) SetDescriptor(d Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.descriptor = d
	m.status = DefaultStatus()
}

// Descriptor returns the current engine descriptor.
func (m *Manager) Descriptor() Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.descriptor
}

// SetStatus records the runtime status reported by the last successful
// session initialization.
func (m *Manager) SetStatus(s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
}

// Status returns the last-known runtime status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Prewarm loads the given model path into session against the current
// descriptor (GPU for any non-CPU provider) and records the resulting
// runtime status via SetStatus; a rejected load resets the status to
// DefaultStatus and returns ErrModelLoadRejected. The engine manager does
// not own the ModelSession; the caller supplies it, and a Pipeline's
// prewarm callback can fold the returned error into its readiness check.
func (m *Manager) Prewarm(session ModelSession, modelPath string) error {
	descriptor := m.Descriptor()
	useGPU := descriptor.Provider != ProviderCPU
	ok, err := session.LoadModel(modelPath, useGPU)
	if err != nil {
		return err
	}
	if !ok {
		m.SetStatus(DefaultStatus())
		return ErrModelLoadRejected
	}
	status := Status{ActiveProvider: descriptor.Provider}
	if useGPU {
		status.GPUActive = true
		status.DeviceBinding = true
		if v, _ := descriptor.Option("use_io_binding"); v == "true" {
			status.IOBinding = true
		}
	}
	if v, _ := descriptor.Option("allow_cpu_fallback"); v == "true" && !useGPU {
		status.CPUFallback = true
	}
	m.SetStatus(status)
	return nil
}
