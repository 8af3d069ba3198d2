package inference

import (
	"errors"
	"testing"

	"github.com/ethan/visionrelay/pkg/frame"
)

func TestManagerSetDescriptorResetsStatus(t *testing.T) {
	m := NewManager()
	m.SetStatus(Status{ActiveProvider: ProviderCUDA, GPUActive: true})

	m.SetDescriptor(Descriptor{Name: "gpu0", Provider: ProviderCUDA})

	if got := m.Status(); got != DefaultStatus() {
		t.Errorf("SetDescriptor did not reset status, got %+v", got)
	}
	if got := m.Descriptor().Name; got != "gpu0" {
		t.Errorf("Descriptor().Name = %q, want gpu0", got)
	}
}

func TestDescriptorOption(t *testing.T) {
	d := Descriptor{Options: map[string]string{"trt_fp16": "true"}}
	v, ok := d.Option("trt_fp16")
	if !ok || v != "true" {
		t.Errorf("Option(trt_fp16) = (%q, %v), want (true, true)", v, ok)
	}
	if _, ok := d.Option("missing"); ok {
		t.Errorf("Option(missing) should report ok=false")
	}

	var empty Descriptor
	if _, ok := empty.Option("anything"); ok {
		t.Errorf("Option on nil Options map should report ok=false, not panic")
	}
}

func TestPrewarmSucceedsOnCPU(t *testing.T) {
	m := NewManager()
	m.SetDescriptor(Descriptor{Provider: ProviderCPU})

	if err := m.Prewarm(NoopSession{}, "/models/anything.onnx"); err != nil {
		t.Fatalf("Prewarm with NoopSession: %v", err)
	}
	if got := m.Status().ActiveProvider; got != ProviderCPU {
		t.Errorf("Status().ActiveProvider = %v, want cpu", got)
	}
}

func TestPrewarmGPUSetsDeviceBindingAndIOBindingFlags(t *testing.T) {
	m := NewManager()
	m.SetDescriptor(Descriptor{Provider: ProviderCUDA, Options: map[string]string{"use_io_binding": "true"}})

	if err := m.Prewarm(NoopSession{}, "/models/anything.onnx"); err != nil {
		t.Fatalf("Prewarm: %v", err)
	}
	status := m.Status()
	if !status.GPUActive || !status.DeviceBinding || !status.IOBinding {
		t.Errorf("Status() = %+v, want GPUActive/DeviceBinding/IOBinding all true", status)
	}
}

type rejectingSession struct {
	ok  bool
	err error
}

func (r rejectingSession) LoadModel(path string, useGPU bool) (bool, error) { return r.ok, r.err }
func (r rejectingSession) Run(in frame.TensorView) ([]frame.TensorView, error) {
	return nil, nil
}

func TestPrewarmPropagatesLoadError(t *testing.T) {
	m := NewManager()
	boom := errors.New("boom")
	err := m.Prewarm(rejectingSession{err: boom}, "/bad.onnx")
	if !errors.Is(err, boom) {
		t.Fatalf("Prewarm error = %v, want wrapped %v", err, boom)
	}
}

func TestPrewarmRejectedNotOKReturnsSentinel(t *testing.T) {
	m := NewManager()
	err := m.Prewarm(rejectingSession{ok: false}, "/rejected.onnx")
	if !errors.Is(err, ErrModelLoadRejected) {
		t.Fatalf("Prewarm error = %v, want ErrModelLoadRejected", err)
	}
}
