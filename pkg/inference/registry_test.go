package inference

import "testing"

func TestRegistryResolveExactFamily(t *testing.T) {
	r := NewRegistry()
	r.Register("yolo", NoopFactory())
	sess, ok := r.Resolve("yolo", ModelDesc{ID: "anything"})
	if !ok || sess == nil {
		t.Fatalf("Resolve(yolo) failed, want a session")
	}
}

func TestRegistryResolveFallsBackToDefault(t *testing.T) {
	r := NewRegistry()
	r.Register("default", NoopFactory())
	sess, ok := r.Resolve("unregistered-family", ModelDesc{})
	if !ok || sess == nil {
		t.Fatalf("Resolve should fall back to default factory")
	}
}

func TestRegistryResolveSubstringMatch(t *testing.T) {
	r := NewRegistry()
	r.Register("yolov8", NoopFactory())
	sess, ok := r.Resolve("unused-family", ModelDesc{ID: "my-yolov8-model", Path: "/models/yv8.onnx"})
	if !ok || sess == nil {
		t.Fatalf("Resolve should match family substring against model id/path")
	}
}

func TestRegistryResolveNoMatchNoDefault(t *testing.T) {
	r := NewRegistry()
	r.Register("yolov8", NoopFactory())
	_, ok := r.Resolve("other", ModelDesc{ID: "resnet", Path: "/models/resnet.onnx"})
	if ok {
		t.Fatalf("Resolve should fail when nothing matches and no default is registered")
	}
}
