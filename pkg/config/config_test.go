package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeEnvFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	path := writeEnvFile(t, `
default_source_uri=rtsp://camera.local/stream1
default_model_id=yolov8n
default_model_path=/models/yolov8n.onnx
signaling_port=9090
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.DefaultSourceURI != "rtsp://camera.local/stream1" {
		t.Errorf("default_source_uri = %q", cfg.Server.DefaultSourceURI)
	}
	if cfg.Server.SignalingPort != 9090 {
		t.Errorf("signaling_port = %d, want 9090 (overridden)", cfg.Server.SignalingPort)
	}
	if cfg.Server.BindAddress != "127.0.0.1" {
		t.Errorf("bind_address = %q, want default 127.0.0.1", cfg.Server.BindAddress)
	}
	if cfg.Server.ICEPortMin != 10000 || cfg.Server.ICEPortMax != 10100 {
		t.Errorf("ice port range = [%d, %d], want default [10000, 10100]", cfg.Server.ICEPortMin, cfg.Server.ICEPortMax)
	}
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	path := writeEnvFile(t, `default_model_id=yolov8n`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing default_source_uri/default_model_path")
	}
}

func TestLoadRejectsInvalidICEPortRange(t *testing.T) {
	path := writeEnvFile(t, `
default_source_uri=rtsp://camera.local/stream1
default_model_id=yolov8n
default_model_path=/models/yolov8n.onnx
ice_port_min=20000
ice_port_max=10000
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for inverted ICE port range")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.env")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
