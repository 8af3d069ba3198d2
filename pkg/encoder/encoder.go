// Package encoder converts an annotated Frame into a codec-specific byte
// packet ready for the Transport. Concrete codec implementations are
// pluggable; this package ships two small reference encoders (JPEG and
// PNG) selected through a registry keyed the same way
// pkg/inference.Registry resolves model families.
package encoder

import (
	"fmt"

	"github.com/ethan/visionrelay/pkg/frame"
)

// Config bundles an encoder's tunables: width/height/fps, bitrate, GOP
// size, B-frame count, codec tag, preset/tune/profile strings, and a
// zero-latency flag. Not every concrete encoder honors every field (a
// still-image codec has no GOP), but all fields are always present so a
// pipeline can log or report them uniformly.
type Config struct {
	Width       int
	Height      int
	FPS         int
	BitrateKbps int
	GOPSize     int
	BFrames     int
	CodecTag    string
	Preset      string
	Tune        string
	Profile     string
	ZeroLatency bool
}

// Encoder converts one annotated frame at a time into an encoded byte
// packet. An empty, nil-error return means the encoder is buffering
// internally (e.g. building a GOP) and produced no packet for this call;
// the Pipeline treats that as successful processing with no transport
// write (§4.1 step 4).
type Encoder interface {
	Open(cfg Config) error
	Encode(f frame.Frame) ([]byte, error)
	Close() error
}

// Factory builds a fresh, unopened Encoder instance for a codec tag.
type Factory func() Encoder

// Registry resolves a codec tag to an Encoder factory, falling back to a
// registered "default" entry when the requested tag is unknown.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty encoder registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates a codec tag with a factory.
func (r *Registry) Register(codecTag string, f Factory) {
	r.factories[codecTag] = f
}

// Resolve returns a new Encoder for codecTag, or the "default" factory if
// codecTag is not registered. Returns an error if neither is present.
func (r *Registry) Resolve(codecTag string) (Encoder, error) {
	if f, ok := r.factories[codecTag]; ok {
		return f(), nil
	}
	if f, ok := r.factories["default"]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("encoder: no factory registered for codec %q and no default", codecTag)
}

// DefaultRegistry returns a Registry pre-populated with the two reference
// encoders this codebase ships: "mjpeg" (also the default) and "png".
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("default", func() Encoder { return NewJPEGEncoder() })
	r.Register("mjpeg", func() Encoder { return NewJPEGEncoder() })
	r.Register("png", func() Encoder { return NewGoCVEncoder(".png") })
	return r
}
