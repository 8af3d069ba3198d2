package encoder

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ethan/visionrelay/pkg/frame"
)

// GoCVEncoder encodes a frame through OpenCV's gocv.IMEncode, the same
// library n0remac-robot-webrtc uses for frame decode (see
// pkg/source/rtsp_source.go) and drawing (see pkg/analyzer/renderer.go).
// Used for codec tags IMEncode supports beyond MJPEG, e.g. "png".
type GoCVEncoder struct {
	mu     sync.Mutex
	opened bool
	ext    gocv.FileExt
	width  int
	height int
}

// NewGoCVEncoder returns an unopened GoCVEncoder for the given IMEncode
// file extension (e.g. ".png").
func NewGoCVEncoder(ext string) *GoCVEncoder {
	return &GoCVEncoder{ext: gocv.FileExt(ext)}
}

func (e *GoCVEncoder) Open(cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("encoder: gocv: invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	e.width, e.height = cfg.Width, cfg.Height
	e.opened = true
	return nil
}

func (e *GoCVEncoder) Encode(f frame.Frame) ([]byte, error) {
	e.mu.Lock()
	opened := e.opened
	e.mu.Unlock()
	if !opened {
		return nil, fmt.Errorf("encoder: gocv: not opened")
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("encoder: gocv: %w", err)
	}

	mat, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Pixels)
	if err != nil {
		return nil, fmt.Errorf("encoder: gocv: mat from bytes: %w", err)
	}
	defer mat.Close()

	buf, err := gocv.IMEncode(e.ext, mat)
	if err != nil {
		return nil, fmt.Errorf("encoder: gocv: imencode: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

func (e *GoCVEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opened = false
	return nil
}
