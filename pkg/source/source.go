// Package source pulls decoded frames from a URI and supports hot URI
// switching (C2). The concrete implementation decodes live RTSP video
// through gocv's FFmpeg-backed VideoCapture, the same approach
// n0remac-robot-webrtc/webrtc/client.go uses to turn an RTSP/file URL into
// a stream of gocv.Mat frames, here adapted to yield frame.Frame values.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethan/visionrelay/pkg/frame"
)

// Sentinel errors per §7: reported locally as frame drops by the caller,
// never propagated as control-plane failures except at Open.
var (
	ErrSourceOpenFailed = errors.New("source: open failed")
	ErrSourceReadFailed = errors.New("source: read failed")
)

// Source pulls one decoded frame at a time from a live URI.
type Source interface {
	// Read blocks until a frame is available, the context is done, or a
	// read failure occurs.
	Read(ctx context.Context) (frame.Frame, error)
	// SwitchURI hot-swaps the backing URI; takes effect no later than the
	// next Read call.
	SwitchURI(uri string) error
	Close() error
}

func wrapOpenErr(uri string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSourceOpenFailed, uri, err)
}

func wrapReadErr(err error) error {
	return fmt.Errorf("%w: %w", ErrSourceReadFailed, err)
}
