package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ethan/visionrelay/pkg/frame"
	"github.com/ethan/visionrelay/pkg/logger"
	"github.com/ethan/visionrelay/pkg/rtsp"
)

// reconnectThreshold is the consecutive-failure count at which a run of
// read failures is treated as a drop storm and a fresh reconnect is forced
// (§5: "Source reconnect is bounded to 5 consecutive read failures before
// surfacing as a drop storm; each failure adds a 1-second backoff").
const reconnectThreshold = 5

// RTSPSource decodes a live RTSP URL into frame.Frame values via
// gocv.VideoCapture. A Prober validates reachability before the capture is
// opened so a bad URI fails fast with ErrSourceOpenFailed instead of
// hanging inside OpenCV's own connect timeout.
type RTSPSource struct {
	log    *logger.Logger
	prober *rtsp.Prober

	mu                  sync.Mutex
	uri                 string
	pendingURI          string
	capture             *gocv.VideoCapture
	consecutiveFailures int
}

// NewRTSPSource returns an unopened RTSPSource for uri.
func NewRTSPSource(uri string, log *logger.Logger) *RTSPSource {
	if log == nil {
		log = logger.Default()
	}
	return &RTSPSource{log: log, prober: rtsp.NewProber(log.Logger), uri: uri}
}

// Open probes uri and opens the backing VideoCapture. Must be called once
// before the first Read.
func (s *RTSPSource) Open(ctx context.Context) error {
	s.mu.Lock()
	uri := s.uri
	s.mu.Unlock()
	return s.open(ctx, uri)
}

func (s *RTSPSource) open(ctx context.Context, uri string) error {
	if _, err := s.prober.Probe(ctx, uri); err != nil {
		return wrapOpenErr(uri, err)
	}

	capture, err := gocv.VideoCaptureFile(uri)
	if err != nil {
		return wrapOpenErr(uri, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return wrapOpenErr(uri, fmt.Errorf("capture did not open"))
	}

	s.mu.Lock()
	if s.capture != nil {
		s.capture.Close()
	}
	s.capture = capture
	s.uri = uri
	s.consecutiveFailures = 0
	s.mu.Unlock()
	return nil
}

// Read pulls and decodes the next frame. On a read failure it increments
// an internal failure counter; once that counter reaches
// reconnectThreshold it logs a drop-storm warning and attempts to reopen
// the capture against the current URI, backing off 1 second per
// consecutive failure (capped at reconnectThreshold seconds).
func (s *RTSPSource) Read(ctx context.Context) (frame.Frame, error) {
	s.mu.Lock()
	if pending := s.pendingURI; pending != "" {
		s.mu.Unlock()
		if err := s.open(ctx, pending); err != nil {
			return frame.Frame{}, err
		}
		s.mu.Lock()
		if s.pendingURI == pending {
			s.pendingURI = ""
		}
	}
	capture := s.capture
	uri := s.uri
	s.mu.Unlock()

	if capture == nil {
		return frame.Frame{}, wrapOpenErr(uri, fmt.Errorf("not opened"))
	}

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := capture.Read(&mat); !ok || mat.Empty() {
		return frame.Frame{}, s.onReadFailure(ctx, uri)
	}

	s.mu.Lock()
	s.consecutiveFailures = 0
	s.mu.Unlock()

	buf := make([]byte, mat.Total()*mat.Channels())
	copy(buf, mat.ToBytes())
	s.log.DebugSource("frame decoded", "uri", uri, "width", mat.Cols(), "height", mat.Rows())
	return frame.Frame{
		Width:     mat.Cols(),
		Height:    mat.Rows(),
		Format:    frame.PixelFormatBGR24,
		PTSMillis: time.Now().UnixMilli(),
		Pixels:    buf,
	}, nil
}

func (s *RTSPSource) onReadFailure(ctx context.Context, uri string) error {
	s.mu.Lock()
	s.consecutiveFailures++
	n := s.consecutiveFailures
	s.mu.Unlock()

	backoff := time.Duration(n) * time.Second
	if backoff > reconnectThreshold*time.Second {
		backoff = reconnectThreshold * time.Second
	}

	if n >= reconnectThreshold {
		s.log.Warn("source read drop storm, reconnecting", "uri", uri, "consecutive_failures", n)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return wrapReadErr(ctx.Err())
		}
		if err := s.open(ctx, uri); err != nil {
			s.log.Warn("source reconnect failed", "uri", uri, "error", err)
		} else {
			s.log.DebugSource("reconnect succeeded", "uri", uri, "consecutive_failures", n)
		}
	}
	return wrapReadErr(fmt.Errorf("capture read returned no frame"))
}

// SwitchURI records a new URI; the next Read call reopens the capture
// against it before decoding, so a switch never blocks the caller longer
// than one frame's worth of bookkeeping beyond the reopen itself.
func (s *RTSPSource) SwitchURI(uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingURI = uri
	return nil
}

func (s *RTSPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture != nil {
		err := s.capture.Close()
		s.capture = nil
		return err
	}
	return nil
}
