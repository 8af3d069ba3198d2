package encoder

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/ethan/visionrelay/pkg/frame"
)

// JPEGEncoder produces one JPEG-compressed packet per frame (an MJPEG
// stream, one image per transport packet). No pack dependency performs
// pure-Go image compression from a raw pixel buffer without pulling in a
// cgo/system codec (gocv does, at the cost of an OpenCV dependency on the
// encode path too — see GoCVEncoder for that trade made explicitly for the
// "png" codec tag); stdlib image/jpeg is the justified exception for the
// default codec.
type JPEGEncoder struct {
	mu      sync.Mutex
	opened  bool
	quality int
	width   int
	height  int
}

// NewJPEGEncoder returns an unopened JPEGEncoder.
func NewJPEGEncoder() *JPEGEncoder {
	return &JPEGEncoder{quality: 85}
}

func (e *JPEGEncoder) Open(cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("encoder: jpeg: invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	q := bitrateToQuality(cfg.BitrateKbps)
	e.quality = q
	e.width = cfg.Width
	e.height = cfg.Height
	e.opened = true
	return nil
}

func bitrateToQuality(kbps int) int {
	switch {
	case kbps <= 0:
		return 85
	case kbps < 500:
		return 60
	case kbps < 1500:
		return 75
	case kbps < 4000:
		return 85
	default:
		return 95
	}
}

func (e *JPEGEncoder) Encode(f frame.Frame) ([]byte, error) {
	e.mu.Lock()
	opened, quality := e.opened, e.quality
	e.mu.Unlock()
	if !opened {
		return nil, fmt.Errorf("encoder: jpeg: not opened")
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("encoder: jpeg: %w", err)
	}

	img := bgrToRGBA(f)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoder: jpeg: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *JPEGEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opened = false
	return nil
}

// bgrToRGBA converts a Frame's packed BGR24 (or RGB24) buffer into an
// image.RGBA the standard library's jpeg encoder can consume.
func bgrToRGBA(f frame.Frame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	stride := f.Stride()
	swap := f.Format == frame.PixelFormatBGR24
	for y := 0; y < f.Height; y++ {
		srcRow := f.Pixels[y*stride : y*stride+stride]
		dstRow := img.Pix[y*img.Stride : y*img.Stride+img.Stride]
		for x := 0; x < f.Width; x++ {
			b0, b1, b2 := srcRow[x*3], srcRow[x*3+1], srcRow[x*3+2]
			r, g, b := b0, b1, b2
			if swap {
				r, b = b2, b0
			}
			dstRow[x*4] = r
			dstRow[x*4+1] = g
			dstRow[x*4+2] = b
			dstRow[x*4+3] = 0xff
		}
	}
	return img
}
