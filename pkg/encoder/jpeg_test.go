package encoder

import (
	"bytes"
	"image/jpeg"
	"testing"

	"github.com/ethan/visionrelay/pkg/frame"
)

func solidFrame(w, h int, b, g, r byte) frame.Frame {
	pixels := make([]byte, w*h*3)
	for i := 0; i < w*h; i++ {
		pixels[i*3] = b
		pixels[i*3+1] = g
		pixels[i*3+2] = r
	}
	return frame.Frame{Width: w, Height: h, Format: frame.PixelFormatBGR24, Pixels: pixels}
}

func TestJPEGEncoderRejectsEncodeBeforeOpen(t *testing.T) {
	e := NewJPEGEncoder()
	if _, err := e.Encode(solidFrame(4, 4, 0, 0, 0)); err == nil {
		t.Fatalf("Encode before Open should fail")
	}
}

func TestJPEGEncoderOpenRejectsInvalidDimensions(t *testing.T) {
	e := NewJPEGEncoder()
	if err := e.Open(Config{Width: 0, Height: 10}); err == nil {
		t.Fatalf("Open with zero width should fail")
	}
}

func TestJPEGEncoderEncodeProducesDecodableImage(t *testing.T) {
	e := NewJPEGEncoder()
	if err := e.Open(Config{Width: 8, Height: 8, BitrateKbps: 1000}); err != nil {
		t.Fatalf("Open: %v", err)
	}

	packet, err := e.Encode(solidFrame(8, 8, 10, 20, 200))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(packet) == 0 {
		t.Fatalf("Encode returned empty packet")
	}

	img, err := jpeg.Decode(bytes.NewReader(packet))
	if err != nil {
		t.Fatalf("decode produced packet: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 8 || bounds.Dy() != 8 {
		t.Errorf("decoded image size = %dx%d, want 8x8", bounds.Dx(), bounds.Dy())
	}
}

func TestJPEGEncoderEncodeRejectsMismatchedBuffer(t *testing.T) {
	e := NewJPEGEncoder()
	if err := e.Open(Config{Width: 4, Height: 4}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	bad := frame.Frame{Width: 4, Height: 4, Pixels: make([]byte, 10)}
	if _, err := e.Encode(bad); err == nil {
		t.Fatalf("Encode should reject a frame whose buffer size does not match its dimensions")
	}
}

func TestBitrateToQuality(t *testing.T) {
	cases := map[int]int{0: 85, 100: 60, 1000: 75, 3000: 85, 10000: 95}
	for kbps, want := range cases {
		if got := bitrateToQuality(kbps); got != want {
			t.Errorf("bitrateToQuality(%d) = %d, want %d", kbps, got, want)
		}
	}
}

func TestJPEGEncoderCloseThenEncodeFails(t *testing.T) {
	e := NewJPEGEncoder()
	if err := e.Open(Config{Width: 4, Height: 4}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := e.Encode(solidFrame(4, 4, 0, 0, 0)); err == nil {
		t.Fatalf("Encode after Close should fail")
	}
}
