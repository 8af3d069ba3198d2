package frame

import "testing"

func TestFrameValidate(t *testing.T) {
	ok := Frame{Width: 2, Height: 2, Pixels: make([]byte, 12)}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() on well-formed frame: %v", err)
	}

	short := Frame{Width: 2, Height: 2, Pixels: make([]byte, 4)}
	if err := short.Validate(); err == nil {
		t.Fatalf("expected error for undersized pixel buffer")
	}

	zero := Frame{Width: 0, Height: 2, Pixels: nil}
	if err := zero.Validate(); err == nil {
		t.Fatalf("expected error for non-positive dimension")
	}
}

func TestFrameClone(t *testing.T) {
	f := Frame{Width: 1, Height: 1, Pixels: []byte{1, 2, 3}}
	clone := f.Clone()
	clone.Pixels[0] = 99
	if f.Pixels[0] == 99 {
		t.Fatalf("Clone shares backing array with original")
	}
}

func TestLetterboxMetaUnmapBox(t *testing.T) {
	m := LetterboxMeta{Scale: 0.5, PadX: 10, PadY: 20}
	x1, y1, x2, y2 := m.UnmapBox(20, 30, 40, 50)
	if x1 != 20 || y1 != 20 || x2 != 60 || y2 != 60 {
		t.Fatalf("UnmapBox = (%v,%v,%v,%v), want (20,20,60,60)", x1, y1, x2, y2)
	}
}

func TestLetterboxMetaUnmapBoxZeroScale(t *testing.T) {
	m := LetterboxMeta{}
	x1, y1, x2, y2 := m.UnmapBox(1, 2, 3, 4)
	if x1 != 1 || y1 != 2 || x2 != 3 || y2 != 4 {
		t.Fatalf("UnmapBox with zero scale should pass coordinates through unchanged")
	}
}

func TestPixelFormatString(t *testing.T) {
	if PixelFormatBGR24.String() != "bgr24" {
		t.Errorf("PixelFormatBGR24.String() = %q", PixelFormatBGR24.String())
	}
	if PixelFormat(99).String() != "unknown" {
		t.Errorf("unknown pixel format should stringify to %q", "unknown")
	}
}
