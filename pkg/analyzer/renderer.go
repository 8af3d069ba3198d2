package analyzer

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ethan/visionrelay/pkg/frame"
)

// PassthroughRenderer returns the input frame unmodified, ignoring the
// model output. It is the default renderer (§4.4).
type PassthroughRenderer struct{}

func (PassthroughRenderer) Render(f frame.Frame, _ frame.ModelOutput) (frame.Frame, error) {
	return f, nil
}

// DrawingRenderer overlays detection boxes, "<class>: <pct>%" labels, and
// for segmentation tasks an alpha-blended colored mask (weight 0.3), using
// gocv's drawing primitives on a gocv.Mat built from a raw pixel buffer
// via gocv.NewMatFromBytes.
type DrawingRenderer struct {
	BoxColor   color.RGBA
	MaskColor  color.RGBA
	MaskAlpha  float64
}

// NewDrawingRenderer returns a DrawingRenderer with sane default colors
// and a 0.3 mask blend weight.
func NewDrawingRenderer() *DrawingRenderer {
	return &DrawingRenderer{
		BoxColor:  color.RGBA{R: 0, G: 220, B: 0, A: 255},
		MaskColor: color.RGBA{R: 220, G: 0, B: 0, A: 255},
		MaskAlpha: 0.3,
	}
}

func (r *DrawingRenderer) Render(f frame.Frame, out frame.ModelOutput) (frame.Frame, error) {
	annotated := f.Clone()

	mat, err := gocv.NewMatFromBytes(annotated.Height, annotated.Width, gocv.MatTypeCV8UC3, annotated.Pixels)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("analyzer: renderer: mat from bytes: %w", err)
	}
	defer mat.Close()

	dets := out.Detections
	if out.Task == frame.TaskSegment {
		dets = make([]frame.Detection, len(out.Segmentations))
		for i, s := range out.Segmentations {
			dets[i] = s.Detection
		}
	}

	for _, d := range dets {
		rect := image.Rect(int(d.Box.X1), int(d.Box.Y1), int(d.Box.X2), int(d.Box.Y2))
		gocv.Rectangle(&mat, rect, r.BoxColor, 2)
		label := fmt.Sprintf("%s: %.0f%%", d.ClassName, d.Score*100)
		origin := image.Pt(rect.Min.X, rect.Min.Y-6)
		if origin.Y < 10 {
			origin.Y = rect.Min.Y + 14
		}
		gocv.PutText(&mat, label, origin, gocv.FontHersheySimplex, 0.5, r.BoxColor, 1)
	}

	if out.Task == frame.TaskSegment {
		for _, s := range out.Segmentations {
			if err := r.blendMask(&mat, s); err != nil {
				return frame.Frame{}, err
			}
		}
	}

	if mat.Total()*mat.Channels() != len(annotated.Pixels) {
		return frame.Frame{}, fmt.Errorf("analyzer: renderer: mat size drifted from frame buffer")
	}
	copy(annotated.Pixels, mat.ToBytes())
	return annotated, nil
}

// blendMask alpha-blends a single-channel (0/255) segmentation mask, scaled
// to the detection's box, onto mat at MaskAlpha weight.
func (r *DrawingRenderer) blendMask(mat *gocv.Mat, s frame.Segmentation) error {
	if len(s.Mask) == 0 || s.MaskW <= 0 || s.MaskH <= 0 {
		return nil
	}
	maskMat, err := gocv.NewMatFromBytes(s.MaskH, s.MaskW, gocv.MatTypeCV8UC1, s.Mask)
	if err != nil {
		return fmt.Errorf("analyzer: renderer: mask mat: %w", err)
	}
	defer maskMat.Close()

	colorMask := gocv.NewMatWithSize(mat.Rows(), mat.Cols(), gocv.MatTypeCV8UC3)
	defer colorMask.Close()
	colorMask.SetTo(gocv.NewScalar(float64(r.MaskColor.B), float64(r.MaskColor.G), float64(r.MaskColor.R), 0))

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(maskMat, &resized, image.Pt(mat.Cols(), mat.Rows()), 0, 0, gocv.InterpolationNearestNeighbor)

	blended := gocv.NewMat()
	defer blended.Close()
	gocv.AddWeighted(*mat, 1.0-r.MaskAlpha, colorMask, r.MaskAlpha, 0, &blended)
	blended.CopyToWithMask(mat, resized)
	return nil
}
