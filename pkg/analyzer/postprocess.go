package analyzer

import (
	"sort"

	"github.com/ethan/visionrelay/pkg/frame"
)

// normalize applies the post-output normalization rule (§4.4): clip every
// box score into [0,1], drop detections below the confidence threshold,
// then apply per-class non-maximum suppression at the configured IoU
// threshold. Segmentation records are filtered the same way via their
// embedded Detection; pose records pass through untouched (§9 Open
// Questions: pose has no exercised postprocessor beyond pass-through).
func normalize(out frame.ModelOutput, params Params) frame.ModelOutput {
	switch out.Task {
	case frame.TaskDetect, frame.TaskDetectionTR:
		out.Detections = filterAndSuppress(out.Detections, params)
	case frame.TaskSegment:
		out.Segmentations = filterAndSuppressSegmentations(out.Segmentations, params)
	}
	return out
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func filterAndSuppress(dets []frame.Detection, params Params) []frame.Detection {
	kept := make([]frame.Detection, 0, len(dets))
	for _, d := range dets {
		d.Score = clip01(d.Score)
		if d.Score < params.Confidence {
			continue
		}
		if len(params.ClassWhitelist) > 0 {
			if _, ok := params.ClassWhitelist[d.ClassID]; !ok {
				continue
			}
		}
		kept = append(kept, d)
	}
	return nmsPerClass(kept, params.IoU)
}

func filterAndSuppressSegmentations(segs []frame.Segmentation, params Params) []frame.Segmentation {
	kept := make([]frame.Segmentation, 0, len(segs))
	for _, s := range segs {
		s.Detection.Score = clip01(s.Detection.Score)
		if s.Detection.Score < params.Confidence {
			continue
		}
		if len(params.ClassWhitelist) > 0 {
			if _, ok := params.ClassWhitelist[s.Detection.ClassID]; !ok {
				continue
			}
		}
		kept = append(kept, s)
	}

	byClass := make(map[int][]frame.Segmentation)
	for _, s := range kept {
		byClass[s.Detection.ClassID] = append(byClass[s.Detection.ClassID], s)
	}

	var result []frame.Segmentation
	for _, group := range byClass {
		sort.Slice(group, func(i, j int) bool { return group[i].Detection.Score > group[j].Detection.Score })
		suppressed := make([]bool, len(group))
		for i := range group {
			if suppressed[i] {
				continue
			}
			result = append(result, group[i])
			for j := i + 1; j < len(group); j++ {
				if suppressed[j] {
					continue
				}
				if iou(group[i].Detection.Box, group[j].Detection.Box) > params.IoU {
					suppressed[j] = true
				}
			}
		}
	}
	return result
}

// nmsPerClass runs greedy non-maximum suppression independently within
// each class id, highest score first.
func nmsPerClass(dets []frame.Detection, iouThresh float64) []frame.Detection {
	byClass := make(map[int][]frame.Detection)
	for _, d := range dets {
		byClass[d.ClassID] = append(byClass[d.ClassID], d)
	}

	var result []frame.Detection
	for _, group := range byClass {
		sort.Slice(group, func(i, j int) bool { return group[i].Score > group[j].Score })
		suppressed := make([]bool, len(group))
		for i := range group {
			if suppressed[i] {
				continue
			}
			result = append(result, group[i])
			for j := i + 1; j < len(group); j++ {
				if suppressed[j] {
					continue
				}
				if iou(group[i].Box, group[j].Box) > iouThresh {
					suppressed[j] = true
				}
			}
		}
	}
	return result
}

func iou(a, b frame.Box) float64 {
	ix1, iy1 := max(a.X1, b.X1), max(a.Y1, b.Y1)
	ix2, iy2 := min(a.X2, b.X2), min(a.Y2, b.Y2)
	iw, ih := ix2-ix1, iy2-iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	areaA := (a.X2 - a.X1) * (a.Y2 - a.Y1)
	areaB := (b.X2 - b.X1) * (b.Y2 - b.Y1)
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
