package analyzer

import (
	"testing"

	"github.com/ethan/visionrelay/pkg/frame"
)

func box(x1, y1, x2, y2 float64) frame.Box {
	return frame.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func TestNormalizeDropsBelowConfidence(t *testing.T) {
	out := frame.ModelOutput{
		Task: frame.TaskDetect,
		Detections: []frame.Detection{
			{Box: box(0, 0, 10, 10), Score: 0.1, ClassID: 1},
			{Box: box(20, 20, 30, 30), Score: 0.9, ClassID: 1},
		},
	}
	result := normalize(out, Params{Confidence: 0.5, IoU: 0.45})
	if len(result.Detections) != 1 || result.Detections[0].Score != 0.9 {
		t.Fatalf("normalize kept %v, want only the 0.9-score detection", result.Detections)
	}
}

func TestNormalizeClipsScoreAboveOne(t *testing.T) {
	out := frame.ModelOutput{
		Task:       frame.TaskDetect,
		Detections: []frame.Detection{{Box: box(0, 0, 10, 10), Score: 1.5, ClassID: 1}},
	}
	result := normalize(out, Params{Confidence: 0, IoU: 0.5})
	if len(result.Detections) != 1 || result.Detections[0].Score != 1.0 {
		t.Fatalf("expected clipped score 1.0, got %v", result.Detections)
	}
}

func TestNormalizeSuppressesOverlapWithinClass(t *testing.T) {
	out := frame.ModelOutput{
		Task: frame.TaskDetect,
		Detections: []frame.Detection{
			{Box: box(0, 0, 10, 10), Score: 0.9, ClassID: 1},
			{Box: box(1, 1, 11, 11), Score: 0.8, ClassID: 1}, // heavy overlap, same class
			{Box: box(100, 100, 110, 110), Score: 0.7, ClassID: 1}, // no overlap
		},
	}
	result := normalize(out, Params{Confidence: 0.5, IoU: 0.3})
	if len(result.Detections) != 2 {
		t.Fatalf("expected NMS to suppress the overlapping lower-score box, got %d detections", len(result.Detections))
	}
}

func TestNormalizeKeepsOverlapAcrossClasses(t *testing.T) {
	out := frame.ModelOutput{
		Task: frame.TaskDetect,
		Detections: []frame.Detection{
			{Box: box(0, 0, 10, 10), Score: 0.9, ClassID: 1},
			{Box: box(1, 1, 11, 11), Score: 0.8, ClassID: 2},
		},
	}
	result := normalize(out, Params{Confidence: 0.5, IoU: 0.3})
	if len(result.Detections) != 2 {
		t.Fatalf("NMS must not suppress across different class ids, got %d detections", len(result.Detections))
	}
}

func TestNormalizeAppliesClassWhitelist(t *testing.T) {
	out := frame.ModelOutput{
		Task: frame.TaskDetect,
		Detections: []frame.Detection{
			{Box: box(0, 0, 10, 10), Score: 0.9, ClassID: 1},
			{Box: box(20, 20, 30, 30), Score: 0.9, ClassID: 2},
		},
	}
	result := normalize(out, Params{Confidence: 0.5, IoU: 0.45, ClassWhitelist: map[int]struct{}{2: {}}})
	if len(result.Detections) != 1 || result.Detections[0].ClassID != 2 {
		t.Fatalf("expected only class 2 to survive whitelist filter, got %v", result.Detections)
	}
}

func TestNormalizePassesThroughPoseUntouched(t *testing.T) {
	out := frame.ModelOutput{
		Task:  frame.TaskPose,
		Poses: []frame.Pose{{Score: 0.9, Keypoints: []frame.Keypoint{{X: 1, Y: 2, Score: 0.5}}}},
	}
	result := normalize(out, Params{Confidence: 0.9, IoU: 0.1})
	if len(result.Poses) != 1 {
		t.Fatalf("pose records must pass through normalize untouched, got %v", result.Poses)
	}
}

func TestIoUNonOverlapping(t *testing.T) {
	if v := iou(box(0, 0, 1, 1), box(5, 5, 6, 6)); v != 0 {
		t.Errorf("iou of disjoint boxes = %v, want 0", v)
	}
}

func TestIoUIdenticalBoxes(t *testing.T) {
	b := box(0, 0, 10, 10)
	if v := iou(b, b); v != 1 {
		t.Errorf("iou of identical boxes = %v, want 1", v)
	}
}
