package detect

import (
	"errors"
	"fmt"
	"log"

	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/config"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/vision"
)

// ErrInferenceStorm is returned when model calls keep failing; the worker
// treats it as fatal.
var ErrInferenceStorm = errors.New("too many consecutive inference failures")

const maxConsecutiveInferenceErrors = 10

// Unified fans a frame out to the enabled detectors in fixed order
// (cash, violence, fire) and renders the annotation overlay. Detectors are
// independent; several types may fire on the same frame.
type Unified struct {
	cfg       *config.CameraConfig
	pose      vision.PoseEstimator
	detectors []Detector
	overlay   *Overlay

	needsPoses        bool
	consecutiveErrors int
}

// FrameResult is what one detection pass produced.
type FrameResult struct {
	Detections []Detection
	Poses      []vision.PoseResult

	// InferenceSkipped marks a frame dropped by a transient model failure.
	InferenceSkipped bool
}

// NewUnified wires the detector sequence for one camera. New detectors are
// added by extending the sequence here.
func NewUnified(cfg *config.CameraConfig, pose vision.PoseEstimator, objects vision.ObjectDetector) *Unified {
	detectors := []Detector{
		NewCashDetector(cfg),
		NewViolenceDetector(cfg),
		NewFireDetector(cfg, objects),
	}
	return &Unified{
		cfg:        cfg,
		pose:       pose,
		detectors:  detectors,
		overlay:    NewOverlay(cfg),
		needsPoses: cfg.DetectCash || cfg.DetectViolence,
	}
}

// Detectors returns the ordered detector sequence.
func (u *Unified) Detectors() []Detector {
	return u.detectors
}

// ProcessFrame runs pose inference once, feeds every enabled detector in
// order, and draws the overlay onto annotated in place. A single failed
// inference skips the frame; a run of failures escalates to
// ErrInferenceStorm.
func (u *Unified) ProcessFrame(frame *vision.Frame, annotated *vision.Frame) (*FrameResult, error) {
	var poses []vision.PoseResult
	if u.needsPoses && u.pose != nil {
		var err error
		poses, err = u.pose.EstimatePoses(frame)
		if err != nil {
			u.consecutiveErrors++
			if u.consecutiveErrors >= maxConsecutiveInferenceErrors {
				return nil, fmt.Errorf("%w: last error: %v", ErrInferenceStorm, err)
			}
			log.Printf("[Detect-%s] pose inference failed, skipping frame %d: %v",
				u.cfg.CameraID, frame.Index, err)
			return &FrameResult{InferenceSkipped: true}, nil
		}
	}
	u.consecutiveErrors = 0

	var detections []Detection
	for _, det := range u.detectors {
		if !det.Enabled() {
			continue
		}
		detections = append(detections, det.Process(frame, poses)...)
	}

	if annotated != nil && !annotated.Mat.Empty() {
		u.overlay.Draw(&annotated.Mat, poses, detections)
	}

	return &FrameResult{Detections: detections, Poses: poses}, nil
}

// AnnotateStatic draws the cheap overlay (zone only) on frames that skip
// detection so buffered clips stay consistent.
func (u *Unified) AnnotateStatic(annotated *vision.Frame) {
	if annotated != nil && !annotated.Mat.Empty() {
		u.overlay.DrawZone(&annotated.Mat)
	}
}
