package detect

import (
	"image"
	"log"
	"math"

	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/config"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/vision"
)

// ViolenceDetector finds close-combat altercations between two people.
//
// Single-person activity is never violence, and pairs whose centers are both
// inside the cashier zone are ignored as normal transaction motion.
type ViolenceDetector struct {
	cfg     *config.CameraConfig
	enabled bool

	motion motionEstimator

	consecutive   int
	lastEmitFrame int64
}

// motionEstimator yields a per-person motion magnitude for each frame,
// aligned by index with the poses passed in.
type motionEstimator interface {
	update(poses []vision.PoseResult) []float64
}

// NewViolenceDetector builds the detector from an immutable camera config.
func NewViolenceDetector(cfg *config.CameraConfig) *ViolenceDetector {
	return &ViolenceDetector{
		cfg:           cfg,
		enabled:       cfg.DetectViolence,
		motion:        newMotionTracker(5),
		lastEmitFrame: farPast,
	}
}

func (d *ViolenceDetector) Name() string  { return "violence" }
func (d *ViolenceDetector) Enabled() bool { return d.enabled }

type altercation struct {
	pairBox image.Rectangle
	overlap float64
	motion  float64
	score   float64
	contact bool
}

// Process evaluates one frame's poses and returns at most one detection.
func (d *ViolenceDetector) Process(frame *vision.Frame, poses []vision.PoseResult) []Detection {
	if !d.enabled {
		return nil
	}

	motions := d.motion.update(poses)

	best := d.bestAltercation(poses, motions)
	if best == nil {
		d.consecutive = 0
		return nil
	}

	d.consecutive++
	if d.consecutive < d.cfg.MinViolenceFrames ||
		frame.Index-d.lastEmitFrame < int64(d.cfg.ViolenceCooldown) {
		return nil
	}

	d.consecutive = 0
	d.lastEmitFrame = frame.Index

	log.Printf("[Violence-%s] altercation confirmed: score=%.2f motion=%.0f frame=%d",
		d.cfg.CameraID, best.score, best.motion, frame.Index)

	return []Detection{{
		Type:       TypeViolence,
		Confidence: best.score,
		Box:        best.pairBox,
		FrameIndex: frame.Index,
		Metadata: ViolenceMetadata{
			EventType:           string(TypeViolence),
			PeopleInvolved:      2,
			MotionMagnitude:     best.motion,
			CloseCombatDetected: best.contact,
			ViolenceDetection: ViolenceParams{
				MinViolenceFrames:  d.cfg.MinViolenceFrames,
				ViolenceConfidence: d.cfg.ViolenceConfidence,
				MotionThreshold:    d.cfg.MotionThreshold,
			},
		},
	}}
}

// bestAltercation scans all pairs and returns the highest-scoring candidate
// that clears both the aggression score and motion thresholds.
func (d *ViolenceDetector) bestAltercation(poses []vision.PoseResult, motions []float64) *altercation {
	if len(poses) < 2 {
		return nil
	}
	kappa := d.cfg.PoseConfidence

	var best *altercation
	for i := 0; i < len(poses); i++ {
		for j := i + 1; j < len(poses); j++ {
			p, q := poses[i], poses[j]

			// Both at the counter means a transaction, not a fight.
			if d.cfg.CashierZone.Contains(p.Center(kappa)) &&
				d.cfg.CashierZone.Contains(q.Center(kappa)) {
				continue
			}

			overlap := overlapRatio(p.Box, q.Box)
			contact := overlap > 0
			if !contact && !withinProximity(p, q, kappa) {
				continue
			}

			// Both parties must be moving; a fight involves both sides.
			pairMotion := math.Min(motions[i], motions[j])
			if pairMotion < d.cfg.MotionThreshold {
				continue
			}

			score := d.aggressionScore(p, q, overlap, (motions[i]+motions[j])/2)
			if score < d.cfg.ViolenceConfidence {
				continue
			}

			cand := &altercation{
				pairBox: unionRect(p.Box, q.Box),
				overlap: overlap,
				motion:  (motions[i] + motions[j]) / 2,
				score:   score,
				contact: contact,
			}
			if best == nil || cand.score > best.score {
				best = cand
			}
		}
	}
	return best
}

// aggressionScore blends raised arms, inter-frame motion and bbox overlap.
func (d *ViolenceDetector) aggressionScore(p, q vision.PoseResult, overlap, avgMotion float64) float64 {
	motionScore := math.Min(1, avgMotion/(2*d.cfg.MotionThreshold))
	overlapScore := math.Min(1, overlap*2)

	arms := 0.0
	if armRaised(&p) {
		arms += 0.5
	}
	if armRaised(&q) {
		arms += 0.5
	}

	return 0.4*motionScore + 0.3*overlapScore + 0.3*arms
}

// armRaised reports whether either wrist sits above its shoulder.
func armRaised(p *vision.PoseResult) bool {
	pairs := [][2]int{
		{vision.KeypointLeftWrist, vision.KeypointLeftShoulder},
		{vision.KeypointRightWrist, vision.KeypointRightShoulder},
	}
	for _, pr := range pairs {
		wrist := p.Keypoints[pr[0]]
		shoulder := p.Keypoints[pr[1]]
		if wrist.Conf >= 0.3 && shoulder.Conf >= 0.3 && wrist.Y < shoulder.Y {
			return true
		}
	}
	return false
}

// withinProximity checks center distance against a bound derived from the
// average bbox diagonal.
func withinProximity(p, q vision.PoseResult, kappa float64) bool {
	pc := p.Center(kappa)
	qc := q.Center(kappa)
	dist := math.Hypot(float64(pc.X-qc.X), float64(pc.Y-qc.Y))

	diagP := math.Hypot(float64(p.Box.Dx()), float64(p.Box.Dy()))
	diagQ := math.Hypot(float64(q.Box.Dx()), float64(q.Box.Dy()))
	return dist < 0.75*(diagP+diagQ)/2
}

// motionTracker derives per-person motion magnitude from keypoint travel
// between frames, smoothed over a short history. People are matched to the
// previous frame by nearest center.
type motionTracker struct {
	window    int
	prevPoses []vision.PoseResult
	histories [][]float64
}

func newMotionTracker(window int) *motionTracker {
	return &motionTracker{window: window}
}

// update consumes this frame's poses and returns the smoothed motion
// magnitude for each, aligned by index with the input.
func (t *motionTracker) update(poses []vision.PoseResult) []float64 {
	motions := make([]float64, len(poses))
	histories := make([][]float64, len(poses))

	for i := range poses {
		raw := 0.0
		var hist []float64
		if prev := t.matchPrevious(&poses[i]); prev >= 0 {
			raw = keypointTravel(&poses[i], &t.prevPoses[prev])
			hist = t.histories[prev]
		}
		hist = append(hist, raw)
		if len(hist) > t.window {
			hist = hist[len(hist)-t.window:]
		}
		histories[i] = hist

		sum := 0.0
		for _, v := range hist {
			sum += v
		}
		motions[i] = sum / float64(len(hist))
	}

	t.prevPoses = poses
	t.histories = histories
	return motions
}

// matchPrevious finds the previous-frame pose nearest to p's bbox center,
// within half the bbox diagonal. Returns -1 when nothing matches.
func (t *motionTracker) matchPrevious(p *vision.PoseResult) int {
	center := image.Pt((p.Box.Min.X+p.Box.Max.X)/2, (p.Box.Min.Y+p.Box.Max.Y)/2)
	limit := math.Hypot(float64(p.Box.Dx()), float64(p.Box.Dy())) / 2

	bestIdx := -1
	bestDist := limit
	for i := range t.prevPoses {
		pb := t.prevPoses[i].Box
		pc := image.Pt((pb.Min.X+pb.Max.X)/2, (pb.Min.Y+pb.Max.Y)/2)
		dist := math.Hypot(float64(center.X-pc.X), float64(center.Y-pc.Y))
		if dist <= bestDist {
			bestDist = dist
			bestIdx = i
		}
	}
	return bestIdx
}

// keypointTravel averages the displacement of keypoints visible in both
// frames.
func keypointTravel(curr, prev *vision.PoseResult) float64 {
	total := 0.0
	valid := 0
	for k := 0; k < vision.NumKeypoints; k++ {
		c, p := curr.Keypoints[k], prev.Keypoints[k]
		if c.Conf > 0.3 && p.Conf > 0.3 {
			total += math.Hypot(c.X-p.X, c.Y-p.Y)
			valid++
		}
	}
	if valid == 0 {
		return 0
	}
	return total / float64(valid)
}
