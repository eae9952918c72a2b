package detect

import (
	"image"
	"log"
	"math"

	"gocv.io/x/gocv"

	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/config"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/vision"
)

// Fire color segmentation constants. The two orange ranges catch bright
// flame cores; the skin range is subtracted to keep hands and faces out of
// the mask.
const (
	fireMinArea    = 3000 // px²
	flickerFloor   = 0.4
	flickerWindow  = 10
	smokeMinArea   = 5000 // px²
	smokeConfBoost = 0.1
)

// FireDetector stacks a YOLO fire/smoke model with an HSV color-flicker
// fallback that runs only when the model yields no box at or above the
// confidence threshold.
type FireDetector struct {
	cfg     *config.CameraConfig
	enabled bool
	objects vision.ObjectDetector

	areaHistory  []float64
	prevSmokeY   float64
	haveSmokeRef bool

	consecutive   int
	lastEmitFrame int64
}

// NewFireDetector builds the detector around the fire/smoke object backend.
func NewFireDetector(cfg *config.CameraConfig, objects vision.ObjectDetector) *FireDetector {
	return &FireDetector{
		cfg:           cfg,
		enabled:       cfg.DetectFire,
		objects:       objects,
		lastEmitFrame: farPast,
	}
}

func (d *FireDetector) Name() string  { return "fire" }
func (d *FireDetector) Enabled() bool { return d.enabled }

type fireCandidate struct {
	box        image.Rectangle
	confidence float64
	method     string
	area       int
	smoke      bool
	flicker    float64
}

// Process evaluates one frame and returns at most one detection.
func (d *FireDetector) Process(frame *vision.Frame, _ []vision.PoseResult) []Detection {
	if !d.enabled {
		return nil
	}

	cand := d.yoloCandidate(frame)
	if cand == nil {
		cand = d.colorCandidate(frame)
	}
	if cand == nil {
		d.consecutive = 0
		return nil
	}

	d.consecutive++
	if d.consecutive < d.cfg.MinFireFrames ||
		frame.Index-d.lastEmitFrame < int64(d.cfg.FireCooldown) {
		return nil
	}

	d.consecutive = 0
	d.lastEmitFrame = frame.Index

	log.Printf("[Fire-%s] fire confirmed: method=%s conf=%.2f area=%d frame=%d",
		d.cfg.CameraID, cand.method, cand.confidence, cand.area, frame.Index)

	return []Detection{{
		Type:       TypeFire,
		Confidence: cand.confidence,
		Box:        cand.box,
		FrameIndex: frame.Index,
		Metadata: FireMetadata{
			EventType: string(TypeFire),
			FireDetection: FireParams{
				MinFireFrames:   d.cfg.MinFireFrames,
				FireConfidence:  d.cfg.FireConfidence,
				DetectionMethod: cand.method,
			},
			FireArea:        cand.area,
			SmokeDetected:   cand.smoke,
			FlickeringScore: cand.flicker,
		},
	}}
}

// yoloCandidate takes the best fire/smoke box at or above the threshold.
func (d *FireDetector) yoloCandidate(frame *vision.Frame) *fireCandidate {
	if d.objects == nil {
		return nil
	}
	boxes, err := d.objects.DetectObjects(frame)
	if err != nil {
		log.Printf("[Fire-%s] object inference error: %v", d.cfg.CameraID, err)
		return nil
	}

	var best *fireCandidate
	smokeSeen := false
	for _, b := range boxes {
		if b.Label == "smoke" && b.Confidence >= d.cfg.FireConfidence {
			smokeSeen = true
		}
		if b.Label != "fire" && b.Label != "smoke" {
			continue
		}
		if b.Confidence < d.cfg.FireConfidence {
			continue
		}
		if best == nil || b.Confidence > best.confidence {
			best = &fireCandidate{
				box:        b.Box,
				confidence: b.Confidence,
				method:     "yolo",
				area:       b.Box.Dx() * b.Box.Dy(),
			}
		}
	}
	if best != nil {
		best.smoke = smokeSeen
	}
	return best
}

// colorCandidate is the HSV+flicker fallback: bright orange mask minus skin
// tones, gated on region area and on the temporal variance of the masked
// area over the last ten frames.
func (d *FireDetector) colorCandidate(frame *vision.Frame) *fireCandidate {
	if frame.Mat.Empty() {
		return nil
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(frame.Mat, &hsv, gocv.ColorBGRToHSV)

	mask1 := gocv.NewMat()
	defer mask1.Close()
	gocv.InRangeWithScalar(hsv, gocv.NewScalar(5, 150, 200, 0), gocv.NewScalar(25, 255, 255, 0), &mask1)

	mask2 := gocv.NewMat()
	defer mask2.Close()
	gocv.InRangeWithScalar(hsv, gocv.NewScalar(0, 200, 220, 0), gocv.NewScalar(5, 255, 255, 0), &mask2)

	fireMask := gocv.NewMat()
	defer fireMask.Close()
	gocv.BitwiseOr(mask1, mask2, &fireMask)

	skinMask := gocv.NewMat()
	defer skinMask.Close()
	gocv.InRangeWithScalar(hsv, gocv.NewScalar(0, 20, 70, 0), gocv.NewScalar(25, 170, 200, 0), &skinMask)

	notSkin := gocv.NewMat()
	defer notSkin.Close()
	gocv.BitwiseNot(skinMask, &notSkin)
	gocv.BitwiseAnd(fireMask, notSkin, &fireMask)

	area, box := largestRegion(fireMask)
	flicker := d.pushArea(float64(area))

	if area < fireMinArea || flicker < flickerFloor {
		return nil
	}

	cand := &fireCandidate{
		box:        box,
		confidence: clamp(flicker, 0, 1),
		method:     "color_based",
		area:       area,
		flicker:    flicker,
	}

	// Smoke is auxiliary: a rising gray/white mass raises confidence but
	// can never promote a candidate on its own.
	if rising, ok := d.smokeRising(hsv); ok && rising {
		cand.smoke = true
		cand.confidence = clamp(cand.confidence+smokeConfBoost, 0, 1)
	}
	return cand
}

// largestRegion returns the area and bounding box of the biggest connected
// component in a binary mask.
func largestRegion(mask gocv.Mat) (int, image.Rectangle) {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	bestArea := 0.0
	var bestBox image.Rectangle
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		area := gocv.ContourArea(c)
		if area > bestArea {
			bestArea = area
			bestBox = gocv.BoundingRect(c)
		}
	}
	return int(bestArea), bestBox
}

// pushArea records the masked area and returns the current flicker score.
func (d *FireDetector) pushArea(area float64) float64 {
	d.areaHistory = append(d.areaHistory, area)
	if len(d.areaHistory) > flickerWindow {
		d.areaHistory = d.areaHistory[len(d.areaHistory)-flickerWindow:]
	}
	return flickerScore(d.areaHistory)
}

// flickerScore normalizes the temporal variation of the masked area to
// [0,1] using the coefficient of variation. Real flames pulse; a static
// orange surface scores near zero.
func flickerScore(areas []float64) float64 {
	if len(areas) < 3 {
		return 0
	}
	mean := 0.0
	for _, a := range areas {
		mean += a
	}
	mean /= float64(len(areas))
	if mean <= 0 {
		return 0
	}

	variance := 0.0
	for _, a := range areas {
		variance += (a - mean) * (a - mean)
	}
	variance /= float64(len(areas))

	return math.Min(1, math.Sqrt(variance)/mean)
}

// smokeRising checks the gray/white low-saturation mask for upward motion
// of its centroid between frames.
func (d *FireDetector) smokeRising(hsv gocv.Mat) (bool, bool) {
	smokeMask := gocv.NewMat()
	defer smokeMask.Close()
	gocv.InRangeWithScalar(hsv, gocv.NewScalar(0, 0, 180, 0), gocv.NewScalar(180, 40, 255, 0), &smokeMask)

	if gocv.CountNonZero(smokeMask) < smokeMinArea {
		d.haveSmokeRef = false
		return false, false
	}

	m := gocv.Moments(smokeMask, true)
	if m["m00"] == 0 {
		d.haveSmokeRef = false
		return false, false
	}
	centroidY := m["m01"] / m["m00"]

	rising := d.haveSmokeRef && centroidY < d.prevSmokeY
	d.prevSmokeY = centroidY
	d.haveSmokeRef = true
	return rising, true
}
