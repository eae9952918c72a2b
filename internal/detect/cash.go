package detect

import (
	"image"
	"log"
	"math"

	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/config"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/vision"
)

// CashDetector finds cashier-customer hand touches at the counter.
//
// Role assignment is strict: a person is the cashier if and only if their
// center point lies inside the cashier zone. A pair is considered only when
// exactly one of the two is the cashier; two customers or two cashiers
// touching is never a transaction.
//
// When a cash drawer zone is configured the detector runs in two-step mode:
// a hand touch arms a pending transaction and the detection fires only once
// a cashier hand reaches the drawer within the tracking window.
type CashDetector struct {
	cfg     *config.CameraConfig
	enabled bool

	consecutive   int
	lastEmitFrame int64

	// two-step drawer tracking state
	tracking         bool
	pendingTouch     *touchCandidate
	framesSinceTouch int
}

type touchCandidate struct {
	cashier      vision.PoseResult
	customer     vision.PoseResult
	cashierHand  string
	customerHand string
	distance     float64
	minWristConf float64
	midpoint     image.Point
	peopleCount  int
}

// NewCashDetector builds the detector from an immutable camera config.
func NewCashDetector(cfg *config.CameraConfig) *CashDetector {
	return &CashDetector{
		cfg:           cfg,
		enabled:       cfg.DetectCash,
		lastEmitFrame: farPast,
	}
}

func (d *CashDetector) Name() string  { return "cash" }
func (d *CashDetector) Enabled() bool { return d.enabled }

// Process evaluates one frame's poses and returns at most one detection.
func (d *CashDetector) Process(frame *vision.Frame, poses []vision.PoseResult) []Detection {
	if !d.enabled {
		return nil
	}

	if d.cfg.CashDrawerZone != nil {
		return d.processTwoStep(frame, poses)
	}
	return d.processTouch(frame, poses)
}

// processTouch implements the single-step gate: a best touch candidate per
// frame feeding a consecutive-frame counter with a per-type cooldown.
func (d *CashDetector) processTouch(frame *vision.Frame, poses []vision.PoseResult) []Detection {
	best := d.bestTouch(poses)
	if best == nil {
		d.consecutive = 0
		return nil
	}

	d.consecutive++

	distanceScore := 1 - best.distance/float64(d.cfg.HandTouchDistance)
	if d.consecutive < d.cfg.MinTransactionFrames ||
		distanceScore < d.cfg.CashConfidence ||
		frame.Index-d.lastEmitFrame < int64(d.cfg.CashCooldown) {
		return nil
	}

	d.consecutive = 0
	d.lastEmitFrame = frame.Index

	det := d.buildDetection(frame, best, distanceScore, 0)
	log.Printf("[CashDetect-%s] hand touch confirmed: dist=%.0fpx score=%.2f frame=%d",
		d.cfg.CameraID, best.distance, distanceScore, frame.Index)
	return []Detection{det}
}

// processTwoStep implements touch-then-drawer verification.
func (d *CashDetector) processTwoStep(frame *vision.Frame, poses []vision.PoseResult) []Detection {
	if d.tracking {
		d.framesSinceTouch++
		if d.framesSinceTouch > d.cfg.HandTrackingDuration {
			d.resetTracking()
			return nil
		}

		for _, p := range poses {
			if !d.cfg.CashierZone.Contains(p.Center(d.cfg.PoseConfidence)) {
				continue
			}
			for _, side := range []string{"left", "right"} {
				w := p.Wrist(side)
				if w.Conf < d.cfg.PoseConfidence {
					continue
				}
				if !d.cfg.CashDrawerZone.Contains(image.Pt(int(w.X), int(w.Y))) {
					continue
				}

				// Touch followed by a drawer deposit inside the window.
				touch := d.pendingTouch
				distanceScore := math.Max(0, 1-touch.distance/float64(d.cfg.HandTouchDistance))
				timeScore := math.Max(0, 1-float64(d.framesSinceTouch)/float64(d.cfg.HandTrackingDuration))
				confidence := clamp(0.6*distanceScore+0.4*timeScore, 0.5, 1.0)

				framesToDrawer := d.framesSinceTouch
				d.resetTracking()
				d.lastEmitFrame = frame.Index

				det := d.buildDetection(frame, touch, confidence, framesToDrawer)
				log.Printf("[CashDetect-%s] touch -> drawer deposit in %d frames", d.cfg.CameraID, framesToDrawer)
				return []Detection{det}
			}
		}
		return nil
	}

	// Not tracking: honour the cooldown before arming a new touch.
	if frame.Index-d.lastEmitFrame < int64(d.cfg.CashCooldown) {
		return nil
	}
	if best := d.bestTouch(poses); best != nil {
		d.pendingTouch = best
		d.tracking = true
		d.framesSinceTouch = 0
		log.Printf("[CashDetect-%s] hand touch detected (dist=%.0fpx), tracking cashier for %d frames",
			d.cfg.CameraID, best.distance, d.cfg.HandTrackingDuration)
	}
	return nil
}

// bestTouch scans all cashier-customer pairs and hand combinations and
// returns the minimum-distance candidate below the touch threshold, or nil.
// Ties go to the pair with higher minimum wrist confidence, then to the
// leftmost customer center, so recordings are reproducible.
func (d *CashDetector) bestTouch(poses []vision.PoseResult) *touchCandidate {
	kappa := d.cfg.PoseConfidence
	threshold := float64(d.cfg.HandTouchDistance)

	var best *touchCandidate
	for i := 0; i < len(poses); i++ {
		for j := i + 1; j < len(poses); j++ {
			p, q := poses[i], poses[j]
			pIn := d.cfg.CashierZone.Contains(p.Center(kappa))
			qIn := d.cfg.CashierZone.Contains(q.Center(kappa))

			// Exactly one of the pair must be the cashier.
			if pIn == qIn {
				continue
			}

			cashier, customer := p, q
			if qIn {
				cashier, customer = q, p
			}

			for _, cashierSide := range []string{"left", "right"} {
				cw := cashier.Wrist(cashierSide)
				if cw.Conf < kappa {
					continue
				}
				for _, customerSide := range []string{"left", "right"} {
					uw := customer.Wrist(customerSide)
					if uw.Conf < kappa {
						continue
					}

					dist := vision.PairDistance(cw, uw)
					if dist >= threshold {
						continue
					}

					cand := &touchCandidate{
						cashier:      cashier,
						customer:     customer,
						cashierHand:  cashierSide,
						customerHand: customerSide,
						distance:     dist,
						minWristConf: math.Min(cw.Conf, uw.Conf),
						midpoint:     image.Pt(int((cw.X+uw.X)/2), int((cw.Y+uw.Y)/2)),
						peopleCount:  len(poses),
					}
					if better(cand, best, kappa) {
						best = cand
					}
				}
			}
		}
	}
	return best
}

// better implements the deterministic candidate ordering: smallest distance,
// then highest minimum wrist confidence, then leftmost customer center.
func better(cand, best *touchCandidate, kappa float64) bool {
	if best == nil {
		return true
	}
	if cand.distance != best.distance {
		return cand.distance < best.distance
	}
	if cand.minWristConf != best.minWristConf {
		return cand.minWristConf > best.minWristConf
	}
	return cand.customer.Center(kappa).X < best.customer.Center(kappa).X
}

func (d *CashDetector) buildDetection(frame *vision.Frame, touch *touchCandidate, confidence float64, framesToDrawer int) Detection {
	kappa := d.cfg.PoseConfidence

	meta := CashMetadata{
		EventType:            string(TypeCash),
		Cashier:              partyInfo(&touch.cashier, touch.cashierHand, true, kappa),
		Customer:             partyInfo(&touch.customer, touch.customerHand, false, kappa),
		MeasuredHandDistance: touch.distance,
		DistanceThreshold:    d.cfg.HandTouchDistance,
		InteractionPoint:     [2]int{touch.midpoint.X, touch.midpoint.Y},
		PeopleCount:          touch.peopleCount,
		CashDetection: CashParams{
			HandTouchDistanceThreshold: d.cfg.HandTouchDistance,
			CashierZone:                d.cfg.CashierZone,
			PoseConfidence:             kappa,
		},
	}
	if framesToDrawer > 0 {
		meta.FramesToDrawer = framesToDrawer
		meta.DrawerZone = d.cfg.CashDrawerZone
	}

	// Box around the interaction point, clamped to the frame.
	box := image.Rect(touch.midpoint.X-80, touch.midpoint.Y-80,
		touch.midpoint.X+80, touch.midpoint.Y+80)
	box = box.Intersect(image.Rect(0, 0, frame.Width, frame.Height))

	return Detection{
		Type:       TypeCash,
		Confidence: confidence,
		Box:        box,
		FrameIndex: frame.Index,
		Metadata:   meta,
	}
}

func partyInfo(p *vision.PoseResult, handUsed string, inZone bool, kappa float64) PartyInfo {
	center := p.Center(kappa)
	hands := make(map[string][3]float64)
	for _, side := range []string{"left", "right"} {
		w := p.Wrist(side)
		if w.Conf >= kappa {
			hands[side] = [3]float64{w.X, w.Y, w.Conf}
		}
	}
	return PartyInfo{
		Center:   [2]int{center.X, center.Y},
		BBox:     [4]int{p.Box.Min.X, p.Box.Min.Y, p.Box.Max.X, p.Box.Max.Y},
		Hands:    hands,
		InZone:   inZone,
		HandUsed: handUsed,
	}
}

func (d *CashDetector) resetTracking() {
	d.tracking = false
	d.pendingTouch = nil
	d.framesSinceTouch = 0
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
