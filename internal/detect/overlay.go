package detect

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/config"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/vision"
)

var (
	colorCashier  = color.RGBA{0, 255, 0, 0}
	colorCustomer = color.RGBA{255, 165, 0, 0}
	colorZone     = color.RGBA{255, 255, 0, 0}
	colorHand     = color.RGBA{255, 0, 255, 0}
	colorValid    = color.RGBA{0, 255, 0, 0}
	colorIgnored  = color.RGBA{128, 128, 128, 0}
	colorTooFar   = color.RGBA{255, 0, 0, 0}

	bannerColors = map[Type]color.RGBA{
		TypeCash:     {0, 255, 0, 0},
		TypeViolence: {255, 0, 0, 0},
		TypeFire:     {255, 165, 0, 0},
	}
)

// Overlay draws the live annotation layer: the cashier zone, person boxes
// colored by role, hand markers, hand-distance lines and event banners.
type Overlay struct {
	cfg *config.CameraConfig
}

// NewOverlay builds the overlay renderer for one camera.
func NewOverlay(cfg *config.CameraConfig) *Overlay {
	return &Overlay{cfg: cfg}
}

// Draw renders the full annotation layer onto mat in place.
func (o *Overlay) Draw(mat *gocv.Mat, poses []vision.PoseResult, detections []Detection) {
	o.DrawZone(mat)
	o.drawPoses(mat, poses)
	o.drawHandLines(mat, poses)
	for _, det := range detections {
		o.drawBanner(mat, det)
	}
}

// DrawZone renders only the cashier zone; used on buffered frames that skip
// detection so the clip still shows the configured region.
func (o *Overlay) DrawZone(mat *gocv.Mat) {
	zone := o.cfg.CashierZone
	if zone.IsPolygon() {
		pts := make([]image.Point, len(zone.Polygon))
		for i, v := range zone.Polygon {
			pts[i] = image.Pt(v.X, v.Y)
		}
		pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
		defer pv.Close()
		gocv.Polylines(mat, pv, true, colorZone, 2)
	} else if zone.Width > 0 && zone.Height > 0 {
		gocv.Rectangle(mat, zone.Bounds(), colorZone, 2)
	}
	if zone.Width > 0 || zone.IsPolygon() {
		origin := zone.Bounds().Min
		gocv.PutText(mat, "CASHIER ZONE", image.Pt(origin.X+5, origin.Y+25),
			gocv.FontHersheySimplex, 0.7, colorZone, 2)
	}

	if o.cfg.CashDrawerZone != nil {
		gocv.Rectangle(mat, o.cfg.CashDrawerZone.Bounds(), colorZone, 1)
	}
}

func (o *Overlay) drawPoses(mat *gocv.Mat, poses []vision.PoseResult) {
	kappa := o.cfg.PoseConfidence
	for i := range poses {
		p := &poses[i]
		center := p.Center(kappa)
		inZone := o.cfg.CashierZone.Contains(center)

		c := colorCustomer
		role := "CUSTOMER"
		if inZone {
			c = colorCashier
			role = "CASHIER"
		}

		gocv.Rectangle(mat, p.Box, c, 2)
		gocv.Circle(mat, center, 12, c, -1)
		gocv.Circle(mat, center, 12, color.RGBA{255, 255, 255, 0}, 2)
		gocv.PutText(mat, role, image.Pt(p.Box.Min.X+3, p.Box.Min.Y-6),
			gocv.FontHersheySimplex, 0.5, c, 2)

		for _, side := range []string{"left", "right"} {
			w := p.Wrist(side)
			if w.Conf >= kappa {
				gocv.Circle(mat, image.Pt(int(w.X), int(w.Y)), 8, colorHand, -1)
			}
		}
	}
}

// drawHandLines connects wrists across people: green for a valid close
// cashier-customer pair, gray for close pairs of the same role, red when
// too far apart.
func (o *Overlay) drawHandLines(mat *gocv.Mat, poses []vision.PoseResult) {
	kappa := o.cfg.PoseConfidence
	threshold := float64(o.cfg.HandTouchDistance)

	for i := 0; i < len(poses); i++ {
		for j := i + 1; j < len(poses); j++ {
			p, q := &poses[i], &poses[j]
			pIn := o.cfg.CashierZone.Contains(p.Center(kappa))
			qIn := o.cfg.CashierZone.Contains(q.Center(kappa))
			validPair := pIn != qIn

			for _, ps := range []string{"left", "right"} {
				pw := p.Wrist(ps)
				if pw.Conf < kappa {
					continue
				}
				for _, qs := range []string{"left", "right"} {
					qw := q.Wrist(qs)
					if qw.Conf < kappa {
						continue
					}

					dist := vision.PairDistance(pw, qw)
					close := dist < threshold

					lineColor := colorTooFar
					label := fmt.Sprintf("%.0fpx", dist)
					switch {
					case close && validPair:
						lineColor = colorValid
					case close && !validPair:
						lineColor = colorIgnored
						label += " (IGNORED)"
					}

					a := image.Pt(int(pw.X), int(pw.Y))
					b := image.Pt(int(qw.X), int(qw.Y))
					gocv.Line(mat, a, b, lineColor, 2)

					mid := image.Pt((a.X+b.X)/2, (a.Y+b.Y)/2)
					gocv.PutText(mat, label, mid, gocv.FontHersheySimplex, 0.5, lineColor, 2)
				}
			}
		}
	}
}

func (o *Overlay) drawBanner(mat *gocv.Mat, det Detection) {
	c, ok := bannerColors[det.Type]
	if !ok {
		c = color.RGBA{255, 255, 255, 0}
	}

	label := fmt.Sprintf("%s DETECTED", upper(string(det.Type)))
	gocv.Rectangle(mat, image.Rect(10, 10, 250, 45), color.RGBA{0, 0, 0, 0}, -1)
	gocv.PutText(mat, label, image.Pt(15, 35), gocv.FontHersheySimplex, 0.7, c, 2)

	if !det.Box.Empty() {
		gocv.Rectangle(mat, det.Box, c, 2)
	}
}

// DrawBanner stamps the event banner used on saved clips and thumbnails.
func DrawBanner(mat *gocv.Mat, eventType Type) {
	c, ok := bannerColors[eventType]
	if !ok {
		c = color.RGBA{255, 255, 255, 0}
	}
	gocv.Rectangle(mat, image.Rect(10, 10, 250, 45), color.RGBA{0, 0, 0, 0}, -1)
	gocv.PutText(mat, upper(string(eventType))+" DETECTED", image.Pt(15, 35),
		gocv.FontHersheySimplex, 0.7, c, 2)
}

func upper(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'a' && b[i] <= 'z' {
			b[i] -= 'a' - 'A'
		}
	}
	return string(b)
}
