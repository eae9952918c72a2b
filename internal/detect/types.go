// Package detect implements the cash, violence and fire detectors and the
// unified per-frame fan-out that drives them.
package detect

import (
	"image"

	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/config"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/vision"
)

// Type tags a detection with its event kind.
type Type string

const (
	TypeCash     Type = "cash"
	TypeViolence Type = "violence"
	TypeFire     Type = "fire"
)

// Detection is a pre-event finding that has passed both the geometric tests
// and the detector's temporal gate.
type Detection struct {
	Type       Type
	Confidence float64
	Box        image.Rectangle
	FrameIndex int64
	Metadata   any // one of CashMetadata, ViolenceMetadata, FireMetadata
}

// Detector is the uniform capability every detection backend implements.
// The unified detector holds a small ordered sequence of these.
type Detector interface {
	Name() string
	Enabled() bool
	Process(frame *vision.Frame, poses []vision.PoseResult) []Detection
}

// PartyInfo describes one side of a cash hand-over in the sidecar contract.
type PartyInfo struct {
	Center   [2]int                `json:"center"`
	BBox     [4]int                `json:"bbox"`
	Hands    map[string][3]float64 `json:"hands"`
	InZone   bool                  `json:"in_zone"`
	HandUsed string                `json:"hand_used"`
}

// CashParams echoes the detector configuration into the sidecar.
type CashParams struct {
	HandTouchDistanceThreshold int         `json:"hand_touch_distance_threshold"`
	CashierZone                config.Zone `json:"cashier_zone"`
	PoseConfidence             float64     `json:"pose_confidence"`
}

// CashMetadata is the field contract consumed by the event sink for cash
// detections.
type CashMetadata struct {
	EventType            string     `json:"event_type"`
	Cashier              PartyInfo  `json:"cashier"`
	Customer             PartyInfo  `json:"customer"`
	MeasuredHandDistance float64    `json:"measured_hand_distance"`
	DistanceThreshold    int        `json:"distance_threshold"`
	InteractionPoint     [2]int     `json:"interaction_point"`
	PeopleCount          int        `json:"people_count"`
	CashDetection        CashParams `json:"cash_detection"`

	// Present only when drawer-deposit verification is configured.
	FramesToDrawer int          `json:"frames_to_drawer,omitempty"`
	DrawerZone     *config.Zone `json:"cash_drawer_zone,omitempty"`
}

// ViolenceParams echoes the detector configuration into the sidecar.
type ViolenceParams struct {
	MinViolenceFrames  int     `json:"min_violence_frames"`
	ViolenceConfidence float64 `json:"violence_confidence"`
	MotionThreshold    float64 `json:"motion_threshold"`
}

// ViolenceMetadata is the sidecar field contract for violence detections.
type ViolenceMetadata struct {
	EventType           string         `json:"event_type"`
	PeopleInvolved      int            `json:"people_involved"`
	MotionMagnitude     float64        `json:"motion_magnitude"`
	CloseCombatDetected bool           `json:"close_combat_detected"`
	ViolenceDetection   ViolenceParams `json:"violence_detection"`
}

// FireParams echoes the detector configuration into the sidecar.
type FireParams struct {
	MinFireFrames   int     `json:"min_fire_frames"`
	FireConfidence  float64 `json:"fire_confidence"`
	DetectionMethod string  `json:"detection_method"` // "yolo" or "color_based"
}

// FireMetadata is the sidecar field contract for fire detections.
type FireMetadata struct {
	EventType       string     `json:"event_type"`
	FireDetection   FireParams `json:"fire_detection"`
	FireArea        int        `json:"fire_area"`
	SmokeDetected   bool       `json:"smoke_detected"`
	FlickeringScore float64    `json:"flickering_score"`
}

// farPast initialises cooldown anchors so the first candidate is never
// suppressed by a cooldown that has not been armed yet.
const farPast = int64(-1) << 40

func overlapRatio(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	areaA := a.Dx() * a.Dy()
	areaB := b.Dx() * b.Dy()
	minArea := min(areaA, areaB)
	if minArea <= 0 {
		return 0
	}
	return float64(inter.Dx()*inter.Dy()) / float64(minArea)
}

func unionRect(a, b image.Rectangle) image.Rectangle {
	return a.Union(b)
}
