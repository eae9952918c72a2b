package detect

import (
	"image"
	"testing"

	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/config"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/vision"
)

// testCashConfig matches the synthetic seed scenario: zone covering the left
// half of a 1280x720 frame, D=100, M=1, cooldown 45.
func testCashConfig() *config.CameraConfig {
	cam := &config.CameraConfig{
		CameraID:             "CAM-T1",
		RTSPURL:              "rtsp://test/stream",
		DetectCash:           true,
		CashierZone:          config.Zone{X: 0, Y: 0, Width: 640, Height: 720},
		HandTouchDistance:    100,
		PoseConfidence:       0.3,
		MinTransactionFrames: 1,
		CashCooldown:         45,
		CashConfidence:       0.1,
	}
	cam.ApplyDefaults()
	cam.MinTransactionFrames = 1
	cam.CashCooldown = 45
	cam.CashConfidence = 0.1
	return cam
}

// person builds a pose with hips anchoring the center and both wrists at
// the given point.
func person(centerX, centerY int, wristX, wristY, wristConf float64) vision.PoseResult {
	p := vision.PoseResult{
		Box:   image.Rect(centerX-60, centerY-150, centerX+60, centerY+150),
		Score: 0.9,
	}
	p.Keypoints[vision.KeypointLeftHip] = vision.Keypoint{X: float64(centerX - 10), Y: float64(centerY), Conf: 0.9}
	p.Keypoints[vision.KeypointRightHip] = vision.Keypoint{X: float64(centerX + 10), Y: float64(centerY), Conf: 0.9}
	p.Keypoints[vision.KeypointLeftWrist] = vision.Keypoint{X: wristX, Y: wristY, Conf: wristConf}
	p.Keypoints[vision.KeypointRightWrist] = vision.Keypoint{X: wristX, Y: wristY, Conf: wristConf}
	return p
}

func frameAt(index int64) *vision.Frame {
	return &vision.Frame{Index: index, Width: 1280, Height: 720}
}

func TestCashSeedScenario(t *testing.T) {
	// One person inside the zone, one outside, wrists 80px apart.
	d := NewCashDetector(testCashConfig())
	cashier := person(300, 400, 600, 450, 0.9)
	customer := person(800, 400, 680, 455, 0.9)
	poses := []vision.PoseResult{cashier, customer}

	var eventFrames []int64
	for i := int64(0); i < 60; i++ {
		dets := d.Process(frameAt(i), poses)
		for _, det := range dets {
			eventFrames = append(eventFrames, det.FrameIndex)
		}
	}

	if len(eventFrames) != 2 || eventFrames[0] != 0 || eventFrames[1] != 45 {
		t.Fatalf("expected events at frames [0 45], got %v", eventFrames)
	}
}

func TestCashBothInsideZoneNeverFires(t *testing.T) {
	d := NewCashDetector(testCashConfig())
	a := person(300, 400, 400, 450, 0.9)
	b := person(500, 400, 420, 455, 0.9)

	for i := int64(0); i < 60; i++ {
		if dets := d.Process(frameAt(i), []vision.PoseResult{a, b}); len(dets) != 0 {
			t.Fatalf("two people inside the zone fired a cash event at frame %d", i)
		}
	}
}

func TestCashLowWristConfidenceNeverFires(t *testing.T) {
	d := NewCashDetector(testCashConfig())
	cashier := person(300, 400, 600, 450, 0.25)
	customer := person(800, 400, 680, 455, 0.25)

	for i := int64(0); i < 60; i++ {
		if dets := d.Process(frameAt(i), []vision.PoseResult{cashier, customer}); len(dets) != 0 {
			t.Fatalf("wrists below the confidence floor fired at frame %d", i)
		}
	}
}

func TestCashDistanceBoundaryIsStrict(t *testing.T) {
	d := NewCashDetector(testCashConfig())
	// d* == D exactly: wrists 100px apart.
	cashier := person(300, 400, 600, 450, 0.9)
	customer := person(800, 400, 700, 450, 0.9)

	if dets := d.Process(frameAt(0), []vision.PoseResult{cashier, customer}); len(dets) != 0 {
		t.Fatal("distance equal to the threshold must not be a candidate")
	}

	// Below the threshold (with a score clearing the confidence gate)
	// fires.
	customer = person(800, 400, 689, 450, 0.9)
	if dets := d.Process(frameAt(1), []vision.PoseResult{cashier, customer}); len(dets) != 1 {
		t.Fatal("distance below the threshold should fire")
	}
}

func TestCashWristConfidenceBoundaryInclusive(t *testing.T) {
	d := NewCashDetector(testCashConfig())
	// Confidence exactly kappa is accepted.
	cashier := person(300, 400, 600, 450, 0.3)
	customer := person(800, 400, 680, 455, 0.3)

	if dets := d.Process(frameAt(0), []vision.PoseResult{cashier, customer}); len(dets) != 1 {
		t.Fatal("wrist confidence exactly at the floor should be accepted")
	}
}

func TestCashMinFramesGate(t *testing.T) {
	cam := testCashConfig()
	cam.MinTransactionFrames = 5
	d := NewCashDetector(cam)

	cashier := person(300, 400, 600, 450, 0.9)
	customer := person(800, 400, 680, 455, 0.9)
	poses := []vision.PoseResult{cashier, customer}

	for i := int64(0); i < 4; i++ {
		if dets := d.Process(frameAt(i), poses); len(dets) != 0 {
			t.Fatalf("event before the temporal gate at frame %d", i)
		}
	}
	if dets := d.Process(frameAt(4), poses); len(dets) != 1 {
		t.Fatal("expected the event on the fifth consecutive candidate frame")
	}
}

func TestCashGapResetsConsecutiveCounter(t *testing.T) {
	cam := testCashConfig()
	cam.MinTransactionFrames = 3
	d := NewCashDetector(cam)

	cashier := person(300, 400, 600, 450, 0.9)
	customer := person(800, 400, 680, 455, 0.9)
	pair := []vision.PoseResult{cashier, customer}
	solo := []vision.PoseResult{cashier}

	d.Process(frameAt(0), pair)
	d.Process(frameAt(1), pair)
	d.Process(frameAt(2), solo) // gap resets the counter
	d.Process(frameAt(3), pair)
	if dets := d.Process(frameAt(4), pair); len(dets) != 0 {
		t.Fatal("counter should have reset on the candidate gap")
	}
	if dets := d.Process(frameAt(5), pair); len(dets) != 1 {
		t.Fatal("expected the event after three fresh consecutive candidates")
	}
}

func TestCashMetadataContract(t *testing.T) {
	d := NewCashDetector(testCashConfig())
	cashier := person(300, 400, 600, 450, 0.9)
	customer := person(800, 400, 680, 455, 0.9)
	bystander := person(1000, 600, 1100, 650, 0.9)

	dets := d.Process(frameAt(0), []vision.PoseResult{cashier, customer, bystander})
	if len(dets) != 1 {
		t.Fatalf("expected one detection, got %d", len(dets))
	}

	meta, ok := dets[0].Metadata.(CashMetadata)
	if !ok {
		t.Fatalf("metadata has wrong type %T", dets[0].Metadata)
	}
	if meta.EventType != "cash" {
		t.Errorf("event_type = %q", meta.EventType)
	}
	if !meta.Cashier.InZone || meta.Customer.InZone {
		t.Error("exactly one party must be in the zone")
	}
	if meta.MeasuredHandDistance >= float64(meta.DistanceThreshold) {
		t.Errorf("measured distance %.1f must be below threshold %d",
			meta.MeasuredHandDistance, meta.DistanceThreshold)
	}
	if meta.PeopleCount != 3 {
		t.Errorf("people_count = %d, want 3", meta.PeopleCount)
	}
	wantMid := [2]int{640, 452}
	if meta.InteractionPoint != wantMid {
		t.Errorf("interaction_point = %v, want %v", meta.InteractionPoint, wantMid)
	}
	if meta.Cashier.HandUsed != "left" && meta.Cashier.HandUsed != "right" {
		t.Errorf("cashier hand_used = %q", meta.Cashier.HandUsed)
	}
}

func TestCashTieBreakPrefersHigherWristConfidence(t *testing.T) {
	d := NewCashDetector(testCashConfig())
	cashier := person(300, 400, 600, 450, 0.9)

	// Two customers at the same wrist distance; the second has higher
	// wrist confidence and must win.
	weak := person(800, 400, 680, 450, 0.5)
	strong := person(900, 400, 680, 450, 0.8)

	dets := d.Process(frameAt(0), []vision.PoseResult{cashier, weak, strong})
	if len(dets) != 1 {
		t.Fatalf("expected one detection, got %d", len(dets))
	}
	meta := dets[0].Metadata.(CashMetadata)
	if meta.Customer.BBox != [4]int{840, 250, 960, 550} {
		t.Errorf("tie should go to the higher-confidence customer, got bbox %v", meta.Customer.BBox)
	}
}

func TestCashTieBreakFallsBackToLeftmostCenter(t *testing.T) {
	d := NewCashDetector(testCashConfig())
	cashier := person(300, 400, 600, 450, 0.9)

	// Equal distance and equal confidence; the leftmost center wins.
	right := person(900, 400, 680, 450, 0.7)
	left := person(800, 400, 680, 450, 0.7)

	dets := d.Process(frameAt(0), []vision.PoseResult{cashier, right, left})
	if len(dets) != 1 {
		t.Fatalf("expected one detection, got %d", len(dets))
	}
	meta := dets[0].Metadata.(CashMetadata)
	if meta.Customer.Center != [2]int{800, 400} {
		t.Errorf("tie should go to the leftmost customer, got center %v", meta.Customer.Center)
	}
}

func TestCashDisabledDetectorIsSilent(t *testing.T) {
	cam := testCashConfig()
	cam.DetectCash = false
	d := NewCashDetector(cam)

	cashier := person(300, 400, 600, 450, 0.9)
	customer := person(800, 400, 680, 455, 0.9)
	if dets := d.Process(frameAt(0), []vision.PoseResult{cashier, customer}); len(dets) != 0 {
		t.Fatal("disabled detector must not fire")
	}
}

func TestCashTwoStepDrawerVerification(t *testing.T) {
	cam := testCashConfig()
	cam.CashDrawerZone = &config.Zone{X: 0, Y: 600, Width: 200, Height: 120}
	cam.HandTrackingDuration = 30
	d := NewCashDetector(cam)

	cashier := person(300, 400, 600, 450, 0.9)
	customer := person(800, 400, 680, 455, 0.9)

	// Touch arms the pending transaction but does not fire by itself.
	if dets := d.Process(frameAt(0), []vision.PoseResult{cashier, customer}); len(dets) != 0 {
		t.Fatal("two-step mode must not fire on the touch alone")
	}

	// Cashier hand moves away from the customer but not into the drawer.
	idle := person(300, 400, 400, 300, 0.9)
	if dets := d.Process(frameAt(1), []vision.PoseResult{idle}); len(dets) != 0 {
		t.Fatal("no event before the drawer deposit")
	}

	// Cashier hand reaches into the drawer zone.
	deposit := person(300, 400, 100, 650, 0.9)
	dets := d.Process(frameAt(2), []vision.PoseResult{deposit})
	if len(dets) != 1 {
		t.Fatalf("expected the drawer deposit to fire, got %d detections", len(dets))
	}
	meta := dets[0].Metadata.(CashMetadata)
	if meta.FramesToDrawer != 2 {
		t.Errorf("frames_to_drawer = %d, want 2", meta.FramesToDrawer)
	}
	if dets[0].Confidence < 0.5 || dets[0].Confidence > 1.0 {
		t.Errorf("two-step confidence %v outside [0.5, 1.0]", dets[0].Confidence)
	}
}

func TestCashTwoStepTrackingTimeout(t *testing.T) {
	cam := testCashConfig()
	cam.CashDrawerZone = &config.Zone{X: 0, Y: 600, Width: 200, Height: 120}
	cam.HandTrackingDuration = 5
	d := NewCashDetector(cam)

	cashier := person(300, 400, 600, 450, 0.9)
	customer := person(800, 400, 680, 455, 0.9)
	d.Process(frameAt(0), []vision.PoseResult{cashier, customer})

	// Never reach the drawer within the window.
	idle := person(300, 400, 400, 300, 0.9)
	for i := int64(1); i <= 6; i++ {
		if dets := d.Process(frameAt(i), []vision.PoseResult{idle}); len(dets) != 0 {
			t.Fatalf("unexpected event at frame %d", i)
		}
	}

	// After the timeout a drawer reach alone must not fire.
	deposit := person(300, 400, 100, 650, 0.9)
	if dets := d.Process(frameAt(7), []vision.PoseResult{deposit}); len(dets) != 0 {
		t.Fatal("drawer reach after tracking timeout must not fire")
	}
}
