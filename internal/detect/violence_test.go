package detect

import (
	"image"
	"testing"

	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/config"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/vision"
)

// stubMotion feeds a fixed motion magnitude for every person.
type stubMotion struct {
	magnitude float64
}

func (s *stubMotion) update(poses []vision.PoseResult) []float64 {
	out := make([]float64, len(poses))
	for i := range out {
		out[i] = s.magnitude
	}
	return out
}

func testViolenceConfig() *config.CameraConfig {
	cam := &config.CameraConfig{
		CameraID:           "CAM-T2",
		RTSPURL:            "rtsp://test/stream",
		DetectViolence:     true,
		CashierZone:        config.Zone{X: 0, Y: 0, Width: 50, Height: 50},
		ViolenceConfidence: 0.6,
		MinViolenceFrames:  15,
		ViolenceCooldown:   90,
		MotionThreshold:    100,
	}
	cam.ApplyDefaults()
	cam.ViolenceConfidence = 0.6
	cam.MinViolenceFrames = 15
	cam.ViolenceCooldown = 90
	cam.MotionThreshold = 100
	return cam
}

// fighter builds a pose with an overlapping-friendly box and raised arms.
func fighter(box image.Rectangle) vision.PoseResult {
	p := vision.PoseResult{Box: box, Score: 0.9}
	midX := float64(box.Min.X+box.Max.X) / 2
	p.Keypoints[vision.KeypointLeftShoulder] = vision.Keypoint{X: midX - 20, Y: 150, Conf: 0.9}
	p.Keypoints[vision.KeypointRightShoulder] = vision.Keypoint{X: midX + 20, Y: 150, Conf: 0.9}
	p.Keypoints[vision.KeypointLeftWrist] = vision.Keypoint{X: midX - 25, Y: 120, Conf: 0.9}
	p.Keypoints[vision.KeypointRightWrist] = vision.Keypoint{X: midX + 25, Y: 120, Conf: 0.9}
	return p
}

func TestViolenceSeedScenario(t *testing.T) {
	d := NewViolenceDetector(testViolenceConfig())
	d.motion = &stubMotion{magnitude: 150}

	a := fighter(image.Rect(100, 100, 200, 300))
	b := fighter(image.Rect(150, 100, 250, 300))
	poses := []vision.PoseResult{a, b}

	var eventFrames []int64
	for i := int64(0); i < 120; i++ {
		for _, det := range d.Process(frameAt(i), poses) {
			eventFrames = append(eventFrames, det.FrameIndex)
		}
	}

	if len(eventFrames) != 2 || eventFrames[0] != 14 || eventFrames[1] != 104 {
		t.Fatalf("expected events at frames [14 104], got %v", eventFrames)
	}
}

func TestViolenceSinglePersonNeverFires(t *testing.T) {
	d := NewViolenceDetector(testViolenceConfig())
	d.motion = &stubMotion{magnitude: 500}

	solo := fighter(image.Rect(100, 100, 200, 300))
	for i := int64(0); i < 60; i++ {
		if dets := d.Process(frameAt(i), []vision.PoseResult{solo}); len(dets) != 0 {
			t.Fatalf("single-person activity fired at frame %d", i)
		}
	}
}

func TestViolenceBothInCashierZoneIgnored(t *testing.T) {
	cam := testViolenceConfig()
	cam.CashierZone = config.Zone{X: 0, Y: 0, Width: 640, Height: 480}
	d := NewViolenceDetector(cam)
	d.motion = &stubMotion{magnitude: 500}

	a := fighter(image.Rect(100, 100, 200, 300))
	b := fighter(image.Rect(150, 100, 250, 300))
	for i := int64(0); i < 60; i++ {
		if dets := d.Process(frameAt(i), []vision.PoseResult{a, b}); len(dets) != 0 {
			t.Fatalf("pair inside the cashier zone fired at frame %d", i)
		}
	}
}

func TestViolenceLowMotionNeverFires(t *testing.T) {
	d := NewViolenceDetector(testViolenceConfig())
	d.motion = &stubMotion{magnitude: 50} // below the threshold of 100

	a := fighter(image.Rect(100, 100, 200, 300))
	b := fighter(image.Rect(150, 100, 250, 300))
	for i := int64(0); i < 60; i++ {
		if dets := d.Process(frameAt(i), []vision.PoseResult{a, b}); len(dets) != 0 {
			t.Fatalf("low-motion pair fired at frame %d", i)
		}
	}
}

func TestViolenceMetadataContract(t *testing.T) {
	d := NewViolenceDetector(testViolenceConfig())
	d.motion = &stubMotion{magnitude: 150}

	a := fighter(image.Rect(100, 100, 200, 300))
	b := fighter(image.Rect(150, 100, 250, 300))
	poses := []vision.PoseResult{a, b}

	var det *Detection
	for i := int64(0); i < 30 && det == nil; i++ {
		if dets := d.Process(frameAt(i), poses); len(dets) > 0 {
			det = &dets[0]
		}
	}
	if det == nil {
		t.Fatal("no violence event produced")
	}

	meta, ok := det.Metadata.(ViolenceMetadata)
	if !ok {
		t.Fatalf("metadata has wrong type %T", det.Metadata)
	}
	if meta.EventType != "violence" {
		t.Errorf("event_type = %q", meta.EventType)
	}
	if meta.PeopleInvolved != 2 {
		t.Errorf("people_involved = %d, want 2", meta.PeopleInvolved)
	}
	if meta.MotionMagnitude != 150 {
		t.Errorf("motion_magnitude = %v, want 150", meta.MotionMagnitude)
	}
	if !meta.CloseCombatDetected {
		t.Error("overlapping boxes should set close_combat_detected")
	}
	if meta.ViolenceDetection.MinViolenceFrames != 15 {
		t.Errorf("min_violence_frames = %d", meta.ViolenceDetection.MinViolenceFrames)
	}
	want := image.Rect(100, 100, 250, 300)
	if det.Box != want {
		t.Errorf("pair box = %v, want %v", det.Box, want)
	}
}

func TestMotionTrackerKeypointTravel(t *testing.T) {
	tracker := newMotionTracker(5)

	still := fighter(image.Rect(100, 100, 200, 300))
	motions := tracker.update([]vision.PoseResult{still})
	if motions[0] != 0 {
		t.Errorf("first frame motion = %v, want 0", motions[0])
	}

	// Shift every keypoint right by 30px; bbox center moves 30px which is
	// within the matching radius.
	moved := still
	for k := range moved.Keypoints {
		moved.Keypoints[k].X += 30
	}
	moved.Box = still.Box.Add(image.Pt(30, 0))

	motions = tracker.update([]vision.PoseResult{moved})
	// History is [0, 30] averaged.
	if motions[0] != 15 {
		t.Errorf("smoothed motion = %v, want 15", motions[0])
	}
}
