package config

import (
	"image"
	"testing"
)

func TestRectZoneContains(t *testing.T) {
	zone := Zone{X: 100, Y: 100, Width: 400, Height: 300}

	cases := []struct {
		name string
		pt   image.Point
		want bool
	}{
		{"inside", image.Pt(300, 200), true},
		{"outside right", image.Pt(501, 200), false},
		{"outside above", image.Pt(300, 99), false},
		{"left edge inclusive", image.Pt(100, 200), true},
		{"right edge inclusive", image.Pt(500, 200), true},
		{"corner inclusive", image.Pt(100, 100), true},
		{"bottom corner inclusive", image.Pt(500, 400), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := zone.Contains(tc.pt); got != tc.want {
				t.Errorf("Contains(%v) = %v, want %v", tc.pt, got, tc.want)
			}
		})
	}
}

func TestPolygonZoneContains(t *testing.T) {
	zone := Zone{Polygon: []Point{{0, 0}, {200, 0}, {200, 200}, {0, 200}}}

	if !zone.IsPolygon() {
		t.Fatal("zone with 4 vertices should report IsPolygon")
	}
	if !zone.Contains(image.Pt(100, 100)) {
		t.Error("interior point should be inside the polygon")
	}
	if zone.Contains(image.Pt(300, 100)) {
		t.Error("exterior point should be outside the polygon")
	}
	if !zone.Contains(image.Pt(0, 100)) {
		t.Error("point on polygon edge should count as inside")
	}
}

func TestPolygonTakesPrecedenceOverRect(t *testing.T) {
	// Rect says inside, polygon says outside; polygon wins.
	zone := Zone{
		X: 0, Y: 0, Width: 1000, Height: 1000,
		Polygon: []Point{{0, 0}, {10, 0}, {10, 10}, {0, 10}},
	}
	if zone.Contains(image.Pt(500, 500)) {
		t.Error("polygon definition should override the rectangle")
	}
}

func TestParseZoneRoundTrip(t *testing.T) {
	zone, err := ParseZone(`{"x":10,"y":20,"width":100,"height":50}`)
	if err != nil {
		t.Fatalf("ParseZone failed: %v", err)
	}
	if zone.X != 10 || zone.Y != 20 || zone.Width != 100 || zone.Height != 50 {
		t.Errorf("unexpected zone %+v", zone)
	}

	if _, err := ParseZone(`{"x":10,"y":20}`); err == nil {
		t.Error("zone without area should be rejected")
	}
	if _, err := ParseZone(`not json`); err == nil {
		t.Error("invalid JSON should be rejected")
	}
}

func TestCameraConfigDefaults(t *testing.T) {
	cam := CameraConfig{CameraID: "CAM-01", RTSPURL: "rtsp://example/stream"}
	cam.ApplyDefaults()

	if cam.HandTouchDistance != 100 {
		t.Errorf("HandTouchDistance default = %d, want 100", cam.HandTouchDistance)
	}
	if cam.MinTransactionFrames != 1 || cam.MinViolenceFrames != 10 || cam.MinFireFrames != 3 {
		t.Errorf("temporal gate defaults wrong: %d/%d/%d",
			cam.MinTransactionFrames, cam.MinViolenceFrames, cam.MinFireFrames)
	}
	if cam.CashCooldown != 60 || cam.ViolenceCooldown != 150 || cam.FireCooldown != 90 {
		t.Errorf("cooldown defaults wrong: %d/%d/%d",
			cam.CashCooldown, cam.ViolenceCooldown, cam.FireCooldown)
	}
	if cam.PoseConfidence != 0.3 {
		t.Errorf("PoseConfidence default = %v, want 0.3", cam.PoseConfidence)
	}
}

func TestCameraConfigValidate(t *testing.T) {
	cam := CameraConfig{CameraID: "CAM-01", RTSPURL: "rtsp://example/stream"}
	cam.ApplyDefaults()
	cam.CashierZone = Zone{X: 0, Y: 0, Width: 640, Height: 480}
	cam.DetectCash = true
	if err := cam.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	noURL := CameraConfig{CameraID: "CAM-02"}
	if err := noURL.Validate(); err == nil {
		t.Error("config without rtsp_url should be rejected")
	}

	noZone := CameraConfig{CameraID: "CAM-03", RTSPURL: "rtsp://x", DetectCash: true}
	if err := noZone.Validate(); err == nil {
		t.Error("cash detection without a zone should be rejected")
	}

	badConf := cam
	badConf.FireConfidence = 1.5
	if err := badConf.Validate(); err == nil {
		t.Error("confidence outside [0,1] should be rejected")
	}
}
