package sink

import (
	"encoding/json"
	"fmt"
	"os"
)

// SidecarEnvelope carries the event-level fields every sidecar holds in
// addition to the detector metadata. All coordinates are image pixels,
// origin top-left; timestamps are ISO 8601 in local time.
type SidecarEnvelope struct {
	Timestamp         string  `json:"timestamp"`
	EventType         string  `json:"event_type"`
	CameraID          string  `json:"camera_id"`
	CameraName        string  `json:"camera_name"`
	Confidence        float64 `json:"confidence"`
	FrameNumber       int64   `json:"frame_number"`
	BBox              *[4]int `json:"bbox"`
	ClipPath          string  `json:"clip_path"`
	ThumbnailPath     string  `json:"thumbnail_path"`
	TriggerTime       string  `json:"trigger_time"`
	FramesSaved       int     `json:"frames_saved"`
	DurationSec       float64 `json:"duration_sec"`
	TranscodeFallback bool    `json:"transcode_fallback,omitempty"`
}

// writeSidecar merges the envelope over the detector metadata and writes the
// result as indented JSON. Envelope keys win on collision so the event-level
// fields are always authoritative.
func writeSidecar(path string, envelope SidecarEnvelope, metadata any) error {
	merged := map[string]any{}

	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal detector metadata: %w", err)
		}
		if err := json.Unmarshal(raw, &merged); err != nil {
			return fmt.Errorf("failed to flatten detector metadata: %w", err)
		}
	}

	envRaw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal sidecar envelope: %w", err)
	}
	envMap := map[string]any{}
	if err := json.Unmarshal(envRaw, &envMap); err != nil {
		return fmt.Errorf("failed to flatten sidecar envelope: %w", err)
	}
	for k, v := range envMap {
		merged[k] = v
	}

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sidecar: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}
	return nil
}

// ReadSidecar loads a sidecar back as a generic map. Readers must ignore
// keys they do not know.
func ReadSidecar(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sidecar: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse sidecar: %w", err)
	}
	return out, nil
}
