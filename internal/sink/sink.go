// Package sink persists a fired detection: clip, thumbnail, JSON sidecar
// and the durable event record, in that order.
package sink

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/config"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/database"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/detect"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/vision"
)

// EventStore is the durable destination for event records. Inserts must
// tolerate concurrent writers from different camera workers.
type EventStore interface {
	RecordEvent(event *database.EventRecord) error
}

// Announcer receives a copy of every recorded event for side channels such
// as MQTT. Announce failures are logged, never fatal.
type Announcer interface {
	AnnounceEvent(event *database.EventRecord) error
}

// Archiver mirrors clip artefacts to remote storage after a successful
// persist. Archive failures are logged, never fatal.
type Archiver interface {
	ArchiveClip(ctx context.Context, event *database.EventRecord) error
}

// Sink writes event artefacts for one process. It is shared across workers;
// all state is per-call.
type Sink struct {
	mediaRoot        string
	fps              float64
	transcodeTimeout time.Duration

	store     EventStore
	announcer Announcer
	archiver  Archiver
}

// Option configures optional sink integrations.
type Option func(*Sink)

// WithAnnouncer attaches an event announcer.
func WithAnnouncer(a Announcer) Option {
	return func(s *Sink) { s.announcer = a }
}

// WithArchiver attaches a clip archiver.
func WithArchiver(a Archiver) Option {
	return func(s *Sink) { s.archiver = a }
}

// New builds a sink rooted at mediaRoot, creating the clips/, thumbnails/
// and json/ directories.
func New(mediaRoot string, fps float64, transcodeTimeout time.Duration, store EventStore, opts ...Option) (*Sink, error) {
	for _, sub := range []string{"clips", "thumbnails", "json"} {
		if err := os.MkdirAll(filepath.Join(mediaRoot, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create media directory %s: %w", sub, err)
		}
	}
	s := &Sink{
		mediaRoot:        mediaRoot,
		fps:              fps,
		transcodeTimeout: transcodeTimeout,
		store:            store,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Persist writes the clip, thumbnail and sidecar for a detection and then
// records the event. The event record is only inserted once the clip file
// exists on disk; on any earlier failure partial artefacts are retained for
// reconciliation and no record is written.
func (s *Sink) Persist(ctx context.Context, cam *config.CameraConfig, det detect.Detection, frames []*vision.Frame) (*database.EventRecord, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("empty buffer snapshot for %s event on %s", det.Type, cam.CameraID)
	}

	now := time.Now()
	stamp := now.Format("20060102_150405")
	base := fmt.Sprintf("%s_%s_%s", det.Type, cam.CameraID, stamp)
	unique := uuid.New().String()[:6]

	tempPath := filepath.Join(s.mediaRoot, "clips", fmt.Sprintf("%s_%s_temp.avi", base, unique))
	clipPath := filepath.Join(s.mediaRoot, "clips", base+".mp4")
	thumbPath := filepath.Join(s.mediaRoot, "thumbnails", base+".jpg")
	jsonPath := filepath.Join(s.mediaRoot, "json", base+".json")

	if err := writeClip(frames, det.Type, tempPath, s.fps); err != nil {
		return nil, fmt.Errorf("clip write failed: %w", err)
	}

	transcodeFallback := false
	tctx, cancel := context.WithTimeout(ctx, s.transcodeTimeout)
	err := transcode(tctx, tempPath, clipPath, s.fps)
	cancel()
	if err != nil {
		// Keep the intermediate container and flag it in the sidecar.
		log.Printf("[Sink] transcode failed for %s, keeping intermediate clip: %v", base, err)
		clipPath = tempPath
		transcodeFallback = true
	} else {
		os.Remove(tempPath)
	}

	if err := writeThumbnail(frames[len(frames)-1], det.Type, thumbPath); err != nil {
		return nil, fmt.Errorf("thumbnail write failed: %w", err)
	}

	envelope := SidecarEnvelope{
		Timestamp:         now.Format(time.RFC3339),
		EventType:         string(det.Type),
		CameraID:          cam.CameraID,
		CameraName:        cam.Name,
		Confidence:        round3(det.Confidence),
		FrameNumber:       det.FrameIndex,
		ClipPath:          clipPath,
		ThumbnailPath:     thumbPath,
		TriggerTime:       now.Format(time.RFC3339),
		FramesSaved:       len(frames),
		DurationSec:       round3(float64(len(frames)) / s.fps),
		TranscodeFallback: transcodeFallback,
	}
	if !det.Box.Empty() {
		envelope.BBox = &[4]int{det.Box.Min.X, det.Box.Min.Y, det.Box.Max.X, det.Box.Max.Y}
	}

	if err := writeSidecar(jsonPath, envelope, det.Metadata); err != nil {
		// The clip and thumbnail stay on disk for reconciliation.
		return nil, fmt.Errorf("sidecar write failed: %w", err)
	}

	// The record is only inserted after the clip file exists.
	if _, err := os.Stat(clipPath); err != nil {
		return nil, fmt.Errorf("clip missing before event insert: %w", err)
	}

	record := &database.EventRecord{
		ID:            uuid.New().String(),
		CameraID:      cam.CameraID,
		EventType:     string(det.Type),
		Status:        "pending",
		Confidence:    det.Confidence,
		FrameNumber:   det.FrameIndex,
		BBoxX1:        det.Box.Min.X,
		BBoxY1:        det.Box.Min.Y,
		BBoxX2:        det.Box.Max.X,
		BBoxY2:        det.Box.Max.Y,
		ClipPath:      clipPath,
		ThumbnailPath: thumbPath,
		JSONPath:      jsonPath,
		CapturedAt:    now,
	}

	if err := s.store.RecordEvent(record); err != nil {
		// Artefacts stay on disk for reconciliation.
		return nil, fmt.Errorf("event insert failed (artefacts retained): %w", err)
	}

	if s.announcer != nil {
		if err := s.announcer.AnnounceEvent(record); err != nil {
			log.Printf("[Sink] event announce failed for %s: %v", record.ID, err)
		}
	}
	if s.archiver != nil {
		if err := s.archiver.ArchiveClip(ctx, record); err != nil {
			log.Printf("[Sink] clip archive failed for %s: %v", record.ID, err)
		}
	}

	log.Printf("[Sink] event saved: %s camera=%s clip=%s", det.Type, cam.CameraID, clipPath)
	return record, nil
}

func round3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}
