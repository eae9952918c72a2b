package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/config"
)

// Database handles SQLite database operations
type Database struct {
	db *sql.DB
}

// EventRecord represents a detection event stored in the database
type EventRecord struct {
	ID            string
	CameraID      string
	EventType     string
	Status        string
	Confidence    float64
	FrameNumber   int64
	BBoxX1        int
	BBoxY1        int
	BBoxX2        int
	BBoxY2        int
	ClipPath      string
	ThumbnailPath string
	JSONPath      string
	CapturedAt    time.Time
	CreatedAt     time.Time
}

// BBox returns the bounding box as [x1, y1, x2, y2].
func (e *EventRecord) BBox() [4]int {
	return [4]int{e.BBoxX1, e.BBoxY1, e.BBoxX2, e.BBoxY2}
}

// WorkerStateRecord tracks worker liveness across supervisor ticks
type WorkerStateRecord struct {
	CameraID        int64
	CameraCode      string
	Running         bool
	Status          string
	FramesProcessed int64
	EventsDetected  int64
	LastError       string
	StartTime       *time.Time
	LastHeartbeat   time.Time
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode so workers can insert events while readers scan
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS cameras (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			camera_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			rtsp_url TEXT NOT NULL,
			detect_cash INTEGER DEFAULT 1,
			detect_violence INTEGER DEFAULT 1,
			detect_fire INTEGER DEFAULT 1,
			cash_confidence REAL DEFAULT 0.5,
			violence_confidence REAL DEFAULT 0.6,
			fire_confidence REAL DEFAULT 0.5,
			pose_confidence REAL DEFAULT 0.3,
			hand_touch_distance INTEGER DEFAULT 100,
			cashier_zone TEXT DEFAULT '{}',
			cash_drawer_zone TEXT,
			min_transaction_frames INTEGER DEFAULT 1,
			min_violence_frames INTEGER DEFAULT 10,
			min_fire_frames INTEGER DEFAULT 3,
			cash_cooldown INTEGER DEFAULT 60,
			violence_cooldown INTEGER DEFAULT 150,
			fire_cooldown INTEGER DEFAULT 90,
			motion_threshold REAL DEFAULT 150,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			camera_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			status TEXT DEFAULT 'pending',
			confidence REAL DEFAULT 0,
			frame_number INTEGER DEFAULT 0,
			bbox_x1 INTEGER DEFAULT 0,
			bbox_y1 INTEGER DEFAULT 0,
			bbox_x2 INTEGER DEFAULT 0,
			bbox_y2 INTEGER DEFAULT 0,
			clip_path TEXT NOT NULL,
			thumbnail_path TEXT NOT NULL,
			json_path TEXT,
			captured_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS worker_states (
			camera_id INTEGER PRIMARY KEY,
			camera_code TEXT NOT NULL,
			running INTEGER DEFAULT 0,
			status TEXT DEFAULT 'stopped',
			frames_processed INTEGER DEFAULT 0,
			events_detected INTEGER DEFAULT 0,
			last_error TEXT,
			start_time DATETIME,
			last_heartbeat DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_camera_time ON events(camera_id, captured_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_events_time ON events(captured_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveCamera inserts or updates a camera configuration
func (d *Database) SaveCamera(cam *config.CameraConfig) error {
	zoneJSON, err := json.Marshal(cam.CashierZone)
	if err != nil {
		return fmt.Errorf("failed to marshal cashier zone: %w", err)
	}
	var drawerJSON sql.NullString
	if cam.CashDrawerZone != nil {
		raw, err := json.Marshal(cam.CashDrawerZone)
		if err != nil {
			return fmt.Errorf("failed to marshal drawer zone: %w", err)
		}
		drawerJSON = sql.NullString{String: string(raw), Valid: true}
	}

	query := `INSERT INTO cameras
		(camera_id, name, rtsp_url, detect_cash, detect_violence, detect_fire,
		 cash_confidence, violence_confidence, fire_confidence, pose_confidence,
		 hand_touch_distance, cashier_zone, cash_drawer_zone,
		 min_transaction_frames, min_violence_frames, min_fire_frames,
		 cash_cooldown, violence_cooldown, fire_cooldown, motion_threshold)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(camera_id) DO UPDATE SET
			name = excluded.name,
			rtsp_url = excluded.rtsp_url,
			detect_cash = excluded.detect_cash,
			detect_violence = excluded.detect_violence,
			detect_fire = excluded.detect_fire,
			cash_confidence = excluded.cash_confidence,
			violence_confidence = excluded.violence_confidence,
			fire_confidence = excluded.fire_confidence,
			pose_confidence = excluded.pose_confidence,
			hand_touch_distance = excluded.hand_touch_distance,
			cashier_zone = excluded.cashier_zone,
			cash_drawer_zone = excluded.cash_drawer_zone,
			min_transaction_frames = excluded.min_transaction_frames,
			min_violence_frames = excluded.min_violence_frames,
			min_fire_frames = excluded.min_fire_frames,
			cash_cooldown = excluded.cash_cooldown,
			violence_cooldown = excluded.violence_cooldown,
			fire_cooldown = excluded.fire_cooldown,
			motion_threshold = excluded.motion_threshold`

	_, err = d.db.Exec(query,
		cam.CameraID, cam.Name, cam.RTSPURL,
		boolToInt(cam.DetectCash), boolToInt(cam.DetectViolence), boolToInt(cam.DetectFire),
		cam.CashConfidence, cam.ViolenceConfidence, cam.FireConfidence, cam.PoseConfidence,
		cam.HandTouchDistance, string(zoneJSON), drawerJSON,
		cam.MinTransactionFrames, cam.MinViolenceFrames, cam.MinFireFrames,
		cam.CashCooldown, cam.ViolenceCooldown, cam.FireCooldown, cam.MotionThreshold)
	if err != nil {
		return fmt.Errorf("failed to save camera: %w", err)
	}
	return nil
}

// GetCamera retrieves a camera by its numeric id
func (d *Database) GetCamera(id int64) (*config.CameraConfig, error) {
	row := d.db.QueryRow(cameraSelect+" WHERE id = ?", id)
	cam, err := scanCamera(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get camera: %w", err)
	}
	return cam, nil
}

// ListCameras returns all camera configurations
func (d *Database) ListCameras() ([]*config.CameraConfig, error) {
	rows, err := d.db.Query(cameraSelect + " ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	defer rows.Close()

	var cameras []*config.CameraConfig
	for rows.Next() {
		cam, err := scanCamera(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		cameras = append(cameras, cam)
	}
	return cameras, rows.Err()
}

// DeleteCamera deletes a camera by numeric id
func (d *Database) DeleteCamera(id int64) error {
	_, err := d.db.Exec("DELETE FROM cameras WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete camera: %w", err)
	}
	return nil
}

const cameraSelect = `SELECT id, camera_id, name, rtsp_url,
	detect_cash, detect_violence, detect_fire,
	cash_confidence, violence_confidence, fire_confidence, pose_confidence,
	hand_touch_distance, cashier_zone, cash_drawer_zone,
	min_transaction_frames, min_violence_frames, min_fire_frames,
	cash_cooldown, violence_cooldown, fire_cooldown, motion_threshold
	FROM cameras`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCamera(row rowScanner) (*config.CameraConfig, error) {
	var cam config.CameraConfig
	var detectCash, detectViolence, detectFire int
	var zoneJSON string
	var drawerJSON sql.NullString

	err := row.Scan(&cam.ID, &cam.CameraID, &cam.Name, &cam.RTSPURL,
		&detectCash, &detectViolence, &detectFire,
		&cam.CashConfidence, &cam.ViolenceConfidence, &cam.FireConfidence, &cam.PoseConfidence,
		&cam.HandTouchDistance, &zoneJSON, &drawerJSON,
		&cam.MinTransactionFrames, &cam.MinViolenceFrames, &cam.MinFireFrames,
		&cam.CashCooldown, &cam.ViolenceCooldown, &cam.FireCooldown, &cam.MotionThreshold)
	if err != nil {
		return nil, err
	}

	cam.DetectCash = detectCash == 1
	cam.DetectViolence = detectViolence == 1
	cam.DetectFire = detectFire == 1

	if zoneJSON != "" && zoneJSON != "{}" {
		zone, err := config.ParseZone(zoneJSON)
		if err != nil {
			return nil, err
		}
		cam.CashierZone = zone
	}
	if drawerJSON.Valid && drawerJSON.String != "" {
		zone, err := config.ParseZone(drawerJSON.String)
		if err != nil {
			return nil, err
		}
		cam.CashDrawerZone = &zone
	}

	cam.ApplyDefaults()
	return &cam, nil
}

// RecordEvent inserts a detection event. The caller guarantees the clip and
// thumbnail files exist at the recorded paths before this is called.
func (d *Database) RecordEvent(event *EventRecord) error {
	if event.Status == "" {
		event.Status = "pending"
	}
	query := `INSERT INTO events
		(id, camera_id, event_type, status, confidence, frame_number,
		 bbox_x1, bbox_y1, bbox_x2, bbox_y2,
		 clip_path, thumbnail_path, json_path, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := d.db.Exec(query, event.ID, event.CameraID, event.EventType, event.Status,
		event.Confidence, event.FrameNumber,
		event.BBoxX1, event.BBoxY1, event.BBoxX2, event.BBoxY2,
		event.ClipPath, event.ThumbnailPath, event.JSONPath, event.CapturedAt)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by id
func (d *Database) GetEvent(id string) (*EventRecord, error) {
	query := `SELECT id, camera_id, event_type, status, confidence, frame_number,
		bbox_x1, bbox_y1, bbox_x2, bbox_y2, clip_path, thumbnail_path, json_path,
		captured_at, created_at FROM events WHERE id = ?`

	var event EventRecord
	var jsonPath sql.NullString
	err := d.db.QueryRow(query, id).Scan(&event.ID, &event.CameraID, &event.EventType,
		&event.Status, &event.Confidence, &event.FrameNumber,
		&event.BBoxX1, &event.BBoxY1, &event.BBoxX2, &event.BBoxY2,
		&event.ClipPath, &event.ThumbnailPath, &jsonPath,
		&event.CapturedAt, &event.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	event.JSONPath = jsonPath.String
	return &event, nil
}

// ListEvents returns events with optional filtering
func (d *Database) ListEvents(cameraID string, since *time.Time, limit int) ([]*EventRecord, error) {
	query := `SELECT id, camera_id, event_type, status, confidence, frame_number,
		bbox_x1, bbox_y1, bbox_x2, bbox_y2, clip_path, thumbnail_path, json_path,
		captured_at, created_at FROM events WHERE 1=1`
	args := []any{}

	if cameraID != "" {
		query += " AND camera_id = ?"
		args = append(args, cameraID)
	}
	if since != nil {
		query += " AND captured_at >= ?"
		args = append(args, *since)
	}
	query += " ORDER BY captured_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*EventRecord
	for rows.Next() {
		var event EventRecord
		var jsonPath sql.NullString
		if err := rows.Scan(&event.ID, &event.CameraID, &event.EventType,
			&event.Status, &event.Confidence, &event.FrameNumber,
			&event.BBoxX1, &event.BBoxY1, &event.BBoxX2, &event.BBoxY2,
			&event.ClipPath, &event.ThumbnailPath, &jsonPath,
			&event.CapturedAt, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.JSONPath = jsonPath.String
		events = append(events, &event)
	}
	return events, rows.Err()
}

// DeleteOldEvents deletes events captured before the given time
func (d *Database) DeleteOldEvents(before time.Time) (int64, error) {
	result, err := d.db.Exec("DELETE FROM events WHERE captured_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return result.RowsAffected()
}

// UpsertWorkerState writes a worker heartbeat row
func (d *Database) UpsertWorkerState(state *WorkerStateRecord) error {
	query := `INSERT INTO worker_states
		(camera_id, camera_code, running, status, frames_processed, events_detected,
		 last_error, start_time, last_heartbeat)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(camera_id) DO UPDATE SET
			camera_code = excluded.camera_code,
			running = excluded.running,
			status = excluded.status,
			frames_processed = excluded.frames_processed,
			events_detected = excluded.events_detected,
			last_error = excluded.last_error,
			start_time = excluded.start_time,
			last_heartbeat = excluded.last_heartbeat`

	var startTime any
	if state.StartTime != nil {
		startTime = *state.StartTime
	}
	_, err := d.db.Exec(query, state.CameraID, state.CameraCode,
		boolToInt(state.Running), state.Status,
		state.FramesProcessed, state.EventsDetected, state.LastError, startTime,
		time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert worker state: %w", err)
	}
	return nil
}

// CleanupDeadWorkers marks workers without a recent heartbeat as errored and
// returns how many rows were touched.
func (d *Database) CleanupDeadWorkers(timeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-timeout)
	result, err := d.db.Exec(`UPDATE worker_states
		SET running = 0, status = 'error', last_error = 'Heartbeat timeout'
		WHERE running = 1 AND last_heartbeat < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup dead workers: %w", err)
	}
	return result.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
