package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// AppConfig holds process-wide settings loaded from the environment.
// Per-camera settings live in CameraConfig rows in the database.
type AppConfig struct {
	DBPath    string
	MediaRoot string

	// Model weight files. Pose and fire models are required; the general
	// object model path is optional and is read but not loaded by any worker.
	PoseModelPath   string
	FireModelPath   string
	ObjectModelPath string

	// Capture and buffering
	BufferSeconds    int // rolling window length
	EffectiveFPS     int // clip frame rate and buffer sizing basis
	DetectStride     int // run detection every Nth frame
	BufferStride     int // buffer every Nth frame
	TranscodeTimeout time.Duration

	// Optional integrations
	MetricsAddr string // e.g. ":9090", empty disables the exporter

	MQTTEnabled   bool
	MQTTBaseTopic string

	MinioEnabled bool

	PinCPU bool
}

// FromEnv builds an AppConfig from environment variables with defaults
// matching the production deployment.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		DBPath:           getenv("CCTV_DB_PATH", "./cctv.db"),
		MediaRoot:        getenv("CCTV_MEDIA_ROOT", "./media"),
		PoseModelPath:    getenv("CCTV_POSE_MODEL", "./models/yolov8s-pose.onnx"),
		FireModelPath:    getenv("CCTV_FIRE_MODEL", "./models/fire_smoke_yolov8.onnx"),
		ObjectModelPath:  os.Getenv("CCTV_OBJECT_MODEL"),
		BufferSeconds:    getenvInt("CCTV_BUFFER_SECONDS", 30),
		EffectiveFPS:     getenvInt("CCTV_EFFECTIVE_FPS", 15),
		DetectStride:     getenvInt("CCTV_DETECT_STRIDE", 4),
		BufferStride:     getenvInt("CCTV_BUFFER_STRIDE", 2),
		TranscodeTimeout: time.Duration(getenvInt("CCTV_TRANSCODE_TIMEOUT_SECONDS", 180)) * time.Second,
		MetricsAddr:      os.Getenv("CCTV_METRICS_ADDR"),
		MQTTEnabled:      getenv("CCTV_MQTT_ENABLED", "false") == "true",
		MQTTBaseTopic:    getenv("CCTV_MQTT_BASE_TOPIC", "cctv/cameras"),
		MinioEnabled:     getenv("CCTV_MINIO_ENABLED", "false") == "true",
		PinCPU:           getenv("CCTV_PIN_CPU", "true") == "true",
	}

	if cfg.BufferSeconds <= 0 || cfg.EffectiveFPS <= 0 {
		return nil, fmt.Errorf("buffer window must be positive (seconds=%d fps=%d)", cfg.BufferSeconds, cfg.EffectiveFPS)
	}
	if cfg.DetectStride < 1 {
		cfg.DetectStride = 1
	}
	if cfg.BufferStride < 1 {
		cfg.BufferStride = 1
	}
	return cfg, nil
}

// BufferCapacity returns the number of frames in the rolling window
// (BufferSeconds × EffectiveFPS). The worker's ring keeps one in every
// BufferStride of them, so it holds BufferCapacity()/BufferStride frames.
func (c *AppConfig) BufferCapacity() int {
	return c.BufferSeconds * c.EffectiveFPS
}

// CameraConfig is the per-camera configuration snapshot a worker reads at
// start. Workers never write it; changes take effect on worker restart.
type CameraConfig struct {
	ID       int64
	CameraID string // external code, e.g. CAM-SEO-01
	Name     string
	RTSPURL  string

	DetectCash     bool
	DetectViolence bool
	DetectFire     bool

	CashConfidence     float64
	ViolenceConfidence float64
	FireConfidence     float64

	// Pose keypoint confidence floor (κ)
	PoseConfidence float64

	// Cash detection geometry
	CashierZone       Zone
	CashDrawerZone    *Zone // optional two-step drawer verification
	HandTouchDistance int   // pixels

	// Temporal gates, all in frames
	MinTransactionFrames int
	MinViolenceFrames    int
	MinFireFrames        int
	CashCooldown         int
	ViolenceCooldown     int
	FireCooldown         int

	// Violence motion gate (average pixels of keypoint travel per frame)
	MotionThreshold float64

	// Frames to keep tracking the cashier hand after a touch when a
	// drawer zone is configured.
	HandTrackingDuration int
}

// ApplyDefaults fills zero-valued tunables with production defaults.
func (c *CameraConfig) ApplyDefaults() {
	if c.CashConfidence == 0 {
		c.CashConfidence = 0.5
	}
	if c.ViolenceConfidence == 0 {
		c.ViolenceConfidence = 0.6
	}
	if c.FireConfidence == 0 {
		c.FireConfidence = 0.5
	}
	if c.PoseConfidence == 0 {
		c.PoseConfidence = 0.3
	}
	if c.HandTouchDistance == 0 {
		c.HandTouchDistance = 100
	}
	if c.MinTransactionFrames < 1 {
		c.MinTransactionFrames = 1
	}
	if c.MinViolenceFrames < 1 {
		c.MinViolenceFrames = 10
	}
	if c.MinFireFrames < 1 {
		c.MinFireFrames = 3
	}
	if c.CashCooldown == 0 {
		c.CashCooldown = 60
	}
	if c.ViolenceCooldown == 0 {
		c.ViolenceCooldown = 150
	}
	if c.FireCooldown == 0 {
		c.FireCooldown = 90
	}
	if c.MotionThreshold == 0 {
		c.MotionThreshold = 150
	}
	if c.HandTrackingDuration == 0 {
		c.HandTrackingDuration = 90
	}
}

// Validate rejects configurations a worker cannot start with.
func (c *CameraConfig) Validate() error {
	if c.CameraID == "" {
		return fmt.Errorf("camera has no camera_id")
	}
	if c.RTSPURL == "" {
		return fmt.Errorf("camera %s has no rtsp_url", c.CameraID)
	}
	if c.DetectCash && !c.CashierZone.IsPolygon() && (c.CashierZone.Width <= 0 || c.CashierZone.Height <= 0) {
		return fmt.Errorf("camera %s: cash detection enabled but cashier zone has no area", c.CameraID)
	}
	if c.CashConfidence < 0 || c.CashConfidence > 1 ||
		c.ViolenceConfidence < 0 || c.ViolenceConfidence > 1 ||
		c.FireConfidence < 0 || c.FireConfidence > 1 {
		return fmt.Errorf("camera %s: confidence thresholds must be in [0,1]", c.CameraID)
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
