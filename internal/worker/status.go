package worker

import (
	"fmt"
	"time"
)

// State is a camera worker's lifecycle state.
type State string

const (
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StateReconnecting State = "reconnecting"
	StateStopping     State = "stopping"
	StateStopped      State = "stopped"
	StateError        State = "error"
)

// Status is a point-in-time snapshot of one worker. FramesProcessed and
// EventsDetected are monotonically non-decreasing while the worker lives.
type Status struct {
	CameraID        string        `json:"camera_id"`
	Name            string        `json:"name"`
	State           State         `json:"state"`
	LastError       string        `json:"last_error,omitempty"`
	FramesProcessed int64         `json:"frames_processed"`
	EventsDetected  int64         `json:"events_detected"`
	StartedAt       time.Time     `json:"started_at"`
	Uptime          time.Duration `json:"uptime"`
}

// UptimeString formats uptime as HH:MM:SS, or "Not running" when the
// worker has never started.
func (s Status) UptimeString() string {
	if s.StartedAt.IsZero() {
		return "Not running"
	}
	total := int(s.Uptime.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
