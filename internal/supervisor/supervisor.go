// Package supervisor owns the camera-id to worker mapping and the control
// surface over it. Workers never see the registry; everything goes through
// the supervisor's own locking discipline.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/config"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/worker"
)

const reapInterval = 30 * time.Second

// Handle is what the supervisor needs from a worker. *worker.Worker
// implements it; tests substitute fakes.
type Handle interface {
	Start()
	Stop() bool
	Alive() bool
	Status() worker.Status
	Frames() *worker.FrameHandle
}

// WorkerFactory builds a fresh worker for a camera config snapshot. A
// restart always goes through the factory so config edits take effect.
type WorkerFactory func(cam *config.CameraConfig) Handle

// ConfigStore is the read-only camera configuration source.
type ConfigStore interface {
	GetCamera(id int64) (*config.CameraConfig, error)
	ListCameras() ([]*config.CameraConfig, error)
	CleanupDeadWorkers(timeout time.Duration) (int64, error)
}

// Supervisor manages the lifecycle and status of all camera workers.
type Supervisor struct {
	store   ConfigStore
	factory WorkerFactory

	mu      sync.Mutex
	workers map[int64]Handle
}

// New builds a supervisor over the given config store and worker factory.
func New(store ConfigStore, factory WorkerFactory) *Supervisor {
	return &Supervisor{
		store:   store,
		factory: factory,
		workers: make(map[int64]Handle),
	}
}

// Start launches a worker for the camera. Starting a camera whose worker is
// already alive is a no-op.
func (s *Supervisor) Start(cameraID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.workers[cameraID]; ok && w.Alive() {
		return nil
	}

	cam, err := s.store.GetCamera(cameraID)
	if err != nil {
		return fmt.Errorf("failed to load camera %d: %w", cameraID, err)
	}
	if cam == nil {
		return fmt.Errorf("camera %d not found", cameraID)
	}
	if err := cam.Validate(); err != nil {
		return fmt.Errorf("invalid camera config: %w", err)
	}

	w := s.factory(cam)
	s.workers[cameraID] = w
	w.Start()

	log.Printf("[Supervisor] started worker for camera %s", cam.CameraID)
	return nil
}

// Stop shuts a worker down and removes it from the mapping. Stopping a
// camera without a worker is a no-op.
func (s *Supervisor) Stop(cameraID int64) error {
	s.mu.Lock()
	w, ok := s.workers[cameraID]
	if ok {
		delete(s.workers, cameraID)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	if !w.Stop() {
		log.Printf("[Supervisor] worker for camera %d was force-abandoned", cameraID)
	}
	log.Printf("[Supervisor] stopped worker for camera %d", cameraID)
	return nil
}

// Restart stops the worker if present and starts a fresh one, picking up
// the current camera configuration.
func (s *Supervisor) Restart(cameraID int64) error {
	if err := s.Stop(cameraID); err != nil {
		return err
	}
	return s.Start(cameraID)
}

// StartAll launches workers for every configured camera.
func (s *Supervisor) StartAll() error {
	cams, err := s.store.ListCameras()
	if err != nil {
		return fmt.Errorf("failed to list cameras: %w", err)
	}

	var firstErr error
	for _, cam := range cams {
		if err := s.Start(cam.ID); err != nil {
			log.Printf("[Supervisor] failed to start camera %s: %v", cam.CameraID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// StopAll shuts every worker down.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Stop(id)
	}
}

// Status returns the status of one worker.
func (s *Supervisor) Status(cameraID int64) (worker.Status, error) {
	s.mu.Lock()
	w, ok := s.workers[cameraID]
	s.mu.Unlock()

	if !ok {
		return worker.Status{}, fmt.Errorf("no worker for camera %d", cameraID)
	}
	return w.Status(), nil
}

// StatusAll returns a status snapshot for every tracked worker.
func (s *Supervisor) StatusAll() []worker.Status {
	s.mu.Lock()
	handles := make([]Handle, 0, len(s.workers))
	for _, w := range s.workers {
		handles = append(handles, w)
	}
	s.mu.Unlock()

	statuses := make([]worker.Status, 0, len(handles))
	for _, w := range handles {
		statuses = append(statuses, w.Status())
	}
	return statuses
}

// Frame returns the most recent annotated frame for a camera, or nil when
// none is available.
func (s *Supervisor) Frame(cameraID int64) *worker.FrameSnapshot {
	s.mu.Lock()
	w, ok := s.workers[cameraID]
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return w.Frames().Latest()
}

// Run executes the reap loop until the context is cancelled, then stops all
// workers.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Supervisor] shutting down, stopping all workers")
			s.StopAll()
			return
		case <-ticker.C:
			s.reap()
		}
	}
}

// reap drops workers whose goroutine has exited and expires stale heartbeat
// rows in the store.
func (s *Supervisor) reap() {
	s.mu.Lock()
	for id, w := range s.workers {
		if !w.Alive() {
			log.Printf("[Supervisor] reaping dead worker for camera %d (state=%s)", id, w.Status().State)
			delete(s.workers, id)
		}
	}
	s.mu.Unlock()

	if n, err := s.store.CleanupDeadWorkers(2 * reapInterval); err != nil {
		log.Printf("[Supervisor] heartbeat cleanup failed: %v", err)
	} else if n > 0 {
		log.Printf("[Supervisor] expired %d stale worker heartbeats", n)
	}
}
