package supervisor

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/config"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/worker"
)

// fakeHandle is a controllable stand-in for a camera worker.
type fakeHandle struct {
	mu      sync.Mutex
	started int
	stopped int
	alive   bool
	status  worker.Status
	frames  *worker.FrameHandle
}

func newFakeHandle(cameraID string) *fakeHandle {
	return &fakeHandle{
		status: worker.Status{CameraID: cameraID, State: worker.StateRunning},
		frames: worker.NewFrameHandle(),
	}
}

func (h *fakeHandle) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started++
	h.alive = true
}

func (h *fakeHandle) Stop() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped++
	h.alive = false
	return true
}

func (h *fakeHandle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

func (h *fakeHandle) Status() worker.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *fakeHandle) Frames() *worker.FrameHandle { return h.frames }

func (h *fakeHandle) kill() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alive = false
	h.status.State = worker.StateError
	h.status.LastError = "simulated crash"
}

func (h *fakeHandle) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started, h.stopped
}

// fakeStore serves camera configs from memory.
type fakeStore struct {
	mu      sync.Mutex
	cameras map[int64]*config.CameraConfig
	cleaned int
}

func newFakeStore(ids ...int64) *fakeStore {
	s := &fakeStore{cameras: make(map[int64]*config.CameraConfig)}
	for _, id := range ids {
		cam := &config.CameraConfig{
			ID:       id,
			CameraID: fmt.Sprintf("CAM-%02d", id),
			RTSPURL:  fmt.Sprintf("rtsp://test/%d", id),
		}
		cam.ApplyDefaults()
		s.cameras[id] = cam
	}
	return s
}

func (s *fakeStore) GetCamera(id int64) (*config.CameraConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cameras[id], nil
}

func (s *fakeStore) ListCameras() ([]*config.CameraConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*config.CameraConfig, 0, len(s.cameras))
	for _, cam := range s.cameras {
		out = append(out, cam)
	}
	return out, nil
}

func (s *fakeStore) CleanupDeadWorkers(time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleaned++
	return 0, nil
}

type handleRecorder struct {
	mu      sync.Mutex
	handles []*fakeHandle
}

func (r *handleRecorder) factory(cam *config.CameraConfig) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := newFakeHandle(cam.CameraID)
	r.handles = append(r.handles, h)
	return h
}

func (r *handleRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

func (r *handleRecorder) last() *fakeHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.handles) == 0 {
		return nil
	}
	return r.handles[len(r.handles)-1]
}

func TestSupervisorStartIsIdempotent(t *testing.T) {
	rec := &handleRecorder{}
	s := New(newFakeStore(1), rec.factory)

	if err := s.Start(1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(1); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	if rec.count() != 1 {
		t.Errorf("starting a running camera built %d workers, want 1", rec.count())
	}
	started, _ := rec.last().counts()
	if started != 1 {
		t.Errorf("worker started %d times, want 1", started)
	}
}

func TestSupervisorStopIsIdempotent(t *testing.T) {
	rec := &handleRecorder{}
	s := New(newFakeStore(1), rec.factory)

	if err := s.Start(1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Stop(1); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := s.Stop(1); err != nil {
		t.Fatalf("stopping a stopped camera should be a no-op, got %v", err)
	}

	_, stopped := rec.last().counts()
	if stopped != 1 {
		t.Errorf("worker stopped %d times, want 1", stopped)
	}
}

func TestSupervisorUnknownCamera(t *testing.T) {
	s := New(newFakeStore(), (&handleRecorder{}).factory)

	if err := s.Start(42); err == nil {
		t.Error("starting an unknown camera should fail")
	}
	if err := s.Stop(42); err != nil {
		t.Errorf("stopping an unknown camera should be a no-op, got %v", err)
	}
}

func TestSupervisorRestartBuildsFreshWorker(t *testing.T) {
	rec := &handleRecorder{}
	s := New(newFakeStore(1), rec.factory)

	if err := s.Start(1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	first := rec.last()

	if err := s.Restart(1); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if rec.count() != 2 {
		t.Fatalf("restart reused the old worker; %d workers built", rec.count())
	}
	_, stopped := first.counts()
	if stopped != 1 {
		t.Errorf("old worker not stopped on restart")
	}
	if !rec.last().Alive() {
		t.Error("new worker not started on restart")
	}
}

func TestSupervisorStartAllAndStatus(t *testing.T) {
	rec := &handleRecorder{}
	s := New(newFakeStore(1, 2, 3), rec.factory)

	if err := s.StartAll(); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	if rec.count() != 3 {
		t.Fatalf("StartAll built %d workers, want 3", rec.count())
	}

	statuses := s.StatusAll()
	if len(statuses) != 3 {
		t.Fatalf("StatusAll returned %d entries, want 3", len(statuses))
	}

	st, err := s.Status(2)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.CameraID != "CAM-02" {
		t.Errorf("status camera = %q", st.CameraID)
	}

	s.StopAll()
	if len(s.StatusAll()) != 0 {
		t.Error("workers remain after StopAll")
	}
}

func TestSupervisorReapRemovesDeadWorkers(t *testing.T) {
	rec := &handleRecorder{}
	s := New(newFakeStore(1, 2), rec.factory)

	if err := s.StartAll(); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}

	// StartAll order follows the fake store's map iteration, so pick
	// camera 1's worker by id.
	for _, h := range rec.handles {
		if h.Status().CameraID == "CAM-01" {
			h.kill()
		}
	}
	s.reap()

	statuses := s.StatusAll()
	if len(statuses) != 1 {
		t.Fatalf("reap left %d workers, want 1", len(statuses))
	}

	// A reaped camera can be started again.
	if err := s.Start(1); err != nil {
		t.Fatalf("restart after reap failed: %v", err)
	}
	if rec.count() != 3 {
		t.Errorf("restart after reap should build a fresh worker")
	}
}

func TestSupervisorFrameHandle(t *testing.T) {
	rec := &handleRecorder{}
	s := New(newFakeStore(1), rec.factory)

	if s.Frame(1) != nil {
		t.Error("frame for unstarted camera should be nil")
	}

	if err := s.Start(1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s.Frame(1) != nil {
		t.Error("frame before any publish should be nil")
	}

	rec.last().frames.Publish([]byte{9}, 3, time.Now())
	snap := s.Frame(1)
	if snap == nil || snap.FrameIndex != 3 {
		t.Errorf("unexpected frame snapshot: %+v", snap)
	}
}
