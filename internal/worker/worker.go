// Package worker runs the per-camera ingestion and detection loop. Each
// worker owns its capture source, rolling buffer, detectors and sink calls;
// nothing frame-related is ever shared across cameras.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/buffer"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/capture"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/config"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/database"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/detect"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/metrics"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/vision"
)

const (
	maxReconnectStorms = 10
	heartbeatInterval  = 5 * time.Second
	stopTimeout        = 10 * time.Second
)

// SourceOpener opens the camera stream; swapped for a fake in tests.
type SourceOpener func(ctx context.Context, cameraID, url string) (capture.Source, error)

// PoseLoader loads the pose backend for a camera.
type PoseLoader func(cam *config.CameraConfig) (vision.PoseEstimator, error)

// ObjectLoader loads the fire/smoke backend for a camera.
type ObjectLoader func(cam *config.CameraConfig) (vision.ObjectDetector, error)

// Persister writes a fired detection's artefacts and event record.
type Persister interface {
	Persist(ctx context.Context, cam *config.CameraConfig, det detect.Detection, frames []*vision.Frame) (*database.EventRecord, error)
}

// Heartbeat receives periodic worker state rows for liveness tracking.
type Heartbeat func(rec *database.WorkerStateRecord)

// Deps bundles everything a worker needs from the outside.
type Deps struct {
	OpenSource  SourceOpener
	LoadPose    PoseLoader
	LoadObjects ObjectLoader
	Sink        Persister
	Metrics     *metrics.Metrics
	Heartbeat   Heartbeat
}

// Worker drives one camera. Lifecycle:
// starting -> running <-> reconnecting -> stopping -> stopped, with error as
// a sink state on fatal failure.
type Worker struct {
	app  *config.AppConfig
	cam  *config.CameraConfig
	deps Deps

	mu        sync.Mutex
	state     State
	lastError string
	startedAt time.Time

	framesProcessed atomic.Int64
	eventsDetected  atomic.Int64

	frames *FrameHandle

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds a worker for one camera from an immutable config snapshot.
func New(app *config.AppConfig, cam *config.CameraConfig, deps Deps) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		app:    app,
		cam:    cam,
		deps:   deps,
		state:  StateStopped,
		frames: NewFrameHandle(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start launches the worker goroutine. Starting twice is a no-op.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		w.mu.Lock()
		w.state = StateStarting
		w.startedAt = time.Now()
		w.mu.Unlock()
		go w.run()
	})
}

// Stop requests a graceful shutdown and waits up to the stop timeout. It
// returns false if the worker had to be abandoned mid-stop.
func (w *Worker) Stop() bool {
	graceful := true
	w.stopOnce.Do(func() {
		w.cancel()

		w.mu.Lock()
		started := !w.startedAt.IsZero()
		w.mu.Unlock()
		if !started {
			return
		}

		select {
		case <-w.done:
		case <-time.After(stopTimeout):
			log.Printf("[Worker-%s] stop timeout exceeded, abandoning", w.cam.CameraID)
			graceful = false
		}
	})
	return graceful
}

// Alive reports whether the worker goroutine is still running.
func (w *Worker) Alive() bool {
	w.mu.Lock()
	started := !w.startedAt.IsZero()
	w.mu.Unlock()
	if !started {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Frames exposes the single-slot live view handle.
func (w *Worker) Frames() *FrameHandle {
	return w.frames
}

// Status returns a point-in-time snapshot.
func (w *Worker) Status() Status {
	w.mu.Lock()
	state := w.state
	lastError := w.lastError
	startedAt := w.startedAt
	w.mu.Unlock()

	var uptime time.Duration
	if !startedAt.IsZero() {
		uptime = time.Since(startedAt)
	}
	return Status{
		CameraID:        w.cam.CameraID,
		Name:            w.cam.Name,
		State:           state,
		LastError:       lastError,
		FramesProcessed: w.framesProcessed.Load(),
		EventsDetected:  w.eventsDetected.Load(),
		StartedAt:       startedAt,
		Uptime:          uptime,
	}
}

func (w *Worker) run() {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.setError(fmt.Sprintf("worker crashed: %v", r))
		}
	}()

	if w.app.PinCPU {
		if err := pinToCore(w.cam.ID); err != nil {
			log.Printf("[Worker-%s] could not set CPU affinity: %v", w.cam.CameraID, err)
		}
	}

	// Models load once; a load failure is fatal for this worker.
	var pose vision.PoseEstimator
	var objects vision.ObjectDetector

	if w.cam.DetectCash || w.cam.DetectViolence {
		p, err := w.deps.LoadPose(w.cam)
		if err != nil {
			w.setError(fmt.Sprintf("pose model load failed: %v", err))
			return
		}
		pose = p
		defer pose.Close()
	}
	if w.cam.DetectFire {
		o, err := w.deps.LoadObjects(w.cam)
		if err != nil {
			w.setError(fmt.Sprintf("fire model load failed: %v", err))
			return
		}
		objects = o
		defer objects.Close()
	}

	unified := detect.NewUnified(w.cam, pose, objects)

	src, err := w.deps.OpenSource(w.ctx, w.cam.CameraID, w.cam.RTSPURL)
	if err != nil {
		w.setError(fmt.Sprintf("cannot connect to stream: %v", err))
		return
	}
	defer src.Close()

	ring := buffer.NewRing(w.app.BufferCapacity() / w.app.BufferStride)
	defer ring.Close()

	w.setState(StateRunning, "")
	w.workerUp(1)
	defer w.workerUp(0)

	log.Printf("[Worker-%s] detection loop started", w.cam.CameraID)

	reconnectStorms := 0
	lastHeartbeat := time.Now()

	for {
		select {
		case <-w.ctx.Done():
			w.shutdown()
			return
		default:
		}

		frame, err := src.Read()
		if err != nil {
			if errors.Is(err, capture.ErrNoFrame) {
				w.countDropped()
				continue
			}
			if errors.Is(err, capture.ErrStreamLost) {
				w.setState(StateReconnecting, err.Error())
				w.countReconnect()
				log.Printf("[Worker-%s] stream lost, reconnecting...", w.cam.CameraID)

				if rerr := src.Reconnect(w.ctx); rerr != nil {
					if w.ctx.Err() != nil {
						w.shutdown()
						return
					}
					reconnectStorms++
					if reconnectStorms >= maxReconnectStorms {
						w.setError(fmt.Sprintf("stream unrecoverable after %d reconnect attempts: %v", reconnectStorms, rerr))
						return
					}
					continue
				}
				reconnectStorms = 0
				w.setState(StateRunning, "")
				continue
			}
			w.countDropped()
			continue
		}

		w.framesProcessed.Add(1)
		w.countFrame()

		detectFrame := frame.Index%int64(w.app.DetectStride) == 0
		bufferFrame := frame.Index%int64(w.app.BufferStride) == 0

		var annotated *vision.Frame
		var result *detect.FrameResult

		if detectFrame {
			annotated = frame.Clone()
			result, err = unified.ProcessFrame(frame, annotated)
			if err != nil {
				annotated.Close()
				frame.Close()
				w.setError(err.Error())
				return
			}
			if result.InferenceSkipped {
				w.countInferenceError()
			}
			w.publishFrame(annotated)
		} else if bufferFrame {
			annotated = frame.Clone()
			unified.AnnotateStatic(annotated)
		}

		if bufferFrame {
			ring.Append(frame, annotated)
		} else {
			frame.Close()
			if annotated != nil {
				annotated.Close()
			}
		}

		if result != nil && len(result.Detections) > 0 {
			w.persistDetections(result.Detections, ring)
		}

		if time.Since(lastHeartbeat) >= heartbeatInterval {
			w.heartbeat()
			lastHeartbeat = time.Now()
		}
	}
}

// persistDetections snapshots the buffer once and hands each detection to
// the sink. A persist failure keeps artefacts on disk and does not count as
// a detected event; the detector's cooldown is already armed either way.
func (w *Worker) persistDetections(detections []detect.Detection, ring *buffer.Ring) {
	snapshot := ring.Snapshot()
	defer func() {
		for _, f := range snapshot {
			f.Close()
		}
	}()

	for _, det := range detections {
		if w.ctx.Err() != nil {
			return
		}
		if _, err := w.deps.Sink.Persist(w.ctx, w.cam, det, snapshot); err != nil {
			log.Printf("[Worker-%s] persist failed for %s event: %v", w.cam.CameraID, det.Type, err)
			w.countPersistError()
			continue
		}
		w.eventsDetected.Add(1)
		w.countEvent(string(det.Type))
	}
}

// publishFrame encodes the annotated frame to JPEG for the live-view handle.
func (w *Worker) publishFrame(annotated *vision.Frame) {
	if annotated == nil || annotated.Mat.Empty() {
		return
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, annotated.Mat)
	if err != nil {
		return
	}
	defer buf.Close()

	jpeg := make([]byte, len(buf.GetBytes()))
	copy(jpeg, buf.GetBytes())
	w.frames.Publish(jpeg, annotated.Index, annotated.Timestamp)
}

func (w *Worker) shutdown() {
	w.setState(StateStopping, "")
	w.heartbeat()
	w.setState(StateStopped, "")
	w.heartbeat()
	log.Printf("[Worker-%s] loop ended", w.cam.CameraID)
}

func (w *Worker) setState(state State, lastError string) {
	w.mu.Lock()
	w.state = state
	if lastError != "" {
		w.lastError = lastError
	}
	w.mu.Unlock()
}

func (w *Worker) setError(msg string) {
	if len(msg) > 199 {
		msg = msg[:199]
	}
	w.mu.Lock()
	w.state = StateError
	w.lastError = msg
	w.mu.Unlock()
	w.heartbeat()
	log.Printf("[Worker-%s] FATAL: %s", w.cam.CameraID, msg)
}

func (w *Worker) heartbeat() {
	if w.deps.Heartbeat == nil {
		return
	}
	status := w.Status()
	var startTime *time.Time
	if !status.StartedAt.IsZero() {
		t := status.StartedAt
		startTime = &t
	}
	w.deps.Heartbeat(&database.WorkerStateRecord{
		CameraID:        w.cam.ID,
		CameraCode:      w.cam.CameraID,
		Running:         status.State == StateRunning || status.State == StateReconnecting,
		Status:          string(status.State),
		FramesProcessed: status.FramesProcessed,
		EventsDetected:  status.EventsDetected,
		LastError:       status.LastError,
		StartTime:       startTime,
	})
}

func (w *Worker) workerUp(v float64) {
	if w.deps.Metrics != nil {
		w.deps.Metrics.WorkerUp.WithLabelValues(w.cam.CameraID).Set(v)
	}
}

func (w *Worker) countFrame() {
	if w.deps.Metrics != nil {
		w.deps.Metrics.FramesProcessed.WithLabelValues(w.cam.CameraID).Inc()
	}
}

func (w *Worker) countDropped() {
	if w.deps.Metrics != nil {
		w.deps.Metrics.FramesDropped.WithLabelValues(w.cam.CameraID).Inc()
	}
}

func (w *Worker) countReconnect() {
	if w.deps.Metrics != nil {
		w.deps.Metrics.Reconnects.WithLabelValues(w.cam.CameraID).Inc()
	}
}

func (w *Worker) countInferenceError() {
	if w.deps.Metrics != nil {
		w.deps.Metrics.InferenceErrors.WithLabelValues(w.cam.CameraID).Inc()
	}
}

func (w *Worker) countPersistError() {
	if w.deps.Metrics != nil {
		w.deps.Metrics.PersistErrors.WithLabelValues(w.cam.CameraID).Inc()
	}
}

func (w *Worker) countEvent(eventType string) {
	if w.deps.Metrics != nil {
		w.deps.Metrics.EventsDetected.WithLabelValues(w.cam.CameraID, eventType).Inc()
	}
}
