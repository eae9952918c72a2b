// Package capture reads frames from RTSP camera streams with the
// reconnection behaviour the rest of the pipeline depends on.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gocv.io/x/gocv"

	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/vision"
)

var (
	// ErrStreamLost is returned by Read when the failure thresholds are
	// crossed and the caller must Reconnect before reading again.
	ErrStreamLost = errors.New("rtsp stream lost")

	// ErrNoFrame is a transient single-read failure; the caller may simply
	// retry the next Read.
	ErrNoFrame = errors.New("no frame available")

	// ErrConnect is returned when the stream cannot be opened at all.
	ErrConnect = errors.New("cannot connect to stream")
)

// Source yields frames for one camera. Implementations are used from a
// single worker goroutine.
type Source interface {
	// Read returns the next frame. ErrNoFrame means retry; ErrStreamLost
	// means the caller must Reconnect.
	Read() (*vision.Frame, error)

	// Reconnect tears down and reopens the stream. It honours ctx
	// cancellation between attempts.
	Reconnect(ctx context.Context) error

	Close() error
}

const (
	openAttempts     = 5
	openRetryDelay   = 3 * time.Second
	maxReadFailures  = 20
	maxStarveSeconds = 30
)

// ffmpegCaptureOptions forces TCP transport with a long socket timeout so a
// jittery camera stalls instead of silently switching to UDP.
const ffmpegCaptureOptions = "rtsp_transport;tcp|stimeout;60000000|max_delay;1000000|fflags;nobuffer+discardcorrupt"

// RTSPSource reads frames from an RTSP camera via the FFmpeg backend.
type RTSPSource struct {
	url      string
	cameraID string

	cap       *gocv.VideoCapture
	img       gocv.Mat
	nextIndex int64

	consecutiveFailures int
	lastGoodFrame       time.Time
}

// Open connects to the camera, retrying up to five times with a probe frame
// required before the connection counts as established.
func Open(ctx context.Context, cameraID, url string) (*RTSPSource, error) {
	s := &RTSPSource{
		url:      url,
		cameraID: cameraID,
		img:      gocv.NewMat(),
	}
	if err := s.connect(ctx); err != nil {
		s.img.Close()
		return nil, err
	}
	return s, nil
}

func (s *RTSPSource) connect(ctx context.Context) error {
	os.Setenv("OPENCV_FFMPEG_CAPTURE_OPTIONS", ffmpegCaptureOptions)

	for attempt := 1; attempt <= openAttempts; attempt++ {
		cap, err := gocv.OpenVideoCaptureWithAPI(s.url, gocv.VideoCaptureFFmpeg)
		if err == nil && cap.IsOpened() {
			cap.Set(gocv.VideoCaptureBufferSize, 5)
			// Connection only counts once a probe frame decodes.
			if cap.Read(&s.img) && !s.img.Empty() {
				s.cap = cap
				s.consecutiveFailures = 0
				s.lastGoodFrame = time.Now()
				log.Printf("[Capture-%s] connected to stream", s.cameraID)
				return nil
			}
			cap.Close()
		} else if cap != nil {
			cap.Close()
		}

		log.Printf("[Capture-%s] connection attempt %d/%d failed", s.cameraID, attempt, openAttempts)
		if attempt < openAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(openRetryDelay):
			}
		}
	}
	return fmt.Errorf("%w: %s", ErrConnect, s.url)
}

// Read returns the next decoded frame. A run of failed reads, or thirty
// seconds without a good frame, surfaces as ErrStreamLost.
func (s *RTSPSource) Read() (*vision.Frame, error) {
	if s.cap == nil {
		return nil, ErrStreamLost
	}

	ok := s.cap.Read(&s.img)
	if !ok || s.img.Empty() {
		s.consecutiveFailures++
		if s.consecutiveFailures >= maxReadFailures ||
			time.Since(s.lastGoodFrame) > maxStarveSeconds*time.Second {
			return nil, ErrStreamLost
		}
		return nil, ErrNoFrame
	}

	s.consecutiveFailures = 0
	s.lastGoodFrame = time.Now()

	frame := &vision.Frame{
		Mat:       s.img.Clone(),
		Index:     s.nextIndex,
		Timestamp: time.Now(),
		Width:     s.img.Cols(),
		Height:    s.img.Rows(),
	}
	s.nextIndex++
	return frame, nil
}

// Reconnect releases the current handle before opening a new one.
func (s *RTSPSource) Reconnect(ctx context.Context) error {
	if s.cap != nil {
		s.cap.Close()
		s.cap = nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(openRetryDelay):
	}
	return s.connect(ctx)
}

// Close releases the capture handle and scratch buffers.
func (s *RTSPSource) Close() error {
	if s.cap != nil {
		s.cap.Close()
		s.cap = nil
	}
	s.img.Close()
	return nil
}
