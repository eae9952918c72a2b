package worker

import (
	"sync/atomic"
	"time"
)

// FrameSnapshot is one published live-view frame.
type FrameSnapshot struct {
	JPEG       []byte
	FrameIndex int64
	Timestamp  time.Time
}

// FrameHandle is a single-slot latest-value register between one writing
// worker and any number of readers. The writer overwrites, readers copy;
// old frames are dropped silently with no queue semantics.
type FrameHandle struct {
	slot atomic.Pointer[FrameSnapshot]
}

// NewFrameHandle returns an empty handle.
func NewFrameHandle() *FrameHandle {
	return &FrameHandle{}
}

// Publish replaces the current frame. The handle takes ownership of the
// byte slice; callers must not mutate it afterwards.
func (h *FrameHandle) Publish(jpeg []byte, frameIndex int64, ts time.Time) {
	h.slot.Store(&FrameSnapshot{JPEG: jpeg, FrameIndex: frameIndex, Timestamp: ts})
}

// Latest returns a copy of the most recent frame, or nil when none has been
// published yet.
func (h *FrameHandle) Latest() *FrameSnapshot {
	snap := h.slot.Load()
	if snap == nil {
		return nil
	}
	out := &FrameSnapshot{
		JPEG:       make([]byte, len(snap.JPEG)),
		FrameIndex: snap.FrameIndex,
		Timestamp:  snap.Timestamp,
	}
	copy(out.JPEG, snap.JPEG)
	return out
}
