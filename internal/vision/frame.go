package vision

import (
	"time"

	"gocv.io/x/gocv"
)

// Frame is a single captured video frame. Frames are owned by exactly one
// camera worker; the Mat must be Closed by whoever holds the last copy.
type Frame struct {
	Mat       gocv.Mat
	Index     int64
	Timestamp time.Time
	Width     int
	Height    int
}

// Clone deep-copies the frame including its pixel data.
func (f *Frame) Clone() *Frame {
	return &Frame{
		Mat:       f.Mat.Clone(),
		Index:     f.Index,
		Timestamp: f.Timestamp,
		Width:     f.Width,
		Height:    f.Height,
	}
}

// Close releases the underlying pixel buffer.
func (f *Frame) Close() {
	if f != nil && !f.Mat.Empty() {
		f.Mat.Close()
	}
}
