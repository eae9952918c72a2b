package sink

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"gocv.io/x/gocv"

	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/detect"
	"github.com/Loop-Dimension/Hotel-Cash-Detector/internal/vision"
)

// writeClip dumps the buffered frames to an intermediate MJPG container,
// stamping the event banner on every frame.
func writeClip(frames []*vision.Frame, eventType detect.Type, path string, fps float64) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames to write")
	}

	first := frames[0]
	writer, err := gocv.VideoWriterFile(path, "MJPG", fps, first.Width, first.Height, true)
	if err != nil {
		return fmt.Errorf("failed to open clip writer: %w", err)
	}
	defer writer.Close()

	if !writer.IsOpened() {
		return fmt.Errorf("clip writer did not open for %s", path)
	}

	for _, f := range frames {
		if f == nil || f.Mat.Empty() {
			continue
		}
		detect.DrawBanner(&f.Mat, eventType)
		if err := writer.Write(f.Mat); err != nil {
			return fmt.Errorf("failed to write clip frame: %w", err)
		}
	}
	return nil
}

// transcode converts the intermediate container to H.264 MP4 with faststart
// so clips stream from the first byte. The subprocess is bounded by ctx.
func transcode(ctx context.Context, src, dst string, fps float64) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y", "-i", src,
		"-c:v", "libx264", "-preset", "fast", "-crf", "23",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-r", fmt.Sprintf("%g", fps),
		dst,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg transcode failed: %w (output: %.200s)", err, string(out))
	}
	if _, err := os.Stat(dst); err != nil {
		return fmt.Errorf("transcoded clip missing: %w", err)
	}
	return nil
}

// writeThumbnail saves the final buffered frame as a JPEG with the event
// banner stamped on it.
func writeThumbnail(frame *vision.Frame, eventType detect.Type, path string) error {
	if frame == nil || frame.Mat.Empty() {
		return fmt.Errorf("no frame for thumbnail")
	}
	thumb := frame.Mat.Clone()
	defer thumb.Close()

	detect.DrawBanner(&thumb, eventType)
	if !gocv.IMWrite(path, thumb) {
		return fmt.Errorf("failed to write thumbnail %s", path)
	}
	return nil
}
