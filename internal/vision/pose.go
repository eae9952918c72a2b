package vision

import (
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// COCO keypoint indices used by the detectors.
const (
	KeypointNose          = 0
	KeypointLeftShoulder  = 5
	KeypointRightShoulder = 6
	KeypointLeftElbow     = 7
	KeypointRightElbow    = 8
	KeypointLeftWrist     = 9
	KeypointRightWrist    = 10
	KeypointLeftHip       = 11
	KeypointRightHip      = 12

	NumKeypoints = 17
)

// Keypoint is a single body keypoint in image pixels with its confidence.
type Keypoint struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Conf float64 `json:"conf"`
}

// PoseResult is one detected person: bounding box plus 17 COCO keypoints.
type PoseResult struct {
	Box       image.Rectangle
	Score     float64
	Keypoints [NumKeypoints]Keypoint
}

// Center returns the person's reference point: the hip midpoint when both
// hips clear the confidence floor, else the shoulder midpoint, else the
// bounding box center. This point alone decides zone membership.
func (p *PoseResult) Center(confFloor float64) image.Point {
	lh, rh := p.Keypoints[KeypointLeftHip], p.Keypoints[KeypointRightHip]
	if lh.Conf >= confFloor && rh.Conf >= confFloor {
		return image.Pt(int((lh.X+rh.X)/2), int((lh.Y+rh.Y)/2))
	}
	ls, rs := p.Keypoints[KeypointLeftShoulder], p.Keypoints[KeypointRightShoulder]
	if ls.Conf >= confFloor && rs.Conf >= confFloor {
		return image.Pt(int((ls.X+rs.X)/2), int((ls.Y+rs.Y)/2))
	}
	return image.Pt((p.Box.Min.X+p.Box.Max.X)/2, (p.Box.Min.Y+p.Box.Max.Y)/2)
}

// Wrist returns the wrist keypoint for the given side ("left" or "right").
func (p *PoseResult) Wrist(side string) Keypoint {
	if side == "left" {
		return p.Keypoints[KeypointLeftWrist]
	}
	return p.Keypoints[KeypointRightWrist]
}

// PoseEstimator produces person poses for a frame. Implementations must be
// safe for sequential calls from a single worker goroutine.
type PoseEstimator interface {
	EstimatePoses(frame *Frame) ([]PoseResult, error)
	Close() error
}

// poseNet runs a YOLOv8-pose ONNX model through the OpenCV DNN module.
type poseNet struct {
	net       gocv.Net
	inputSize int
	confFloor float32
	nmsThresh float32
	mu        sync.Mutex
}

// NewPoseNet loads the pose model from disk. Loading happens once per worker
// and a load failure is fatal for that worker.
func NewPoseNet(modelPath string, confFloor float64) (PoseEstimator, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("pose model not readable: %w", err)
	}
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("pose model %s failed to load", modelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &poseNet{
		net:       net,
		inputSize: 640,
		confFloor: float32(confFloor),
		nmsThresh: 0.45,
	}, nil
}

func (n *poseNet) EstimatePoses(frame *Frame) ([]PoseResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if frame.Mat.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	blob := gocv.BlobFromImage(frame.Mat, 1.0/255.0,
		image.Pt(n.inputSize, n.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	n.net.SetInput(blob, "")
	output := n.net.Forward("")
	defer output.Close()

	// YOLOv8-pose output is [1, 56, anchors]: cx, cy, w, h, score,
	// then 17 keypoints as (x, y, conf) in input space.
	dims := output.Size()
	if len(dims) < 3 {
		return nil, fmt.Errorf("unexpected pose output shape %v", dims)
	}
	rows := dims[1]
	anchors := dims[2]
	reshaped := output.Reshape(1, rows)
	defer reshaped.Close()

	scaleX := float64(frame.Width) / float64(n.inputSize)
	scaleY := float64(frame.Height) / float64(n.inputSize)

	var boxes []image.Rectangle
	var scores []float32
	var candidates []PoseResult

	for a := 0; a < anchors; a++ {
		score := reshaped.GetFloatAt(4, a)
		if score < n.confFloor {
			continue
		}

		cx := float64(reshaped.GetFloatAt(0, a)) * scaleX
		cy := float64(reshaped.GetFloatAt(1, a)) * scaleY
		w := float64(reshaped.GetFloatAt(2, a)) * scaleX
		h := float64(reshaped.GetFloatAt(3, a)) * scaleY
		box := image.Rect(int(cx-w/2), int(cy-h/2), int(cx+w/2), int(cy+h/2))

		pose := PoseResult{Box: box, Score: float64(score)}
		for k := 0; k < NumKeypoints; k++ {
			base := 5 + k*3
			pose.Keypoints[k] = Keypoint{
				X:    float64(reshaped.GetFloatAt(base, a)) * scaleX,
				Y:    float64(reshaped.GetFloatAt(base+1, a)) * scaleY,
				Conf: float64(reshaped.GetFloatAt(base+2, a)),
			}
		}

		boxes = append(boxes, box)
		scores = append(scores, score)
		candidates = append(candidates, pose)
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	keep := gocv.NMSBoxes(boxes, scores, n.confFloor, n.nmsThresh)
	results := make([]PoseResult, 0, len(keep))
	for _, idx := range keep {
		if idx >= 0 && idx < len(candidates) {
			results = append(results, candidates[idx])
		}
	}
	return results, nil
}

func (n *poseNet) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.net.Close()
}

// PairDistance is the Euclidean pixel distance between two keypoints.
func PairDistance(a, b Keypoint) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
