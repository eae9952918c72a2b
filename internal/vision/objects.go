package vision

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// ObjectBox is a labelled detection from the fire/smoke model.
type ObjectBox struct {
	Label      string
	Confidence float64
	Box        image.Rectangle
}

// ObjectDetector produces labelled boxes for a frame. Implementations must
// be safe for sequential calls from a single worker goroutine.
type ObjectDetector interface {
	DetectObjects(frame *Frame) ([]ObjectBox, error)
	Close() error
}

// objectNet runs a YOLOv8 detection ONNX model through the OpenCV DNN module.
type objectNet struct {
	net        gocv.Net
	classNames []string
	inputSize  int
	confFloor  float32
	nmsThresh  float32
	mu         sync.Mutex
}

// FireClassNames matches the fire_smoke_yolov8 training set ordering.
var FireClassNames = []string{"fire", "smoke", "other"}

// NewObjectNet loads a detection model from disk with the given class list.
func NewObjectNet(modelPath string, classNames []string, confFloor float64) (ObjectDetector, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("object model not readable: %w", err)
	}
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("object model %s failed to load", modelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &objectNet{
		net:        net,
		classNames: classNames,
		inputSize:  640,
		confFloor:  float32(confFloor),
		nmsThresh:  0.45,
	}, nil
}

func (n *objectNet) DetectObjects(frame *Frame) ([]ObjectBox, error) {
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

	// YOLOv8 detect output is [1, 4+classes, anchors].
	dims := output.Size()
	if len(dims) < 3 {
		return nil, fmt.Errorf("unexpected detection output shape %v", dims)
	}
	rows := dims[1]
	anchors := dims[2]
	numClasses := rows - 4
	reshaped := output.Reshape(1, rows)
	defer reshaped.Close()

	scaleX := float64(frame.Width) / float64(n.inputSize)
	scaleY := float64(frame.Height) / float64(n.inputSize)

	var boxes []image.Rectangle
	var scores []float32
	var classIDs []int

	for a := 0; a < anchors; a++ {
		bestClass := -1
		bestScore := float32(0)
		for c := 0; c < numClasses; c++ {
			s := reshaped.GetFloatAt(4+c, a)
			if s > bestScore {
				bestScore = s
				bestClass = c
			}
		}
		if bestClass < 0 || bestScore < n.confFloor {
			continue
		}

		cx := float64(reshaped.GetFloatAt(0, a)) * scaleX
		cy := float64(reshaped.GetFloatAt(1, a)) * scaleY
		w := float64(reshaped.GetFloatAt(2, a)) * scaleX
		h := float64(reshaped.GetFloatAt(3, a)) * scaleY

		boxes = append(boxes, image.Rect(int(cx-w/2), int(cy-h/2), int(cx+w/2), int(cy+h/2)))
		scores = append(scores, bestScore)
		classIDs = append(classIDs, bestClass)
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	keep := gocv.NMSBoxes(boxes, scores, n.confFloor, n.nmsThresh)
	results := make([]ObjectBox, 0, len(keep))
	for _, idx := range keep {
		if idx < 0 || idx >= len(boxes) {
			continue
		}
		label := "other"
		if classIDs[idx] < len(n.classNames) {
			label = n.classNames[classIDs[idx]]
		}
		results = append(results, ObjectBox{
			Label:      label,
			Confidence: float64(scores[idx]),
			Box:        boxes[idx],
		})
	}
	return results, nil
}

func (n *objectNet) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.net.Close()
}
