package engine

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"

	"ObjectCounter/detect"

	"github.com/lucasb-eyer/go-colorful"
	"gocv.io/x/gocv"
)

const UNREGISTERED = 0x0001
const IDLE = 0x0003

// SSD detection_out rows are [image, class, confidence, x1, y1, x2, y2].
const ssdRowLen = 7

var (
	ErrNotLoaded  = errors.New("detector model not loaded")
	ErrEmptyFrame = errors.New("frame is empty")
)

// ReadLabels reads one label per line, dropping blank lines and CRLF endings.
func ReadLabels(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var labels []string
	for _, l := range strings.Split(string(b), "\n") {
		l = strings.TrimSpace(strings.TrimRight(l, "\r"))
		if l != "" {
			labels = append(labels, l)
		}
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}

// ParseBackend maps an engine name to an OpenCV DNN backend.
func ParseBackend(engine string) (gocv.NetBackendType, error) {
	switch strings.ToUpper(engine) {
	case "DNN", "":
		return gocv.NetBackendOpenCV, nil
	case "DNN_OPENVINO":
		return gocv.NetBackendOpenVINO, nil
	case "DNN_CUDA":
		return gocv.NetBackendCUDA, nil
	default:
		return gocv.NetBackendDefault, fmt.Errorf("unsupported engine: %s", engine)
	}
}

// ParseTarget maps an accelerator name to an OpenCV DNN target.
func ParseTarget(accelerator string) (gocv.NetTargetType, error) {
	switch strings.ToUpper(accelerator) {
	case "CPU", "DEFAULT", "":
		return gocv.NetTargetCPU, nil
	case "GPU":
		return gocv.NetTargetFP32, nil
	case "MYRIAD":
		return gocv.NetTargetVPU, nil
	case "NVIDIA":
		return gocv.NetTargetCUDA, nil
	case "NVIDIA_FP16":
		return gocv.NetTargetCUDAFP16, nil
	default:
		return gocv.NetTargetCPU, fmt.Errorf("unsupported accelerator: %s", accelerator)
	}
}

// LabelColors assigns every label a fixed color spread evenly over the hue wheel.
func LabelColors(labels []string) map[string]color.RGBA {
	colors := make(map[string]color.RGBA, len(labels))
	n := len(labels)
	for i, l := range labels {
		c := colorful.Hsv(360*float64(i)/float64(n), 0.85, 0.95)
		r, g, b := c.RGB255()
		colors[l] = color.RGBA{R: r, G: g, B: b, A: 0}
	}
	return colors
}

// parseSSD converts raw detection_out values into predictions for a width x height frame.
func parseSSD(data []float32, width, height int, confidence float32, labels []string) []detect.Prediction {
	bounds := image.Rect(0, 0, width, height)
	preds := make([]detect.Prediction, 0)
	for i := 0; i+ssdRowLen <= len(data); i += ssdRowLen {
		row := data[i : i+ssdRowLen]
		conf := row[2]
		if conf < confidence {
			continue
		}
		classIdx := int(row[1])
		if classIdx < 0 || classIdx >= len(labels) {
			continue
		}
		box := image.Rect(
			int(row[3]*float32(width)),
			int(row[4]*float32(height)),
			int(row[5]*float32(width)),
			int(row[6]*float32(height)),
		).Intersect(bounds)
		if box.Empty() {
			continue
		}
		preds = append(preds, detect.Prediction{
			Label:      labels[classIdx],
			Index:      classIdx,
			Confidence: float64(conf),
			Box:        box,
		})
	}
	return preds
}
