package engine

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"
	"time"

	"ObjectCounter/detect"
	iface "ObjectCounter/interface"
	"ObjectCounter/logger"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// ModelConfig describes the network to load and how to feed it.
type ModelConfig struct {
	ID          string
	Weights     string
	Config      string
	Labels      []string
	Engine      string
	Accelerator string
	InputSize   int
	Scale       float64
	Mean        float64
}

// Detector is an OpenCV DNN object detector.
type Detector struct {
	ModelID     string
	Engine      string
	Accelerator string
	Names       []string
	InputSize   int
	Scale       float64
	Mean        float64
	State       int

	mu     sync.Mutex
	net    gocv.Net
	colors map[string]color.RGBA
}

var _ iface.Detector = (*Detector)(nil)

// Load reads the model files and prepares the network on the selected backend and target.
func Load(cfg ModelConfig) (*Detector, error) {
	if len(cfg.Labels) == 0 {
		return nil, fmt.Errorf("model %s has no labels", cfg.ID)
	}
	backend, err := ParseBackend(cfg.Engine)
	if err != nil {
		return nil, err
	}
	target, err := ParseTarget(cfg.Accelerator)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.Weights); err != nil {
		return nil, fmt.Errorf("model weights: %w", err)
	}
	if cfg.Config != "" {
		if _, err := os.Stat(cfg.Config); err != nil {
			return nil, fmt.Errorf("model config: %w", err)
		}
	}

	net := gocv.ReadNet(cfg.Weights, cfg.Config)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load model %s from %s", cfg.ID, cfg.Weights)
	}
	net.SetPreferableBackend(backend)
	net.SetPreferableTarget(target)

	d := &Detector{
		ModelID:     cfg.ID,
		Engine:      cfg.Engine,
		Accelerator: cfg.Accelerator,
		Names:       append([]string(nil), cfg.Labels...),
		InputSize:   cfg.InputSize,
		Scale:       cfg.Scale,
		Mean:        cfg.Mean,
		State:       IDLE,
		net:         net,
		colors:      LabelColors(cfg.Labels),
	}
	logger.Log().Info("Loaded model",
		zap.String("ModelID", d.ModelID),
		zap.String("Engine", d.Engine),
		zap.String("Accelerator", d.Accelerator),
		zap.Int("Labels", len(d.Names)))
	return d, nil
}

// Info returns the detector metadata.
func (d *Detector) Info() iface.EngineInfo {
	return iface.EngineInfo{
		Engine:      d.Engine,
		Accelerator: d.Accelerator,
		ModelID:     d.ModelID,
		Labels:      append([]string(nil), d.Names...),
	}
}

// Colors returns the display color of every label.
func (d *Detector) Colors() map[string]color.RGBA {
	return d.colors
}

// Detect runs one forward pass and returns predictions at or above confidence.
func (d *Detector) Detect(img gocv.Mat, confidence float32) (detect.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State != IDLE {
		return detect.Result{}, ErrNotLoaded
	}
	if img.Empty() {
		return detect.Result{}, ErrEmptyFrame
	}

	started := time.Now()
	size := image.Pt(d.InputSize, d.InputSize)
	blob := gocv.BlobFromImage(img, d.Scale, size, gocv.NewScalar(d.Mean, d.Mean, d.Mean, 0), false, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return detect.Result{}, fmt.Errorf("read detection output: %w", err)
	}
	preds := parseSSD(data, img.Cols(), img.Rows(), confidence, d.Names)
	return detect.Result{
		Predictions: preds,
		Duration:    time.Since(started),
	}, nil
}

// Close releases the network. Further Detect calls fail with ErrNotLoaded.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State != IDLE {
		return nil
	}
	d.State = UNREGISTERED
	return d.net.Close()
}
