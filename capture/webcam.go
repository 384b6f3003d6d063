// Package capture reads frames from a local camera.
package capture

import (
	"errors"
	"fmt"
	"sync"

	iface "ObjectCounter/interface"
	"ObjectCounter/logger"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// ErrReadFailed is returned when the camera produces no frame.
var ErrReadFailed = errors.New("cannot read frame from camera")

// Webcam is a FrameSource backed by an OpenCV video capture device.
type Webcam struct {
	index     int
	mu        sync.Mutex
	cap       *gocv.VideoCapture
	closeOnce sync.Once
}

var _ iface.FrameSource = (*Webcam)(nil)

// Open opens the camera at index. Zero width or height keeps the device default.
func Open(index, width, height int) (*Webcam, error) {
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", index, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("open camera %d: device not available", index)
	}
	if width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	logger.Log().Info("Camera opened",
		zap.Int("index", index),
		zap.Float64("width", vc.Get(gocv.VideoCaptureFrameWidth)),
		zap.Float64("height", vc.Get(gocv.VideoCaptureFrameHeight)))
	return &Webcam{index: index, cap: vc}, nil
}

// Read fills dst with the next frame.
func (w *Webcam) Read(dst *gocv.Mat) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cap == nil {
		return fmt.Errorf("camera %d: %w", w.index, ErrReadFailed)
	}
	if ok := w.cap.Read(dst); !ok || dst.Empty() {
		return fmt.Errorf("camera %d: %w", w.index, ErrReadFailed)
	}
	return nil
}

// Close releases the device. It is safe to call more than once.
func (w *Webcam) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.cap != nil {
			err = w.cap.Close()
			w.cap = nil
		}
		logger.Log().Info("Camera closed", zap.Int("index", w.index))
	})
	return err
}
