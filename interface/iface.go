package iface

import (
	"image/color"

	"ObjectCounter/detect"

	"gocv.io/x/gocv"
)

// EngineInfo is the read-only metadata of a loaded detector.
type EngineInfo struct {
	Engine      string
	Accelerator string
	ModelID     string
	Labels      []string
}

// FrameSource yields camera frames.
type FrameSource interface {
	Read(dst *gocv.Mat) error
	Close() error
}

// Detector runs object detection over a frame.
type Detector interface {
	Detect(frame gocv.Mat, confidence float32) (detect.Result, error)
	Info() EngineInfo
	Colors() map[string]color.RGBA
	Close() error
}

// Sink receives annotated frames and reports when the viewer wants to stop.
type Sink interface {
	Send(frame gocv.Mat, text []string) error
	ExitRequested() bool
	Close() error
}
