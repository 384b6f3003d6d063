// Package pipeline drives the capture, detect, annotate and stream cycle.
package pipeline

import (
	"fmt"
	"time"

	"ObjectCounter/annotate"
	"ObjectCounter/detect"
	"ObjectCounter/fps"
	iface "ObjectCounter/interface"

	"gocv.io/x/gocv"
)

// Observer is told about every published frame.
type Observer interface {
	ObserveFrame(frame detect.Frame, stats fps.Stats)
}

// Loop holds the collaborators of one capture session.
type Loop struct {
	Source     iface.FrameSource
	Detector   iface.Detector
	Sink       iface.Sink
	Objects    []string
	Confidence float32
	Observers  []Observer

	// Now is the clock used for the on-frame timestamp; nil means time.Now.
	Now func() time.Time

	keep detect.Postprocessor
}

// Step detects, annotates and publishes one frame already held in img.
func (l *Loop) Step(img *gocv.Mat) (detect.Frame, error) {
	res, err := l.Detector.Detect(*img, l.Confidence)
	if err != nil {
		return detect.Frame{}, fmt.Errorf("detect: %w", err)
	}
	if l.keep == nil {
		l.keep = detect.NewLabelFilter(l.Objects)
	}
	info := l.Detector.Info()
	frame := detect.Tally(res, l.keep, l.Objects, info.ModelID)

	annotate.Markup(img, frame.Predictions, l.Detector.Colors())
	annotate.Timestamp(img, l.now())
	annotate.CountTable(img, l.Objects, frame.Counts)

	if err := l.Sink.Send(*img, frame.Text); err != nil {
		return frame, fmt.Errorf("publish: %w", err)
	}
	return frame, nil
}

// Run processes frames until the sink asks to exit or a collaborator fails.
func (l *Loop) Run(tracker *fps.Tracker) error {
	img := gocv.NewMat()
	defer img.Close()
	for {
		if err := l.Source.Read(&img); err != nil {
			return fmt.Errorf("capture: %w", err)
		}
		frame, err := l.Step(&img)
		if err != nil {
			return err
		}
		tracker.Update()
		if len(l.Observers) > 0 {
			stats := tracker.Snapshot()
			for _, o := range l.Observers {
				o.ObserveFrame(frame, stats)
			}
		}
		if l.Sink.ExitRequested() {
			return nil
		}
	}
}

func (l *Loop) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}
