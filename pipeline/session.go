package pipeline

import (
	"fmt"
	"io"
	"strings"
	"time"

	"ObjectCounter/fps"
	iface "ObjectCounter/interface"
	"ObjectCounter/logger"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Session owns the camera and the sink for the lifetime of one Loop.
type Session struct {
	OpenSource func() (iface.FrameSource, error)
	OpenSink   func() (iface.Sink, error)
	Detector   iface.Detector
	Objects    []string
	Confidence float32
	Warmup     time.Duration
	Tracker    *fps.Tracker
	Observers  []Observer
	Out        io.Writer

	// Sleep waits out the camera warm-up; nil means time.Sleep.
	Sleep func(time.Duration)
	// Now stamps frames; nil means time.Now.
	Now func() time.Time
}

// Run opens the camera and the sink, runs the loop and always releases both.
// The shutdown report is written on every exit path.
func (s *Session) Run() (err error) {
	defer func() {
		s.Tracker.Stop()
		err = multierr.Append(err, Report(s.Out, s.Tracker))
	}()

	src, err := s.OpenSource()
	if err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	defer func() {
		err = multierr.Append(err, src.Close())
	}()

	sink, err := s.OpenSink()
	if err != nil {
		return fmt.Errorf("open streamer: %w", err)
	}
	defer func() {
		err = multierr.Append(err, sink.Close())
	}()

	if s.Warmup > 0 {
		logger.Log().Info("Waiting for camera warm-up", zap.Duration("warmup", s.Warmup))
		if s.Sleep != nil {
			s.Sleep(s.Warmup)
		} else {
			time.Sleep(s.Warmup)
		}
	}

	s.Tracker.Start()
	loop := &Loop{
		Source:     src,
		Detector:   s.Detector,
		Sink:       sink,
		Objects:    s.Objects,
		Confidence: s.Confidence,
		Observers:  s.Observers,
		Now:        s.Now,
	}
	if err := loop.Run(s.Tracker); err != nil {
		logger.Log().Error("Capture loop stopped", zap.Error(err))
		return err
	}
	logger.Log().Info("Exit requested, stopping capture loop")
	return nil
}

// Report prints elapsed time and average frame rate of a stopped tracker.
func Report(w io.Writer, tracker *fps.Tracker) error {
	rate, err := tracker.ComputeFPS()
	if err != nil {
		return err
	}
	elapsed := tracker.Elapsed()
	logger.Log().Info("Capture finished",
		zap.Int("frames", tracker.Frames()),
		zap.Duration("elapsed", elapsed),
		zap.Float64("fps", rate))
	_, err = fmt.Fprintf(w, "elapsed time: %.2f\napprox. FPS: %.2f\nProgram Ending\n", elapsed.Seconds(), rate)
	return err
}

// PrintStartup writes the detector configuration and the allow-list.
func PrintStartup(w io.Writer, info iface.EngineInfo, objects []string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Object Counter")
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, WidthMax: 64}})
	t.AppendRows([]table.Row{
		{"Engine", info.Engine},
		{"Accelerator", info.Accelerator},
		{"Model", info.ModelID},
		{"Labels", strings.Join(info.Labels, ", ")},
		{"Detecting", strings.Join(objects, ", ")},
	})
	t.Render()
	logger.Log().Info("Detector ready",
		zap.String("Engine", info.Engine),
		zap.String("Accelerator", info.Accelerator),
		zap.String("Model", info.ModelID),
		zap.Strings("Labels", info.Labels),
		zap.Strings("Detecting", objects))
}
