package pipeline

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"ObjectCounter/detect"
	"ObjectCounter/fps"
	iface "ObjectCounter/interface"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

var errCamera = errors.New("camera unplugged")

type mockSource struct {
	clk      *clock.Mock
	interval time.Duration
	failAt   int
	reads    int
	closed   bool
	closeErr error
}

func (m *mockSource) Read(dst *gocv.Mat) error {
	m.reads++
	if m.failAt > 0 && m.reads >= m.failAt {
		return errCamera
	}
	if m.clk != nil {
		m.clk.Add(m.interval)
	}
	frame := gocv.NewMatWithSize(120, 160, gocv.MatTypeCV8UC3)
	defer frame.Close()
	frame.CopyTo(dst)
	return nil
}

func (m *mockSource) Close() error {
	m.closed = true
	return m.closeErr
}

type mockDetector struct {
	preds []detect.Prediction
	err   error
	calls int
}

func (m *mockDetector) Detect(frame gocv.Mat, confidence float32) (detect.Result, error) {
	m.calls++
	if m.err != nil {
		return detect.Result{}, m.err
	}
	return detect.Result{Predictions: m.preds, Duration: 20 * time.Millisecond}, nil
}

func (m *mockDetector) Info() iface.EngineInfo {
	return iface.EngineInfo{Engine: "DNN", Accelerator: "CPU", ModelID: "mock/ssd", Labels: []string{"background", "chair", "dog", "person"}}
}

func (m *mockDetector) Colors() map[string]color.RGBA {
	return map[string]color.RGBA{"person": {R: 255}, "chair": {G: 255}}
}

func (m *mockDetector) Close() error { return nil }

type mockSink struct {
	mu       sync.Mutex
	exitAt   int
	failAt   int
	texts    [][]string
	closed   bool
	closeErr error
}

func (m *mockSink) Send(frame gocv.Mat, text []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAt > 0 && len(m.texts)+1 >= m.failAt {
		return errors.New("viewer gone")
	}
	m.texts = append(m.texts, text)
	return nil
}

func (m *mockSink) ExitRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exitAt > 0 && len(m.texts) >= m.exitAt
}

func (m *mockSink) Close() error {
	m.closed = true
	return m.closeErr
}

type recorder struct {
	frames []detect.Frame
	stats  []fps.Stats
}

func (r *recorder) ObserveFrame(frame detect.Frame, stats fps.Stats) {
	r.frames = append(r.frames, frame)
	r.stats = append(r.stats, stats)
}

func scenarioPreds() []detect.Prediction {
	return []detect.Prediction{
		{Label: "person", Index: 3, Confidence: 0.9, Box: image.Rect(10, 10, 50, 100)},
		{Label: "dog", Index: 2, Confidence: 0.8, Box: image.Rect(60, 60, 90, 110)},
		{Label: "person", Index: 3, Confidence: 0.7, Box: image.Rect(100, 10, 150, 100)},
		{Label: "chair", Index: 1, Confidence: 0.6, Box: image.Rect(20, 70, 60, 115)},
	}
}

type harness struct {
	clk     *clock.Mock
	src     *mockSource
	det     *mockDetector
	sink    *mockSink
	rec     *recorder
	out     bytes.Buffer
	slept   []time.Duration
	session *Session
}

func newHarness() *harness {
	h := &harness{
		clk:  clock.NewMock(),
		det:  &mockDetector{preds: scenarioPreds()},
		sink: &mockSink{exitAt: 1},
		rec:  &recorder{},
	}
	h.src = &mockSource{clk: h.clk, interval: 100 * time.Millisecond}
	h.session = &Session{
		OpenSource: func() (iface.FrameSource, error) { return h.src, nil },
		OpenSink:   func() (iface.Sink, error) { return h.sink, nil },
		Detector:   h.det,
		Objects:    []string{"person", "chair"},
		Confidence: 0.5,
		Warmup:     2 * time.Second,
		Tracker:    fps.New(h.clk),
		Observers:  []Observer{h.rec},
		Out:        &h.out,
		Sleep:      func(d time.Duration) { h.slept = append(h.slept, d) },
		Now:        h.clk.Now,
	}
	return h
}

func TestSession_EndToEnd(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.session.Run())

	assert.Equal(t, []time.Duration{2 * time.Second}, h.slept)
	require.Len(t, h.sink.texts, 1)
	assert.Equal(t, []string{
		"Model: mock/ssd",
		"Inference time: 0.020 s",
		"Object counts:",
		"person: 2",
		"chair: 1",
	}, h.sink.texts[0])

	require.Len(t, h.rec.frames, 1)
	f := h.rec.frames[0]
	require.Len(t, f.Predictions, 3)
	assert.Equal(t, "person", f.Predictions[0].Label)
	assert.Equal(t, "person", f.Predictions[1].Label)
	assert.Equal(t, "chair", f.Predictions[2].Label)
	assert.Equal(t, detect.Counts{"person": 2, "chair": 1}, f.Counts)

	assert.True(t, h.src.closed)
	assert.True(t, h.sink.closed)
	assert.Contains(t, h.out.String(), "Program Ending")
}

func TestSession_AverageFPS(t *testing.T) {
	h := newHarness()
	h.sink.exitAt = 10
	require.NoError(t, h.session.Run())

	assert.Equal(t, 10, h.session.Tracker.Frames())
	assert.Equal(t, time.Second, h.session.Tracker.Elapsed())
	rate, err := h.session.Tracker.ComputeFPS()
	require.NoError(t, err)
	assert.InDelta(t, 10.0, rate, 1e-9)
	assert.Equal(t, "elapsed time: 1.00\napprox. FPS: 10.00\nProgram Ending\n", h.out.String())

	require.Len(t, h.rec.stats, 10)
	assert.Equal(t, 10, h.rec.stats[9].Frames)
}

func TestSession_Errors(t *testing.T) {
	t.Run("capture failure", func(t *testing.T) {
		h := newHarness()
		h.sink.exitAt = 0
		h.src.failAt = 4
		err := h.session.Run()
		assert.ErrorIs(t, err, errCamera)
		assert.Len(t, h.sink.texts, 3)
		assert.True(t, h.src.closed)
		assert.True(t, h.sink.closed)
		assert.Contains(t, h.out.String(), "approx. FPS: 10.00")
	})

	t.Run("detector failure", func(t *testing.T) {
		h := newHarness()
		h.det.err = errors.New("inference failed")
		err := h.session.Run()
		assert.ErrorIs(t, err, h.det.err)
		assert.Empty(t, h.sink.texts)
		assert.True(t, h.src.closed)
		assert.True(t, h.sink.closed)
		assert.Contains(t, h.out.String(), "Program Ending")
	})

	t.Run("publish failure", func(t *testing.T) {
		h := newHarness()
		h.sink.exitAt = 0
		h.sink.failAt = 2
		err := h.session.Run()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "viewer gone")
		assert.Len(t, h.sink.texts, 1)
		assert.Equal(t, 1, h.session.Tracker.Frames())
	})

	t.Run("sink cannot open", func(t *testing.T) {
		h := newHarness()
		h.session.OpenSink = func() (iface.Sink, error) { return nil, errors.New("port in use") }
		err := h.session.Run()
		require.Error(t, err)
		assert.True(t, h.src.closed)
		assert.Zero(t, h.det.calls)
		assert.Empty(t, h.slept)
		assert.Equal(t, "elapsed time: 0.00\napprox. FPS: 0.00\nProgram Ending\n", h.out.String())
	})

	t.Run("camera cannot open", func(t *testing.T) {
		h := newHarness()
		h.session.OpenSource = func() (iface.FrameSource, error) { return nil, errCamera }
		err := h.session.Run()
		assert.ErrorIs(t, err, errCamera)
		assert.False(t, h.sink.closed)
		assert.Contains(t, h.out.String(), "Program Ending")
	})

	t.Run("close errors are kept", func(t *testing.T) {
		h := newHarness()
		h.src.closeErr = errors.New("release camera")
		h.sink.closeErr = errors.New("release streamer")
		err := h.session.Run()
		require.Error(t, err)
		assert.ErrorIs(t, err, h.src.closeErr)
		assert.ErrorIs(t, err, h.sink.closeErr)
	})
}

func TestLoop_StepWithoutObservers(t *testing.T) {
	sink := &mockSink{}
	l := &Loop{
		Detector:   &mockDetector{},
		Sink:       sink,
		Objects:    []string{"person", "chair", "sofa"},
		Confidence: 0.5,
	}
	img := gocv.NewMatWithSize(60, 80, gocv.MatTypeCV8UC3)
	defer img.Close()
	frame, err := l.Step(&img)
	require.NoError(t, err)
	assert.Empty(t, frame.Predictions)
	assert.Equal(t, detect.Counts{"person": 0, "chair": 0, "sofa": 0}, frame.Counts)
	require.Len(t, sink.texts, 1)
	assert.Equal(t, []string{"person: 0", "chair: 0", "sofa: 0"}, sink.texts[0][3:])
}

func TestPrintStartup(t *testing.T) {
	var out bytes.Buffer
	PrintStartup(&out, (&mockDetector{}).Info(), []string{"person", "chair"})
	s := out.String()
	assert.Contains(t, s, "Engine")
	assert.Contains(t, s, "mock/ssd")
	assert.Contains(t, s, "person, chair")
}
