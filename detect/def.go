package detect

import (
	"image"
	"time"
)

// Prediction is a single object found by the detector.
type Prediction struct {
	Label      string
	Index      int
	Confidence float64
	Box        image.Rectangle
}

// Result holds everything the detector produced for one frame.
type Result struct {
	Predictions []Prediction
	Duration    time.Duration
}

// Counts maps an allow-listed label to the number of predictions carrying it.
type Counts map[string]int

// Frame is the outcome of one loop iteration after filtering and counting.
type Frame struct {
	Predictions []Prediction
	Counts      Counts
	Text        []string
	Duration    time.Duration
}

// Postprocessor filters or modifies the predictions of a frame.
type Postprocessor func([]Prediction) []Prediction
