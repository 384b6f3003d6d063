package detect

import (
	"fmt"
	"time"
)

// FilterByLabel keeps the predictions whose label is in labels, in their original order.
func FilterByLabel(preds []Prediction, labels []string) []Prediction {
	allowed := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		allowed[l] = struct{}{}
	}
	out := make([]Prediction, 0, len(preds))
	for _, p := range preds {
		if _, ok := allowed[p.Label]; ok {
			out = append(out, p)
		}
	}
	return out
}

// NewLabelFilter returns a Postprocessor that applies FilterByLabel with a fixed allow-list.
func NewLabelFilter(labels []string) Postprocessor {
	fixed := append([]string(nil), labels...)
	return func(in []Prediction) []Prediction {
		return FilterByLabel(in, fixed)
	}
}

// Count tallies predictions per label. Every label in labels is present, even
// when nothing was seen; labels outside the allow-list are never counted.
func Count(preds []Prediction, labels []string) Counts {
	counts := make(Counts, len(labels))
	for _, l := range labels {
		counts[l] = 0
	}
	for _, p := range preds {
		if _, ok := counts[p.Label]; ok {
			counts[p.Label]++
		}
	}
	return counts
}

// Summary builds the text block shown next to the stream.
func Summary(modelID string, duration time.Duration, labels []string, counts Counts) []string {
	text := make([]string, 0, len(labels)+3)
	text = append(text,
		fmt.Sprintf("Model: %s", modelID),
		fmt.Sprintf("Inference time: %1.3f s", duration.Seconds()),
		"Object counts:",
	)
	for _, l := range labels {
		text = append(text, fmt.Sprintf("%s: %d", l, counts[l]))
	}
	return text
}

// Tally runs keep, count and summary over one detection result. A nil keep
// filters by labels.
func Tally(res Result, keep Postprocessor, labels []string, modelID string) Frame {
	if keep == nil {
		keep = NewLabelFilter(labels)
	}
	preds := keep(res.Predictions)
	counts := Count(preds, labels)
	return Frame{
		Predictions: preds,
		Counts:      counts,
		Text:        Summary(modelID, res.Duration, labels, counts),
		Duration:    res.Duration,
	}
}
