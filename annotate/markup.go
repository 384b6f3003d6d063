// Package annotate draws predictions and captions onto frames.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"ObjectCounter/detect"

	"gocv.io/x/gocv"
)

// TimestampLayout matches the default string form of a local wall-clock time.
const TimestampLayout = "2006-01-02 15:04:05.000000"

var (
	captionColor  = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	fallbackColor = color.RGBA{R: 255, G: 255, B: 255, A: 0}
	tableColor    = color.RGBA{R: 255, G: 255, B: 255, A: 0}
	shadowColor   = color.RGBA{R: 0, G: 0, B: 0, A: 0}
)

const (
	boxThickness = 2
	labelScale   = 0.5
	tableScale   = 0.5
	tableLine    = 18
)

// Markup draws a box and label name for every prediction. Confidences are not shown.
func Markup(img *gocv.Mat, preds []detect.Prediction, colors map[string]color.RGBA) {
	for _, p := range preds {
		c, ok := colors[p.Label]
		if !ok {
			c = fallbackColor
		}
		gocv.Rectangle(img, p.Box, c, boxThickness)
		size := gocv.GetTextSize(p.Label, gocv.FontHersheySimplex, labelScale, 1)
		y := p.Box.Min.Y - 4
		if y-size.Y < 0 {
			y = p.Box.Min.Y + size.Y + 4
		}
		gocv.PutText(img, p.Label, image.Pt(p.Box.Min.X, y), gocv.FontHersheySimplex, labelScale, c, boxThickness)
	}
}

// Timestamp writes now near the bottom-left corner.
func Timestamp(img *gocv.Mat, now time.Time) {
	h := img.Rows()
	gocv.PutText(img, now.Format(TimestampLayout), image.Pt(10, h-5), gocv.FontHersheySimplex, 0.5, captionColor, 2)
}

// TableLines renders counts as "label: n" rows in allow-list order.
func TableLines(labels []string, counts detect.Counts) []string {
	lines := make([]string, 0, len(labels))
	for _, l := range labels {
		lines = append(lines, fmt.Sprintf("%s: %d", l, counts[l]))
	}
	return lines
}

// CountTable draws the per-label counts in the top-left corner.
func CountTable(img *gocv.Mat, labels []string, counts detect.Counts) {
	for i, line := range TableLines(labels, counts) {
		org := image.Pt(10, tableLine*(i+1))
		gocv.PutText(img, line, org.Add(image.Pt(1, 1)), gocv.FontHersheySimplex, tableScale, shadowColor, 2)
		gocv.PutText(img, line, org, gocv.FontHersheySimplex, tableScale, tableColor, 1)
	}
}
