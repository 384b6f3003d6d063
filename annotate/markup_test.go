package annotate

import (
	"image"
	"image/color"
	"testing"
	"time"

	"ObjectCounter/detect"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestTableLines(t *testing.T) {
	lines := TableLines([]string{"person", "chair"}, detect.Counts{"person": 3})
	assert.Equal(t, []string{"person: 3", "chair: 0"}, lines)
}

func blank(rows, cols int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rows, cols, gocv.MatTypeCV8UC3)
}

func lit(img gocv.Mat, row, col int) bool {
	v := img.GetVecbAt(row, col)
	return v[0] != 0 || v[1] != 0 || v[2] != 0
}

// textWidth measures the lit columns in rows [top, bottom).
func textWidth(img gocv.Mat, top, bottom int) int {
	minX, maxX := img.Cols(), -1
	for r := top; r < bottom; r++ {
		for c := 0; c < img.Cols(); c++ {
			if lit(img, r, c) {
				minX = min(minX, c)
				maxX = max(maxX, c)
			}
		}
	}
	if maxX < 0 {
		return 0
	}
	return maxX - minX + 1
}

func TestMarkup(t *testing.T) {
	t.Run("boxes use the label color", func(t *testing.T) {
		img := blank(120, 160)
		defer img.Close()
		preds := []detect.Prediction{{Label: "person", Confidence: 0.9, Box: image.Rect(10, 10, 60, 100)}}
		Markup(&img, preds, map[string]color.RGBA{"person": {R: 255}})

		for _, pt := range []image.Point{{10, 80}, {59, 50}, {40, 99}} {
			v := img.GetVecbAt(pt.Y, pt.X)
			assert.Equal(t, []uint8{0, 0, 255}, []uint8{v[0], v[1], v[2]}, "border pixel %v", pt)
		}
		assert.False(t, lit(img, 110, 150))
		assert.False(t, lit(img, 80, 35))
	})

	t.Run("unknown labels use the fallback color", func(t *testing.T) {
		img := blank(120, 160)
		defer img.Close()
		Markup(&img, []detect.Prediction{{Label: "chair", Box: image.Rect(80, 30, 150, 110)}}, nil)
		v := img.GetVecbAt(70, 80)
		assert.Equal(t, []uint8{255, 255, 255}, []uint8{v[0], v[1], v[2]})
	})

	t.Run("confidence is not drawn", func(t *testing.T) {
		img := blank(120, 200)
		defer img.Close()
		box := image.Rect(10, 50, 190, 115)
		Markup(&img, []detect.Prediction{{Label: "chair", Confidence: 0.87, Box: box}}, map[string]color.RGBA{"chair": {G: 255}})

		labelOnly := gocv.GetTextSize("chair", gocv.FontHersheySimplex, labelScale, boxThickness)
		withConf := gocv.GetTextSize("chair 0.87", gocv.FontHersheySimplex, labelScale, boxThickness)
		// the caption sits above the box top edge
		width := textWidth(img, 0, box.Min.Y-boxThickness-1)
		require.NotZero(t, width)
		assert.LessOrEqual(t, width, labelOnly.X+2)
		assert.GreaterOrEqual(t, width, labelOnly.X-10)
		assert.Less(t, width, withConf.X-10)
	})

	t.Run("no predictions draws nothing", func(t *testing.T) {
		img := blank(60, 80)
		defer img.Close()
		Markup(&img, nil, nil)
		assert.Zero(t, textWidth(img, 0, img.Rows()))
	})
}

func TestCaptions(t *testing.T) {
	img := blank(120, 160)
	defer img.Close()
	Timestamp(&img, time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC))

	green := channel(img, 1)
	defer green.Close()
	red := channel(img, 2)
	defer red.Close()
	assert.Greater(t, gocv.CountNonZero(green), 0)
	assert.Zero(t, gocv.CountNonZero(red))
	assert.False(t, lit(img, 10, 150))

	CountTable(&img, []string{"person", "chair"}, detect.Counts{"person": 1})
	assert.Equal(t, 120, img.Rows())
	assert.Equal(t, 160, img.Cols())
	assert.True(t, textWidth(img, 0, tableLine*2+4) > 0)
}

func channel(img gocv.Mat, idx int) gocv.Mat {
	chans := gocv.Split(img)
	for i, c := range chans {
		if i != idx {
			c.Close()
		}
	}
	return chans[idx]
}

func TestTimestampLayout(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC)
	assert.Equal(t, "2026-01-02 03:04:05.000006", ts.Format(TimestampLayout))
}
