// Package testutil builds synthetic frames, videos and detector scripts for tests.
package testutil

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/nzbri/movid/internal/capture"
	"github.com/nzbri/movid/internal/detector"
	"github.com/nzbri/movid/internal/landmark"
)

// Frame dimensions used by the synthetic fixtures.
const (
	Width  = 64
	Height = 48
)

// Frames creates n BGR frames, each with a distinct grey level and a square
// whose position depends on the frame index. The caller must close them.
func Frames(n int) []*gocv.Mat {
	frames := make([]*gocv.Mat, n)
	for i := range frames {
		m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(i*10%255), float64(i*10%255), float64(i*10%255), 0),
			Height, Width, gocv.MatTypeCV8UC3)
		x := (i * 4) % (Width - 8)
		gocv.Rectangle(&m, image.Rect(x, 8, x+8, 16), color.RGBA{R: 255, A: 255}, -1)
		frames[i] = &m
	}
	return frames
}

// CloseAll closes every frame.
func CloseAll(frames []*gocv.Mat) {
	for _, f := range frames {
		f.Close()
	}
}

// Source returns a MockSource over frames at fps, with failing frame indices.
func Source(frames []*gocv.Mat, fps float64, failing ...int) *capture.MockSource {
	return capture.NewMockSource(frames, fps, failing...)
}

// TimestampOf returns the timestamp a MockSource assigns to a 1-based frame index.
func TimestampOf(index int, fps float64) int64 {
	return capture.FallbackTimestamp(index, fps)
}

// HandInFrames returns a script reporting one open palm on frames first..last
// (1-based, inclusive) of a MockSource playing at fps, and nothing elsewhere.
func HandInFrames(first, last int, fps float64) detector.ScriptFunc {
	lo, hi := TimestampOf(first, fps), TimestampOf(last, fps)
	return func(ts int64) ([]landmark.Entity, error) {
		if ts >= lo && ts <= hi {
			return []landmark.Entity{detector.OpenPalmHand()}, nil
		}
		return nil, nil
	}
}

// Specs returns tracker specs for kinds without requiring model assets.
func Specs(kinds ...landmark.Kind) []detector.Spec {
	specs := make([]detector.Spec, 0, len(kinds))
	for _, k := range kinds {
		schema, _ := landmark.SchemaFor(k)
		specs = append(specs, detector.Spec{Kind: k, Schema: schema, Options: detector.DefaultOptions()})
	}
	return specs
}
