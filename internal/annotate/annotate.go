// Package annotate draws detected landmarks onto video frames.
package annotate

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/nzbri/movid/internal/landmark"
)

// LabelMargin is the gap in pixels between an entity's label and its top-left landmark.
const LabelMargin = 10

// Style holds the drawing parameters for one tracker kind.
type Style struct {
	Point          color.RGBA
	PointRadius    int
	Connection     color.RGBA
	ConnectionSize int
	Label          color.RGBA
	DrawPoints     bool
	DrawLabel      bool
}

// DefaultStyles returns the styles used for each implemented kind.
func DefaultStyles() map[landmark.Kind]Style {
	return map[landmark.Kind]Style{
		landmark.Hands: {
			Point:          color.RGBA{R: 255, G: 48, B: 48, A: 255},
			PointRadius:    3,
			Connection:     color.RGBA{R: 224, G: 224, B: 224, A: 255},
			ConnectionSize: 2,
			Label:          color.RGBA{R: 54, G: 205, B: 88, A: 255},
			DrawPoints:     true,
			DrawLabel:      true,
		},
		landmark.Face: {
			Connection:     color.RGBA{R: 255, G: 204, B: 0, A: 255},
			ConnectionSize: 1,
		},
	}
}

// Annotator draws entities on frames.
type Annotator struct {
	styles map[landmark.Kind]Style
}

// New creates an Annotator. Nil styles selects DefaultStyles.
func New(styles map[landmark.Kind]Style) *Annotator {
	if styles == nil {
		styles = DefaultStyles()
	}
	return &Annotator{styles: styles}
}

// Draw overlays the entities of one tracker kind on dst. Points are taken from
// Entity.Image, normalized to the frame size. Entities are not modified.
func (a *Annotator) Draw(dst *gocv.Mat, schema landmark.Schema, entities []landmark.Entity) {
	if dst == nil || dst.Empty() || len(entities) == 0 {
		return
	}
	style, ok := a.styles[schema.Kind]
	if !ok {
		return
	}
	width, height := dst.Cols(), dst.Rows()

	for _, e := range entities {
		pixels := ToPixels(e.Image, width, height)

		if style.ConnectionSize > 0 {
			for _, c := range schema.Connections {
				if c[0] >= len(pixels) || c[1] >= len(pixels) {
					continue
				}
				gocv.Line(dst, pixels[c[0]], pixels[c[1]], style.Connection, style.ConnectionSize)
			}
		}

		if style.DrawPoints {
			for _, p := range pixels {
				gocv.Circle(dst, p, style.PointRadius, style.Point, -1)
			}
		}

		if style.DrawLabel && e.Label != "" && len(pixels) > 0 {
			gocv.PutTextWithParams(dst, e.Label, LabelOrigin(pixels), gocv.FontHersheyDuplex, 1,
				style.Label, 1, gocv.LineAA, false)
		}
	}
}

// ToPixels converts normalized points to pixel coordinates.
func ToPixels(points []landmark.Point, width, height int) []image.Point {
	out := make([]image.Point, len(points))
	for i, p := range points {
		out[i] = image.Pt(int(p.X*float64(width)), int(p.Y*float64(height)))
	}
	return out
}

// LabelOrigin places a label above the top-left corner of the points' bounding box.
func LabelOrigin(pixels []image.Point) image.Point {
	minX, minY := pixels[0].X, pixels[0].Y
	for _, p := range pixels[1:] {
		minX = min(minX, p.X)
		minY = min(minY, p.Y)
	}
	return image.Pt(minX, minY-LabelMargin)
}
