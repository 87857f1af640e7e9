package annotate

import (
	"image"
	"testing"

	"gocv.io/x/gocv"

	"github.com/nzbri/movid/internal/detector"
	"github.com/nzbri/movid/internal/landmark"
)

func TestToPixels(t *testing.T) {
	got := ToPixels([]landmark.Point{{X: 0.5, Y: 0.25}, {X: 0, Y: 1}}, 200, 100)
	want := []image.Point{{X: 100, Y: 25}, {X: 0, Y: 100}}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("point %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLabelOrigin(t *testing.T) {
	got := LabelOrigin([]image.Point{{X: 40, Y: 80}, {X: 30, Y: 90}, {X: 50, Y: 60}})
	if want := image.Pt(30, 60-LabelMargin); got != want {
		t.Errorf("LabelOrigin() = %v, want %v", got, want)
	}
}

func TestDraw_ChangesOnlyTheCopy(t *testing.T) {
	frame := gocv.NewMatWithSize(120, 160, gocv.MatTypeCV8UC3)
	defer frame.Close()

	annotated := frame.Clone()
	defer annotated.Close()

	hands, _ := landmark.SchemaFor(landmark.Hands)
	hand := detector.OpenPalmHand()
	before := append([]landmark.Point(nil), hand.Image...)

	New(nil).Draw(&annotated, hands, []landmark.Entity{hand})

	if gocv.CountNonZero(frame.Reshape(1, 0)) != 0 {
		t.Error("source frame was modified")
	}
	if gocv.CountNonZero(annotated.Reshape(1, 0)) == 0 {
		t.Error("nothing was drawn on the annotated copy")
	}
	for i := range before {
		if hand.Image[i] != before[i] {
			t.Fatalf("entity point %d modified", i)
		}
	}
}

func TestDraw_UnknownKindIsNoop(t *testing.T) {
	frame := gocv.NewMatWithSize(20, 20, gocv.MatTypeCV8UC3)
	defer frame.Close()

	New(map[landmark.Kind]Style{}).Draw(&frame, landmark.Schema{Kind: landmark.Pose}, []landmark.Entity{{Image: []landmark.Point{{X: 0.5, Y: 0.5}}}})

	if gocv.CountNonZero(frame.Reshape(1, 0)) != 0 {
		t.Error("frame modified for unstyled kind")
	}
}
