package frameproc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gocv.io/x/gocv"

	"github.com/nzbri/movid/internal/catalog"
	"github.com/nzbri/movid/internal/detector"
	"github.com/nzbri/movid/internal/fault"
	"github.com/nzbri/movid/internal/landmark"
	"github.com/nzbri/movid/internal/testutil"
)

// recordingSink keeps the records it receives and checks the annotated frames.
type recordingSink struct {
	records []landmark.FrameRecord
	empty   int
	err     error
}

func (s *recordingSink) WriteFrame(f Frame) error {
	if s.err != nil {
		return s.err
	}
	if f.Annotated == nil || f.Annotated.Empty() {
		s.empty++
	}
	s.records = append(s.records, f.Record)
	return nil
}

func openSession(t *testing.T, scripts map[landmark.Kind]detector.ScriptFunc, kinds ...landmark.Kind) (*detector.Session, *detector.MockFactory) {
	t.Helper()
	factory := detector.NewMockFactory(scripts)
	session, err := detector.NewSet(testutil.Specs(kinds...), factory.Factory()).Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session, factory
}

func TestProcess_HandsInMiddleFrames(t *testing.T) {
	const fps = 10
	frames := testutil.Frames(10)
	defer testutil.CloseAll(frames)

	session, _ := openSession(t, map[landmark.Kind]detector.ScriptFunc{
		landmark.Hands: testutil.HandInFrames(2, 8, fps),
	}, landmark.Hands)

	sink := &recordingSink{}
	res, err := New(nil, zap.NewNop()).Process(context.Background(), catalog.Descriptor{Filename: "clip.MOV"},
		testutil.Source(frames, fps), session, sink)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if res.FramesDecoded != 10 || len(sink.records) != 10 {
		t.Fatalf("decoded %d, sink got %d, want 10", res.FramesDecoded, len(sink.records))
	}
	if sink.empty != 0 {
		t.Errorf("%d frames had no annotated image", sink.empty)
	}
	if res.Partial() {
		t.Errorf("result is partial: %+v", res)
	}
	if res.FramesWithDetections != 7 {
		t.Errorf("FramesWithDetections = %d, want 7", res.FramesWithDetections)
	}
	if want := 7 * landmark.NumHandLandmarks; res.Rows != want {
		t.Errorf("Rows = %d, want %d", res.Rows, want)
	}

	for i, rec := range sink.records {
		if rec.Frame != i+1 {
			t.Errorf("record %d has frame %d", i, rec.Frame)
		}
		hasHand := rec.Frame >= 2 && rec.Frame <= 8
		if got := len(rec.Detections) == 1; got != hasHand {
			t.Errorf("frame %d: detections = %d", rec.Frame, len(rec.Detections))
		}
	}
}

func TestProcess_SkipsUndecodableFrame(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	frames := testutil.Frames(5)
	defer testutil.CloseAll(frames)

	session, _ := openSession(t, map[landmark.Kind]detector.ScriptFunc{
		landmark.Hands: testutil.HandInFrames(1, 5, 10),
	}, landmark.Hands)

	sink := &recordingSink{}
	res, err := New(nil, zap.New(core)).Process(context.Background(), catalog.Descriptor{Filename: "clip.MOV"},
		testutil.Source(frames, 10, 3), session, sink)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	var got []int
	for _, rec := range sink.records {
		got = append(got, rec.Frame)
	}
	want := []int{1, 2, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frames = %v, want %v", got, want)
		}
	}

	if !res.Partial() || len(res.SkippedFrames) != 1 || res.SkippedFrames[0] != 3 {
		t.Errorf("SkippedFrames = %v", res.SkippedFrames)
	}
	if res.FramesRead != 5 {
		t.Errorf("FramesRead = %d, want 5", res.FramesRead)
	}

	skips := logs.FilterMessage("skipping frame").All()
	if len(skips) != 1 || skips[0].ContextMap()["frame"] != int64(3) {
		t.Errorf("skip log entries = %+v", skips)
	}
}

func TestProcess_TrackerFailureKeepsOtherTrackers(t *testing.T) {
	frames := testutil.Frames(3)
	defer testutil.CloseAll(frames)

	session, _ := openSession(t, map[landmark.Kind]detector.ScriptFunc{
		landmark.Hands: func(ts int64) ([]landmark.Entity, error) {
			if ts == testutil.TimestampOf(2, 10) {
				return nil, errors.New("tracking lost")
			}
			return []landmark.Entity{detector.ThumbsUpHand()}, nil
		},
		landmark.Face: func(int64) ([]landmark.Entity, error) {
			return []landmark.Entity{detector.FaceMesh()}, nil
		},
	}, landmark.Hands, landmark.Face)

	sink := &recordingSink{}
	res, err := New(nil, nil).Process(context.Background(), catalog.Descriptor{}, testutil.Source(frames, 10), session, sink)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(res.FailedDetections) != 1 || res.FailedDetections[0] != 2 || !res.Partial() {
		t.Errorf("FailedDetections = %v", res.FailedDetections)
	}
	second := sink.records[1]
	if len(second.Detections) != 1 || second.Detections[0].Kind != landmark.Face {
		t.Errorf("frame 2 detections = %+v", second.Detections)
	}
	first := sink.records[0]
	if len(first.Detections) != 2 || first.Detections[0].Kind != landmark.Hands || first.Detections[1].Kind != landmark.Face {
		t.Errorf("frame 1 detections out of tracker order")
	}
	if want := 2*landmark.NumHandLandmarks + 3*landmark.NumFaceLandmarks; res.Rows != want {
		t.Errorf("Rows = %d, want %d", res.Rows, want)
	}
}

func TestProcess_InvalidEntityIsDetectionFailure(t *testing.T) {
	frames := testutil.Frames(2)
	defer testutil.CloseAll(frames)

	session, _ := openSession(t, map[landmark.Kind]detector.ScriptFunc{
		landmark.Hands: func(ts int64) ([]landmark.Entity, error) {
			if ts == testutil.TimestampOf(1, 10) {
				return []landmark.Entity{{Label: "Left", Image: make([]landmark.Point, 5)}}, nil
			}
			return nil, nil
		},
	}, landmark.Hands)

	sink := &recordingSink{}
	res, err := New(nil, nil).Process(context.Background(), catalog.Descriptor{}, testutil.Source(frames, 10), session, sink)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(res.FailedDetections) != 1 || res.Rows != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestProcess_TrackerFailsOnEveryFrame(t *testing.T) {
	frames := testutil.Frames(4)
	defer testutil.CloseAll(frames)

	session, _ := openSession(t, map[landmark.Kind]detector.ScriptFunc{
		landmark.Hands: func(int64) ([]landmark.Entity, error) {
			return nil, errors.New("landmarker: bad model")
		},
	}, landmark.Hands)

	res, err := New(nil, nil).Process(context.Background(), catalog.Descriptor{}, testutil.Source(frames, 10, 2), session, &recordingSink{})
	if !errors.Is(err, fault.ErrDecode) {
		t.Fatalf("Process() error = %v, want ErrDecode", err)
	}
	if res.FramesDecoded != 3 || len(res.FailedDetections) != 3 || res.Rows != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestProcess_StoppedServiceFailsVideo(t *testing.T) {
	frames := testutil.Frames(5)
	defer testutil.CloseAll(frames)

	session, _ := openSession(t, map[landmark.Kind]detector.ScriptFunc{
		landmark.Hands: func(ts int64) ([]landmark.Entity, error) {
			if ts >= testutil.TimestampOf(3, 10) {
				return nil, fmt.Errorf("%w: read response: EOF", detector.ErrServiceStopped)
			}
			return []landmark.Entity{detector.OpenPalmHand()}, nil
		},
	}, landmark.Hands)

	sink := &recordingSink{}
	res, err := New(nil, nil).Process(context.Background(), catalog.Descriptor{}, testutil.Source(frames, 10), session, sink)
	if !errors.Is(err, fault.ErrDecode) || !errors.Is(err, detector.ErrServiceStopped) {
		t.Fatalf("Process() error = %v, want ErrDecode wrapping ErrServiceStopped", err)
	}
	if len(sink.records) != 2 || res.FramesDecoded != 3 {
		t.Errorf("records = %d, decoded = %d; want 2 and 3", len(sink.records), res.FramesDecoded)
	}
}

func TestProcess_TimestampsStrictlyIncrease(t *testing.T) {
	frames := testutil.Frames(4)
	defer testutil.CloseAll(frames)

	session, factory := openSession(t, nil, landmark.Hands)

	// A zero frame rate gives every frame timestamp 0.
	_, err := New(nil, nil).Process(context.Background(), catalog.Descriptor{}, testutil.Source(frames, 0), session, &recordingSink{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	calls := factory.Created()[0].Calls()
	want := []int64{0, 1, 2, 3}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls = %v, want %v", calls, want)
		}
	}
}

func TestProcess_NoDecodableFrames(t *testing.T) {
	frames := testutil.Frames(2)
	defer testutil.CloseAll(frames)

	session, _ := openSession(t, nil, landmark.Hands)
	_, err := New(nil, nil).Process(context.Background(), catalog.Descriptor{}, testutil.Source(frames, 10, 1, 2), session, &recordingSink{})
	if !errors.Is(err, fault.ErrDecode) {
		t.Fatalf("Process() error = %v, want ErrDecode", err)
	}
}

func TestProcess_SinkErrorStopsVideo(t *testing.T) {
	frames := testutil.Frames(3)
	defer testutil.CloseAll(frames)

	session, _ := openSession(t, nil, landmark.Hands)
	sinkErr := fault.Write("disk full", nil)
	res, err := New(nil, nil).Process(context.Background(), catalog.Descriptor{}, testutil.Source(frames, 10), session, &recordingSink{err: sinkErr})
	if !errors.Is(err, fault.ErrWrite) {
		t.Fatalf("Process() error = %v, want ErrWrite", err)
	}
	if res.FramesDecoded != 1 {
		t.Errorf("FramesDecoded = %d, want 1", res.FramesDecoded)
	}
}

func TestProcess_Cancelled(t *testing.T) {
	frames := []*gocv.Mat{}
	session, _ := openSession(t, nil, landmark.Hands)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil, nil).Process(ctx, catalog.Descriptor{}, testutil.Source(frames, 10), session, &recordingSink{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Process() error = %v, want context.Canceled", err)
	}
}
