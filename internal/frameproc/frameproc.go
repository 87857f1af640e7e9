// Package frameproc drives the trackers over the frames of one video.
package frameproc

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/nzbri/movid/internal/annotate"
	"github.com/nzbri/movid/internal/capture"
	"github.com/nzbri/movid/internal/catalog"
	"github.com/nzbri/movid/internal/detector"
	"github.com/nzbri/movid/internal/fault"
	"github.com/nzbri/movid/internal/landmark"
	"github.com/nzbri/movid/internal/metrics"
)

// Frame is one processed frame handed to a Sink.
// Annotated is owned by the processor and is only valid during WriteFrame.
type Frame struct {
	Index       int
	TimestampMs int64
	Annotated   *gocv.Mat
	Record      landmark.FrameRecord
}

// Sink receives processed frames in increasing index order.
type Sink interface {
	WriteFrame(f Frame) error
}

// Result summarizes the processing of one video.
type Result struct {
	FramesRead           int   // decoded plus skipped
	FramesDecoded        int   // frames passed to the trackers and the sink
	SkippedFrames        []int // indices that failed to decode
	FailedDetections     []int // indices where at least one tracker failed
	FramesWithDetections int
	Rows                 int
}

// Partial reports whether any frame was skipped or lost detections.
func (r Result) Partial() bool {
	return len(r.SkippedFrames) > 0 || len(r.FailedDetections) > 0
}

// Processor runs the trackers of a session over a video's frames.
type Processor struct {
	annotator *annotate.Annotator
	logger    *zap.Logger
}

// New creates a Processor. A nil annotator uses the default styles.
func New(annotator *annotate.Annotator, logger *zap.Logger) *Processor {
	if annotator == nil {
		annotator = annotate.New(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{annotator: annotator, logger: logger}
}

// Process reads every frame of src in order, runs each tracker of session on
// it, and passes the merged record and annotated copy to sink.
//
// A frame that fails to decode is logged and skipped. A tracker failing on a
// frame is logged and the frame is kept with the other trackers' results.
// Process returns an error only when the video as a whole cannot be used: no
// frame decodes, a tracker's service stops, trackers fail on every decoded
// frame, frames arrive out of order, the sink fails, or ctx is done.
func (p *Processor) Process(ctx context.Context, video catalog.Descriptor, src capture.Source, session *detector.Session, sink Sink) (Result, error) {
	tracer := otel.Tracer("frameproc")
	ctx, span := tracer.Start(ctx, "FrameProcessor.Process")
	defer span.End()
	span.SetAttributes(attribute.String("video.path", video.Path))

	log := p.logger.With(zap.String("video", video.Filename))

	var (
		res       Result
		lastIndex int
		lastTS    int64 = -1
	)

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		frame, err := src.ReadFrame()
		if errors.Is(err, capture.ErrEndOfStream) {
			break
		}
		if err != nil {
			index := frame.Index
			if index == 0 {
				index = lastIndex + 1
			}
			lastIndex = index
			res.FramesRead++
			res.SkippedFrames = append(res.SkippedFrames, index)
			metrics.FramesSkippedTotal.Inc()
			log.Warn("skipping frame", zap.Int("frame", index), zap.Error(err))
			continue
		}

		if frame.Index <= lastIndex {
			frame.Mat.Close()
			return res, fault.Decode(fmt.Sprintf("frame %d after frame %d", frame.Index, lastIndex), nil)
		}
		lastIndex = frame.Index
		res.FramesRead++
		res.FramesDecoded++

		// Trackers require strictly increasing timestamps.
		ts := frame.TimestampMs
		if ts <= lastTS {
			ts = lastTS + 1
		}
		lastTS = ts

		out, err := p.processFrame(log, frame, ts, session, &res)
		if err != nil {
			frame.Mat.Close()
			return res, fault.Decode(fmt.Sprintf("frame %d", frame.Index), err)
		}
		err = sink.WriteFrame(out)
		out.Annotated.Close()
		frame.Mat.Close()
		if err != nil {
			return res, err
		}

		metrics.FramesProcessedTotal.Inc()
		if n := out.Record.Rows(); n > 0 {
			res.FramesWithDetections++
			res.Rows += n
		}
	}

	span.SetAttributes(
		attribute.Int("frames.decoded", res.FramesDecoded),
		attribute.Int("frames.skipped", len(res.SkippedFrames)),
	)

	if res.FramesDecoded == 0 {
		return res, fault.Decode("no decodable frames", nil)
	}
	if len(res.FailedDetections) == res.FramesDecoded {
		return res, fault.Decode(fmt.Sprintf("trackers failed on all %d decoded frames", res.FramesDecoded), nil)
	}
	return res, nil
}

// processFrame runs every tracker on the decoded frame and draws all results
// on a single copy of it. It fails only when a tracker can serve no more frames.
func (p *Processor) processFrame(log *zap.Logger, frame capture.Frame, ts int64, session *detector.Session, res *Result) (Frame, error) {
	annotated := frame.Mat.Clone()
	record := landmark.FrameRecord{Frame: frame.Index, TimestampMs: frame.TimestampMs}
	failed := false

	for i := 0; i < session.Len(); i++ {
		d, schema := session.Tracker(i)

		entities, err := d.Detect(frame.Mat, ts)
		if errors.Is(err, detector.ErrServiceStopped) {
			annotated.Close()
			metrics.DetectionFailuresTotal.WithLabelValues(string(schema.Kind)).Inc()
			return Frame{}, fmt.Errorf("%s tracker: %w", schema.Kind, err)
		}
		if err == nil {
			err = validate(entities, schema)
		}
		if err != nil {
			failed = true
			metrics.DetectionFailuresTotal.WithLabelValues(string(schema.Kind)).Inc()
			log.Warn("tracker failed on frame",
				zap.Int("frame", frame.Index),
				zap.String("tracker", string(schema.Kind)),
				zap.Error(err))
			continue
		}

		for j, e := range entities {
			record.Detections = append(record.Detections, landmark.Detection{
				Kind:   schema.Kind,
				Index:  j,
				Label:  e.Label,
				Score:  e.Score,
				Points: append([]landmark.Point(nil), e.ExportPoints(schema)...),
			})
		}
		p.annotator.Draw(&annotated, schema, entities)
	}

	if failed {
		res.FailedDetections = append(res.FailedDetections, frame.Index)
	}

	return Frame{
		Index:       frame.Index,
		TimestampMs: frame.TimestampMs,
		Annotated:   &annotated,
		Record:      record,
	}, nil
}

func validate(entities []landmark.Entity, schema landmark.Schema) error {
	for i, e := range entities {
		if err := e.Validate(schema); err != nil {
			return fmt.Errorf("entity %d: %w", i, err)
		}
	}
	return nil
}
