package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nzbri/movid/internal/catalog"
	"github.com/nzbri/movid/internal/fault"
	"github.com/nzbri/movid/internal/metrics"
	"github.com/nzbri/movid/internal/store"
)

// processVideo runs one video through the pipeline and classifies the outcome.
// Every resource it opens (source, trackers, output session) is released before
// it returns, whatever the outcome.
func (p *Processor) processVideo(ctx context.Context, runID string, entry catalog.Entry) Bundle {
	tracer := otel.Tracer("app")
	video := entry.Video
	ctx, span := tracer.Start(ctx, "Processor.processVideo",
		trace.WithAttributes(attribute.String("video.path", video.Path), attribute.String("run.id", runID)))
	defer span.End()

	log := p.logger.With(zap.String("run_id", runID), zap.String("video", video.Filename))

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	b := Bundle{Video: video, Artifacts: p.writer.Paths(video), StartedAt: time.Now()}
	finish := func(status Status, err error) Bundle {
		b.Status, b.Err, b.FinishedAt = status, err, time.Now()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("video.status", string(status)))
		metrics.VideosProcessedTotal.WithLabelValues(string(status)).Inc()
		metrics.VideoProcessingDuration.WithLabelValues("video").Observe(b.FinishedAt.Sub(b.StartedAt).Seconds())
		return b
	}

	if entry.Err != nil {
		log.Error("video not found", zap.Error(entry.Err))
		return finish(StatusFailed, entry.Err)
	}

	if p.config.SkipProcessed && p.alreadyProcessed(video, b.Artifacts.Table) {
		log.Info("video already processed, skipping", zap.String("table", b.Artifacts.Table))
		return finish(StatusSkipped, nil)
	}

	log.Info("processing video", zap.String("path", video.Path), zap.String("task", video.Task))

	opened := time.Now()
	src, err := p.openSource(video.Path)
	if err != nil {
		log.Error("failed to open video", zap.Error(err))
		return finish(StatusFailed, err)
	}
	defer src.Close()
	meta := src.Metadata()
	metrics.VideoProcessingDuration.WithLabelValues("open").Observe(time.Since(opened).Seconds())
	log.Debug("video opened",
		zap.Float64("fps", meta.FPS),
		zap.Int("frame_count", meta.FrameCount),
		zap.Int("width", meta.Width),
		zap.Int("height", meta.Height))

	session, err := p.trackers.Open()
	if err != nil {
		log.Error("failed to start trackers", zap.Error(err))
		return finish(StatusFailed, fault.Decode("start trackers", err))
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("failed to close trackers", zap.Error(err))
		}
	}()

	sink, err := p.writer.Begin(video, meta)
	if err != nil {
		log.Error("failed to open outputs", zap.Error(err))
		return finish(StatusFailed, err)
	}

	res, err := p.frames.Process(ctx, video, src, session, sink)
	b.Result = res
	if err != nil {
		sink.Abort()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Warn("video interrupted", zap.Int("frames", res.FramesRead))
		} else {
			log.Error("video failed", zap.Error(err), zap.Int("frames", res.FramesRead))
		}
		return finish(StatusFailed, err)
	}

	artifacts, err := sink.Close()
	b.Artifacts = artifacts
	if err != nil {
		log.Error("failed to finalize outputs", zap.Error(err))
		return finish(StatusFailed, err)
	}
	metrics.LandmarkRowsTotal.Add(float64(artifacts.Rows))

	status := StatusSuccess
	var detail error
	if res.Partial() {
		status = StatusPartial
		detail = partialError(len(res.SkippedFrames), len(res.FailedDetections))
	}

	if p.archiver != nil {
		keys, err := p.archiver.Upload(ctx, runID, []string{artifacts.Video, artifacts.Thumbnail, artifacts.Table})
		b.Archived = keys
		if err != nil {
			log.Warn("failed to archive artifacts", zap.Error(err))
		}
	}

	log.Info("video processed",
		zap.String("status", string(status)),
		zap.Int("frames", res.FramesDecoded),
		zap.Ints("skipped_frames", res.SkippedFrames),
		zap.Int("rows", artifacts.Rows),
		zap.Int("thumbnail_frame", artifacts.ThumbnailFrame))
	return finish(status, detail)
}

// alreadyProcessed reports whether the ledger holds a usable result for video
// with the same trackers and its table is still on disk.
func (p *Processor) alreadyProcessed(video catalog.Descriptor, table string) bool {
	if p.store == nil {
		return false
	}
	if _, err := p.store.Outcomes().LatestProcessed(video.Path, p.features); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.logger.Warn("failed to query ledger", zap.String("video", video.Filename), zap.Error(err))
		}
		return false
	}
	_, err := os.Stat(table)
	return err == nil
}

// record writes the bundle to the ledger.
func (p *Processor) record(log *zap.Logger, runID string, b Bundle) {
	if p.store == nil {
		return
	}
	o := &store.Outcome{
		RunID:             runID,
		VideoPath:         b.Video.Path,
		OutputName:        b.Video.OutputName,
		Features:          p.features,
		Status:            string(b.Status),
		FramesRead:        b.Result.FramesRead,
		FramesDecoded:     b.Result.FramesDecoded,
		FramesSkipped:     len(b.Result.SkippedFrames),
		DetectionFailures: len(b.Result.FailedDetections),
		Rows:              b.Artifacts.Rows,
		StartedAt:         b.StartedAt,
		FinishedAt:        b.FinishedAt,
	}
	if b.Video.Path == "" {
		o.VideoPath = b.Video.Filename
	}
	if b.Err != nil {
		o.ErrorKind = fault.KindOf(b.Err)
		o.Error = b.Err.Error()
	}
	if b.Status == StatusSuccess || b.Status == StatusPartial {
		o.VideoOut = b.Artifacts.Video
		o.Thumbnail = b.Artifacts.Thumbnail
		o.TableOut = b.Artifacts.Table
	}
	if err := p.store.Outcomes().Record(o); err != nil {
		log.Warn("failed to record outcome", zap.String("video", b.Video.Filename), zap.Error(err))
	}
}

// partialError describes why a video is partial.
func partialError(skipped, failed int) error {
	return fmt.Errorf("%d frames skipped, %d detection failures", skipped, failed)
}
