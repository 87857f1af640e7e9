// Package app runs the video-to-landmark extraction pipeline over a catalog of videos.
package app

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/nzbri/movid/internal/annotate"
	"github.com/nzbri/movid/internal/archive"
	"github.com/nzbri/movid/internal/capture"
	"github.com/nzbri/movid/internal/catalog"
	"github.com/nzbri/movid/internal/detector"
	"github.com/nzbri/movid/internal/fault"
	"github.com/nzbri/movid/internal/frameproc"
	"github.com/nzbri/movid/internal/output"
	"github.com/nzbri/movid/internal/store"
)

// progressTemplate renders the per-run video bar.
const progressTemplate = `{{ string . "prefix" }} {{counters . "%s/%s" "%s/?"}} {{bar . }} {{percent . "%.01f%%" "?"}} {{etime . "%s elapsed"}}`

// Config holds the options of a run.
type Config struct {
	InputFolder    string
	SpecificVideos []string
	VideoSuffix    string
	TaskTypes      []string
	Track          []string
	ModelFolder    string

	VideoOutputFolder string
	ThumbnailFolder   string // defaults to VideoOutputFolder
	DataOutputFolder  string

	// Workers is the number of videos processed concurrently (default 1).
	Workers int
	// SkipProcessed skips videos the ledger records as already processed with
	// the same trackers, as long as their table still exists.
	SkipProcessed bool

	Detector    detector.Options
	Codec       string
	JPEGQuality int
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithStore records runs and outcomes in a ledger.
func WithStore(s *store.Store) Option {
	return func(p *Processor) { p.store = s }
}

// WithArchiver uploads the artifacts of every produced bundle.
func WithArchiver(a archive.Archiver) Option {
	return func(p *Processor) { p.archiver = a }
}

// WithDetectorFactory replaces the MediaPipe detectors.
func WithDetectorFactory(f detector.Factory) Option {
	return func(p *Processor) { p.detectorFactory = f }
}

// WithSourceOpener replaces the gocv file reader.
func WithSourceOpener(o capture.Opener) Option {
	return func(p *Processor) { p.openSource = o }
}

// WithOutputOptions passes options to the output writer.
func WithOutputOptions(opts ...output.Option) Option {
	return func(p *Processor) { p.outputOpts = append(p.outputOpts, opts...) }
}

// WithProgress renders a progress bar on w. Nil disables it.
func WithProgress(w io.Writer) Option {
	return func(p *Processor) { p.progress = w }
}

// WithObserver receives progress events. It is called from worker goroutines.
func WithObserver(fn func(Event)) Option {
	return func(p *Processor) { p.observers = append(p.observers, fn) }
}

// Processor orchestrates catalog, trackers, frame processing and output.
type Processor struct {
	config          Config
	catalog         *catalog.Catalog
	specs           []detector.Spec
	features        string
	trackers        *detector.Set
	writer          *output.Writer
	frames          *frameproc.Processor
	logger          *zap.Logger
	store           *store.Store
	archiver        archive.Archiver
	detectorFactory detector.Factory
	openSource      capture.Opener
	outputOpts      []output.Option
	progress        io.Writer
	observers       []func(Event)
}

// New validates the configuration and prepares a Processor. Every problem that
// would make the whole run useless is reported here as fault.ErrConfiguration,
// before any video is touched.
func New(config Config, opts ...Option) (*Processor, error) {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.ThumbnailFolder == "" {
		config.ThumbnailFolder = config.VideoOutputFolder
	}
	if config.Detector == (detector.Options{}) {
		config.Detector = detector.DefaultOptions()
	}

	p := &Processor{
		config:     config,
		logger:     zap.NewNop(),
		openSource: capture.OpenFile,
	}
	for _, opt := range opts {
		opt(p)
	}

	cat, err := catalog.New(catalog.Options{
		Root:      config.InputFolder,
		Suffix:    config.VideoSuffix,
		TaskCodes: config.TaskTypes,
		Specific:  config.SpecificVideos,
	})
	if err != nil {
		return nil, err
	}

	specs, err := detector.NewSpecs(config.Track, config.ModelFolder, config.Detector)
	if err != nil {
		return nil, err
	}

	if config.VideoOutputFolder == "" {
		return nil, fault.Configuration("annotated video output folder is required")
	}
	if config.DataOutputFolder == "" {
		return nil, fault.Configuration("landmark data output folder is required")
	}

	p.catalog = cat
	p.specs = specs
	p.features = detector.Features(specs)
	p.trackers = detector.NewSet(specs, p.detectorFactory)
	p.frames = frameproc.New(annotate.New(nil), p.logger)
	p.writer = output.NewWriter(output.Config{
		VideoFolder:     config.VideoOutputFolder,
		ThumbnailFolder: config.ThumbnailFolder,
		DataFolder:      config.DataOutputFolder,
		Features:        p.features,
		Codec:           config.Codec,
		JPEGQuality:     config.JPEGQuality,
	}, append([]output.Option{output.WithLogger(p.logger)}, p.outputOpts...)...)

	return p, nil
}

// Features returns the tracker suffix used in artifact names, e.g. "hands-face".
func (p *Processor) Features() string {
	return p.features
}

// Writer returns the output writer.
func (p *Processor) Writer() *output.Writer {
	return p.writer
}

// Videos runs discovery only and returns the videos a run would process.
func (p *Processor) Videos() ([]catalog.Entry, catalog.Stats, error) {
	return p.catalog.Scan()
}

// Run processes every cataloged video and returns one bundle per video in
// catalog order. A failing video never stops the others. The returned error is
// non-nil only when discovery fails, the trackers cannot start (a configuration
// error, reported before any video is opened), or ctx is cancelled; in the
// latter case the summary holds the videos finished so far.
func (p *Processor) Run(ctx context.Context) (Summary, error) {
	tracer := otel.Tracer("app")
	ctx, span := tracer.Start(ctx, "Processor.Run")
	defer span.End()

	summary := Summary{RunID: uuid.NewString(), StartedAt: time.Now()}
	log := p.logger.With(zap.String("run_id", summary.RunID))
	span.SetAttributes(attribute.String("run.id", summary.RunID))

	entries, stats, err := p.catalog.Scan()
	if err != nil {
		return summary, err
	}
	summary.Found, summary.Selected = stats.Found, stats.Selected
	if stats.Specific {
		log.Info("processing specific videos", zap.Int("videos", stats.Selected))
	} else {
		log.Info("videos discovered",
			zap.Int("found", stats.Found),
			zap.Int("selected", stats.Selected),
			zap.Strings("task_types", p.config.TaskTypes))
	}
	if len(entries) > 0 {
		if err := p.trackers.Check(); err != nil {
			log.Error("trackers unavailable", zap.Error(err))
			return summary, fault.Configuration("trackers unavailable: %v", err)
		}
	}

	log.Info("run started", zap.String("features", p.features), zap.Int("workers", p.config.Workers),
		zap.Time("started_at", summary.StartedAt))

	run := &store.Run{ID: summary.RunID, InputFolder: p.config.InputFolder, Features: p.features,
		Videos: len(entries), StartedAt: summary.StartedAt}
	if p.store != nil {
		if err := p.store.Runs().Create(run); err != nil {
			log.Warn("failed to record run", zap.Error(err))
		}
	}

	var bar *pb.ProgressBar
	if p.progress != nil {
		bar = pb.ProgressBarTemplate(progressTemplate).New(len(entries)).SetWriter(p.progress)
		bar.Set("prefix", "videos")
		bar.Start()
	}

	bundles := make([]Bundle, len(entries))
	done := make([]bool, len(entries))
	jobs := make(chan int)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for w := 0; w < p.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				b := p.processVideo(ctx, summary.RunID, entries[i])
				p.record(log, summary.RunID, b)

				mu.Lock()
				bundles[i] = b
				done[i] = true
				mu.Unlock()

				p.notify(Event{RunID: summary.RunID, Video: b.Video.Filename, Index: i + 1, Total: len(entries),
					Status: b.Status, Error: errString(b.Err)})
				if bar != nil {
					bar.Increment()
				}
			}
		}()
	}

dispatch:
	for i := range entries {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if bar != nil {
		bar.Finish()
	}

	for i := range entries {
		if done[i] {
			summary.Bundles = append(summary.Bundles, bundles[i])
		}
	}
	summary.FinishedAt = time.Now()
	summary.Cancelled = ctx.Err() != nil

	run.Status = store.RunCompleted
	if summary.Cancelled {
		run.Status = store.RunCancelled
	}
	run.Succeeded = summary.Count(StatusSuccess)
	run.Partial = summary.Count(StatusPartial)
	run.Failed = summary.Count(StatusFailed)
	run.Skipped = summary.Count(StatusSkipped)
	if p.store != nil {
		if err := p.store.Runs().Finish(run); err != nil {
			log.Warn("failed to finish run", zap.Error(err))
		}
	}

	p.notify(Event{RunID: summary.RunID, Index: len(summary.Bundles), Total: len(entries), Done: true})
	log.Info("run finished",
		zap.Int("success", run.Succeeded),
		zap.Int("partial", run.Partial),
		zap.Int("failed", run.Failed),
		zap.Int("skipped", run.Skipped),
		zap.Time("finished_at", summary.FinishedAt),
		zap.Duration("took", summary.Duration()))

	if summary.Cancelled {
		return summary, ctx.Err()
	}
	return summary, nil
}

func (p *Processor) notify(e Event) {
	for _, fn := range p.observers {
		fn(e)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
