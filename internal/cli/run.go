package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nzbri/movid/internal/app"
	"github.com/nzbri/movid/internal/archive"
	"github.com/nzbri/movid/internal/catalog"
	"github.com/nzbri/movid/internal/config"
	"github.com/nzbri/movid/internal/detector"
	"github.com/nzbri/movid/internal/fault"
	"github.com/nzbri/movid/internal/server"
	"github.com/nzbri/movid/internal/store"
	"github.com/nzbri/movid/internal/tracing"
)

type runFlags struct {
	input       string
	videos      []string
	suffix      string
	taskTypes   []string
	track       []string
	models      string
	videoOutput string
	thumbOutput string
	dataOutput  string
	workers     int
	db          string
	addr        string

	skipProcessed bool
	dryRun        bool
	mkdir         bool
	serve         bool
	noProgress    bool
	noLedger      bool
}

// apply overrides cfg with every flag given on the command line.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("input") {
		cfg.InputFolder = config.ExpandTilde(f.input)
	}
	if changed("videos") {
		cfg.SpecificVideos = f.videos
	}
	if changed("suffix") {
		cfg.VideoSuffix = f.suffix
	}
	if changed("task-types") {
		cfg.TaskTypes = f.taskTypes
	}
	if changed("track") {
		cfg.Track = f.track
	}
	if changed("models") {
		cfg.ModelFolder = config.ExpandTilde(f.models)
	}
	if changed("video-output") {
		cfg.VideoOutputFolder = config.ExpandTilde(f.videoOutput)
	}
	if changed("thumbnail-output") {
		cfg.ThumbnailFolder = config.ExpandTilde(f.thumbOutput)
	}
	if changed("data-output") {
		cfg.DataOutputFolder = config.ExpandTilde(f.dataOutput)
	}
	if changed("workers") {
		cfg.Workers = f.workers
	}
	if changed("skip-processed") {
		cfg.SkipProcessed = f.skipProcessed
	}
	if changed("db") {
		cfg.DBPath = config.ExpandTilde(f.db)
	}
	if changed("addr") {
		cfg.ServerAddr = f.addr
	}
}

func NewRunCmd(deps *Dependencies) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every matching video",
		Long: "Discover videos under the input folder, keep those whose name contains a task code, and write the\n" +
			"annotated video, thumbnail and landmark table of each. Use --videos to process named files instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.apply(cmd, deps.Config)
			return runVideos(cmd, deps, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.input, "input", "i", "", "Input video folder, searched recursively")
	flags.StringSliceVar(&f.videos, "videos", nil, "Specific video files relative to the input folder (bypasses task filtering)")
	flags.StringVar(&f.suffix, "suffix", "", "Video filename suffix, case-sensitive (default .MOV)")
	flags.StringSliceVarP(&f.taskTypes, "task-types", "t", nil, "Task codes matched case-insensitively in filenames")
	flags.StringSliceVar(&f.track, "track", nil, "Trackers to run: hands, face")
	flags.StringVar(&f.models, "models", "", "Folder holding the landmarker model assets")
	flags.StringVar(&f.videoOutput, "video-output", "", "Annotated video output folder")
	flags.StringVar(&f.thumbOutput, "thumbnail-output", "", "Thumbnail output folder (default: video output folder)")
	flags.StringVar(&f.dataOutput, "data-output", "", "Landmark table output folder")
	flags.IntVarP(&f.workers, "workers", "w", 1, "Videos processed concurrently")
	flags.StringVar(&f.db, "db", "", "Ledger database path")
	flags.StringVar(&f.addr, "addr", "", "Status server address used with --serve")
	flags.BoolVar(&f.skipProcessed, "skip-processed", false, "Skip videos the ledger records as processed with the same trackers")
	flags.BoolVar(&f.dryRun, "dry-run", false, "List the videos that would be processed and exit")
	flags.BoolVar(&f.mkdir, "mkdir", false, "Create missing output folders")
	flags.BoolVar(&f.serve, "serve", false, "Serve run status, progress and metrics over HTTP while running")
	flags.BoolVar(&f.noProgress, "no-progress", false, "Disable the progress bar")
	flags.BoolVar(&f.noLedger, "no-ledger", false, "Do not record the run in the ledger")

	return cmd
}

func runVideos(cmd *cobra.Command, deps *Dependencies, f *runFlags) error {
	cfg := deps.Config
	log := deps.Logger
	out := cmd.OutOrStdout()

	if f.mkdir && !f.dryRun {
		if err := cfg.MakeOutputFolders(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []app.Option{app.WithLogger(log)}

	factory := deps.DetectorFactory
	if factory == nil && !f.dryRun {
		var err error
		if factory, err = mediaPipeFactory(cfg, cmd.ErrOrStderr()); err != nil {
			return err
		}
	}
	if factory != nil {
		opts = append(opts, app.WithDetectorFactory(factory))
	}
	if !f.noProgress {
		opts = append(opts, app.WithProgress(cmd.ErrOrStderr()))
	}

	var st *store.Store
	if !f.dryRun && !f.noLedger && cfg.DBPath != "" {
		var err error
		if st, err = openLedger(cfg.DBPath); err != nil {
			return err
		}
		defer st.Close()
		opts = append(opts, app.WithStore(st))
	}

	if ac, ok := cfg.ArchiveConfig(); ok && !f.dryRun {
		storage, err := archive.NewStorage(ac)
		if err != nil {
			return fault.Configuration("archive: %v", err)
		}
		if err := storage.EnsureBucket(ctx); err != nil {
			return fault.Configuration("archive: %v", err)
		}
		opts = append(opts, app.WithArchiver(storage))
	}

	var hub *server.ProgressHub
	if f.serve && !f.dryRun {
		hub = server.NewProgressHub(log)
		opts = append(opts, app.WithObserver(hub.Publish))
	}

	opts = append(opts, deps.AppOptions...)
	p, err := app.New(cfg.AppConfig(), opts...)
	if err != nil {
		return err
	}

	if f.dryRun {
		return preflight(out, p, cfg)
	}

	tp, err := tracing.InitTracer(ctx, cfg.OTLPEndpoint)
	if err != nil {
		log.Warn("tracing disabled", zap.Error(err))
	}
	if tp != nil {
		defer tp.Shutdown(context.Background())
	}

	if hub != nil {
		srvCtx, cancelSrv := context.WithCancel(ctx)
		srv := server.New(server.Config{Store: st, Progress: hub, Logger: log})
		done := make(chan error, 1)
		go func() { done <- srv.ListenAndServe(srvCtx, cfg.ServerAddr) }()
		defer func() {
			cancelSrv()
			if err := <-done; err != nil {
				log.Warn("status server stopped", zap.Error(err))
			}
		}()
	}

	summary, runErr := p.Run(ctx)
	if errors.Is(runErr, fault.ErrConfiguration) {
		return runErr
	}
	fmt.Fprintln(out)
	if err := summary.Write(out); err != nil {
		return err
	}

	switch {
	case errors.Is(runErr, context.Canceled):
		return fmt.Errorf("run interrupted after %d of %d videos", len(summary.Bundles), summary.Selected)
	case runErr != nil:
		return runErr
	}
	if n := summary.Count(app.StatusFailed); n > 0 {
		return fmt.Errorf("%d of %d videos failed", n, len(summary.Bundles))
	}
	return nil
}

// mediaPipeFactory builds landmarker subprocess detectors. A missing service
// is a configuration error, reported before any video is opened.
func mediaPipeFactory(cfg *config.Config, stderr io.Writer) (detector.Factory, error) {
	command := cfg.LandmarkerCommand
	if len(command) == 0 {
		var err error
		if command, err = detector.ServiceCommand(); err != nil {
			return nil, fault.Configuration("landmarker service: %v", err)
		}
	}
	return func(spec detector.Spec) (detector.Detector, error) {
		d, err := detector.NewMediaPipeDetector(spec, detector.MediaPipeConfig{Command: command, Stderr: stderr})
		if err != nil {
			return nil, err
		}
		return d, nil
	}, nil
}

func openLedger(path string) (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger folder: %w", err)
	}
	return store.New(path)
}

// preflight prints the videos a run would process.
func preflight(w io.Writer, p *app.Processor, cfg *config.Config) error {
	entries, stats, err := p.Videos()
	if err != nil {
		return err
	}

	f := NewFormatter(w)
	if stats.Specific {
		f.Info(fmt.Sprintf("%d specific videos requested", len(entries)))
	} else {
		f.Info(fmt.Sprintf("%d videos found, %d selected (task types: %s)",
			stats.Found, stats.Selected, strings.Join(cfg.TaskTypes, ", ")))
	}
	f.Info("trackers: " + p.Features())

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VIDEO\tTASK\tSUBJECT\tDATE\tTABLE")
	for _, e := range entries {
		if e.Err != nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t%s\n", e.Video.Filename, e.Err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", relative(cfg.InputFolder, e.Video), e.Video.Name.Task,
			e.Video.Name.Subject, e.Video.Name.Date, filepath.Base(p.Writer().Paths(e.Video).Table))
	}
	return tw.Flush()
}

func relative(root string, v catalog.Descriptor) string {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	if rel, err := filepath.Rel(root, v.Path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return v.Filename
}
