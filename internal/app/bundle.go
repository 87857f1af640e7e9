package app

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/nzbri/movid/internal/catalog"
	"github.com/nzbri/movid/internal/fault"
	"github.com/nzbri/movid/internal/frameproc"
	"github.com/nzbri/movid/internal/output"
	"github.com/nzbri/movid/internal/store"
)

// Status is the processing outcome of one video.
type Status string

const (
	// StatusSuccess means every frame decoded and every tracker succeeded.
	StatusSuccess Status = store.StatusSuccess
	// StatusPartial means some frames were skipped or lost detections.
	StatusPartial Status = store.StatusPartial
	// StatusFailed means no artifacts could be produced.
	StatusFailed Status = store.StatusFailed
	// StatusSkipped means the video was already processed by an earlier run.
	StatusSkipped Status = store.StatusSkipped
)

// Bundle is the outcome of one input video: its artifacts, status and error.
type Bundle struct {
	Video      catalog.Descriptor
	Status     Status
	Err        error
	Artifacts  output.Artifacts
	Result     frameproc.Result
	Archived   []string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Summary reports every video of a run.
type Summary struct {
	RunID      string
	Found      int
	Selected   int
	Bundles    []Bundle
	StartedAt  time.Time
	FinishedAt time.Time
	Cancelled  bool
}

// Count returns the number of bundles with status.
func (s Summary) Count(status Status) int {
	n := 0
	for _, b := range s.Bundles {
		if b.Status == status {
			n++
		}
	}
	return n
}

// Duration returns the wall-clock time of the run.
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Write prints the per-video outcomes as a table followed by totals.
func (s Summary) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VIDEO\tSTATUS\tFRAMES\tSKIPPED\tROWS\tERROR")
	for _, b := range s.Bundles {
		errText := ""
		if b.Err != nil {
			errText = fault.KindOf(b.Err) + ": " + b.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
			b.Video.Filename, b.Status, b.Result.FramesDecoded, len(b.Result.SkippedFrames), b.Artifacts.Rows, errText)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\nrun %s: %d success, %d partial, %d failed, %d skipped (started %s, finished %s, took %s)\n",
		s.RunID,
		s.Count(StatusSuccess), s.Count(StatusPartial), s.Count(StatusFailed), s.Count(StatusSkipped),
		s.StartedAt.Format(time.DateTime), s.FinishedAt.Format(time.DateTime), s.Duration().Round(time.Second))
	return err
}

// Event reports progress of a run to observers.
type Event struct {
	RunID  string `json:"run_id"`
	Video  string `json:"video,omitempty"`
	Index  int    `json:"index"`
	Total  int    `json:"total"`
	Status Status `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
	Done   bool   `json:"done"`
}
