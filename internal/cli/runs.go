package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nzbri/movid/internal/store"
)

func NewRunsCmd(deps *Dependencies) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded runs, or the videos of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := NewFormatter(cmd.OutOrStdout())

			if _, err := os.Stat(deps.Config.DBPath); os.IsNotExist(err) {
				formatter.Info("No runs recorded")
				return nil
			}
			st, err := store.New(deps.Config.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if len(args) == 1 {
				if _, err := st.Runs().GetByID(args[0]); err != nil {
					return fmt.Errorf("run %s: %w", args[0], err)
				}
				outcomes, err := st.Outcomes().ListByRun(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "VIDEO\tSTATUS\tFRAMES\tSKIPPED\tROWS\tERROR")
				for _, o := range outcomes {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
						o.VideoPath, o.Status, o.FramesDecoded, o.FramesSkipped, o.Rows, o.Error)
				}
				return tw.Flush()
			}

			runs, err := st.Runs().List(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				formatter.Info("No runs recorded")
				return nil
			}
			fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tTRACKERS\tVIDEOS\tSUCCESS\tPARTIAL\tFAILED\tSKIPPED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
					r.ID, r.StartedAt.Local().Format(time.DateTime), r.Status, r.Features,
					r.Videos, r.Succeeded, r.Partial, r.Failed, r.Skipped)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list (0 for all)")
	return cmd
}
