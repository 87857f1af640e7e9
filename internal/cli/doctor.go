package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gocv.io/x/gocv"

	"github.com/nzbri/movid/internal/detector"
	"github.com/nzbri/movid/internal/landmark"
)

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := deps.Config
			f := NewFormatter(cmd.OutOrStdout())
			ok := true

			f.SetupCheck("OpenCV", true, fmt.Sprintf("%s (gocv %s)", gocv.OpenCVVersion(), gocv.Version()))

			command := cfg.LandmarkerCommand
			if len(command) == 0 {
				var err error
				command, err = detector.ServiceCommand()
				if err != nil {
					f.SetupCheck("Landmarker service", false, err.Error()+". Set landmarker_command or MOVID_LANDMARKER_COMMAND")
					ok = false
				}
			}
			if len(command) > 0 {
				if _, err := exec.LookPath(command[0]); err != nil {
					f.SetupCheck("Landmarker service", false, command[0]+" not found")
					ok = false
				} else {
					f.SetupCheck("Landmarker service", true, strings.Join(command, " "))
				}
			}

			for _, name := range cfg.Track {
				kind, err := landmark.ParseKind(name)
				if err != nil {
					f.SetupCheck("Tracker "+name, false, err.Error())
					ok = false
					continue
				}
				if !kind.Implemented() {
					f.SetupCheck("Tracker "+name, false, "not implemented")
					ok = false
					continue
				}
				path := filepath.Join(cfg.ModelFolder, detector.ModelFiles[kind])
				if _, err := os.Stat(path); err != nil {
					f.SetupCheck("Model "+name, false, path+" missing")
					ok = false
				} else {
					f.SetupCheck("Model "+name, true, path)
				}
			}

			if info, err := os.Stat(cfg.InputFolder); err != nil || !info.IsDir() {
				f.SetupCheck("Input folder", false, cfg.InputFolder+" not found")
				ok = false
			} else {
				f.SetupCheck("Input folder", true, cfg.InputFolder)
			}

			for _, dir := range cfg.OutputFolders() {
				if info, err := os.Stat(dir); err != nil || !info.IsDir() {
					f.SetupCheck("Output folder", false, dir+" missing. Create it or run with --mkdir")
					ok = false
				} else {
					f.SetupCheck("Output folder", true, dir)
				}
			}

			f.SetupCheck("Ledger", true, cfg.DBPath)
			if cfg.Archive.Endpoint != "" {
				f.SetupCheck("Archive", true, cfg.Archive.Endpoint+"/"+cfg.Archive.Bucket)
			}

			if ok {
				f.Success("\nAll prerequisites met. Ready to process!")
			} else {
				f.Warning("\nSome prerequisites are missing.")
			}
			return nil
		},
	}
}
