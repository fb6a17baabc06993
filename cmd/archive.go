package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leaseops/leaseverify/internal/lifecycle"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Archive intake files by stored verification outcome",
	Long:  "Resolves each intake file against the result store and moves it into archive/<date>/<passed|failed|skipped>/ without re-running verification.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		mgr := lifecycle.NewManager(st, cfg.Intake.Dir, cfg.Intake.ArchiveRoot,
			cfg.Intake.MoveDelay(), cfg.Intake.FilePause())

		report, err := mgr.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "archive")
		}

		zap.L().Info("archive pass finished",
			zap.Int("moved", report.Total()),
			zap.Int("left", len(report.Left)),
		)
		for outcome, files := range report.Moved {
			for _, f := range files {
				cmd.Printf("%s\t%s\n", outcome, f)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(archiveCmd)
}
