package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leaseops/leaseverify/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "leaseverify",
	Short: "Lease contract verification pipeline",
	Long:  "Extracts lease terms from intake PDFs, cross-checks them against the web portal and the spreadsheet extract, validates business rules, and archives intake files by outcome.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
