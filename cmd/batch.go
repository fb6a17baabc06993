package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leaseops/leaseverify/internal/extract"
	"github.com/leaseops/leaseverify/internal/pipeline"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Verify every lease document in the intake directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		docs, err := loadIntake(cfg.Intake.Dir)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			zap.L().Info("intake directory empty, nothing to do",
				zap.String("dir", cfg.Intake.Dir))
			return nil
		}
		zap.L().Info("starting batch run",
			zap.Int("documents", len(docs)),
			zap.Int("concurrency", cfg.Batch.Concurrency),
		)

		batch := pipeline.NewBatch(env.Pipeline, env.Archiver, cfg.Batch.Concurrency)
		summary, err := batch.Run(ctx, docs)
		if err != nil {
			return eris.Wrap(err, "batch")
		}

		cmd.Println(summary.String())
		return nil
	},
}

// loadIntake reads every PDF in dir into memory, sorted by name so runs
// process files in a stable order.
func loadIntake(dir string) ([]extract.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "read intake dir %s", dir)
	}

	var docs []extract.Document
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if !strings.EqualFold(filepath.Ext(name), ".pdf") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, eris.Wrapf(err, "read intake file %s", name)
		}
		docs = append(docs, extract.Document{Name: name, Raw: raw})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

func init() {
	rootCmd.AddCommand(batchCmd)
}
