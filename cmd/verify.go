package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leaseops/leaseverify/internal/extract"
	"github.com/leaseops/leaseverify/internal/ocr"
)

var verifyPages []int

var verifyCmd = &cobra.Command{
	Use:   "verify <lease.pdf>",
	Short: "Verify a single lease document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		path := args[0]
		raw, err := os.ReadFile(path)
		if err != nil {
			return eris.Wrapf(err, "read document %s", path)
		}

		doc := extract.Document{
			Name:  filepath.Base(path),
			Raw:   raw,
			Pages: ocr.PageList(verifyPages...),
		}

		result, err := env.Pipeline.Run(ctx, doc)
		if err != nil {
			return eris.Wrap(err, "verify")
		}

		zap.L().Info("verification finished",
			zap.String("contract", result.ContractKey),
			zap.String("status", result.Status),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	verifyCmd.Flags().IntSliceVar(&verifyPages, "pages", nil, "1-based PDF pages to extract (default all)")
	rootCmd.AddCommand(verifyCmd)
}
