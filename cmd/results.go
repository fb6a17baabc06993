package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/leaseops/leaseverify/internal/model"
	"github.com/leaseops/leaseverify/internal/store"
)

var (
	listWorkflowStatus string
	listLeadStatus     string
	listLimit          int
	listOffset         int
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Inspect and update stored verification results",
}

var resultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored results",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openResultStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		results, err := st.List(cmd.Context(), store.ResultFilter{
			WorkflowStatus: listWorkflowStatus,
			LeadStatus:     listLeadStatus,
			Limit:          listLimit,
			Offset:         listOffset,
		})
		if err != nil {
			return eris.Wrap(err, "list results")
		}
		return printJSON(results)
	},
}

var resultsGetCmd = &cobra.Command{
	Use:   "get <contract-number>",
	Short: "Show one stored result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openResultStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		result, err := st.Fetch(cmd.Context(), model.SanitizeKey(args[0]))
		if err != nil {
			return eris.Wrapf(err, "get result %s", args[0])
		}
		return printJSON(result)
	},
}

var resultsSetLeadCmd = &cobra.Command{
	Use:   "set-lead-status <contract-number> <status>",
	Short: "Update the lead status of a result",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openResultStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.PatchLeadStatus(cmd.Context(), model.SanitizeKey(args[0]), args[1]); err != nil {
			return eris.Wrapf(err, "set lead status %s", args[0])
		}
		cmd.Printf("%s lead_status=%s\n", args[0], args[1])
		return nil
	},
}

var resultsSetWorkflowCmd = &cobra.Command{
	Use:   "set-workflow-status <contract-number> <status>",
	Short: "Update the workflow status of a result",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openResultStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.PatchWorkflowStatus(cmd.Context(), model.SanitizeKey(args[0]), args[1]); err != nil {
			return eris.Wrapf(err, "set workflow status %s", args[0])
		}
		cmd.Printf("%s workflow_status=%s\n", args[0], args[1])
		return nil
	},
}

func openResultStore(cmd *cobra.Command) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	return initStore(cmd.Context())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	resultsListCmd.Flags().StringVar(&listWorkflowStatus, "workflow-status", "", "filter by workflow status")
	resultsListCmd.Flags().StringVar(&listLeadStatus, "lead-status", "", "filter by lead status")
	resultsListCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum rows to return")
	resultsListCmd.Flags().IntVar(&listOffset, "offset", 0, "rows to skip")

	resultsCmd.AddCommand(resultsListCmd, resultsGetCmd, resultsSetLeadCmd, resultsSetWorkflowCmd)
	rootCmd.AddCommand(resultsCmd)
}
