package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"facilitator-backend/internal/results"
	"facilitator-backend/internal/store"

	"github.com/spf13/cobra"
)

var (
	exportRequestID string
	exportAll       bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Writes collected feedback as CSV to stdout",
	Example: `  facilitator export --request 0190f1c2-...
  facilitator export --all > all_feedback_results.csv`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if (exportRequestID == "") == !exportAll {
			return errors.New("pass exactly one of --request or --all")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		repos, _, err := openRepositories(cfg)
		if err != nil {
			return err
		}
		return runExport(cmd.Context(), repos, cmd.OutOrStdout(), exportRequestID)
	},
}

// runExport writes one request's CSV, or every request's when requestID is empty
func runExport(ctx context.Context, repos *store.Repositories, w io.Writer, requestID string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if requestID != "" {
		req, err := repos.Requests.Get(ctx, requestID)
		if err != nil {
			return fmt.Errorf("failed to load request %s: %w", requestID, err)
		}
		responses, err := repos.Responses.ListByRequest(ctx, req.ID)
		if err != nil {
			return fmt.Errorf("failed to load responses: %w", err)
		}
		_, err = io.WriteString(w, results.RequestCSV(req, responses)+"\n")
		return err
	}

	requests, err := repos.Requests.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list requests: %w", err)
	}
	all := make([]results.RequestResponses, 0, len(requests))
	for i := range requests {
		responses, err := repos.Responses.ListByRequest(ctx, requests[i].ID)
		if err != nil {
			return fmt.Errorf("failed to load responses for %s: %w", requests[i].ID, err)
		}
		all = append(all, results.RequestResponses{Request: &requests[i], Responses: responses})
	}
	_, err = io.WriteString(w, results.AllCSV(all)+"\n")
	return err
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	exportCmd.Flags().StringVar(&exportRequestID, "request", "", "Export a single request by id")
	exportCmd.Flags().BoolVar(&exportAll, "all", false, "Export every request")
	rootCmd.AddCommand(exportCmd)
}
