package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Operate the processing queue",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "Re-submit every non-terminal message for processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := globalClient.doRequest("POST", "/api/queue:flush", nil); err != nil {
				return err
			}
			fmt.Println("sweep requested")
			return nil
		},
	})
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server health and readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			healthBody, err := globalClient.doRequest("GET", "/healthz", nil)
			if err != nil {
				return fmt.Errorf("checking server health: %w", err)
			}
			readyBody, err := globalClient.doRequest("GET", "/readyz", nil)
			if err != nil {
				return fmt.Errorf("checking server readiness: %w", err)
			}

			var health, ready struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(healthBody, &health); err != nil {
				return fmt.Errorf("parsing health response: %w", err)
			}
			if err := json.Unmarshal(readyBody, &ready); err != nil {
				return fmt.Errorf("parsing readiness response: %w", err)
			}

			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}
			data := map[string]string{"health": health.Status, "readiness": ready.Status}
			return printOutput(os.Stdout, format, data,
				[]string{"HEALTH", "READINESS"},
				[][]string{{health.Status, ready.Status}})
		},
	}
}
