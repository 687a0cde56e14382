package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// syncClientView mirrors the server's sync client JSON.
type syncClientView struct {
	ID      uint   `json:"id"`
	SPID    string `json:"spid"`
	Token   string `json:"token,omitempty"`
	Enabled bool   `json:"enabled"`
}

func newSyncClientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync-clients",
		Short: "Manage sync client registrations",
	}
	cmd.AddCommand(newSyncClientsListCmd())
	cmd.AddCommand(newSyncClientsCreateCmd())
	return cmd
}

func newSyncClientsListCmd() *cobra.Command {
	var spid string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered sync clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/sync-clients"
			if spid != "" {
				path += "?spid=" + spid
			}
			body, err := globalClient.doRequest("GET", path, nil)
			if err != nil {
				return err
			}
			var resp struct {
				SyncClients []syncClientView `json:"syncClients"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}
			rows := make([][]string, len(resp.SyncClients))
			for i, c := range resp.SyncClients {
				rows[i] = []string{strconv.FormatUint(uint64(c.ID), 10), c.SPID, strconv.FormatBool(c.Enabled)}
			}
			return printOutput(os.Stdout, format, resp.SyncClients,
				[]string{"ID", "SPID", "ENABLED"}, rows)
		},
	}

	cmd.Flags().StringVar(&spid, "spid", "", "Only list clients subscribed to this provider")
	return cmd
}

func newSyncClientsCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create SPID",
		Short: "Register a sync client and print its access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := json.Marshal(map[string]string{"spid": args[0]})
			if err != nil {
				return err
			}
			body, err := globalClient.doRequest("POST", "/api/sync-clients", bytes.NewReader(payload))
			if err != nil {
				return err
			}
			var c syncClientView
			if err := json.Unmarshal(body, &c); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}
			return printOutput(os.Stdout, format, c,
				[]string{"ID", "SPID", "TOKEN", "ENABLED"},
				[][]string{{strconv.FormatUint(uint64(c.ID), 10), c.SPID, c.Token, strconv.FormatBool(c.Enabled)}})
		},
	}
}
