package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// providerView mirrors the server's provider JSON.
type providerView struct {
	SPID    string `json:"spid"`
	Token   string `json:"token,omitempty"`
	Enabled bool   `json:"enabled"`
	SPGURL  string `json:"spgUrl,omitempty"`
}

func newProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Manage service provider registrations",
	}
	cmd.AddCommand(newProvidersListCmd())
	cmd.AddCommand(newProvidersCreateCmd())
	cmd.AddCommand(newProvidersEnableCmd(true))
	cmd.AddCommand(newProvidersEnableCmd(false))
	return cmd
}

func newProvidersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered service providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := globalClient.doRequest("GET", "/api/providers", nil)
			if err != nil {
				return err
			}
			var resp struct {
				Providers []providerView `json:"providers"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}
			rows := make([][]string, len(resp.Providers))
			for i, p := range resp.Providers {
				rows[i] = []string{p.SPID, strconv.FormatBool(p.Enabled), p.SPGURL}
			}
			return printOutput(os.Stdout, format, resp.Providers,
				[]string{"SPID", "ENABLED", "SPG URL"}, rows)
		},
	}
}

func newProvidersCreateCmd() *cobra.Command {
	var spgURL string

	cmd := &cobra.Command{
		Use:   "create SPID",
		Short: "Register a service provider and print its access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := json.Marshal(map[string]string{
				"spid":   args[0],
				"spgUrl": spgURL,
			})
			if err != nil {
				return err
			}
			body, err := globalClient.doRequest("POST", "/api/providers", bytes.NewReader(payload))
			if err != nil {
				return err
			}
			var p providerView
			if err := json.Unmarshal(body, &p); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}
			return printOutput(os.Stdout, format, p,
				[]string{"SPID", "TOKEN", "ENABLED", "SPG URL"},
				[][]string{{p.SPID, p.Token, strconv.FormatBool(p.Enabled), p.SPGURL}})
		},
	}

	cmd.Flags().StringVar(&spgURL, "spg-url", "", "Gateway endpoint outbound messages are delivered to")
	return cmd
}

func newProvidersEnableCmd(enable bool) *cobra.Command {
	use, short, verb := "enable SPID", "Enable a service provider", "enable"
	if !enable {
		use, short, verb = "disable SPID", "Disable a service provider", "disable"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/providers/%s:%s", args[0], verb)
			if _, err := globalClient.doRequest("POST", path, nil); err != nil {
				return err
			}
			fmt.Printf("provider %s %sd\n", args[0], verb)
			return nil
		},
	}
}
