// Package main provides the bdosoactl CLI for managing a running exchange
// server. It is a management-plane tool that talks to the server's loopback
// operator API.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	version = "dev"

	// Global flags
	serverURL    string
	outputFlag   string
	globalClient *adminClient
)

// adminClient wraps an HTTP client and the server base URL.
type adminClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAdminClient(baseURL string) *adminClient {
	return &adminClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// doRequest performs an HTTP request and returns the response body bytes.
// It returns an error if the status code indicates a failure.
func (c *adminClient) doRequest(method, path string, body io.Reader) ([]byte, error) {
	url := c.baseURL + path

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to server at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "bdosoactl",
		Short: "CLI for the bdosoa exchange server management plane",
		Long: `bdosoactl is a command-line tool for operating a running exchange server.

It provides commands for registering service providers and sync clients,
inspecting the message audit log, flushing the processing queue and checking
server health.

The operator API is loopback only, so bdosoactl must run on the same host as
the server.`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			globalClient = newAdminClient(serverURL)
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Exchange server URL")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table", "Output format: table, json, yaml")

	rootCmd.AddCommand(newProvidersCmd())
	rootCmd.AddCommand(newSyncClientsCmd())
	rootCmd.AddCommand(newMessagesCmd())
	rootCmd.AddCommand(newQueueCmd())
	rootCmd.AddCommand(newStatusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
