package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// messageView mirrors the server's message JSON.
type messageView struct {
	ID              string    `json:"id"`
	Direction       string    `json:"direction"`
	ServiceProvID   string    `json:"serviceProvId"`
	InvokeID        int64     `json:"invokeId"`
	MessageDateTime time.Time `json:"messageDateTime"`
	CommandTag      string    `json:"commandTag"`
	Status          string    `json:"status"`
	ErrorInfo       string    `json:"errorInfo,omitempty"`
	MessageBody     string    `json:"messageBody,omitempty"`
}

func newMessagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Inspect the message audit log",
	}
	cmd.AddCommand(newMessagesListCmd())
	cmd.AddCommand(newMessagesGetCmd())
	return cmd
}

func newMessagesListCmd() *cobra.Command {
	var (
		direction  string
		spid       string
		status     string
		commandTag string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List logged messages, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if direction != "" {
				q.Set("direction", direction)
			}
			if spid != "" {
				q.Set("spid", spid)
			}
			if status != "" {
				q.Set("status", status)
			}
			if commandTag != "" {
				q.Set("commandTag", commandTag)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}

			path := "/api/messages"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			body, err := globalClient.doRequest("GET", path, nil)
			if err != nil {
				return err
			}
			var resp struct {
				Messages  []messageView `json:"messages"`
				TotalSize int64         `json:"totalSize"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}
			rows := make([][]string, len(resp.Messages))
			for i, m := range resp.Messages {
				rows[i] = []string{
					m.ID,
					m.Direction,
					m.ServiceProvID,
					m.CommandTag,
					m.Status,
					m.MessageDateTime.Format(time.RFC3339),
				}
			}
			return printOutput(os.Stdout, format, resp.Messages,
				[]string{"ID", "DIRECTION", "SPID", "COMMAND", "STATUS", "TIMESTAMP"}, rows)
		},
	}

	cmd.Flags().StringVar(&direction, "direction", "", "Filter by direction")
	cmd.Flags().StringVar(&spid, "spid", "", "Filter by service provider id")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&commandTag, "command", "", "Filter by command tag")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of messages to list")
	return cmd
}

func newMessagesGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one logged message including its document and diagnostics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := globalClient.doRequest("GET", "/api/messages/"+args[0], nil)
			if err != nil {
				return err
			}
			var m messageView
			if err := json.Unmarshal(body, &m); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}
			if format == outputTable {
				fmt.Printf("ID:         %s\n", m.ID)
				fmt.Printf("Direction:  %s\n", m.Direction)
				fmt.Printf("SPID:       %s\n", m.ServiceProvID)
				fmt.Printf("Invoke ID:  %d\n", m.InvokeID)
				fmt.Printf("Command:    %s\n", m.CommandTag)
				fmt.Printf("Status:     %s\n", m.Status)
				fmt.Printf("Timestamp:  %s\n", m.MessageDateTime.Format(time.RFC3339))
				if m.ErrorInfo != "" {
					fmt.Printf("Errors:\n%s\n", m.ErrorInfo)
				}
				fmt.Printf("Document:\n%s\n", m.MessageBody)
				return nil
			}
			return printOutput(os.Stdout, format, m, nil, nil)
		},
	}
}
