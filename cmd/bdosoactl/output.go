package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// outputFormat specifies how to render CLI output.
type outputFormat string

const (
	outputTable outputFormat = "table"
	outputJSON  outputFormat = "json"
	outputYAML  outputFormat = "yaml"
)

// parseOutputFormat parses and validates the output format flag.
func parseOutputFormat(s string) (outputFormat, error) {
	switch strings.ToLower(s) {
	case "table", "":
		return outputTable, nil
	case "json":
		return outputJSON, nil
	case "yaml":
		return outputYAML, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (supported: table, json, yaml)", s)
	}
}

// printOutput renders data in the requested format. For table output, headers
// and rows must be provided; for json/yaml output, data is serialized
// directly.
func printOutput(w io.Writer, format outputFormat, data any, headers []string, rows [][]string) error {
	switch format {
	case outputJSON:
		return printJSON(w, data)
	case outputYAML:
		return printYAML(w, data)
	default:
		return printTable(w, headers, rows)
	}
}

func printJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func printYAML(w io.Writer, data any) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(data)
}

func printTable(w io.Writer, headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}
