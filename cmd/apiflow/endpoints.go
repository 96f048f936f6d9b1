package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/itsneelabh/apiflow/catalog"
)

var (
	endpointsJSON       bool
	endpointsSwaggerURL string
	endpointsFile       string
)

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "Inspect and refresh the endpoint catalog",
	Long: `Inspect and refresh the endpoint catalog.

The in-memory store does not outlive the process, so list and clear are only
useful with catalog.store set to sqlite.`,
}

var endpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog endpoints",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalog(cmd.Context(), func(cat *catalog.Catalog) error {
			endpoints, err := cat.GetAll(cmd.Context())
			if err != nil {
				return err
			}
			return printEndpoints(cmd.OutOrStdout(), endpoints, endpointsJSON)
		})
	},
}

var endpointsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reload the catalog from a Swagger document",
	Long: `Reload the catalog from a Swagger 2.0 or OpenAPI 3 document.

The document is fetched from --swagger-url (default catalog.swagger_url) or
read from --file. Existing entries are replaced.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalog(cmd.Context(), func(cat *catalog.Catalog) error {
			var (
				count int
				err   error
			)
			switch {
			case endpointsFile != "":
				data, readErr := os.ReadFile(filepath.Clean(endpointsFile))
				if readErr != nil {
					return fmt.Errorf("failed to read swagger file: %w", readErr)
				}
				count, err = cat.SyncDocument(cmd.Context(), data)
			case endpointsSwaggerURL != "":
				count, err = cat.Sync(cmd.Context(), endpointsSwaggerURL)
			default:
				return fmt.Errorf("no swagger document: set --swagger-url, --file or catalog.swagger_url")
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Synchronized %d endpoints\n", count)
			return nil
		})
	},
}

var endpointsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every catalog endpoint",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalog(cmd.Context(), func(cat *catalog.Catalog) error {
			if err := cat.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Catalog cleared")
			return nil
		})
	},
}

func init() {
	endpointsListCmd.Flags().BoolVar(&endpointsJSON, "json", false, "print descriptors as JSON")
	endpointsSyncCmd.Flags().StringVar(&endpointsSwaggerURL, "swagger-url", "", "Swagger document URL, overrides catalog.swagger_url")
	endpointsSyncCmd.Flags().StringVar(&endpointsFile, "file", "", "read the Swagger document from a local file")

	endpointsCmd.AddCommand(endpointsListCmd)
	endpointsCmd.AddCommand(endpointsSyncCmd)
	endpointsCmd.AddCommand(endpointsClearCmd)
}

// withCatalog opens the configured catalog, with embeddings when a key is
// available, and closes it after fn.
func withCatalog(ctx context.Context, fn func(*catalog.Catalog) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if endpointsSwaggerURL == "" {
		endpointsSwaggerURL = cfg.Catalog.SwaggerURL
	}
	logger := newLogger(cfg, true)
	defer func() { _ = logger.Close() }()

	c := &components{config: cfg, logger: logger}
	cat, err := c.buildCatalog(true)
	if err != nil {
		return err
	}
	defer func() { _ = cat.Close() }()
	return fn(cat)
}

func printEndpoints(w io.Writer, endpoints []catalog.EndpointDescriptor, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if endpoints == nil {
			endpoints = []catalog.EndpointDescriptor{}
		}
		return enc.Encode(endpoints)
	}
	if len(endpoints) == 0 {
		_, err := fmt.Fprintln(w, "No endpoints in catalog")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Method", "Path", "Description", "Tags"})
	table.SetAutoWrapText(false)
	for _, ep := range endpoints {
		table.Append([]string{ep.Method, ep.Path, ep.Description, strings.Join(ep.SemanticTags, ", ")})
	}
	table.SetFooter([]string{"", "", "Total", fmt.Sprint(len(endpoints))})
	table.Render()
	return nil
}
