package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/itsneelabh/apiflow/format"
	"github.com/itsneelabh/apiflow/orchestration"
)

var (
	runPlanFile string
	runEmail    string
	runToken    string
	runFormat   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a plan file without the LLM",
	Long: `Execute a plan file step by step against the upstream service.

The plan is JSON or YAML with an "execution_plan" (or "steps") list, the same
shape the planner produces:

  execution_plan:
    - step: 1
      endpoint: /api/companies/search
      method: GET
      parameters: {name: Acme}
      output_mapping: {company_id: id}
    - step: 2
      endpoint: /api/companies/{company_id}/projects
      method: POST
      request_body: {name: NewProj}

Without --format the results of every step are printed as JSON.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runFormat != "" && !format.Supported(runFormat) {
			return fmt.Errorf("unsupported format %q: use table, text or html", runFormat)
		}
		plan, err := loadPlan(runPlanFile)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, true)
		defer func() { _ = logger.Close() }()

		comps, err := newComponents(cmd.Context(), cfg, logger, buildOptions{})
		if err != nil {
			return err
		}
		defer comps.Close(cmd.Context())

		run, err := comps.interpreter.Run(cmd.Context(), plan, orchestration.RunOptions{
			AuthToken: runToken,
			UserEmail: runEmail,
			RequestID: uuid.NewString(),
		})
		if err != nil {
			return err
		}
		return printRun(cmd.OutOrStdout(), run, runFormat)
	},
}

func init() {
	runCmd.Flags().StringVar(&runPlanFile, "plan", "", "plan file (.json, .yaml or .yml)")
	runCmd.Flags().StringVar(&runEmail, "email", "", "email of the requesting user")
	runCmd.Flags().StringVar(&runToken, "token", os.Getenv("APIFLOW_AUTH_TOKEN"), "bearer token forwarded to the upstream service")
	runCmd.Flags().StringVarP(&runFormat, "format", "f", "", "render the last step as table, text or html")
	_ = runCmd.MarkFlagRequired("plan")
	_ = runCmd.MarkFlagRequired("email")
}

// loadPlan reads and validates a plan file. YAML is converted to JSON so
// both encodings go through ParsePlan.
func loadPlan(path string) (*orchestration.Plan, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML plan: %w", err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("failed to convert YAML plan: %w", err)
		}
	case ".json", "":
	default:
		return nil, fmt.Errorf("unsupported plan file extension %q", filepath.Ext(path))
	}

	plan, err := orchestration.ParsePlan(data)
	if err != nil {
		return nil, fmt.Errorf("invalid plan %s: %w", path, err)
	}
	return plan, nil
}

func printRun(w io.Writer, run *orchestration.RunResult, outputFormat string) error {
	if outputFormat != "" {
		last, ok := run.LastResult()
		if !ok {
			_, err := fmt.Fprintln(w, "(last step was skipped)")
			return err
		}
		rendered, err := format.Render(outputFormat, last.Value())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, rendered)
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{
		"executed": run.Executed,
		"skipped":  run.Skipped,
		"results":  run.Values(),
	})
}
