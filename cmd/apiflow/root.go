package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/itsneelabh/apiflow/core"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "apiflow",
	Short: "Natural-language orchestration of REST APIs",
	Long: `apiflow reads a request such as "Create project NewProj for company Acme",
plans the REST calls needed to fulfil it from the upstream service's Swagger
catalog, and executes them in order, feeding each step's output into the next.

Available commands:
  serve      - Start the HTTP API
  run        - Execute a plan file without the LLM
  endpoints  - Inspect and refresh the endpoint catalog`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       fmt.Sprintf("%s (commit %s, built %s)", core.Version, core.GitCommit, core.BuildDate),
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (.yaml, .yml or .json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(endpointsCmd)
}

// loadConfig builds the configuration from defaults, the environment and the
// --config file, in increasing precedence.
func loadConfig() (*core.Config, error) {
	var opts []core.Option
	if cfgFile != "" {
		opts = append(opts, core.WithConfigFile(cfgFile))
	}
	return core.NewConfig(opts...)
}

// newLogger creates the process logger. Commands that print results pass
// quiet so that only warnings reach stderr and stdout stays clean.
func newLogger(cfg *core.Config, quiet bool) *core.ProductionLogger {
	logging := cfg.Logging
	if quiet && logging.Output == "stdout" {
		logging.Output = "stderr"
		if !strings.EqualFold(logging.Level, "debug") {
			logging.Level = "warn"
		}
	}
	return core.NewProductionLogger(logging, cfg.Name)
}
