package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vladislavfirsov/content-pipeline/config"
)

// Version is the current release.
const Version = "0.1.0"

var (
	cfgFile   string
	setValues []string
	debug     bool
)

var rootCmd = &cobra.Command{
	Use:   "pipelined",
	Short: "Content pipeline runtime",
	Long: `pipelined runs content-processing pipelines: a DAG of registered tasks
resolved from a template or a pipeline definition, executed with bounded
parallelism and persisted to a job store.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path")
	rootCmd.PersistentFlags().StringArrayVar(&setValues, "set", nil, "override a config value, e.g. --set store.backend=file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig applies defaults, the config file, CP_* variables and --set.
func loadConfig() (*config.Config, error) {
	overrides := make(map[string]string, len(setValues)+1)
	for _, kv := range setValues {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("--set %q: expected key=value", kv)
		}
		overrides[key] = value
	}
	if debug {
		overrides["logging.level"] = "debug"
	}

	loader := config.NewLoader().WithOverrides(overrides)
	if cfgFile != "" {
		loader = loader.WithConfigPath(cfgFile)
	}
	return loader.Load()
}
