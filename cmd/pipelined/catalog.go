package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vladislavfirsov/content-pipeline/internal/templates"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List registered tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, err := newRegistry(cfg, zap.NewNop())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tINPUTS\tOUTPUTS\tDEPENDS ON\tESTIMATE")
		for m := range reg.All() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				m.TaskID, joinStrings(m.InputTypes), joinStrings(m.OutputTypes),
				joinStrings(m.Dependencies), m.EstimatedDuration)
		}
		return w.Flush()
	},
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List built-in pipeline templates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TEMPLATE\tCATEGORY\tTASKS\tMINUTES")
		for _, t := range templates.New().List() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", t.ID, t.Category, joinStrings(t.Tasks), t.EstimatedDuration)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(tasksCmd, templatesCmd)
}

func joinStrings[S ~string](items []S) string {
	if len(items) == 0 {
		return "-"
	}
	parts := make([]string, len(items))
	for i, s := range items {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}
