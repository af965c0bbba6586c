package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vladislavfirsov/content-pipeline/config"
	"github.com/vladislavfirsov/content-pipeline/contracts"
	"github.com/vladislavfirsov/content-pipeline/internal/service"
)

var (
	runTemplate    string
	runInputs      []string
	runTimeouts    []string
	runConcurrency int
)

var runCmd = &cobra.Command{
	Use:   "run [pipeline.yaml]",
	Short: "Execute one pipeline in the foreground",
	Long: `Resolve a pipeline from a template or a definition file, execute it in
this process and print the final job record as JSON.`,
	Example: `  # run a built-in template
  pipelined run --template document_to_summary --input pdf=./book.pdf

  # run a pipeline definition with a per-task deadline
  pipelined run pipeline.yaml --input markdown=@notes.md --timeout markdown_summarization=2m`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runTemplate, "template", "t", "", "template id")
	runCmd.Flags().StringArrayVarP(&runInputs, "input", "i", nil, "seed input tag=value (tag=@path reads a file)")
	runCmd.Flags().StringArrayVar(&runTimeouts, "timeout", nil, "per-task deadline task=duration")
	runCmd.Flags().IntVarP(&runConcurrency, "concurrency", "c", 0, "max in-flight tasks for this job")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	req, err := buildRunRequest(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := newRuntime(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := rt.close(ctx); err != nil {
			rt.logger.Warn("closing runtime", zap.Error(err))
		}
	}()

	ctx := context.Background()
	id, err := rt.svc.Submit(ctx, req)
	if err != nil {
		return err
	}
	rt.logger.Info("job submitted", zap.String("job_id", string(id)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			rt.logger.Info("cancelling job", zap.String("job_id", string(id)))
			_ = rt.svc.Cancel(ctx, id)
		}
	}()

	status, err := rt.svc.Wait(ctx, id)
	if err != nil {
		return err
	}
	job, err := rt.svc.Status(ctx, id)
	if err != nil {
		return err
	}
	out, err := sonic.ConfigDefault.MarshalIndent(job, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if status != contracts.JobCompleted {
		return fmt.Errorf("job %s finished %s", id, status)
	}
	return nil
}

// buildRunRequest turns the run flags into a submission.
func buildRunRequest(args []string) (service.SubmitRequest, error) {
	var req service.SubmitRequest
	switch {
	case runTemplate != "" && len(args) > 0:
		return req, fmt.Errorf("use either --template or a pipeline file, not both")
	case runTemplate != "":
		req.TemplateID = runTemplate
	case len(args) == 1:
		pipeline, err := config.NewPipelineLoader().LoadFromFile(args[0])
		if err != nil {
			return req, err
		}
		req.Config = &pipeline
	default:
		return req, fmt.Errorf("a --template or a pipeline file is required")
	}

	inputs, err := parseInputs(runInputs)
	if err != nil {
		return req, err
	}
	req.Inputs = inputs

	timeouts, err := parseTimeouts(runTimeouts)
	if err != nil {
		return req, err
	}
	req.Settings = contracts.JobSettings{MaxConcurrency: runConcurrency, Timeouts: timeouts}
	return req, nil
}

func parseInputs(pairs []string) (map[contracts.TypeTag]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[contracts.TypeTag]any, len(pairs))
	for _, kv := range pairs {
		tag, value, ok := strings.Cut(kv, "=")
		if !ok || tag == "" {
			return nil, fmt.Errorf("--input %q: expected tag=value", kv)
		}
		if path, isFile := strings.CutPrefix(value, "@"); isFile {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("--input %s: %w", tag, err)
			}
			value = string(data)
		}
		out[contracts.TypeTag(tag)] = value
	}
	return out, nil
}

func parseTimeouts(pairs []string) (map[contracts.TaskID]contracts.Duration, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[contracts.TaskID]contracts.Duration, len(pairs))
	for _, kv := range pairs {
		id, raw, ok := strings.Cut(kv, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("--timeout %q: expected task=duration", kv)
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("--timeout %s: %w", id, err)
		}
		out[contracts.TaskID(id)] = contracts.Duration(d)
	}
	return out, nil
}
