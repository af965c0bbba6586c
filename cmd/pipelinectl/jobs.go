package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"

	"github.com/vladislavfirsov/content-pipeline/api"
	"github.com/vladislavfirsov/content-pipeline/config"
	"github.com/vladislavfirsov/content-pipeline/contracts"
)

var (
	submitTemplate string
	submitFile     string
	submitInputs   []string
	submitWait     bool

	listStatus string
	listLimit  int
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a job",
	Example: `  pipelinectl submit --template document_to_summary --input pdf=/data/book.pdf
  pipelinectl submit --file pipeline.yaml --input markdown=@notes.md --wait`,
	Args: cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		req := api.SubmitJobRequest{TemplateID: submitTemplate}
		if submitFile != "" {
			pipeline, err := config.NewPipelineLoader().LoadFromFile(submitFile)
			if err != nil {
				return err
			}
			req.Config = &pipeline
		}
		if req.TemplateID == "" && req.Config == nil {
			return fmt.Errorf("--template or --file is required")
		}

		req.Inputs = make(map[contracts.TypeTag]any, len(submitInputs))
		for _, kv := range submitInputs {
			tag, value, ok := strings.Cut(kv, "=")
			if !ok || tag == "" {
				return fmt.Errorf("--input %q: expected tag=value", kv)
			}
			if path, isFile := strings.CutPrefix(value, "@"); isFile {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				value = string(data)
			}
			req.Inputs[contracts.TypeTag(tag)] = value
		}

		var resp api.SubmitJobResponse
		if err := call(fasthttp.MethodPost, "/api/v1/jobs", req, &resp); err != nil {
			return err
		}
		if !submitWait {
			fmt.Printf("job_id=%s status=%s\n", resp.JobID, resp.Status)
			return nil
		}
		job, err := waitJob(resp.JobID)
		if err != nil {
			return err
		}
		return printJSON(job)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		var job api.JobResponse
		if err := call(fasthttp.MethodGet, "/api/v1/jobs/"+url.PathEscape(args[0]), nil, &job); err != nil {
			return err
		}
		return printJSON(job)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		q := url.Values{}
		if listStatus != "" {
			q.Set("status", listStatus)
		}
		if listLimit > 0 {
			q.Set("limit", strconv.Itoa(listLimit))
		}
		path := "/api/v1/jobs"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var resp api.ListJobsResponse
		if err := call(fasthttp.MethodGet, path, nil, &resp); err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "JOB\tNAME\tSTATUS\tDONE\tFAILED\tSKIPPED\tUPDATED")
		for _, j := range resp.Jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%s\n",
				j.ID, j.Name, j.Status, j.Completed, j.Total, j.Failed, j.Skipped,
				j.UpdatedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if err := call(fasthttp.MethodPost, "/api/v1/jobs/"+url.PathEscape(args[0])+"/cancel", nil, nil); err != nil {
			return err
		}
		fmt.Printf("job_id=%s cancellation requested\n", args[0])
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a job record",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if err := call(fasthttp.MethodDelete, "/api/v1/jobs/"+url.PathEscape(args[0]), nil, nil); err != nil {
			return err
		}
		fmt.Printf("job_id=%s deleted\n", args[0])
		return nil
	},
}

var templatesCmd = &cobra.Command{
	Use:   "templates [id]",
	Short: "List templates or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if len(args) == 1 {
			var t api.TemplateResponse
			if err := call(fasthttp.MethodGet, "/api/v1/templates/"+url.PathEscape(args[0]), nil, &t); err != nil {
				return err
			}
			return printJSON(t)
		}
		var resp api.TemplatesResponse
		if err := call(fasthttp.MethodGet, "/api/v1/templates", nil, &resp); err != nil {
			return err
		}
		return printJSON(resp.Templates)
	},
}

func init() {
	submitCmd.Flags().StringVarP(&submitTemplate, "template", "t", "", "template id")
	submitCmd.Flags().StringVarP(&submitFile, "file", "f", "", "pipeline definition file (JSON or YAML)")
	submitCmd.Flags().StringArrayVarP(&submitInputs, "input", "i", nil, "seed input tag=value (tag=@path reads a file)")
	submitCmd.Flags().BoolVarP(&submitWait, "wait", "w", false, "poll until the job finishes")
	submitCmd.MarkFlagsMutuallyExclusive("template", "file")

	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by job status")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum jobs to list")

	rootCmd.AddCommand(submitCmd, statusCmd, listCmd, cancelCmd, deleteCmd, templatesCmd)
}

// waitJob polls a job until it reaches a terminal status.
func waitJob(id contracts.JobID) (*api.JobResponse, error) {
	for {
		var job api.JobResponse
		if err := call(fasthttp.MethodGet, "/api/v1/jobs/"+url.PathEscape(string(id)), nil, &job); err != nil {
			return nil, err
		}
		if job.Status.IsTerminal() {
			return &job, nil
		}
		time.Sleep(time.Second)
	}
}
