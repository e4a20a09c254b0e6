package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/famlink/internal/ir"
	"github.com/roach88/famlink/internal/jobs"
	"github.com/roach88/famlink/internal/store"
)

// JobOptions holds flags for the job subcommands.
type JobOptions struct {
	*RootOptions
	Params     string
	ParamsFile string
	Key        string
	Status     string
	Type       string
	Limit      int
}

// SubmitResult is the output of job submit. Created is false when an
// existing job with the same idempotency key was returned.
type SubmitResult struct {
	Job     ir.Job `json:"job"`
	Created bool   `json:"created"`
}

// NewJobCommand creates the job command group.
func NewJobCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JobOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "job",
		Short: "Submit, inspect and cancel background jobs",
	}

	submit := &cobra.Command{
		Use:   "submit <job-type>",
		Short: "Enqueue a job",
		Long: `Enqueue a job for the worker. Params are validated against the job type
before anything is written.

Job types: preview, apply, canary, batch_run, embeddings_compute,
check_drift, export.

Example:
  famlink job submit preview --params '{"rule_id":"debt"}'
  famlink job submit apply --params '{"preview_id":"0192..."}' --key apply-0192`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := opts.readParams()
			if err != nil {
				return err
			}
			req := ir.JobRequest{Type: ir.JobType(args[0]), Params: params, IdempotencyKey: opts.Key}
			return withStore(rootOpts, func(st *store.Store) error {
				job, created, err := jobs.Submit(cmd.Context(), st, req)
				if err != nil {
					return WrapOpError("failed to submit job", err)
				}
				res := SubmitResult{Job: job, Created: created}
				return opts.output(cmd).Render(res, func(w io.Writer) {
					verb := "Submitted"
					if !created {
						verb = "Existing"
					}
					fmt.Fprintf(w, "%s job %s (%s) %s\n", verb, job.ID, job.Type, Status(string(job.Status)))
				})
			})
		},
	}
	submit.Flags().StringVar(&opts.Params, "params", "", "job params as JSON")
	submit.Flags().StringVar(&opts.ParamsFile, "params-file", "", "read job params from a JSON file")
	submit.Flags().StringVar(&opts.Key, "key", "", "idempotency key")
	submit.MarkFlagsMutuallyExclusive("params", "params-file")

	status := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, func(st *store.Store) error {
				job, err := st.GetJob(cmd.Context(), args[0])
				if err != nil {
					return WrapOpError("failed to read job", err)
				}
				return renderJob(opts.output(cmd), job)
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := store.JobFilter{Status: ir.JobStatus(opts.Status), Type: ir.JobType(opts.Type), Limit: opts.Limit}
			if f.Status != "" && !f.Status.Valid() {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid status %q", opts.Status))
			}
			if f.Type != "" && !f.Type.Valid() {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid job type %q", opts.Type))
			}
			return withStore(rootOpts, func(st *store.Store) error {
				list, err := st.ListJobs(cmd.Context(), f)
				if err != nil {
					return WrapOpError("failed to list jobs", err)
				}
				return opts.output(cmd).Render(list, func(w io.Writer) {
					if len(list) == 0 {
						fmt.Fprintln(w, "No jobs.")
						return
					}
					for _, j := range list {
						fmt.Fprintf(w, "%s %-18s %s %d%%\n", j.ID, j.Type, Status(string(j.Status)), j.ProgressPct)
					}
				})
			})
		},
	}
	list.Flags().StringVar(&opts.Status, "status", "", "only jobs with this status")
	list.Flags().StringVar(&opts.Type, "type", "", "only jobs of this type")
	list.Flags().IntVar(&opts.Limit, "limit", 50, "maximum jobs to list")

	cancel := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job that has not finished",
		Long: `Cancel a job that has not finished. A running handler stops at its next
cancellation check and keeps the work it already committed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, func(st *store.Store) error {
				changed, err := st.CancelJob(cmd.Context(), args[0])
				if err != nil {
					return WrapOpError("failed to cancel job", err)
				}
				job, err := st.GetJob(cmd.Context(), args[0])
				if err != nil {
					return WrapOpError("failed to read job", err)
				}
				if !changed {
					return NewExitError(ExitFailure, fmt.Sprintf("job %s already %s", job.ID, job.Status))
				}
				return renderJob(opts.output(cmd), job)
			})
		},
	}

	cmd.AddCommand(submit, status, list, cancel)
	return cmd
}

func (o *JobOptions) readParams() (json.RawMessage, error) {
	switch {
	case o.ParamsFile != "":
		data, err := os.ReadFile(o.ParamsFile)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to read params file", err)
		}
		return json.RawMessage(data), nil
	case o.Params != "":
		return json.RawMessage(o.Params), nil
	}
	return nil, nil
}

func renderJob(out *OutputFormatter, job ir.Job) error {
	return out.Render(job, func(w io.Writer) {
		fmt.Fprintf(w, "%s (%s) %s %d%%", job.ID, job.Type, Status(string(job.Status)), job.ProgressPct)
		if job.ProgressMessage != "" {
			fmt.Fprintf(w, " %s", job.ProgressMessage)
		}
		fmt.Fprintln(w)
		if job.ErrorMessage != "" {
			fmt.Fprintf(w, "  error: %s\n", job.ErrorMessage)
		}
		if len(job.Result) > 0 {
			fmt.Fprintf(w, "  result: %s\n", job.Result)
		}
	})
}
