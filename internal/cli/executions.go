package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
)

// ExecutionsOptions holds the flags of the executions command.
type ExecutionsOptions struct {
	// JobName selects the job to list. Empty means the job of the loaded definition.
	JobName string
}

// NewExecutionsCmd builds the executions command, which prints one line per execution.
func NewExecutionsCmd(global *GlobalOptions, res Resources) *cobra.Command {
	opts := &ExecutionsOptions{}

	cmd := &cobra.Command{
		Use:   "executions",
		Short: "List the executions of a job, newest first",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			s, err := openSession(c, global, res)
			if err != nil {
				return &ExitError{Code: ExitConfigError, Err: err}
			}
			defer s.close(c)

			jobName := opts.JobName
			if jobName == "" {
				jobName = s.job.JobName()
			}
			executions, err := s.app.Executions(c.Context(), jobName)
			if err != nil {
				return &ExitError{Code: ExitOther, Err: err}
			}
			return printExecutions(c.OutOrStdout(), executions)
		},
	}

	cmd.Flags().StringVar(&opts.JobName, "job", "", "Job name (default: the job of the job definition)")
	return cmd
}

func printExecutions(out io.Writer, executions []*model.JobExecution) error {
	if len(executions) == 0 {
		_, err := fmt.Fprintln(out, "No executions found.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EXECUTION ID\tRUN ID\tSTATUS\tSTARTED\tREAD\tWRITTEN\tSKIPPED\tFAILURE")
	for _, je := range executions {
		var read, written, skipped int
		for _, se := range je.StepExecutions {
			read += se.ReadCount
			written += se.WriteCount
			skipped += se.SkipCount()
		}
		failure := "-"
		if len(je.Failures) > 0 {
			failure = je.Failures[0]
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%d\t%d\t%s\n",
			je.ID, je.RunID, je.Status, je.StartTime.Format(time.RFC3339), read, written, skipped, failure)
	}
	return w.Flush()
}
