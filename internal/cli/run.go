package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jiawu-lu/lubatch/internal/app"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	exception "github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
)

// RunOptions holds the flags of the run command.
type RunOptions struct {
	// Input overrides the configured input resource. It is stored as the input.path
	// job parameter, so a restart of the run reads the same resource.
	Input string
	// Params are key=value pairs added to the job parameters.
	Params []string
}

// NewRunCmd creates the run command, which launches a new run of the configured job
// and exits with the code derived from its final status.
func NewRunCmd(global *GlobalOptions, res Resources) *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Launch a new run of the job",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			params, err := parseParams(opts.Params)
			if err != nil {
				return &ExitError{Code: ExitConfigError, Err: err}
			}
			if opts.Input != "" {
				params.Put(app.InputParameter, opts.Input)
			}
			s, err := openSession(c, global, res)
			if err != nil {
				return &ExitError{Code: ExitConfigError, Err: err}
			}
			defer s.close(c)

			execution, err := s.app.Run(c.Context(), s.job, params)
			return finish(c.ErrOrStderr(), execution, err)
		},
	}

	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Input file (local path or gs://bucket/object)")
	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "Job parameter as key=value (repeatable)")
	return cmd
}

// parseParams converts key=value pairs into job parameters. Values stay strings.
func parseParams(pairs []string) (model.JobParameters, error) {
	params := model.NewJobParameters()
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return params, exception.NewConfigurationError(fmt.Sprintf("invalid job parameter %q, expected key=value", pair), nil)
		}
		params.Put(key, value)
	}
	return params, nil
}
