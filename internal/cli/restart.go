package cli

import (
	"github.com/spf13/cobra"
)

// RestartOptions holds the flags of the restart command.
type RestartOptions struct {
	// ExecutionID selects the execution to restart. Empty means the latest FAILED or
	// STOPPED execution of the job.
	ExecutionID string
}

// NewRestartCmd creates the restart command. The restarted run reads the input the
// original run used, whatever the configuration says now.
func NewRestartCmd(global *GlobalOptions, res Resources) *cobra.Command {
	opts := &RestartOptions{}

	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart a FAILED or STOPPED execution",
		Long: `Restart resumes a FAILED or STOPPED execution after its last committed chunk.
Without --execution-id the latest restartable execution of the job is used.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			s, err := openSession(c, global, res)
			if err != nil {
				return &ExitError{Code: ExitConfigError, Err: err}
			}
			defer s.close(c)

			execution, err := s.app.Restart(c.Context(), s.job, opts.ExecutionID)
			return finish(c.ErrOrStderr(), execution, err)
		},
	}

	cmd.Flags().StringVarP(&opts.ExecutionID, "execution-id", "e", "", "ID of the execution to restart")
	return cmd
}
