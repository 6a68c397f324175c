package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jiawu-lu/lubatch/internal/app"
)

// NewMigrateCmd builds the migrate command. It loads the configuration without opening
// a job, so it works before the schema exists.
func NewMigrateCmd(global *GlobalOptions, res Resources) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the job repository schema",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig(global, res)
			if err != nil {
				return &ExitError{Code: ExitConfigError, Err: err}
			}
			if cfg.Lubatch.Infrastructure.JobRepository.Type == app.RepositoryMemory {
				fmt.Fprintln(c.OutOrStdout(), "The in-memory job repository has no schema to migrate.")
				return nil
			}
			if err := app.Migrate(c.Context(), cfg); err != nil {
				return &ExitError{Code: ExitOther, Err: err}
			}
			fmt.Fprintln(c.OutOrStdout(), "Job repository schema is up to date.")
			return nil
		},
	}
}
