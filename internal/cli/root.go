// Package cli implements the lubatch command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jiawu-lu/lubatch/internal/app"
	config "github.com/jiawu-lu/lubatch/pkg/batch/core/config"
	"github.com/jiawu-lu/lubatch/pkg/batch/core/config/jsl"
	"github.com/jiawu-lu/lubatch/pkg/batch/core/job/runner"
)

// Resources are the files compiled into the binary.
type Resources struct {
	Config []byte
	Job    []byte
}

// GlobalOptions are the flags shared by every command.
type GlobalOptions struct {
	ConfigFile      string
	EnvFile         string
	JobFile         string
	MetricsTextfile string
}

// NewRootCmd creates the lubatch command tree.
func NewRootCmd(res Resources) *cobra.Command {
	opts := &GlobalOptions{}

	rootCmd := &cobra.Command{
		Use:   "lubatch",
		Short: "lubatch - chunk-oriented batch jobs with restartable executions",
		Long: `lubatch runs chunk-oriented batch jobs described by a job definition.
Every chunk commits together with its checkpoint, so a failed or stopped run
can be restarted and resumes after the last committed chunk.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "Configuration file merged over the embedded defaults")
	rootCmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "The .env file to load (default .env when present)")
	rootCmd.PersistentFlags().StringVarP(&opts.JobFile, "job-file", "j", "", "Job definition file replacing the embedded one")
	rootCmd.PersistentFlags().StringVar(&opts.MetricsTextfile, "metrics-textfile", "", "Write the Prometheus metrics of the run to this file")

	rootCmd.AddCommand(
		NewRunCmd(opts, res),
		NewRestartCmd(opts, res),
		NewExecutionsCmd(opts, res),
		NewMigrateCmd(opts, res),
	)
	return rootCmd
}

// Execute runs the command line in args and returns the process exit code.
func Execute(ctx context.Context, res Resources, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCmd(res)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return ExitConfigError
}

func loadConfig(opts *GlobalOptions, res Resources) (*config.Config, error) {
	cfg, err := config.Load(res.Config, config.LoadOptions{ConfigFile: opts.ConfigFile, EnvFile: opts.EnvFile})
	if err != nil {
		return nil, err
	}
	if opts.MetricsTextfile != "" {
		cfg.Lubatch.Metrics.Enabled = true
		cfg.Lubatch.Metrics.Backend = "prometheus"
		cfg.Lubatch.Metrics.TextfilePath = opts.MetricsTextfile
	}
	return cfg, nil
}

// session is an open App together with the job the command works on.
type session struct {
	app *app.App
	def *jsl.Job
	job *runner.FlowJob
}

// openSession loads the configuration, opens the App and builds the job definition.
func openSession(cmd *cobra.Command, opts *GlobalOptions, res Resources) (*session, error) {
	cfg, err := loadConfig(opts, res)
	if err != nil {
		return nil, err
	}

	a, err := app.New(cmd.Context(), cfg, app.WithOutput(cmd.OutOrStdout()))
	if err != nil {
		return nil, err
	}
	s := &session{app: a}

	jobFile := opts.JobFile
	if jobFile == "" {
		jobFile = cfg.Lubatch.Batch.JobFile
	}
	if s.def, err = app.LoadJob(jobFile, res.Job); err != nil {
		s.close(cmd)
		return nil, err
	}
	if s.job, err = a.BuildJob(s.def); err != nil {
		s.close(cmd)
		return nil, err
	}
	return s, nil
}

// close releases the App even when the command context was cancelled by a signal.
func (s *session) close(cmd *cobra.Command) {
	if err := s.app.Close(context.WithoutCancel(cmd.Context())); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to release resources: %v\n", err)
	}
}
