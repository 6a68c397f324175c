// Package app assembles a lubatch process from its configuration: the job repository and
// transaction manager, telemetry, storage connections, the launcher and operator, and the
// component table job definitions are built against.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"
	"gorm.io/gorm"

	gormadapter "github.com/jiawu-lu/lubatch/pkg/batch/adapter/database/gorm"
	"github.com/jiawu-lu/lubatch/pkg/batch/adapter/database/migration"
	storage "github.com/jiawu-lu/lubatch/pkg/batch/adapter/storage"
	"github.com/jiawu-lu/lubatch/pkg/batch/core/application/usecase"
	config "github.com/jiawu-lu/lubatch/pkg/batch/core/config"
	"github.com/jiawu-lu/lubatch/pkg/batch/core/config/jsl"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	repository "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/repository"
	"github.com/jiawu-lu/lubatch/pkg/batch/core/job/runner"
	tx "github.com/jiawu-lu/lubatch/pkg/batch/core/tx"
	"github.com/jiawu-lu/lubatch/pkg/batch/infrastructure/metrics"
	"github.com/jiawu-lu/lubatch/pkg/batch/infrastructure/repository/inmemory"
	sqlrepo "github.com/jiawu-lu/lubatch/pkg/batch/infrastructure/repository/sql"
	exception "github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
	logger "github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// Job repository types.
const (
	RepositorySQL    = "sql"
	RepositoryMemory = "memory"
)

// App owns every long-lived resource of one process. Create it with New and release it
// with Close.
type App struct {
	cfg       *config.Config
	out       io.Writer
	db        *gorm.DB
	repo      repository.JobRepository
	txManager tx.TransactionManager
	telemetry *metrics.Telemetry

	launcher *usecase.SimpleJobLauncher
	explorer *usecase.SimpleJobExplorer
	operator *usecase.DefaultJobOperator

	mu      sync.Mutex
	store   storage.StorageConnection
	gcs     storage.StorageConnection
	closers []func(ctx context.Context) error
}

// Option customizes an App.
type Option func(*App)

// WithOutput sends console and report output to w instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) {
		if w != nil {
			a.out = w
		}
	}
}

// New sets up telemetry and opens the job repository cfg describes. With auto-migrate the
// metadata schema is applied before New returns.
//
// Parameters:
//
//	ctx: The context for opening connections.
//	cfg: The loaded configuration.
//	opts: Options overriding parts of the wiring, mostly for tests.
//
// Returns:
//   - *App: The application. Close releases what it opened.
//   - error: An error when the repository cannot be opened or migrated.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, out: os.Stdout}
	for _, opt := range opts {
		opt(a)
	}

	telemetry, err := metrics.Setup(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.telemetry = telemetry

	if err := a.openRepository(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	a.launcher = usecase.NewSimpleJobLauncher(a.repo, runner.NewSimpleJobRunner(a.repo))
	a.explorer = usecase.NewSimpleJobExplorer(a.repo)
	a.operator = usecase.NewDefaultJobOperator(a.repo, a.launcher, a.explorer)
	return a, nil
}

func (a *App) openRepository(ctx context.Context) error {
	repoCfg := a.cfg.Lubatch.Infrastructure.JobRepository
	switch repoCfg.Type {
	case RepositoryMemory:
		repo := inmemory.NewInMemoryJobRepository()
		a.repo = repo
		a.txManager = tx.NewResourcelessTransactionManager()
		a.onClose(func(context.Context) error { return repo.Close() })
		logger.Infof("Using the in-memory job repository.")
		return nil
	case RepositorySQL, "":
	default:
		return exception.NewConfigurationError(fmt.Sprintf("unknown job repository type '%s'", repoCfg.Type), nil)
	}

	db, err := gormadapter.Open(a.cfg.Lubatch.Infrastructure.Database, a.cfg.Lubatch.System.Logging.Level)
	if err != nil {
		return exception.NewConfigurationError("failed to open the job repository database", err)
	}
	repo := sqlrepo.NewGormJobRepository(db)
	a.db = db
	a.repo = repo
	a.txManager = gormadapter.NewGormTransactionManager(db)
	a.onClose(func(context.Context) error { return repo.Close() })

	// The repository connection is already open, so a shared in-memory SQLite database
	// outlives the migration connection.
	if repoCfg.AutoMigrate {
		return Migrate(ctx, a.cfg)
	}
	return nil
}

// Migrate applies the metadata schema to the configured database over a dedicated connection.
func Migrate(ctx context.Context, cfg *config.Config) (err error) {
	m, err := migration.Open(cfg.Lubatch.Infrastructure.Database, cfg.Lubatch.System.Logging.Level)
	if err != nil {
		return exception.NewConfigurationError("failed to open the database for migration", err)
	}
	defer func() {
		if cerr := m.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close migrator: %w", cerr)
		}
	}()
	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("failed to migrate the job repository schema: %w", err)
	}
	return nil
}

func (a *App) onClose(fn func(ctx context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Repository returns the job repository.
func (a *App) Repository() repository.JobRepository { return a.repo }

// Operator returns the job operator.
func (a *App) Operator() *usecase.DefaultJobOperator { return a.operator }

// Telemetry returns the metric and tracing backends.
func (a *App) Telemetry() *metrics.Telemetry { return a.telemetry }

// BuildContext returns what component builders receive.
func (a *App) BuildContext() jsl.BuildContext {
	return jsl.BuildContext{
		Config:         a.cfg,
		JobRepository:  a.repo,
		TxManager:      a.txManager,
		MetricRecorder: a.telemetry.Recorder,
		Tracer:         a.telemetry.Tracer,
	}
}

// LoadJob reads the job definition at path, or parses embedded when path is empty.
func LoadJob(path string, embedded []byte) (*jsl.Job, error) {
	if path != "" {
		return jsl.LoadJSLDefinitionFromFile(path)
	}
	if len(embedded) == 0 {
		return nil, exception.NewConfigurationError("no job definition given", nil)
	}
	return jsl.LoadJSLDefinitionFromBytes(embedded)
}

// BuildJob converts def into a runnable job using the App's component table.
func (a *App) BuildJob(def *jsl.Job) (*runner.FlowJob, error) {
	return jsl.NewBuilder(a.BuildContext(), a.Components()).Build(def)
}

// Run launches a new execution of job.
func (a *App) Run(ctx context.Context, job *runner.FlowJob, params model.JobParameters) (*model.JobExecution, error) {
	return a.launcher.Launch(ctx, job, params)
}

// Restart restarts executionID of job, or its latest FAILED or STOPPED execution when
// executionID is empty.
func (a *App) Restart(ctx context.Context, job *runner.FlowJob, executionID string) (*model.JobExecution, error) {
	return a.operator.Restart(ctx, job, executionID)
}

// Executions lists the executions of jobName, newest first.
func (a *App) Executions(ctx context.Context, jobName string) ([]*model.JobExecution, error) {
	return a.operator.Executions(ctx, jobName)
}

// Close flushes telemetry and releases every resource in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var result *multierror.Error
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}

	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
