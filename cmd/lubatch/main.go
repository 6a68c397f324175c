package main

import (
	"context"
	_ "embed"
	"os"
	"os/signal"
	"syscall"

	"github.com/jiawu-lu/lubatch/internal/cli"

	// Dialects register themselves with the GORM adapter.
	_ "github.com/jiawu-lu/lubatch/pkg/batch/adapter/database/gorm/mysql"
	_ "github.com/jiawu-lu/lubatch/pkg/batch/adapter/database/gorm/postgres"
	_ "github.com/jiawu-lu/lubatch/pkg/batch/adapter/database/gorm/sqlite"
)

// embeddedConfig holds the default configuration, overridable with --config,
// the .env file and LUBATCH_* environment variables.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// embeddedJob is the job definition run when no --job-file is given.
//
//go:embed resources/job.yaml
var embeddedJob []byte

func main() {
	// SIGINT and SIGTERM cancel the context; the running step stops at its next chunk
	// boundary and the execution ends STOPPED.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx, cli.Resources{Config: embeddedConfig, Job: embeddedJob}, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
