package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/jiawu-lu/lubatch/pkg/batch/adapter/database/gorm/sqlite"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
)

const testJob = `
id: importUserJob
incrementer:
  ref: runIdIncrementer
flow:
  elements:
    - step:
        id: step1
        source:
          ref: flatFileSource
        mapper:
          ref: delimitedMapper
        writer:
          ref: consoleWriter
          properties:
            format: "%v\n"
`

// chunkedJob commits every record in its own chunk.
const chunkedJob = `
id: importUserJob
incrementer:
  ref: runIdIncrementer
flow:
  elements:
    - step:
        id: step1
        source:
          ref: flatFileSource
        mapper:
          ref: delimitedMapper
        writer:
          ref: consoleWriter
          properties:
            format: "%v\n"
        chunk:
          item-count: 1
`

type fixture struct {
	input  string
	config string
	job    string
}

// newFixture writes input and a configuration pointing the job at it and at a SQLite
// repository in a temporary directory.
func newFixture(t *testing.T, input string) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		input:  filepath.Join(dir, "log.txt"),
		config: filepath.Join(dir, "application.yaml"),
		job:    testJob,
	}
	require.NoError(t, os.WriteFile(f.input, []byte(input), 0o644))
	cfg := fmt.Sprintf(`
lubatch:
  batch:
    input:
      path: %s
  infrastructure:
    database:
      type: sqlite
      path: %s
`, f.input, filepath.Join(dir, "lubatch.db"))
	require.NoError(t, os.WriteFile(f.config, []byte(cfg), 0o644))
	return f
}

func (f fixture) execute(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	res := Resources{Job: []byte(f.job)}
	args = append(args, "--config", f.config)
	code := Execute(context.Background(), res, args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Completed(t *testing.T) {
	f := newFixture(t, "")
	other := filepath.Join(filepath.Dir(f.input), "people.txt")
	require.NoError(t, os.WriteFile(other, []byte("Jane,Doe\nJohn,Smith\n"), 0o644))

	code, stdout, stderr := f.execute("run", "--input", other, "--param", "region=eu")

	assert.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "Person{firstName=Jane, lastName=Doe}")
	assert.Contains(t, stdout, "Person{firstName=John, lastName=Smith}")
	assert.Contains(t, stderr, "finished with status COMPLETED")
}

func TestRun_FailedThenRestart(t *testing.T) {
	f := newFixture(t, "Jane,Doe\nOnlyOneField\n")

	code, _, stderr := f.execute("run")
	assert.Equal(t, ExitFailed, code)
	assert.Contains(t, stderr, "finished with status FAILED")
	assert.Contains(t, stderr, "Last error:")

	require.NoError(t, os.WriteFile(f.input, []byte("Jane,Doe\nJohn,Smith\n"), 0o644))
	code, stdout, stderr := f.execute("restart")
	assert.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "Person{firstName=John, lastName=Smith}")

	code, stdout, _ = f.execute("executions")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "EXECUTION ID")
	assert.Contains(t, stdout, "COMPLETED")
	assert.Contains(t, stdout, "ABANDONED")
}

func TestRestart_ReadsInputOfOriginalRun(t *testing.T) {
	f := newFixture(t, "Other,Zero\nOther,One\nOther,Two\nOther,Three\n")
	f.job = chunkedJob
	big := filepath.Join(filepath.Dir(f.input), "big.txt")
	require.NoError(t, os.WriteFile(big, []byte("A,One\nB,Two\nBroken\nD,Four\n"), 0o644))

	code, stdout, stderr := f.execute("run", "--input", big)
	require.Equal(t, ExitFailed, code, stderr)
	assert.Contains(t, stdout, "Person{firstName=B, lastName=Two}")
	assert.NotContains(t, stdout, "Other")

	require.NoError(t, os.WriteFile(big, []byte("A,One\nB,Two\nC,Three\nD,Four\n"), 0o644))
	code, stdout, stderr = f.execute("restart")
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "Person{firstName=C, lastName=Three}")
	assert.Contains(t, stdout, "Person{firstName=D, lastName=Four}")
	assert.NotContains(t, stdout, "firstName=B")
	assert.NotContains(t, stdout, "Other")
}

func TestRun_UnknownFlag(t *testing.T) {
	f := newFixture(t, "")
	code, _, stderr := f.execute("run", "--bogus")
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, stderr, "unknown flag")
}

func TestRestart_NothingToRestart(t *testing.T) {
	f := newFixture(t, "Jane,Doe\n")
	code, _, stderr := f.execute("restart")
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, stderr, "no FAILED or STOPPED execution")
}

func TestRun_InvalidParam(t *testing.T) {
	f := newFixture(t, "Jane,Doe\n")
	code, _, stderr := f.execute("run", "--param", "novalue")
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, stderr, "expected key=value")
}

func TestRun_MissingConfigFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), Resources{Job: []byte(testJob)},
		[]string{"run", "--config", filepath.Join(t.TempDir(), "missing.yaml")}, &stdout, &stderr)
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, stderr.String(), "failed to read configuration file")
}

func TestMigrate(t *testing.T) {
	f := newFixture(t, "")
	code, stdout, stderr := f.execute("migrate")
	assert.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "schema is up to date")

	// Applying again is a no-op.
	code, _, _ = f.execute("migrate")
	assert.Equal(t, ExitOK, code)
}

func TestExecutions_Empty(t *testing.T) {
	f := newFixture(t, "")
	code, stdout, _ := f.execute("executions", "--job", "otherJob")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "No executions found.")
}

func TestExitCode(t *testing.T) {
	je := func(status model.JobStatus) *model.JobExecution {
		return &model.JobExecution{Status: status}
	}
	assert.Equal(t, ExitOK, ExitCode(je(model.BatchStatusCompleted), nil))
	assert.Equal(t, ExitFailed, ExitCode(je(model.BatchStatusFailed), nil))
	assert.Equal(t, ExitStopped, ExitCode(je(model.BatchStatusStopped), nil))
	assert.Equal(t, ExitOther, ExitCode(je(model.BatchStatusAbandoned), nil))
	assert.Equal(t, ExitOther, ExitCode(nil, nil))
	assert.Equal(t, ExitConfigError, ExitCode(nil, fmt.Errorf("boom")))
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"region=eu", "query=a=b"})
	require.NoError(t, err)
	assert.Equal(t, "eu", params.Get("region"))
	assert.Equal(t, "a=b", params.Get("query"))

	_, err = parseParams([]string{"=x"})
	assert.Error(t, err)
}
