package metrics_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	"github.com/jiawu-lu/lubatch/pkg/batch/infrastructure/metrics"
)

// sampleValue returns the value of the counter or histogram sample count of
// name whose labels include want.
func sampleValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			if m.GetHistogram() != nil {
				return float64(m.GetHistogram().GetSampleCount())
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func newStepContext(jobName, stepName string) (context.Context, *model.JobExecution, *model.StepExecution) {
	je := model.NewJobExecution(model.NewID(), jobName, model.NewJobParameters())
	se := model.NewStepExecution(model.NewID(), je, stepName)
	return port.GetContextWithStepExecution(context.Background(), se), je, se
}

func TestPrometheusRecorder_StepCounters(t *testing.T) {
	r := metrics.NewPrometheusRecorder()
	ctx, _, _ := newStepContext("importUserJob", "step1")

	r.RecordItemRead(ctx, "step1")
	r.RecordItemRead(ctx, "step1")
	r.RecordItemProcess(ctx, "step1")
	r.RecordItemWrite(ctx, "step1", 2)
	r.RecordItemSkip(ctx, "step1", "read")
	r.RecordItemRetry(ctx, "step1", "bogus")
	r.RecordChunkCommit(ctx, "step1", 2)
	r.RecordChunkRollback(ctx, "step1")

	reg := r.GetRegistry()
	labels := map[string]string{"job_name": "importUserJob", "step_name": "step1"}
	assert.Equal(t, 2.0, sampleValue(t, reg, "batch_step_read_total", labels))
	assert.Equal(t, 1.0, sampleValue(t, reg, "batch_step_process_total", labels))
	assert.Equal(t, 2.0, sampleValue(t, reg, "batch_step_write_total", labels))
	assert.Equal(t, 1.0, sampleValue(t, reg, "batch_step_commit_total", labels))
	assert.Equal(t, 1.0, sampleValue(t, reg, "batch_step_rollback_total", labels))
	assert.Equal(t, 1.0, sampleValue(t, reg, "batch_item_skip_total", map[string]string{"reason": "read"}))
	assert.Equal(t, 1.0, sampleValue(t, reg, "batch_item_retry_total", map[string]string{"reason": "unknown"}))
}

func TestPrometheusRecorder_ItemMetricsWithoutStepExecution(t *testing.T) {
	r := metrics.NewPrometheusRecorder()
	r.RecordItemRead(context.Background(), "step1")
	assert.Equal(t, 1.0, sampleValue(t, r.GetRegistry(), "batch_step_read_total", map[string]string{"job_name": "", "step_name": "step1"}))
}

func TestPrometheusRecorder_JobAndStepLifecycle(t *testing.T) {
	r := metrics.NewPrometheusRecorder()
	ctx, je, se := newStepContext("importUserJob", "step1")

	r.RecordJobStart(ctx, je)
	r.RecordStepStart(ctx, se)
	se.MarkAsStarted()
	se.MarkAsCompleted()
	r.RecordStepEnd(ctx, se)
	je.MarkAsStarted()
	je.MarkAsCompleted()
	r.RecordJobEnd(ctx, je)

	reg := r.GetRegistry()
	assert.Equal(t, 1.0, sampleValue(t, reg, "batch_job_status_total", map[string]string{"status": "STARTED"}))
	assert.Equal(t, 1.0, sampleValue(t, reg, "batch_job_status_total", map[string]string{"status": "COMPLETED"}))
	assert.Equal(t, 1.0, sampleValue(t, reg, "batch_step_status_total", map[string]string{"step_name": "step1", "status": "COMPLETED"}))
	assert.Equal(t, 1.0, sampleValue(t, reg, "batch_job_duration_seconds", map[string]string{"exit_status": "COMPLETED"}))
	assert.Equal(t, 1.0, sampleValue(t, reg, "batch_step_duration_seconds", map[string]string{"step_name": "step1"}))
}

func TestPrometheusRecorder_RecordDurationFoldsTags(t *testing.T) {
	r := metrics.NewPrometheusRecorder()
	r.RecordDuration(context.Background(), "chunk", 20*time.Millisecond, map[string]string{"step": "step1", "status": "ok"})
	assert.Equal(t, 1.0, sampleValue(t, r.GetRegistry(), "batch_operation_duration_seconds",
		map[string]string{"operation": "chunk", "tags": "status=ok,step=step1"}))
}

func TestPrometheusRecorder_WriteTextfile(t *testing.T) {
	r := metrics.NewPrometheusRecorder(metrics.WithRuntimeCollectors())
	ctx, _, _ := newStepContext("importUserJob", "step1")
	r.RecordItemWrite(ctx, "step1", 5)

	path := filepath.Join(t.TempDir(), "lubatch.prom")
	require.NoError(t, r.WriteTextfile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `batch_step_write_total{job_name="importUserJob",step_name="step1"} 5`)
	assert.Contains(t, string(raw), "go_goroutines")
}

func TestPrometheusRecorder_WriteTextfileError(t *testing.T) {
	r := metrics.NewPrometheusRecorder()
	err := r.WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "lubatch.prom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write metrics textfile")
}
