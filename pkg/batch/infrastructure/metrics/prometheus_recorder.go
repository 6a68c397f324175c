// Package metrics provides the Prometheus and OpenTelemetry backends of the
// core MetricRecorder and Tracer interfaces.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	metrics "github.com/jiawu-lu/lubatch/pkg/batch/core/metrics"
	logger "github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Job Metrics
	jobDurationSeconds *prometheus.HistogramVec
	jobStatusCounter   *prometheus.CounterVec

	// Step Metrics
	stepDurationSeconds *prometheus.HistogramVec
	stepStatusCounter   *prometheus.CounterVec
	stepReadCount       *prometheus.CounterVec
	stepProcessCount    *prometheus.CounterVec
	stepWriteCount      *prometheus.CounterVec
	stepCommitCount     *prometheus.CounterVec
	stepRollbackCount   *prometheus.CounterVec

	// Item Metrics
	itemSkipCounter  *prometheus.CounterVec
	itemRetryCounter *prometheus.CounterVec

	operationDurationSeconds *prometheus.HistogramVec
}

// PrometheusOption configures a PrometheusRecorder.
type PrometheusOption func(*prometheusOptions)

type prometheusOptions struct {
	runtimeCollectors bool
}

// WithRuntimeCollectors registers the Go runtime and process collectors.
func WithRuntimeCollectors() PrometheusOption {
	return func(o *prometheusOptions) { o.runtimeCollectors = true }
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder backed by its own registry.
func NewPrometheusRecorder(opts ...PrometheusOption) *PrometheusRecorder {
	var o prometheusOptions
	for _, opt := range opts {
		opt(&o)
	}

	registry := prometheus.NewRegistry()
	if o.runtimeCollectors {
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	stepCounter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{"job_name", "step_name"})
	}

	r := &PrometheusRecorder{
		registry: registry,
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_job_duration_seconds",
			Help:    "Duration of batch job executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "status", "exit_status"}),
		jobStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_job_status_total",
			Help: "Total number of batch job executions by status.",
		}, []string{"job_name", "status"}),
		stepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_step_duration_seconds",
			Help:    "Duration of batch step executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "step_name", "status", "exit_status"}),
		stepStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_status_total",
			Help: "Total number of batch step executions by status.",
		}, []string{"job_name", "step_name", "status"}),
		stepReadCount:     stepCounter("batch_step_read_total", "Total items read by step."),
		stepProcessCount:  stepCounter("batch_step_process_total", "Total items processed by step."),
		stepWriteCount:    stepCounter("batch_step_write_total", "Total items written by step."),
		stepCommitCount:   stepCounter("batch_step_commit_total", "Total chunk commits by step."),
		stepRollbackCount: stepCounter("batch_step_rollback_total", "Total chunk rollbacks by step."),
		itemSkipCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_item_skip_total",
			Help: "Total items skipped by step and phase.",
		}, []string{"job_name", "step_name", "reason"}), // reason: read, process, write
		itemRetryCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_item_retry_total",
			Help: "Total retries by step and phase.",
		}, []string{"job_name", "step_name", "reason"}),
		operationDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_operation_duration_seconds",
			Help:    "Duration of named batch operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "tags"}),
	}

	registry.MustRegister(
		r.jobDurationSeconds,
		r.jobStatusCounter,
		r.stepDurationSeconds,
		r.stepStatusCounter,
		r.stepReadCount,
		r.stepProcessCount,
		r.stepWriteCount,
		r.stepCommitCount,
		r.stepRollbackCount,
		r.itemSkipCounter,
		r.itemRetryCounter,
		r.operationDurationSeconds,
	)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes the registry in the text exposition format to path,
// for collection by the node_exporter textfile collector.
func (r *PrometheusRecorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile %s: %w", path, err)
	}
	logger.Debugf("Metrics: Registry written to '%s'.", path)
	return nil
}

// Push sends the registry to a Prometheus Pushgateway under the given job label.
func (r *PrometheusRecorder) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	logger.Debugf("Metrics: Registry pushed to '%s' (job '%s').", url, job)
	return nil
}

// jobNameFrom resolves the job label of item-level metrics from the step execution in ctx.
func jobNameFrom(ctx context.Context) string {
	if se := port.GetStepExecutionFromContext(ctx); se != nil {
		return se.JobName()
	}
	return ""
}

// RecordJobStart records the start of a JobExecution.
func (r *PrometheusRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.jobStatusCounter.WithLabelValues(execution.JobName, string(model.BatchStatusStarted)).Inc()
	logger.Debugf("Metrics: Job '%s' started.", execution.JobName)
}

// RecordJobEnd records the end of a JobExecution.
func (r *PrometheusRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	r.jobStatusCounter.WithLabelValues(execution.JobName, string(execution.Status)).Inc()
	if execution.EndTime == nil {
		return
	}
	duration := execution.EndTime.Sub(execution.StartTime).Seconds()

	r.jobDurationSeconds.WithLabelValues(
		execution.JobName,
		string(execution.Status),
		string(execution.ExitStatus),
	).Observe(duration)

	logger.Debugf("Metrics: Job '%s' ended. Duration: %.3fs", execution.JobName, duration)
}

// RecordStepStart records the start of a StepExecution.
func (r *PrometheusRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	r.stepStatusCounter.WithLabelValues(execution.JobName(), execution.StepName, string(model.BatchStatusStarted)).Inc()
	logger.Debugf("Metrics: Step '%s' started.", execution.StepName)
}

// RecordStepEnd records the end of a StepExecution.
// Item counters are incremented while the step runs, so only status and duration are recorded here.
func (r *PrometheusRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	jobName := execution.JobName()
	r.stepStatusCounter.WithLabelValues(jobName, execution.StepName, string(execution.Status)).Inc()
	if execution.EndTime == nil {
		return
	}
	duration := execution.EndTime.Sub(execution.StartTime).Seconds()

	r.stepDurationSeconds.WithLabelValues(
		jobName,
		execution.StepName,
		string(execution.Status),
		string(execution.ExitStatus),
	).Observe(duration)

	logger.Debugf("Metrics: Step '%s' ended. Duration: %.3fs", execution.StepName, duration)
}

// RecordItemRead records successful item reads.
func (r *PrometheusRecorder) RecordItemRead(ctx context.Context, stepName string) {
	r.stepReadCount.WithLabelValues(jobNameFrom(ctx), stepName).Inc()
}

// RecordItemProcess records successful item processing.
func (r *PrometheusRecorder) RecordItemProcess(ctx context.Context, stepName string) {
	r.stepProcessCount.WithLabelValues(jobNameFrom(ctx), stepName).Inc()
}

// RecordItemWrite records successful item writes.
func (r *PrometheusRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	r.stepWriteCount.WithLabelValues(jobNameFrom(ctx), stepName).Add(float64(count))
}

// RecordItemSkip records item skips.
func (r *PrometheusRecorder) RecordItemSkip(ctx context.Context, stepName string, reason string) {
	r.itemSkipCounter.WithLabelValues(jobNameFrom(ctx), stepName, phase(reason)).Inc()
}

// RecordItemRetry records item retries.
func (r *PrometheusRecorder) RecordItemRetry(ctx context.Context, stepName string, reason string) {
	r.itemRetryCounter.WithLabelValues(jobNameFrom(ctx), stepName, phase(reason)).Inc()
}

func phase(reason string) string {
	switch reason {
	case "read", "process", "write":
		return reason
	default:
		return "unknown"
	}
}

// RecordChunkCommit records chunk commits.
func (r *PrometheusRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	r.stepCommitCount.WithLabelValues(jobNameFrom(ctx), stepName).Inc()
}

// RecordChunkRollback records chunk rollbacks.
func (r *PrometheusRecorder) RecordChunkRollback(ctx context.Context, stepName string) {
	r.stepRollbackCount.WithLabelValues(jobNameFrom(ctx), stepName).Inc()
}

// RecordDuration records the execution time of a named operation.
// tags are folded into a single label in key order to keep the label set fixed.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationDurationSeconds.WithLabelValues(name, foldTags(tags)).Observe(duration.Seconds())
}

func foldTags(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + tags[k]
	}
	return strings.Join(pairs, ",")
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
