// internal/common/camunda/worker.go
package camunda

import (
	"context"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"

	"order-workers/internal/common/config"
	"order-workers/internal/common/metrics"
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
}

// JobRecorder receives per-job timings. The observability meter satisfies it.
type JobRecorder interface {
	RecordJobProcessed(ctx context.Context, taskType string)
	RecordJobDuration(ctx context.Context, duration time.Duration, taskType string)
}

// HandlerFunc matches the Zeebe job handler signature.
type HandlerFunc func(client worker.JobClient, job entities.Job)

// Workers keeps the opened job workers so they can be closed together.
type Workers struct {
	client   zbc.Client
	logger   Logger
	recorder JobRecorder
	workers  []worker.JobWorker
	types    []string
}

func NewWorkers(client zbc.Client, log Logger) *Workers {
	return &Workers{client: client, logger: log}
}

// WithRecorder makes every handler started afterwards report to r.
func (w *Workers) WithRecorder(r JobRecorder) *Workers {
	w.recorder = r
	return w
}

// Start opens a job worker for taskType unless it is disabled.
func (w *Workers) Start(taskType string, wcfg config.WorkerConfig, handler HandlerFunc) {
	if !wcfg.Enabled {
		w.logger.Info("worker disabled", map[string]interface{}{"taskType": taskType})
		return
	}
	maxJobs := wcfg.MaxJobsActive
	if maxJobs <= 0 {
		maxJobs = 8
	}
	timeout := time.Duration(wcfg.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	jw := w.client.NewJobWorker().
		JobType(taskType).
		Handler(w.instrument(taskType, handler)).
		MaxJobsActive(maxJobs).
		Timeout(timeout).
		Open()

	w.workers = append(w.workers, jw)
	w.types = append(w.types, taskType)
	w.logger.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": maxJobs,
		"timeoutMs":     timeout.Milliseconds(),
	})
}

func (w *Workers) instrument(taskType string, handler HandlerFunc) worker.JobHandler {
	return func(client worker.JobClient, job entities.Job) {
		metrics.WorkerJobsActive.WithLabelValues(taskType).Inc()
		defer metrics.WorkerJobsActive.WithLabelValues(taskType).Dec()

		start := time.Now()
		handler(client, job)
		elapsed := time.Since(start)

		metrics.WorkerJobDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
		if w.recorder != nil {
			ctx := context.Background()
			w.recorder.RecordJobProcessed(ctx, taskType)
			w.recorder.RecordJobDuration(ctx, elapsed, taskType)
		}
	}
}

// Count reports how many workers are open.
func (w *Workers) Count() int {
	return len(w.workers)
}

// Stop closes every worker and waits for in-flight jobs until ctx is done.
func (w *Workers) Stop(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		for i, jw := range w.workers {
			jw.Close()
			jw.AwaitClose()
			w.logger.Info("worker stopped", map[string]interface{}{"taskType": w.types[i]})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
