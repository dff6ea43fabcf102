package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	SchedulerErrorTypeDeadlineExceeded = "deadline_exceeded"
	SchedulerErrorTypeBusinessRule     = "business_rule"
	SchedulerErrorTypeDB               = "db"
	SchedulerErrorTypeUnknown          = "unknown"
)

const (
	LockResourceSchedulesForWork = "billing_schedules_for_work"
	LockResourceRetriesForWork   = "payment_retries_for_work"
	LockResourceDunningForWork   = "dunning_processes_for_work"
	LockResourceRunByID          = "billing_run_by_id"
)

// SchedulerMetrics captures sweep-job health signals.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
	dbLockWait     *prometheus.HistogramVec
}

var (
	schedulerOnce     sync.Once
	schedulerInstance *SchedulerMetrics
)

// Scheduler returns the process-wide scheduler metrics, registering on first use.
func Scheduler() *SchedulerMetrics {
	schedulerOnce.Do(func() {
		schedulerInstance = newSchedulerMetrics(prometheus.DefaultRegisterer)
	})
	return schedulerInstance
}

func newSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	m := &SchedulerMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recurra_scheduler_job_runs_total",
			Help: "Number of sweep job invocations.",
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recurra_scheduler_job_duration_seconds",
			Help:    "Sweep job wall time.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recurra_scheduler_job_timeouts_total",
			Help: "Sweep jobs that hit their deadline.",
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recurra_scheduler_job_errors_total",
			Help: "Sweep job errors by classified type.",
		}, []string{"job", "error_type"}),
		batchProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recurra_scheduler_batch_processed_total",
			Help: "Entities processed per job.",
		}, []string{"job", "entity"}),
		dbLockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recurra_scheduler_db_lock_wait_seconds",
			Help:    "Time spent claiming rows for work.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"resource"}),
	}
	for _, c := range []prometheus.Collector{m.jobRuns, m.jobDuration, m.jobTimeouts, m.jobErrors, m.batchProcessed, m.dbLockWait} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
	return m
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobError(job string, err error) {
	m.jobErrors.WithLabelValues(job, ClassifySchedulerErrorType(err)).Inc()
}

func (m *SchedulerMetrics) AddBatchProcessed(job, entity string, count int) {
	if count <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job, entity).Add(float64(count))
}

func (m *SchedulerMetrics) ObserveDBLockWait(resource string, d time.Duration) {
	m.dbLockWait.WithLabelValues(resource).Observe(d.Seconds())
}

// ClassifySchedulerErrorType buckets sweep errors for alerting.
func ClassifySchedulerErrorType(err error) string {
	switch {
	case err == nil:
		return SchedulerErrorTypeUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SchedulerErrorTypeDeadlineExceeded
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, gorm.ErrInvalidTransaction):
		return SchedulerErrorTypeDB
	default:
		return SchedulerErrorTypeBusinessRule
	}
}
