package perf

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/stocksync/internal/jobs"
	"github.com/odyssey-erp/stocksync/internal/transfer"
	"github.com/odyssey-erp/stocksync/jobs"
)

type timedRunner struct {
	delay time.Duration
	err   error
}

func (r timedRunner) Run(ctx context.Context, id string, force bool) (transfer.RunResult, error) {
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return transfer.RunResult{}, ctx.Err()
	}
	return transfer.RunResult{Path: transfer.PathTransfer}, r.err
}

func TestTransferSyncThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	fast := jobs.NewTransferSyncJob(timedRunner{delay: 2 * time.Millisecond}, nil, metrics)
	broken := jobs.NewTransferSyncJob(timedRunner{delay: time.Millisecond, err: errors.New("ledger unavailable")}, nil, metrics)

	task := func(id string) *asynq.Task {
		tk, err := jobs.NewTransferSyncTask(id, false)
		require.NoError(t, err)
		return tk
	}

	for i := 0; i < 40; i++ {
		require.NoError(t, fast.Handle(context.Background(), task("t-fast")))
	}
	for i := 0; i < 2; i++ {
		require.Error(t, broken.Handle(context.Background(), task("t-broken")))
	}

	families, err := reg.Gather()
	require.NoError(t, err)

	success := metricValue(t, families, "stocksync_jobs_total", map[string]string{"job": jobs.TaskTransferSync, "status": "success"})
	failure := metricValue(t, families, "stocksync_jobs_total", map[string]string{"job": jobs.TaskTransferSync, "status": "failure"})
	require.Equal(t, float64(40), success)
	require.Equal(t, float64(2), failure)
	require.GreaterOrEqual(t, success/(success+failure), 0.9)

	mean := histogramMean(t, families, "stocksync_job_duration_seconds", map[string]string{"job": jobs.TaskTransferSync})
	require.Less(t, mean, 0.5)
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok && lp.GetValue() != val {
			return false
		}
	}
	for key := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
