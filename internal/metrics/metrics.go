// Package metrics collects per-run deploy metrics and pushes them to a
// Prometheus pushgateway when the run ends.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/keithlinneman/static-deployer/internal/deploy"
	"github.com/keithlinneman/static-deployer/internal/version"
)

type DeployMetrics struct {
	reg *prometheus.Registry

	buildInfo *prometheus.GaugeVec

	uploadsTotal  *prometheus.CounterVec
	uploadBytes   prometheus.Counter
	uploadDur     prometheus.Histogram
	stageDur      *prometheus.HistogramVec
	runsTotal     *prometheus.CounterVec
	runDur        *prometheus.HistogramVec
	lastSuccessTs *prometheus.GaugeVec
	liveVersion   *prometheus.GaugeVec
}

var _ deploy.Observer = (*DeployMetrics)(nil)

// New returns a fresh registry with deploy metrics only. Go and process
// collectors are left out: a pushed CLI run makes them meaningless.
func New() *DeployMetrics {
	reg := prometheus.NewRegistry()

	m := &DeployMetrics{
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		uploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deploy_uploads_total",
			Help: "Object uploads by result",
		}, []string{"result"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deploy_upload_bytes_total",
			Help: "Bytes uploaded by successful object uploads",
		}),
		uploadDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "deploy_upload_duration_seconds",
			Help:    "Latency of single object uploads",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		stageDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deploy_stage_duration_seconds",
			Help:    "Stage latency by workflow, stage and result",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600, 1800, 3600},
		}, []string{"workflow", "stage", "result"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deploy_runs_total",
			Help: "Finished workflow runs by result",
		}, []string{"workflow", "result"}),
		runDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deploy_run_duration_seconds",
			Help:    "End to end workflow latency",
			Buckets: []float64{1, 5, 15, 30, 60, 180, 600, 1800, 3600},
		}, []string{"workflow"}),
		lastSuccessTs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deploy_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful run",
		}, []string{"workflow"}),
		liveVersion: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deploy_live_version_info",
			Help: "Version the distribution was switched to (label carries value, gauge is always 1)",
		}, []string{"distribution_id", "version"}),
	}
	reg.MustRegister(
		m.buildInfo,
		m.uploadsTotal,
		m.uploadBytes,
		m.uploadDur,
		m.stageDur,
		m.runsTotal,
		m.runDur,
		m.lastSuccessTs,
		m.liveVersion,
	)
	m.reg = reg
	return m
}

// Registry exposes the underlying registry, mainly for tests and textfile
// export.
func (m *DeployMetrics) Registry() *prometheus.Registry { return m.reg }

// set once at startup.
func (m *DeployMetrics) SetBuildInfoFromVersion(app string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *DeployMetrics) SetLiveVersion(distributionID, ver string) {
	m.liveVersion.Reset()
	m.liveVersion.WithLabelValues(distributionID, ver).Set(1)
}

func (m *DeployMetrics) ObserveUpload(ok bool, bytes int64, d time.Duration) {
	m.uploadsTotal.WithLabelValues(result(ok)).Inc()
	if ok {
		m.uploadBytes.Add(float64(bytes))
	}
	m.uploadDur.Observe(d.Seconds())
}

func (m *DeployMetrics) ObserveStage(wf deploy.Workflow, stage deploy.Stage, ok bool, d time.Duration) {
	m.stageDur.WithLabelValues(string(wf), string(stage), result(ok)).Observe(d.Seconds())
}

func (m *DeployMetrics) ObserveRun(wf deploy.Workflow, ok bool, d time.Duration) {
	m.runsTotal.WithLabelValues(string(wf), result(ok)).Inc()
	m.runDur.WithLabelValues(string(wf)).Observe(d.Seconds())
	if ok {
		m.lastSuccessTs.WithLabelValues(string(wf)).SetToCurrentTime()
	}
}

// Push replaces this job's metric group on the pushgateway. grouping pairs
// (e.g. "distribution_id", "E123") keep runs against different targets apart.
func (m *DeployMetrics) Push(ctx context.Context, url, job string, grouping ...string) error {
	p := push.New(url, job).Gatherer(m.reg)
	for i := 0; i+1 < len(grouping); i += 2 {
		p = p.Grouping(grouping[i], grouping[i+1])
	}
	return p.PushContext(ctx)
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
