package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric names
const (
	MetricNameRunsTotal        = "formwatch_runs_total"
	MetricNameFormWorking      = "formwatch_form_working"
	MetricNameNotifyAttempts   = "formwatch_notify_attempts_total"
	MetricNameStageFailures    = "formwatch_stage_failures_total"
	MetricNameLastRunTimestamp = "formwatch_last_run_timestamp_seconds"
)

// Label names
const (
	LabelSite    = "site"
	LabelForm    = "form"
	LabelOutcome = "outcome"
	LabelStage   = "stage"
)

// Notification attempt outcomes
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeFallback   = "fallback"
	OutcomeDeadLetter = "dead_letter"
)

var (
	RunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameRunsTotal,
			Help: "Total number of completed verification runs",
		},
	)

	FormWorking = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: MetricNameFormWorking,
			Help: "1 if the form was confirmed working in the last run, 0 otherwise",
		},
		[]string{LabelSite, LabelForm},
	)

	NotifyAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameNotifyAttempts,
			Help: "Report delivery attempts by outcome",
		},
		[]string{LabelOutcome},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameStageFailures,
			Help: "Pipeline stages that ended in failure",
		},
		[]string{LabelStage},
	)

	LastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricNameLastRunTimestamp,
			Help: "Unix time at which the last verification run finished",
		},
	)
)

// SetFormStatus records the latest verdict for one form.
func SetFormStatus(site, form string, working bool) {
	v := 0.0
	if working {
		v = 1
	}
	FormWorking.WithLabelValues(site, form).Set(v)
}
