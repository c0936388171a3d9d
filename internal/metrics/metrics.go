// Package metrics exposes prometheus collectors for the validation engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "peerval"

const (
	LabelKind    = "kind"
	LabelStatus  = "status"
	LabelResult  = "result"
	LabelReason  = "reason"
	LabelJob     = "job"
	LabelOutcome = "outcome"
	LabelPeriod  = "period"
)

// ConsensusMetrics is reported by the consensus engine.
type ConsensusMetrics interface {
	VoteRecorded(kind string, approved bool)
	VoteRefused(reason string)
	SubmissionFinalized(kind string, status string, age time.Duration)
}

// JobMetrics is reported by the periodic jobs.
type JobMetrics interface {
	JobFinished(job string, err error, took time.Duration)
	BlockedValidators(period string, n int)
}

// Metrics is everything the service reports.
type Metrics interface {
	ConsensusMetrics
	JobMetrics
}

type Collector struct {
	votes       *prometheus.CounterVec
	refused     *prometheus.CounterVec
	finalized   *prometheus.CounterVec
	finalizeAge *prometheus.HistogramVec
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	blocked     *prometheus.GaugeVec
}

var _ Metrics = (*Collector)(nil)

// NewCollector registers all collectors with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		votes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "votes_total",
			Help:      "votes recorded, by submission kind and direction",
		}, []string{LabelKind, LabelResult}),
		refused: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "votes_refused_total",
			Help:      "vote attempts refused, by reason",
		}, []string{LabelReason}),
		finalized: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "submissions_finalized_total",
			Help:      "submissions reaching a terminal status",
		}, []string{LabelKind, LabelStatus}),
		finalizeAge: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "finalization_age_hours",
			Help:      "hours from submission creation to finalization",
			Buckets:   []float64{1, 6, 12, 24, 48, 72, 120, 240},
		}, []string{LabelKind}),
		jobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "periodic job runs, by outcome",
		}, []string{LabelJob, LabelOutcome}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "periodic job duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{LabelJob}),
		blocked: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "performance",
			Name:      "blocked_validators",
			Help:      "validators blocked in a period after the last scan",
		}, []string{LabelPeriod}),
	}
}

func (c *Collector) VoteRecorded(kind string, approved bool) {
	result := "rejected"
	if approved {
		result = "approved"
	}
	c.votes.With(prometheus.Labels{LabelKind: kind, LabelResult: result}).Inc()
}

func (c *Collector) VoteRefused(reason string) {
	c.refused.With(prometheus.Labels{LabelReason: reason}).Inc()
}

func (c *Collector) SubmissionFinalized(kind string, status string, age time.Duration) {
	c.finalized.With(prometheus.Labels{LabelKind: kind, LabelStatus: status}).Inc()
	c.finalizeAge.With(prometheus.Labels{LabelKind: kind}).Observe(age.Hours())
}

func (c *Collector) JobFinished(job string, err error, took time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.jobRuns.With(prometheus.Labels{LabelJob: job, LabelOutcome: outcome}).Inc()
	c.jobDuration.With(prometheus.Labels{LabelJob: job}).Observe(took.Seconds())
}

func (c *Collector) BlockedValidators(period string, n int) {
	c.blocked.With(prometheus.Labels{LabelPeriod: period}).Set(float64(n))
}
