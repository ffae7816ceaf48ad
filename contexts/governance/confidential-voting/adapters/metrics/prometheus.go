package metrics

import (
	"concord/contexts/governance/confidential-voting/domain/entities"
	"concord/contexts/governance/confidential-voting/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus records lifecycle observations as concord_voting_* series.
type Prometheus struct {
	resolutionsOpened   prometheus.Counter
	ballotsCast         *prometheus.CounterVec
	revealsRequested    prometheus.Counter
	resolutionsResolved *prometheus.CounterVec
	transitionsRejected *prometheus.CounterVec
	totalVotingPower    prometheus.Gauge
}

func NewPrometheus(registry prometheus.Registerer) *Prometheus {
	factory := promauto.With(registry)
	return &Prometheus{
		resolutionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "concord_voting_resolutions_opened_total",
			Help: "number of resolutions opened",
		}),
		ballotsCast: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "concord_voting_ballots_cast_total",
			Help: "number of accepted ballots, split by first cast or replacement",
		}, []string{"kind"}),
		revealsRequested: factory.NewCounter(prometheus.CounterOpts{
			Name: "concord_voting_reveals_requested_total",
			Help: "number of reveal requests sent to the decryption oracle",
		}),
		resolutionsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "concord_voting_resolutions_resolved_total",
			Help: "number of finalized resolutions by outcome",
		}, []string{"outcome"}),
		transitionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "concord_voting_transitions_rejected_total",
			Help: "number of rejected actions by operation and error code",
		}, []string{"operation", "code"}),
		totalVotingPower: factory.NewGauge(prometheus.GaugeOpts{
			Name: "concord_voting_total_voting_power",
			Help: "sum of active member weights",
		}),
	}
}

func (m *Prometheus) ResolutionOpened() {
	if m == nil {
		return
	}
	m.resolutionsOpened.Inc()
}

func (m *Prometheus) BallotCast(replaced bool) {
	if m == nil {
		return
	}
	kind := "first"
	if replaced {
		kind = "replacement"
	}
	m.ballotsCast.WithLabelValues(kind).Inc()
}

func (m *Prometheus) RevealRequested() {
	if m == nil {
		return
	}
	m.revealsRequested.Inc()
}

func (m *Prometheus) ResolutionResolved(outcome entities.Outcome) {
	if m == nil {
		return
	}
	m.resolutionsResolved.WithLabelValues(string(outcome)).Inc()
}

func (m *Prometheus) TransitionRejected(operation string, code string) {
	if m == nil {
		return
	}
	m.transitionsRejected.WithLabelValues(operation, code).Inc()
}

func (m *Prometheus) VotingPowerChanged(total uint64) {
	if m == nil {
		return
	}
	m.totalVotingPower.Set(float64(total))
}

var _ ports.Metrics = (*Prometheus)(nil)
