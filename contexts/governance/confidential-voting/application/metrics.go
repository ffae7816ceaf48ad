package application

import (
	"concord/contexts/governance/confidential-voting/domain/entities"
	"concord/contexts/governance/confidential-voting/ports"
)

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) ResolutionOpened() {}
func (NopMetrics) BallotCast(bool) {}
func (NopMetrics) RevealRequested() {}
func (NopMetrics) ResolutionResolved(entities.Outcome) {}
func (NopMetrics) TransitionRejected(string, string) {}
func (NopMetrics) VotingPowerChanged(uint64) {}

func ResolveMetrics(metrics ports.Metrics) ports.Metrics {
	if metrics == nil {
		return NopMetrics{}
	}
	return metrics
}
