package builder

import (
	"time"

	"github.com/samber/lo"

	"github.com/rafaeljc/bifrost/internal/traffic"
)

// Result summarises a successful build.
type Result struct {
	BuildID      string              `json:"buildId"`
	Source       string              `json:"source"`
	Environments []EnvironmentResult `json:"environments"`
	Duration     time.Duration       `json:"duration"`
}

// Environment returns the result of one environment.
func (r *Result) Environment(name string) (EnvironmentResult, bool) {
	return lo.Find(r.Environments, func(e EnvironmentResult) bool { return e.Environment == name })
}

// EnvironmentResult is what a build did to one environment.
type EnvironmentResult struct {
	Environment string `json:"environment"`
	Revision    int    `json:"revision"`

	// Changed is false when the new snapshot equals the previous one; the
	// revision is then kept and the state is not saved again.
	Changed bool `json:"changed"`

	Datafiles []DatafileResult  `json:"datafiles"`
	Decisions []FeatureDecision `json:"decisions"`
}

// Rebucketed counts the rules whose allocation was recomputed from scratch.
func (e EnvironmentResult) Rebucketed() int {
	return lo.CountBy(e.Decisions, func(d FeatureDecision) bool {
		return d.Outcome == traffic.OutcomeRebucketed
	})
}

// DatafileResult describes one written datafile.
type DatafileResult struct {
	Tag      string `json:"tag"`
	Path     string `json:"path"`
	Features int    `json:"features"`

	// Published holds the cache.SetResult of the publish, empty when publishing is off.
	Published string `json:"published,omitempty"`
}

// FeatureDecision is a compiler decision tagged with its feature.
type FeatureDecision struct {
	Feature string `json:"feature"`
	traffic.Decision
}
