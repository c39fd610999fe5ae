package scoring

import (
	"context"
	"sort"

	"github.com/roadmapintel/roadmapd/pkg/model"
)

// AdapterOutcome reports one contribution refresh.
type AdapterOutcome struct {
	Updated              bool     `json:"updated"`
	SkippedDueToOverride bool     `json:"skipped_due_to_override"`
	InvalidKPIs          []string `json:"invalid_kpis,omitempty"`
	ComputedKeys         []string `json:"computed_keys,omitempty"`
}

// GroupContributions derives the per-KPI contribution map from math
// models. Models are grouped by target KPI; within a group the
// representative model wins (primary first, else the highest computed
// score) — scores are never summed across models of the same KPI. Keys
// absent from the registry or below strategic level are dropped and
// returned sorted.
func GroupContributions(models []*model.InitiativeMathModel, active map[string]*model.OrganizationMetricConfig) (map[string]float64, []string) {
	groups := map[string][]*model.InitiativeMathModel{}
	for _, m := range models {
		if m.TargetKPIKey == "" || m.ComputedScore == nil {
			continue
		}
		groups[m.TargetKPIKey] = append(groups[m.TargetKPIKey], m)
	}

	out := map[string]float64{}
	var invalid []string
	for kpi, group := range groups {
		cfg, ok := active[kpi]
		if !ok || !cfg.ContributionEligible() {
			invalid = append(invalid, kpi)
			continue
		}
		rep := group[0]
		for _, m := range group[1:] {
			if m.IsPrimary {
				rep = m
				break
			}
			if !rep.IsPrimary && *m.ComputedScore > *rep.ComputedScore {
				rep = m
			}
		}
		out[kpi] = *rep.ComputedScore
	}
	sort.Strings(invalid)
	return out, invalid
}

// ComputeKPIContributions loads an initiative's models and the active
// registry and groups them into the contribution map.
func (s *Service) ComputeKPIContributions(ctx context.Context, init *model.Initiative) (map[string]float64, []string, error) {
	models, err := s.Models.ListByInitiative(ctx, init.InitiativeKey)
	if err != nil {
		return nil, nil, err
	}
	active, err := s.Metrics.ListActive(ctx)
	if err != nil {
		return nil, nil, err
	}
	computed, invalid := GroupContributions(models, active)
	return computed, invalid, nil
}

// UpdateContributions writes the adapter output onto the initiative.
// The computed map always updates; the active map only when the row is
// not PM-overridden. With commit the initiative row is persisted.
func (s *Service) UpdateContributions(ctx context.Context, init *model.Initiative, commit bool) (AdapterOutcome, error) {
	var out AdapterOutcome
	computed, invalid, err := s.ComputeKPIContributions(ctx, init)
	if err != nil {
		return out, err
	}
	out.InvalidKPIs = invalid
	out.ComputedKeys = sortedKPIKeys(computed)

	init.KPIContributionComputed = computed
	if init.KPIContributionSource == model.KPISourcePMOverride {
		out.SkippedDueToOverride = true
	} else {
		init.KPIContribution = computed
		init.KPIContributionSource = model.KPISourceComputed
		out.Updated = true
	}

	if commit {
		if err := s.persist(ctx, init); err != nil {
			return out, err
		}
	}
	return out, nil
}

func sortedKPIKeys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
