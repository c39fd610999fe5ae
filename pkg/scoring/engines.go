// Package scoring computes per-framework score triples for initiatives
// and maintains the derived KPI contribution maps. Engines are pure;
// persistence and activation live in the Service.
package scoring

import (
	"fmt"
	"time"

	"github.com/roadmapintel/roadmapd/pkg/formula"
	"github.com/roadmapintel/roadmapd/pkg/model"
)

// minEffort guards the value/effort division against zero effort.
const minEffort = 1e-6

// ScoreInputs carries everything an engine may read: the initiative and
// its approved framework parameters by name.
type ScoreInputs struct {
	Initiative *model.Initiative
	Params     map[string]float64
}

// ScoreResult is one engine run. Nil scores mean the framework could
// not be computed from the available inputs; warnings say why.
type ScoreResult struct {
	ValueScore   *float64
	EffortScore  *float64
	OverallScore *float64
	Inputs       map[string]float64
	Warnings     []string
}

// Engine computes one framework's triple.
type Engine interface {
	Framework() model.Framework
	Compute(in ScoreInputs) ScoreResult
}

// EngineFor resolves a framework to its engine; unknown frameworks are
// a validation error.
func EngineFor(f model.Framework) (Engine, error) {
	switch f {
	case model.FrameworkRICE:
		return riceEngine{}, nil
	case model.FrameworkWSJF:
		return wsjfEngine{}, nil
	}
	return nil, fmt.Errorf("unknown scoring framework %q", f)
}

func param(in ScoreInputs, names ...string) (float64, bool) {
	for _, n := range names {
		if v, ok := in.Params[n]; ok {
			return v, true
		}
	}
	return 0, false
}

func ptr(v float64) *float64 { return &v }

type riceEngine struct{}

func (riceEngine) Framework() model.Framework { return model.FrameworkRICE }

// confidenceFromRisk backfills RICE confidence from the initiative's
// risk level when the parameter is absent.
func confidenceFromRisk(level string) float64 {
	switch level {
	case "low":
		return 0.9
	case "medium":
		return 0.7
	case "high":
		return 0.5
	}
	return 0.7
}

func (riceEngine) Compute(in ScoreInputs) ScoreResult {
	var res ScoreResult
	reach, okReach := param(in, "rice_reach", "reach")
	impact, okImpact := param(in, "rice_impact", "impact")
	if !okReach || !okImpact {
		res.Warnings = append(res.Warnings, "rice: reach and impact are required")
		return res
	}
	confidence, okConf := param(in, "rice_confidence", "confidence")
	if !okConf {
		confidence = confidenceFromRisk(in.Initiative.RiskLevel)
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("rice: confidence derived from risk level (%.1f)", confidence))
	}
	effort, okEffort := param(in, "rice_effort", "effort_engineering_days")
	if !okEffort && in.Initiative.EffortEngDays != nil {
		effort = *in.Initiative.EffortEngDays
	}
	if effort < minEffort {
		effort = minEffort
	}

	value := reach * impact * confidence
	res.ValueScore = ptr(value)
	res.EffortScore = ptr(effort)
	res.OverallScore = ptr(value / effort)
	res.Inputs = map[string]float64{
		"reach": reach, "impact": impact, "confidence": confidence, "effort": effort,
	}
	return res
}

type wsjfEngine struct{}

func (wsjfEngine) Framework() model.Framework { return model.FrameworkWSJF }

func (wsjfEngine) Compute(in ScoreInputs) ScoreResult {
	var res ScoreResult
	bv, okBV := param(in, "wsjf_business_value", "business_value")
	tc, okTC := param(in, "wsjf_time_criticality", "time_criticality")
	rr, okRR := param(in, "wsjf_risk_reduction", "risk_reduction")
	jobSize, okJob := param(in, "wsjf_job_size", "job_size")
	if !okBV && !okTC && !okRR {
		res.Warnings = append(res.Warnings, "wsjf: no cost-of-delay components present")
		return res
	}
	if !okJob || jobSize < minEffort {
		res.Warnings = append(res.Warnings, "wsjf: job size is required and must be positive")
		return res
	}

	value := bv + tc + rr
	res.ValueScore = ptr(value)
	res.EffortScore = ptr(jobSize)
	res.OverallScore = ptr(value / jobSize)
	res.Inputs = map[string]float64{
		"business_value": bv, "time_criticality": tc,
		"risk_reduction": rr, "job_size": jobSize,
	}
	return res
}

// EvaluateModel runs one math model's formula in a bounded environment
// and returns its computed score. Formula violations and runtime errors
// surface as a nil score plus a warning; they never abort the sibling
// models of the same initiative.
func EvaluateModel(m *model.InitiativeMathModel, env map[string]float64, timeout time.Duration) (*float64, []string) {
	if m.FormulaText == "" {
		return nil, []string{fmt.Sprintf("model %s has no formula", m.ModelName)}
	}
	out, err := formula.EvaluateScript(m.FormulaText, env, timeout)
	if err != nil {
		return nil, []string{fmt.Sprintf("model %s: %v", m.ModelName, err)}
	}
	v := out["value"]
	return &v, nil
}

// RepresentativeModel picks the model whose score stands for the
// initiative: the primary one, else the model targeting the active
// north-star KPI, else the highest computed score. Models without a
// computed score never represent.
func RepresentativeModel(models []*model.InitiativeMathModel, northStarKey string) *model.InitiativeMathModel {
	var best *model.InitiativeMathModel
	for _, m := range models {
		if m.ComputedScore == nil {
			continue
		}
		if m.IsPrimary {
			return m
		}
		if best == nil {
			best = m
			continue
		}
		bestNS := northStarKey != "" && best.TargetKPIKey == northStarKey
		mNS := northStarKey != "" && m.TargetKPIKey == northStarKey
		switch {
		case mNS && !bestNS:
			best = m
		case bestNS && !mNS:
		case *m.ComputedScore > *best.ComputedScore:
			best = m
		}
	}
	return best
}
