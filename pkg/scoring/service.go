package scoring

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/roadmapintel/roadmapd/pkg/model"
	"github.com/roadmapintel/roadmapd/pkg/store"
)

// Provenance tokens stamped by the scoring pipelines.
const (
	SourceComputeAll = "flow3.compute_all_frameworks"
	SourceActivate   = "flow2.activate"
)

// DefaultFormulaTimeout bounds one math-model evaluation.
const DefaultFormulaTimeout = 2 * time.Second

// Service computes and persists framework scores. Per-framework triples
// are only written here; active fields are only written by activation.
type Service struct {
	Initiatives *store.InitiativeStore
	Models      *store.MathModelStore
	Params      *store.ParamStore
	Metrics     *store.MetricConfigStore
	History     *store.ScoreHistoryStore

	EnableHistory  bool
	FormulaTimeout time.Duration
	Log            *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

func (s *Service) formulaTimeout() time.Duration {
	if s.FormulaTimeout > 0 {
		return s.FormulaTimeout
	}
	return DefaultFormulaTimeout
}

// frameworkParams builds the engine parameter map from approved
// framework-level parameter rows.
func (s *Service) frameworkParams(ctx context.Context, initiativeKey string, f model.Framework) (map[string]float64, error) {
	rows, err := s.Params.List(ctx, initiativeKey, f, "")
	if err != nil {
		return nil, err
	}
	out := map[string]float64{}
	for _, p := range rows {
		if p.Approved && p.Value != nil && p.ModelName == "" {
			out[p.ParamName] = *p.Value
		}
	}
	return out, nil
}

// ScoreInitiative computes one framework for one initiative and writes
// the per-framework triple. With activate, the triple is also copied
// into the active fields and the scoring provenance is stamped.
func (s *Service) ScoreInitiative(ctx context.Context, init *model.Initiative, f model.Framework, activate bool) (ScoreResult, error) {
	var res ScoreResult
	var err error
	if f == model.FrameworkMathModel {
		res, _, err = s.computeMathModel(ctx, init)
	} else {
		var engine Engine
		engine, err = EngineFor(f)
		if err != nil {
			return res, err
		}
		var params map[string]float64
		params, err = s.frameworkParams(ctx, init.InitiativeKey, f)
		if err == nil {
			res = engine.Compute(ScoreInputs{Initiative: init, Params: params})
		}
	}
	if err != nil {
		return res, err
	}

	init.SetFrameworkScores(f, res.ValueScore, res.EffortScore, res.OverallScore)
	if activate {
		s.applyActivation(init, f)
	}
	if err := s.persist(ctx, init); err != nil {
		return res, err
	}
	s.appendHistory(ctx, init, f, res)
	return res, nil
}

// ScoreAllFrameworks computes RICE, WSJF, and (when the initiative opts
// in) the math-model framework, then refreshes the computed KPI
// contribution map without committing it separately. The initiative is
// persisted once at the end.
func (s *Service) ScoreAllFrameworks(ctx context.Context, init *model.Initiative) (map[model.Framework]ScoreResult, error) {
	results := map[model.Framework]ScoreResult{}
	for _, f := range []model.Framework{model.FrameworkRICE, model.FrameworkWSJF} {
		engine, err := EngineFor(f)
		if err != nil {
			return results, err
		}
		params, err := s.frameworkParams(ctx, init.InitiativeKey, f)
		if err != nil {
			return results, err
		}
		res := engine.Compute(ScoreInputs{Initiative: init, Params: params})
		init.SetFrameworkScores(f, res.ValueScore, res.EffortScore, res.OverallScore)
		results[f] = res
	}

	if init.UseMathModel {
		res, _, err := s.computeMathModel(ctx, init)
		if err != nil {
			return results, err
		}
		init.SetFrameworkScores(model.FrameworkMathModel, res.ValueScore, res.EffortScore, res.OverallScore)
		results[model.FrameworkMathModel] = res

		if _, err := s.UpdateContributions(ctx, init, false); err != nil {
			return results, err
		}
	}

	if err := s.persist(ctx, init); err != nil {
		return results, err
	}
	for f, res := range results {
		s.appendHistory(ctx, init, f, res)
	}
	return results, nil
}

// computeMathModel evaluates every formula-bearing approved model,
// stores per-model computed scores, and derives the framework triple
// from the representative model.
func (s *Service) computeMathModel(ctx context.Context, init *model.Initiative) (ScoreResult, []*model.InitiativeMathModel, error) {
	var res ScoreResult
	models, err := s.Models.ListByInitiative(ctx, init.InitiativeKey)
	if err != nil {
		return res, nil, err
	}

	now := time.Now().UTC()
	for _, m := range models {
		if !m.ApprovedByUser {
			continue
		}
		env, err := s.Params.ApprovedEnv(ctx, init.InitiativeKey, m.ModelName)
		if err != nil {
			return res, models, err
		}
		score, warns := EvaluateModel(m, env, s.formulaTimeout())
		res.Warnings = append(res.Warnings, warns...)
		m.ComputedScore = score
		at := sql.NullTime{Time: now, Valid: score != nil}
		if score != nil {
			m.LastComputedAt = &now
		} else {
			m.LastComputedAt = nil
		}
		if err := s.Models.UpdateComputedScore(ctx, m.ID, score, at); err != nil {
			return res, models, err
		}
	}

	northStar := ""
	if ns, err := s.Metrics.ActiveNorthStar(ctx); err == nil {
		northStar = ns.KPIKey
	}
	rep := RepresentativeModel(models, northStar)
	if rep == nil {
		res.Warnings = append(res.Warnings, "no evaluable math model")
		return res, models, nil
	}

	res.ValueScore = ptr(*rep.ComputedScore)
	if init.EffortEngDays != nil && *init.EffortEngDays >= minEffort {
		res.EffortScore = ptr(*init.EffortEngDays)
		res.OverallScore = ptr(*rep.ComputedScore / *init.EffortEngDays)
	} else {
		res.Warnings = append(res.Warnings, "no engineering days, overall score omitted")
	}
	res.Inputs = map[string]float64{"computed_score": *rep.ComputedScore}
	return res, models, nil
}

// ActivateFramework copies the chosen framework's triple into the
// active fields without recomputing. A framework with no computed
// scores clears the active fields.
func (s *Service) ActivateFramework(ctx context.Context, init *model.Initiative, f model.Framework) error {
	if f != model.FrameworkRICE && f != model.FrameworkWSJF && f != model.FrameworkMathModel {
		return fmt.Errorf("unknown scoring framework %q", f)
	}
	s.applyActivation(init, f)
	return s.persist(ctx, init)
}

func (s *Service) applyActivation(init *model.Initiative, f model.Framework) {
	value, effort, overall := init.FrameworkScores(f)
	init.ActiveScoringFramework = f
	init.ValueScore, init.EffortScore, init.OverallScore = value, effort, overall
	now := time.Now().UTC()
	init.ScoringUpdatedSource = SourceActivate
	init.ScoringUpdatedAt = &now
}

func (s *Service) persist(ctx context.Context, init *model.Initiative) error {
	if init.UpdatedSource == "" {
		init.UpdatedSource = SourceComputeAll
	}
	init.UpdatedAt = time.Now().UTC()
	return s.Initiatives.Update(ctx, init)
}

func (s *Service) appendHistory(ctx context.Context, init *model.Initiative, f model.Framework, res ScoreResult) {
	if !s.EnableHistory || s.History == nil {
		return
	}
	err := s.History.Append(ctx, &model.InitiativeScore{
		InitiativeID: init.ID,
		Framework:    f,
		ValueScore:   res.ValueScore,
		EffortScore:  res.EffortScore,
		OverallScore: res.OverallScore,
		Inputs:       res.Inputs,
	})
	if err != nil {
		s.logger().Warn("score history append failed",
			"initiative", init.InitiativeKey, "framework", string(f), "error", err)
	}
}

// BatchSummary reports one batch scoring pass.
type BatchSummary struct {
	Scored   int
	Failed   int
	Warnings []string
}

// ComputeForInitiatives scores the named initiatives across all
// frameworks. Per-initiative failures are collected; the batch
// continues. commitEvery only controls progress logging, every row is
// durably written as it completes.
func (s *Service) ComputeForInitiatives(ctx context.Context, keys []string, commitEvery int) (BatchSummary, error) {
	var sum BatchSummary
	if len(keys) == 0 {
		return sum, nil
	}
	if commitEvery <= 0 {
		commitEvery = 10
	}
	inits, err := s.Initiatives.ListByKeys(ctx, keys)
	if err != nil {
		return sum, err
	}
	byKey := make(map[string]*model.Initiative, len(inits))
	for _, in := range inits {
		byKey[in.InitiativeKey] = in
	}
	for i, key := range keys {
		init, ok := byKey[key]
		if !ok {
			sum.Failed++
			sum.Warnings = append(sum.Warnings, fmt.Sprintf("%s: not found", key))
			continue
		}
		results, err := s.ScoreAllFrameworks(ctx, init)
		if err != nil {
			sum.Failed++
			sum.Warnings = append(sum.Warnings, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		sum.Scored++
		for _, res := range results {
			sum.Warnings = append(sum.Warnings, res.Warnings...)
		}
		if (i+1)%commitEvery == 0 {
			s.logger().Info("scoring progress", "done", i+1, "total", len(keys))
		}
	}
	return sum, nil
}

// ComputeAllFrameworks scores every initiative in the backlog.
func (s *Service) ComputeAllFrameworks(ctx context.Context, commitEvery int) (BatchSummary, error) {
	inits, err := s.Initiatives.ListAll(ctx)
	if err != nil {
		return BatchSummary{}, err
	}
	keys := make([]string, 0, len(inits))
	for _, in := range inits {
		keys = append(keys, in.InitiativeKey)
	}
	return s.ComputeForInitiatives(ctx, keys, commitEvery)
}
