package curation

import (
	"fmt"
	"math"

	"github.com/kbcurator/backend/internal/storage/models"
)

// Weights is the 5-dimension scoring vector. A valid vector sums to
// 1.0 within tolerance; resolved vectors are re-validated after every
// adjustment because adjustment does not renormalize automatically.
type Weights struct {
	Semantic   float64
	Concept    float64
	Procedural float64
	Vocabulary float64
	Reference  float64
}

const weightTolerance = 1e-3

// maxAdjustedWeight caps how far criticality can push a single
// dimension.
const maxAdjustedWeight = 0.4

type Criticality string

const (
	CriticalityNormal Criticality = "normal"
	CriticalityHigh   Criticality = "high"
)

// baseProfiles maps each task type to its base weight vector. Loaded
// once and injected; components never reach for it as a global.
func baseProfiles() map[TaskType]Weights {
	return map[TaskType]Weights{
		TaskNarrative:    {Semantic: 0.45, Concept: 0.25, Procedural: 0.05, Vocabulary: 0.15, Reference: 0.10},
		TaskDomainExpert: {Semantic: 0.30, Concept: 0.25, Procedural: 0.10, Vocabulary: 0.20, Reference: 0.15},
		TaskResearch:     {Semantic: 0.25, Concept: 0.25, Procedural: 0.05, Vocabulary: 0.15, Reference: 0.30},
		TaskTechnical:    {Semantic: 0.30, Concept: 0.20, Procedural: 0.30, Vocabulary: 0.15, Reference: 0.05},
		TaskProcedural:   {Semantic: 0.25, Concept: 0.15, Procedural: 0.40, Vocabulary: 0.15, Reference: 0.05},
		TaskGeneral:      {Semantic: 0.35, Concept: 0.25, Procedural: 0.15, Vocabulary: 0.15, Reference: 0.10},
	}
}

type WeightResolver struct {
	profiles map[TaskType]Weights
}

func NewWeightResolver() *WeightResolver {
	return &WeightResolver{profiles: baseProfiles()}
}

// EvaluateCriticality derives how strict the agent's domain is from
// the requirement profile: many explicit rules plus a large vocabulary
// means scoring should lean harder on terminology and procedure.
func EvaluateCriticality(profile *models.RequirementProfile) Criticality {
	if profile == nil {
		return CriticalityNormal
	}
	if profile.StrictRules > 5 && len(profile.Vocabulary) > 20 {
		return CriticalityHigh
	}
	return CriticalityNormal
}

// Resolve returns the validated weight vector for a task type under the
// given criticality. High criticality scales vocabulary and procedural
// weights up (capped) and takes the excess out of the semantic weight
// so the invariant still holds.
func (r *WeightResolver) Resolve(taskType TaskType, criticality Criticality) (Weights, error) {
	base, ok := r.profiles[taskType]
	if !ok {
		base = r.profiles[TaskGeneral]
	}

	w := base
	if criticality == CriticalityHigh {
		vocab := math.Min(w.Vocabulary*1.3, maxAdjustedWeight)
		proc := math.Min(w.Procedural*1.15, maxAdjustedWeight)
		w.Semantic -= (vocab - w.Vocabulary) + (proc - w.Procedural)
		w.Vocabulary = vocab
		w.Procedural = proc
	}

	if err := w.Validate(); err != nil {
		return Weights{}, fmt.Errorf("resolved weights for %s/%s: %w", taskType, criticality, err)
	}

	return w, nil
}

func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"semantic":   w.Semantic,
		"concept":    w.Concept,
		"procedural": w.Procedural,
		"vocabulary": w.Vocabulary,
		"reference":  w.Reference,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("weight %s out of range: %f", name, v)
		}
	}

	sum := w.Semantic + w.Concept + w.Procedural + w.Vocabulary + w.Reference
	if math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("weights sum to %f, want 1.0 ± %g", sum, weightTolerance)
	}
	return nil
}

// Thresholds holds the criticality-adjusted removal cutoffs used by
// the auto-removal engine. High criticality lowers them: in a strict
// domain removal should be more conservative, so only the clearly
// irrelevant chunks fall under the bar.
type Thresholds struct {
	AutoRemove float64
	Review     float64
}

func ResolveThresholds(base Thresholds, criticality Criticality) Thresholds {
	if criticality != CriticalityHigh {
		return base
	}
	return Thresholds{
		AutoRemove: base.AutoRemove - 0.1,
		Review:     base.Review - 0.1,
	}
}
