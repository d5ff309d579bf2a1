package pipeline

import "github.com/ppiankov/safetygate/internal/model"

// Aggregate combines verdicts into an outcome. Any reject blocks, any flag
// without a reject warns, otherwise the request is allowed.
//
// The reason is the category of the strongest verdict: higher outcome
// first, then higher confidence, then earlier position.
func Aggregate(verdicts []model.Verdict) (model.Outcome, string) {
	strongest := -1
	for i, v := range verdicts {
		if v.Outcome == model.Pass {
			continue
		}
		if strongest < 0 || stronger(v, verdicts[strongest]) {
			strongest = i
		}
	}
	if strongest < 0 {
		return model.Allow, model.ReasonNone
	}

	v := verdicts[strongest]
	if v.Rejected() {
		if v.Category == "" {
			return model.Block, model.ReasonPipelineError
		}
		return model.Block, v.Category
	}
	return model.Warn, v.Category
}

func stronger(a, b model.Verdict) bool {
	if a.Outcome != b.Outcome {
		return model.Worse(a.Outcome, b.Outcome)
	}
	return a.Confidence > b.Confidence
}
