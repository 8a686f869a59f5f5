package normalize

import "github.com/askwise/askrelay/internal/domain"

// Answer combines ExtractFinalText and ExtractMeta into the canonical
// NormalizedAnswer for a buffered JSON envelope.
func Answer(env Envelope) domain.NormalizedAnswer {
	ans := domain.NormalizedAnswer{
		Text: ExtractFinalText(env),
		Meta: ExtractMeta(env),
	}
	if id, ok := ans.Meta["corr_id"].(string); ok {
		ans.CorrID = id
	}
	if meta, ok := env["meta"].(map[string]any); ok {
		if na, ok := meta["no_answer"].(bool); ok {
			ans.NoAnswer = na
		}
	}
	return ans
}
