// Package normalize extracts one canonical answer string from the loosely
// shaped JSON envelopes the upstream reasoning service returns. All
// functions are pure: no I/O, no mutation of the envelope, deterministic
// output for a given input.
package normalize

import "strings"

// Envelope is a parsed upstream JSON document. The raw-stream response
// variant never constructs one; stream deltas bypass this package entirely.
type Envelope = map[string]any

// NoAnswerText is the fallback answer when no field of the envelope yields
// usable text.
const NoAnswerText = "[no answer]"

// textSource is one step of the answer-extraction precedence order. The
// order is data, not control flow, so it can be tested as such.
type textSource struct {
	name    string
	extract func(Envelope) string
}

var textSources = []textSource{
	{"final_text", func(env Envelope) string { return stringKey(env, "final_text") }},
	{"routed_result", routedResultText},
	{"plan.final_answer", planFinalAnswer},
	{"meta.no_answer", noAnswerReason},
}

// ExtractFinalText returns the single best user-facing answer string for the
// envelope. The first source in the fixed precedence order that produces
// non-empty text (after trimming) wins; an empty or nil envelope falls
// through to NoAnswerText. Never panics.
func ExtractFinalText(env Envelope) string {
	for _, src := range textSources {
		if s := strings.TrimSpace(src.extract(env)); s != "" {
			return s
		}
	}
	return NoAnswerText
}

// ExtractMeta pulls normalized metadata out of the envelope's meta object:
// "corr_id" (from meta.corr_id, then meta.request_id), "latency_ms" (from
// meta.timings_ms.total, then a numeric meta.timings_ms, then
// meta.latency_ms), "origin" when it is a string, and every other
// primitive-valued meta entry verbatim. Objects and arrays are dropped so
// unnormalized structure never leaks to the caller.
func ExtractMeta(env Envelope) map[string]any {
	meta, ok := env["meta"].(map[string]any)
	if !ok {
		return nil
	}

	out := make(map[string]any)

	if id := stringKey(meta, "corr_id"); id != "" {
		out["corr_id"] = id
	} else if id := stringKey(meta, "request_id"); id != "" {
		out["corr_id"] = id
	}

	if ms, ok := latencyMillis(meta); ok {
		out["latency_ms"] = ms
	}

	if origin := stringKey(meta, "origin"); origin != "" {
		out["origin"] = origin
	}

	for k, v := range meta {
		switch k {
		case "corr_id", "request_id", "timings_ms", "latency_ms", "origin":
			continue
		}
		switch v.(type) {
		case string, bool, float64, int, int64:
			out[k] = v
		}
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func latencyMillis(meta map[string]any) (float64, bool) {
	switch t := meta["timings_ms"].(type) {
	case map[string]any:
		if total, ok := numeric(t["total"]); ok {
			return total, true
		}
	default:
		if n, ok := numeric(t); ok {
			return n, true
		}
	}
	n, ok := numeric(meta["latency_ms"])
	return n, ok
}

func routedResultText(env Envelope) string {
	switch rr := env["routed_result"].(type) {
	case string:
		return rr
	case map[string]any:
		switch resp := rr["response"].(type) {
		case string:
			return resp
		case map[string]any:
			if text := stringKey(resp, "text"); text != "" {
				return text
			}
		}
		return stringKey(rr, "answer")
	}
	return ""
}

func planFinalAnswer(env Envelope) string {
	if plan, ok := env["plan"].(map[string]any); ok {
		return stringKey(plan, "final_answer")
	}
	return ""
}

// noAnswerReason synthesizes "[no answer] <reason>" when the upstream hinted
// it had nothing. The hint is best-effort: a missing or non-boolean
// no_answer field simply yields nothing here.
func noAnswerReason(env Envelope) string {
	meta, ok := env["meta"].(map[string]any)
	if !ok {
		return ""
	}
	if na, ok := meta["no_answer"].(bool); !ok || !na {
		return ""
	}
	if reason := strings.TrimSpace(stringKey(meta, "reason")); reason != "" {
		return NoAnswerText + " " + reason
	}
	return ""
}

func stringKey(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
