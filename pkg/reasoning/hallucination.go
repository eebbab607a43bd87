package reasoning

import (
	"regexp"

	"github.com/tarsy-oss/funnel/pkg/step"
)

// responseHallucinationPatterns fire on the raw LLM response, before JSON
// extraction — text that looks like the model is narrating a tool result it
// never actually received.
var responseHallucinationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\*\*tool output:?\*\*`),
	regexp.MustCompile(`(?i)got \d+ results?`),
	regexp.MustCompile(`(?i)(command|script) executed successfully`),
	regexp.MustCompile("```[a-z]*\n"), // stray code fence outside <think>
	regexp.MustCompile(`(?i)output:\s*\n\s*\$`),
}

const narrativeLengthLimit = 100

// DetectResponseHallucination inspects the raw response for fabricated tool
// narration. rawResponse is the full LLM text; postThink is everything after
// the closing </think> tag (used for the narrative-without-JSON check).
func DetectResponseHallucination(rawResponse, postThink string) *step.Step {
	for _, p := range responseHallucinationPatterns {
		if p.MatchString(rawResponse) {
			return step.ForceComplete("INVALID FORMAT: response contains fabricated tool output narration")
		}
	}

	trimmedPost := postThink
	if len(trimmedPost) > narrativeLengthLimit {
		if _, ok := ExtractStep(postThink); !ok {
			return step.ForceComplete("INVALID FORMAT: trailing narrative with no parseable step")
		}
	}

	return nil
}

// completionHallucinationPatterns fire only on a `complete` step's answer,
// flagging made-up file listings or OS artifacts the session never observed.
var completionHallucinationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)here (?:are|is) the top \d+ largest files`),
	regexp.MustCompile(`(?i)explorer\.exe`),
	regexp.MustCompile(`(?i)C:\\Users\\[^\\]+\\`),
	regexp.MustCompile(`(?i)System32`),
}

// DetectCompletionHallucination checks a `complete` step's answer for
// fabricated filesystem detail. hasRealProgress reports whether any
// non-think step has already succeeded this session.
func DetectCompletionHallucination(answer string, hasRealProgress bool) bool {
	if hasRealProgress {
		return false
	}
	for _, p := range completionHallucinationPatterns {
		if p.MatchString(answer) {
			return true
		}
	}
	return false
}
