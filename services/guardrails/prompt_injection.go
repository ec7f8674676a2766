// Package guardrails implements the defensive layer around Cypher
// execution and LLM synthesis: schema/complexity validation for generated
// Cypher, a response coherence checker, and a prompt-injection classifier
// that screens retrieved context before it reaches any provider.
package guardrails

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// InjectionResult is the outcome of classifying one chunk of context.
type InjectionResult struct {
	Score            float64
	DetectedPatterns []string
	IsFlagged        bool
}

type patternFamily struct {
	name  string
	re    *regexp.Regexp
	score float64
}

// families covers five pattern categories: instruction-override,
// role-play, system mimicry, encoding obfuscation, and delimiter-escape.
var families = []patternFamily{
	{"instruction_override", regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+|your\s+|prior\s+|previous\s+)*instructions|new\s+instructions\s*:`), 0.4},
	{"role_play_override", regexp.MustCompile(`(?i)you\s+are\s+now\b|act\s+as\s+(if\s+)?(you\s+are\s+)?an?\s+unrestricted|pretend\s+(that\s+)?you\s+are`), 0.4},
	{"system_mimicry", regexp.MustCompile(`(?i)^\s*\[?SYSTEM\]?\s*:|###\s*system\s+message|<\|im_start\|>|<\|im_end\|>|\[INST\]|\[/INST\]`), 0.45},
	{"encoding_obfuscation_base64", regexp.MustCompile(`[A-Za-z0-9+/]{40,}={0,2}`), 0.35},
	{"encoding_obfuscation_hex", regexp.MustCompile(`(?:\\x[0-9a-fA-F]{2}){4,}`), 0.35},
	{"encoding_obfuscation_unicode", regexp.MustCompile(`(?:\\u[0-9a-fA-F]{4}){4,}`), 0.35},
	{"delimiter_escape", regexp.MustCompile(`</(graph_context|GRAPHCTX[\w]*)>`), 0.45},
}

// FlagThreshold is the score at which a chunk is treated as flagged.
const FlagThreshold = 0.3

// PromptInjectionClassifier scans normalized text against the pattern
// families and accumulates a score; a chunk whose score clears
// FlagThreshold is flagged.
type PromptInjectionClassifier struct{}

// NewPromptInjectionClassifier builds a classifier. It carries no
// configuration — the pattern families are fixed.
func NewPromptInjectionClassifier() *PromptInjectionClassifier {
	return &PromptInjectionClassifier{}
}

// Classify normalizes text to NFKC (closing off width/compatibility-based
// obfuscation of the keyword patterns) and scores it against every family.
func (c *PromptInjectionClassifier) Classify(text string) InjectionResult {
	normalized := norm.NFKC.String(text)

	var score float64
	var detected []string
	for _, fam := range families {
		if fam.re.MatchString(normalized) {
			detected = append(detected, fam.name)
			score += fam.score
		}
	}
	if score > 1 {
		score = 1
	}

	return InjectionResult{Score: score, DetectedPatterns: detected, IsFlagged: score > FlagThreshold}
}

// StripFlaggedContent removes the substrings that matched any detected
// pattern from text, leaving the clean remainder. Used in non-hard-block
// mode: flagged content is scrubbed and the request proceeds rather than
// failing outright.
func (c *PromptInjectionClassifier) StripFlaggedContent(text string, result InjectionResult) string {
	if !result.IsFlagged {
		return text
	}
	out := text
	for _, name := range result.DetectedPatterns {
		for _, fam := range families {
			if fam.name == name {
				out = fam.re.ReplaceAllString(out, "")
			}
		}
	}
	return strings.Join(strings.Fields(out), " ")
}
