package routing

import (
	"math"
	"strings"
	"unicode/utf8"
)

type taskKeywords struct {
	task     string
	keywords []string
}

// taskTable is matched in order; the first task with a keyword present wins.
var taskTable = []taskKeywords{
	{"greeting", []string{"hello", "hi", "hey", "good morning"}},
	{"faq", []string{"what is", "how do i", "can you explain", "tell me about"}},
	{"summarization", []string{"summarize", "summary", "tldr", "key points"}},
	{"translation", []string{"translate", "in spanish", "in french", "to english"}},
	{"code_generation", []string{"write code", "create function", "implement", "code for"}},
	{"debugging", []string{"debug", "fix this", "error", "bug", "not working"}},
	{"math", []string{"calculate", "solve", "equation", "formula", "compute"}},
	{"sentiment", []string{"sentiment", "feeling", "emotion", "tone"}},
	{"classification", []string{"classify", "categorize", "label", "tag"}},
}

var codeIndicators = []string{"function", "class", "import", "const", "let", "def ", "```"}

var multiStepPhrases = []string{"first", "then", "after that", "finally", "step 1"}

const (
	TaskGeneral        = "general"
	TaskCodeGeneration = "code_generation"
)

// DetectTaskType classifies a prompt by keyword.
func DetectTaskType(message string) string {
	lower := strings.ToLower(message)

	for _, t := range taskTable {
		for _, kw := range t.keywords {
			if strings.Contains(lower, kw) {
				return t.task
			}
		}
	}

	for _, ind := range codeIndicators {
		if strings.Contains(lower, ind) {
			return TaskCodeGeneration
		}
	}

	return TaskGeneral
}

// EstimateComplexity scores a prompt in [0, 1]: 0.3 base, +0.1 for each of
// the 500/1000/2000 character thresholds exceeded, +0.05 per multi-step
// phrase.
func EstimateComplexity(message string) float64 {
	complexity := 0.3

	n := utf8.RuneCountInString(message)
	for _, threshold := range []int{500, 1000, 2000} {
		if n > threshold {
			complexity += 0.1
		}
	}

	lower := strings.ToLower(message)
	for _, phrase := range multiStepPhrases {
		if strings.Contains(lower, phrase) {
			complexity += 0.05
		}
	}

	// float noise from repeated addition
	complexity = math.Round(complexity*1000) / 1000
	return math.Min(complexity, 1.0)
}

type Tier string

const (
	TierBudget  Tier = "budget"
	TierMid     Tier = "mid"
	TierPremium Tier = "premium"
)

var taskTiers = map[string]Tier{
	"greeting":        TierBudget,
	"faq":             TierBudget,
	"sentiment":       TierBudget,
	"classification":  TierBudget,
	"summarization":   TierMid,
	"translation":     TierMid,
	"code_generation": TierMid,
	"debugging":       TierPremium,
	"math":            TierPremium,
}

// TaskTier is the cheapest model tier suited to a task. Unknown tasks,
// including "general", are mid tier.
func TaskTier(task string) Tier {
	if t, ok := taskTiers[task]; ok {
		return t
	}
	return TierMid
}

// referencePrices are input prices per million tokens, used only to estimate
// rule savings.
var referencePrices = map[string]float64{
	"gpt-4":            30,
	"gpt-4-turbo":      10,
	"gpt-4o":           2.5,
	"gpt-4o-mini":      0.15,
	"claude-3-opus":    15,
	"claude-3-sonnet":  3,
	"claude-3-haiku":   0.25,
	"gemini-1.5-pro":   1.25,
	"gemini-2.0-flash": 0.1,
}

// EstimateSavings is the rounded percentage price drop from original to
// target, 0 when the target is not cheaper. Unknown models price at 1.
func EstimateSavings(originalModel, targetModel string) float64 {
	original, ok := referencePrices[originalModel]
	if !ok {
		original = 1
	}
	target, ok := referencePrices[targetModel]
	if !ok {
		target = 1
	}
	if target >= original {
		return 0
	}
	return math.Round((original - target) / original * 100)
}
