// Package sentiment scores user messages with a VADER lexicon and layers
// rule-based frustration detection on top. Scoring is deterministic: the same
// input always produces the same result.
package sentiment

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/jonreiter/govader"
)

// Level categorizes the base sentiment score.
type Level string

const (
	Positive Level = "positive"
	Neutral  Level = "neutral"
	Negative Level = "negative"
)

// FrustrationLevel categorizes the frustration score when detected.
type FrustrationLevel string

const (
	FrustrationLow      FrustrationLevel = "low"
	FrustrationModerate FrustrationLevel = "moderate"
	FrustrationHigh     FrustrationLevel = "high"
)

// Result is the outcome of analyzing one message.
type Result struct {
	// Score is the VADER compound score scaled to [-5, 5].
	Score float64
	Level Level
	// FrustrationScore is set only when frustration indicators cross the
	// detection threshold.
	FrustrationScore *float64
	FrustrationLevel FrustrationLevel
	// Signals lists the indicators that fired, in detection order.
	Signals []string
}

var (
	// Single shouted word fallback, 5+ letters. Acronyms like HTTPS never
	// trigger the stronger consecutive-words rule on their own.
	capsRE = regexp.MustCompile(`\b[A-Z]{5,}\b`)
	// Environment variable shapes (DATABASE_URL, API_KEY) are stripped
	// before any caps detection.
	envVarRE = regexp.MustCompile(`\b[A-Z][A-Z0-9]*(?:_[A-Z0-9]+)+\b`)
	punctRE  = regexp.MustCompile(`[!?]{2,}`)
	negCmdRE = regexp.MustCompile(`(?i)\b(stop|quit|never mind|forget it|give up)\b`)
)

const frustrationThreshold = 2.0

// Analyzer scores messages. Safe for concurrent use.
type Analyzer struct {
	vader *govader.SentimentIntensityAnalyzer
}

// NewAnalyzer builds an analyzer with the default VADER lexicon.
func NewAnalyzer() *Analyzer {
	return &Analyzer{vader: govader.NewSentimentIntensityAnalyzer()}
}

// Analyze scores a message. Empty or whitespace-only input yields nil.
func (a *Analyzer) Analyze(message string) *Result {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil
	}

	scores := a.vader.PolarityScores(trimmed)
	score := scores.Compound * 5.0

	level := Neutral
	switch {
	case score > 0.5:
		level = Positive
	case score < -0.5:
		level = Negative
	}

	var (
		signals    []string
		additional float64
	)

	withoutEnvVars := envVarRE.ReplaceAllString(trimmed, "")
	maxRun := longestCapsRun(withoutEnvVars)
	positive := score > 0.5

	// Positive shouting is excitement, not frustration.
	switch {
	case maxRun >= 3 && !positive:
		signals = append(signals, fmt.Sprintf("%d consecutive ALL CAPS words", maxRun))
		additional += 3.0 + (float64(maxRun)-3.0)*0.5
	case maxRun == 2 && !positive:
		signals = append(signals, "2 consecutive ALL CAPS words")
		additional += 2.5
	case !positive && capsRE.MatchString(withoutEnvVars):
		signals = append(signals, "ALL CAPS word detected")
		additional += 2.0
	}

	if punctRE.MatchString(trimmed) {
		signals = append(signals, "Multiple punctuation marks (!!!/???)")
		additional += 1.0
	}

	if len(trimmed) < 15 && !strings.Contains(trimmed, " ") {
		signals = append(signals, "Very terse message")
		additional += 1.0
	}

	if repeats := adjacentRepeats(trimmed); repeats > 0 {
		signals = append(signals, fmt.Sprintf("%d repeated word(s)", repeats))
		additional += float64(repeats)
	}

	if n := len(negCmdRE.FindAllStringIndex(trimmed, -1)); n > 0 {
		signals = append(signals, fmt.Sprintf("%d negative command(s)", n))
		additional += float64(n) * 2.0
	}

	if scores.Negative > 0.1 {
		signals = append(signals, fmt.Sprintf("Negative sentiment (score: %.2f)", score))
	}

	base := 0.0
	if score < 0 {
		base = -score
	}
	total := base + additional

	result := &Result{Score: score, Level: level, Signals: signals}
	if total >= frustrationThreshold || score <= -2.0 {
		result.FrustrationScore = &total
		switch {
		case total >= 6.0 || score <= -4.0:
			result.FrustrationLevel = FrustrationHigh
		case total >= 3.0 || score <= -3.0:
			result.FrustrationLevel = FrustrationModerate
		default:
			result.FrustrationLevel = FrustrationLow
		}
	}
	return result
}

// longestCapsRun finds the longest run of consecutive all-caps words of two
// or more characters.
func longestCapsRun(text string) int {
	maxRun, run := 0, 0
	for _, word := range strings.Fields(text) {
		clean := strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if isCapsWord(clean) {
			run++
			if run > maxRun {
				maxRun = run
			}
		} else {
			run = 0
		}
	}
	return maxRun
}

func isCapsWord(word string) bool {
	if len(word) < 2 {
		return false
	}
	for _, r := range word {
		if unicode.IsLetter(r) && !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}

// adjacentRepeats counts immediately repeated words, case-insensitive.
func adjacentRepeats(text string) int {
	var words []string
	for _, word := range strings.Fields(text) {
		clean := strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if clean != "" {
			words = append(words, clean)
		}
	}
	count := 0
	for i := 1; i < len(words); i++ {
		if strings.EqualFold(words[i-1], words[i]) {
			count++
		}
	}
	return count
}
