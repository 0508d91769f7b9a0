// Package privacy strips non-authored blocks from user message text.
package privacy

import (
	"regexp"
	"strings"
)

var (
	// reminderTagRegex matches <system-reminder>...</system-reminder> blocks
	// injected into user turns by the harness.
	reminderTagRegex = regexp.MustCompile(`(?s)<system-reminder>.*?</system-reminder>`)

	// privateTagRegex matches <private>...</private> tags
	privateTagRegex = regexp.MustCompile(`(?s)<private>.*?</private>`)

	// commandTagRegex matches slash-command expansion blocks
	commandTagRegex = regexp.MustCompile(`(?s)<command-(?:name|message|args|output)>.*?</command-(?:name|message|args|output)>`)
)

// StripReminderTags removes injected reminder blocks from text.
func StripReminderTags(text string) string {
	return reminderTagRegex.ReplaceAllString(text, "")
}

// StripPrivateTags removes all <private>...</private> content from text.
func StripPrivateTags(text string) string {
	return privateTagRegex.ReplaceAllString(text, "")
}

// StripCommandTags removes slash-command expansion blocks from text.
func StripCommandTags(text string) string {
	return commandTagRegex.ReplaceAllString(text, "")
}

// IsEntirelyInjected reports whether nothing user-authored remains after
// stripping.
func IsEntirelyInjected(text string) bool {
	return strings.TrimSpace(Clean(text)) == ""
}

// Clean strips every non-authored block and trims whitespace. Run this on
// user message text before sentiment scoring so injected content never
// skews the result.
func Clean(text string) string {
	text = StripReminderTags(text)
	text = StripPrivateTags(text)
	text = StripCommandTags(text)
	return strings.TrimSpace(text)
}
