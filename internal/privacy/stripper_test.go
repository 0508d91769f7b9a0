package privacy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripReminderTags(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no tags",
			input:    "Hello world",
			expected: "Hello world",
		},
		{
			name:     "single reminder",
			input:    "fix the bug <system-reminder>the file changed on disk</system-reminder>",
			expected: "fix the bug ",
		},
		{
			name:     "multiline reminder",
			input:    "please continue\n<system-reminder>\nlong injected\ncontext\n</system-reminder>",
			expected: "please continue\n",
		},
		{
			name:     "multiple reminders",
			input:    "<system-reminder>a</system-reminder>hi<system-reminder>b</system-reminder>",
			expected: "hi",
		},
		{
			name:     "unmatched opening tag",
			input:    "Hello <system-reminder>unclosed",
			expected: "Hello <system-reminder>unclosed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := StripReminderTags(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestStripPrivateTags(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no tags",
			input:    "Hello world",
			expected: "Hello world",
		},
		{
			name:     "single private tag",
			input:    "Hello <private>secret</private> world",
			expected: "Hello  world",
		},
		{
			name:     "multiline private tag",
			input:    "Hello <private>\nmultiline\nsecret\n</private> world",
			expected: "Hello  world",
		},
		{
			name:     "entirely private",
			input:    "<private>everything is secret</private>",
			expected: "",
		},
		{
			name:     "unmatched closing tag",
			input:    "Hello </private> world",
			expected: "Hello </private> world",
		},
		{
			name:     "html-like content untouched",
			input:    "Hello <div>world</div>",
			expected: "Hello <div>world</div>",
		},
		{
			name:     "case sensitive",
			input:    "Hello <PRIVATE>secret</PRIVATE> world",
			expected: "Hello <PRIVATE>secret</PRIVATE> world",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := StripPrivateTags(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestStripCommandTags(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "command name and args",
			input:    "<command-name>/compact</command-name><command-args></command-args>",
			expected: "",
		},
		{
			name:     "command output block",
			input:    "ran it <command-output>lots of tool output</command-output> done",
			expected: "ran it  done",
		},
		{
			name:     "plain text untouched",
			input:    "run the command please",
			expected: "run the command please",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := StripCommandTags(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no tags or whitespace",
			input:    "Hello world",
			expected: "Hello world",
		},
		{
			name:     "strips reminder and trims",
			input:    "  this is still broken <system-reminder>context</system-reminder>  ",
			expected: "this is still broken",
		},
		{
			name:     "strips every block type",
			input:    "\n<system-reminder>a</system-reminder>WHY <private>token</private>IS THIS FAILING<command-output>log</command-output>\n",
			expected: "WHY IS THIS FAILING",
		},
		{
			name:     "entirely stripped content",
			input:    "  <system-reminder>injected only</system-reminder>  ",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Clean(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestIsEntirelyInjected(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{
			name:     "authored text",
			input:    "Hello world",
			expected: false,
		},
		{
			name:     "reminder only",
			input:    "<system-reminder>injected</system-reminder>",
			expected: true,
		},
		{
			name:     "command expansion only",
			input:    "<command-name>/clear</command-name>",
			expected: true,
		},
		{
			name:     "mixed",
			input:    "do it <system-reminder>injected</system-reminder>",
			expected: false,
		},
		{
			name:     "empty string",
			input:    "",
			expected: true,
		},
		{
			name:     "only whitespace",
			input:    "   ",
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsEntirelyInjected(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestCleanLongContent(t *testing.T) {
	long := strings.Repeat("x", 10000)
	input := "Hello <system-reminder>" + long + "</system-reminder> world"
	assert.Equal(t, "Hello  world", Clean(input))
}
