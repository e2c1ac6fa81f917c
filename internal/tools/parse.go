package tools

import (
	"regexp"
	"strings"
)

// toolCallPattern matches inline tool markup in model output. (?s) lets
// arguments span lines.
var toolCallPattern = regexp.MustCompile(`(?s)<tool\s+name="([^"]+)">(.*?)</tool>`)

// maxResultChars caps what a single tool result feeds back to the model.
const maxResultChars = 8000

// Call is one parsed tool invocation.
type Call struct {
	Name string
	Args string
}

// ParseCalls extracts tool calls from model output and returns them with
// the surrounding prose (calls stripped, whitespace trimmed).
func ParseCalls(text string) ([]Call, string) {
	matches := toolCallPattern.FindAllStringSubmatch(text, -1)
	var calls []Call
	for _, m := range matches {
		calls = append(calls, Call{Name: m[1], Args: m[2]})
	}
	cleaned := strings.TrimSpace(toolCallPattern.ReplaceAllString(text, ""))
	return calls, cleaned
}

// FormatResult wraps a tool result for feeding back to the model,
// truncating oversized output.
func FormatResult(name, result string) string {
	if len(result) > maxResultChars {
		result = result[:maxResultChars] + "\n... (truncated)"
	}
	return `<tool_result name="` + name + `">` + result + `</tool_result>`
}
