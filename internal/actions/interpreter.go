package actions

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

// fencedJSONPattern matches the first fenced json block containing an
// object, non-greedily so trailing prose after the block is untouched.
var fencedJSONPattern = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

var whitespaceRun = regexp.MustCompile(`\s+`)

// Interpret extracts an optional function-call directive from model output.
// It returns the output with the directive block removed, plus the parsed
// call, or nil when no well-formed directive for a known function is present.
// Malformed directives are never an error: the output is returned untouched
// and the turn proceeds as plain conversation.
func Interpret(modelOutput string) (string, *FunctionCall) {
	loc := fencedJSONPattern.FindStringSubmatchIndex(modelOutput)
	if loc == nil {
		return strings.TrimSpace(modelOutput), nil
	}

	var call FunctionCall
	if err := json.Unmarshal([]byte(modelOutput[loc[2]:loc[3]]), &call); err != nil {
		slog.Debug("actions.Interpret: directive block is not valid JSON", "error", err)
		return strings.TrimSpace(modelOutput), nil
	}
	switch call.Function {
	case FunctionDraftEmail, FunctionSendEmail, FunctionCreateCalendarEvent:
	default:
		slog.Debug("actions.Interpret: unknown function name", "function", call.Function)
		return strings.TrimSpace(modelOutput), nil
	}

	cleaned := modelOutput[:loc[0]] + " " + modelOutput[loc[1]:]
	cleaned = strings.TrimSpace(whitespaceRun.ReplaceAllString(cleaned, " "))
	return cleaned, &call
}
