// Package extractor turns a harness's raw stream output into a
// structured iteration.Record: classifying errors, spotting decisions,
// and mapping tool calls to file actions (spec §4.5). Grounded on
// original_source/crates/ralph-rag/src/extraction.rs. Pure and
// side-effect free: it never touches disk.
package extractor

import (
	"strings"

	"github.com/ralphmem/ralphmem/internal/iteration"
)

// ToolUseEvent is one tool invocation observed in a harness's output
// stream.
type ToolUseEvent struct {
	Name  string
	Input map[string]any
}

// FilePath extracts the file_path argument from a tool call, if present.
func (e ToolUseEvent) FilePath() (string, bool) {
	v, ok := e.Input["file_path"].(string)
	return v, ok && v != ""
}

// FileAction classifies a tool call as a file action. Bash, Glob, Grep,
// and other non-file tools return ("", false).
func (e ToolUseEvent) FileAction() (iteration.FileAction, bool) {
	switch e.Name {
	case "Write":
		return iteration.FileActionCreated, true
	case "Edit":
		return iteration.FileActionModified, true
	case "Read":
		return iteration.FileActionRead, true
	default:
		return "", false
	}
}

// ResultEvent is the terminal status the harness reports for an
// iteration, when one was produced.
type ResultEvent struct {
	Subtype    string
	ResultText string
	DurationMs *int64
}

// RawOutput is everything collected while a harness ran one iteration,
// ready for extraction.
type RawOutput struct {
	AssistantText []string
	ToolUses      []ToolUseEvent
	Result        *ResultEvent
	RateLimited   bool
	TimedOut      bool
}

// errorPattern pairs a substring to search for with the error type it
// implies. Order matters: the first match wins, so more specific
// patterns are listed before their looser supersets.
type errorPattern struct {
	pattern   string
	errorType iteration.ErrorType
}

var errorPatterns = []errorPattern{
	{"TypeError:", iteration.ErrorTypeRuntime},
	{"ReferenceError:", iteration.ErrorTypeRuntime},
	{"SyntaxError:", iteration.ErrorTypeRuntime},
	{"panic", iteration.ErrorTypeRuntime},
	{"FAILED", iteration.ErrorTypeTest},
	{"AssertionError", iteration.ErrorTypeTest},
	{"test failed", iteration.ErrorTypeTest},
	{"TS2", iteration.ErrorTypeCompile},
	{"error[E", iteration.ErrorTypeCompile},
	{"cannot find", iteration.ErrorTypeCompile},
	{"golangci-lint", iteration.ErrorTypeLint},
	{"go vet", iteration.ErrorTypeLint},
	{"Permission denied", iteration.ErrorTypePermission},
	{"EACCES", iteration.ErrorTypePermission},
	{"ENOENT", iteration.ErrorTypePermission},
	{"Error:", iteration.ErrorTypeRuntime},
}

var decisionPatterns = []string{
	"I'll use", "I will use", "choosing", "decided to", "going with",
	"opted for", "switching to", "instead of", "rather than", "approach:", "strategy:",
}

var autoAccumulateExclude = map[string]bool{
	"package.json": true, "package-lock.json": true, "go.sum": true,
	"go.mod": true, "yarn.lock": true, "pnpm-lock.yaml": true,
	"tsconfig.json": true, ".gitignore": true, ".eslintrc": true,
	"biome.json": true, ".prettierrc": true, "CLAUDE.md": true,
	"CLAUDE.RALPH.md": true, "Cargo.toml": true, "Cargo.lock": true,
	"justfile": true, "Justfile": true,
}

var autoAccumulateExcludeDirs = []string{
	"node_modules/", ".git/", "target/", "dist/", "build/", ".ralph/", ".specs/", ".docs/",
}

// ShouldExcludeFromAutoAccumulation reports whether a touched file path
// is infrastructure noise that should never be auto-added to a
// subsystem's context file list (spec §4.3/§4.5).
func ShouldExcludeFromAutoAccumulation(path string) bool {
	filename := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		filename = path[idx+1:]
	}

	if autoAccumulateExclude[filename] {
		return true
	}
	for _, dir := range autoAccumulateExcludeDirs {
		if strings.Contains(path, dir) {
			return true
		}
	}
	if strings.HasSuffix(filename, ".lock") || strings.HasSuffix(filename, ".log") || strings.HasSuffix(filename, ".map") {
		return true
	}
	return false
}

// Result is the structured extraction from a raw harness output, still
// missing the loop-engine context (iteration number, task identity)
// needed to become a full iteration.Record.
type Result struct {
	Summary      string
	Outcome      iteration.Outcome
	Errors       []iteration.ErrorEntry
	Decisions    []iteration.DecisionEntry
	FilesTouched []iteration.FileTouched
	TokensUsed   *int
	DurationMs   *int64
	ModelTier    iteration.ModelTier
}

// Extract classifies errors and decisions out of the assistant's text
// and maps tool calls to file actions. taskStatusAdvanced reports
// whether the task's status changed at all during this iteration and
// taskDone whether it ended as done; together with error presence they
// determine the outcome.
func Extract(raw RawOutput, taskStatusAdvanced, taskDone bool, modelTier iteration.ModelTier) Result {
	result := Result{ModelTier: modelTier}

	if raw.Result != nil {
		result.Summary = raw.Result.ResultText
		result.DurationMs = raw.Result.DurationMs
	}
	if result.Summary == "" {
		result.Summary = lastSignificantText(raw.AssistantText)
	}

	for _, text := range raw.AssistantText {
		result.Errors = append(result.Errors, extractErrors(text)...)
		result.Decisions = append(result.Decisions, extractDecisions(text)...)
	}

	result.FilesTouched = extractFilesTouched(raw.ToolUses)

	switch {
	case raw.RateLimited:
		result.Outcome = iteration.OutcomeRateLimited
	case raw.TimedOut:
		result.Outcome = iteration.OutcomeTimeout
	case taskDone && len(result.Errors) == 0:
		result.Outcome = iteration.OutcomeSuccess
	case len(result.Errors) > 0:
		result.Outcome = iteration.OutcomeFailure
	case taskStatusAdvanced:
		result.Outcome = iteration.OutcomePartial
	default:
		result.Outcome = iteration.OutcomeFailure
	}

	return result
}

// IntoRecord attaches the loop-engine context needed to persist and
// embed this iteration.
func (r Result) IntoRecord(iterationNumber int, taskID int64, taskTitle, subsystem, discipline string) iteration.Record {
	return iteration.Record{
		IterationNumber: iterationNumber,
		TaskID:          taskID,
		TaskTitle:       taskTitle,
		Subsystem:       subsystem,
		Discipline:      discipline,
		Outcome:         r.Outcome,
		Summary:         r.Summary,
		Errors:          r.Errors,
		Decisions:       r.Decisions,
		FilesTouched:    r.FilesTouched,
		TokensUsed:      r.TokensUsed,
		DurationMs:      r.DurationMs,
		ModelTier:       r.ModelTier,
	}
}

func lastSignificantText(texts []string) string {
	for i := len(texts) - 1; i >= 0; i-- {
		if strings.TrimSpace(texts[i]) != "" {
			return texts[i]
		}
	}
	return ""
}

func extractErrors(text string) []iteration.ErrorEntry {
	var out []iteration.ErrorEntry
	for _, line := range strings.Split(text, "\n") {
		for _, p := range errorPatterns {
			if strings.Contains(line, p.pattern) {
				trimmed := strings.TrimSpace(line)
				if len(trimmed) > 500 {
					trimmed = trimmed[:500]
				}
				out = append(out, iteration.ErrorEntry{Message: trimmed, ErrorType: p.errorType})
				break
			}
		}
	}
	return out
}

func extractDecisions(text string) []iteration.DecisionEntry {
	var out []iteration.DecisionEntry
	for _, line := range strings.Split(text, "\n") {
		for _, p := range decisionPatterns {
			if strings.Contains(line, p) {
				out = append(out, iteration.DecisionEntry{Description: strings.TrimSpace(line)})
				break
			}
		}
	}
	return out
}

func extractFilesTouched(toolUses []ToolUseEvent) []iteration.FileTouched {
	var out []iteration.FileTouched
	for _, use := range toolUses {
		action, ok := use.FileAction()
		if !ok {
			continue
		}
		path, ok := use.FilePath()
		if !ok {
			continue
		}
		if strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
			continue
		}
		out = append(out, iteration.FileTouched{Path: path, Action: action})
	}
	return out
}
