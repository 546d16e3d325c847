package extractor

import (
	"testing"

	"github.com/ralphmem/ralphmem/internal/iteration"
)

func TestToolUseExtractsFilePath(t *testing.T) {
	event := ToolUseEvent{Name: "Write", Input: map[string]any{"file_path": "src/auth.ts", "content": "..."}}
	path, ok := event.FilePath()
	if !ok || path != "src/auth.ts" {
		t.Fatalf("expected src/auth.ts, got %q (ok=%v)", path, ok)
	}
}

func TestToolUseClassifiesActions(t *testing.T) {
	cases := []struct {
		name   string
		want   iteration.FileAction
		wantOK bool
	}{
		{"Write", iteration.FileActionCreated, true},
		{"Edit", iteration.FileActionModified, true},
		{"Read", iteration.FileActionRead, true},
		{"Bash", "", false},
	}
	for _, c := range cases {
		action, ok := ToolUseEvent{Name: c.name}.FileAction()
		if ok != c.wantOK || action != c.want {
			t.Fatalf("%s: got (%v, %v), want (%v, %v)", c.name, action, ok, c.want, c.wantOK)
		}
	}
}

func TestExcludesInfrastructureFiles(t *testing.T) {
	for _, path := range []string{"package.json", "node_modules/foo/bar.js", ".ralph/db/tasks.yaml", "some/path/file.log"} {
		if !ShouldExcludeFromAutoAccumulation(path) {
			t.Fatalf("expected %q to be excluded", path)
		}
	}
}

func TestIncludesSourceFiles(t *testing.T) {
	for _, path := range []string{"src/components/LoginForm.tsx", "src/lib/auth.ts", "tests/auth.test.ts"} {
		if ShouldExcludeFromAutoAccumulation(path) {
			t.Fatalf("expected %q to be included", path)
		}
	}
}

func TestExtractRejectsAbsoluteAndTraversalPaths(t *testing.T) {
	raw := RawOutput{ToolUses: []ToolUseEvent{
		{Name: "Write", Input: map[string]any{"file_path": "/etc/passwd"}},
		{Name: "Write", Input: map[string]any{"file_path": "../secrets.env"}},
		{Name: "Write", Input: map[string]any{"file_path": "src/auth.ts"}},
	}}
	result := Extract(raw, false, true, iteration.ModelTierPrimary)
	if len(result.FilesTouched) != 1 || result.FilesTouched[0].Path != "src/auth.ts" {
		t.Fatalf("expected only src/auth.ts, got %+v", result.FilesTouched)
	}
}

func TestExtractClassifiesErrorsAndOutcome(t *testing.T) {
	raw := RawOutput{AssistantText: []string{"Ran tests.\nTypeError: Cannot read property 'user' of undefined"}}
	result := Extract(raw, false, false, iteration.ModelTierPrimary)
	if result.Outcome != iteration.OutcomeFailure {
		t.Fatalf("expected failure outcome, got %v", result.Outcome)
	}
	if len(result.Errors) != 1 || result.Errors[0].ErrorType != iteration.ErrorTypeRuntime {
		t.Fatalf("expected one runtime error, got %+v", result.Errors)
	}
}

func TestExtractSuccessWhenTaskDoneNoErrors(t *testing.T) {
	raw := RawOutput{AssistantText: []string{"All tests passing, task complete."}}
	result := Extract(raw, true, true, iteration.ModelTierPrimary)
	if result.Outcome != iteration.OutcomeSuccess {
		t.Fatalf("expected success outcome, got %v", result.Outcome)
	}
}

func TestExtractTaskDoneWithErrorsIsFailureNotPartial(t *testing.T) {
	raw := RawOutput{AssistantText: []string{"Marked done but: TypeError: Cannot read property 'user' of undefined"}}
	result := Extract(raw, true, true, iteration.ModelTierPrimary)
	if result.Outcome != iteration.OutcomeFailure {
		t.Fatalf("expected failure outcome when taskDone but errors matched, got %v", result.Outcome)
	}
}

func TestExtractAdvancedWithErrorsIsFailureNotPartial(t *testing.T) {
	raw := RawOutput{AssistantText: []string{"TypeError: Cannot read property 'user' of undefined"}}
	result := Extract(raw, true, false, iteration.ModelTierPrimary)
	if result.Outcome != iteration.OutcomeFailure {
		t.Fatalf("expected failure outcome when taskStatusAdvanced but errors matched, got %v", result.Outcome)
	}
}

func TestExtractRateLimitedOutranksTimedOut(t *testing.T) {
	raw := RawOutput{RateLimited: true, TimedOut: true}
	result := Extract(raw, false, false, iteration.ModelTierPrimary)
	if result.Outcome != iteration.OutcomeRateLimited {
		t.Fatalf("expected rate_limited outcome to win over timed_out, got %v", result.Outcome)
	}
}

func TestExtractDecisions(t *testing.T) {
	raw := RawOutput{AssistantText: []string{"I'll use React Hook Form instead of controlled inputs."}}
	result := Extract(raw, false, false, iteration.ModelTierPrimary)
	if len(result.Decisions) == 0 {
		t.Fatalf("expected at least one decision extracted")
	}
}
