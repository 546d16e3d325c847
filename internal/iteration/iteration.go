// Package iteration models one execution iteration of the coding-agent
// loop: what was attempted, what broke, what was decided, and what files
// were touched (spec §4.5, §4.6). Grounded on
// original_source/crates/ralph-rag/src/model.rs; point identity uses
// github.com/google/uuid exactly as the teacher does for its own agent
// and session IDs.
package iteration

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Outcome classifies what an iteration accomplished.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeFailure     Outcome = "failure"
	OutcomePartial     Outcome = "partial"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeRateLimited Outcome = "rate_limited"
)

// ModelTier distinguishes a regular task iteration from a heavier review
// pass.
type ModelTier string

const (
	ModelTierPrimary ModelTier = "primary"
	ModelTierReview  ModelTier = "review"
)

// ErrorType classifies an extracted error for filtering and search.
type ErrorType string

const (
	ErrorTypeRuntime    ErrorType = "runtime"
	ErrorTypeCompile    ErrorType = "compile"
	ErrorTypeTest       ErrorType = "test"
	ErrorTypeLint       ErrorType = "lint"
	ErrorTypePermission ErrorType = "permission"
	ErrorTypeLogic      ErrorType = "logic"
	ErrorTypeUnknown    ErrorType = "unknown"
)

// ErrorEntry is one error extracted from an iteration's transcript.
type ErrorEntry struct {
	Message   string    `json:"message"`
	ErrorType ErrorType `json:"error_type,omitempty"`
	FilePath  string    `json:"file_path,omitempty"`
	Line      *int      `json:"line,omitempty"`
}

// DecisionEntry is one choice an agent made, kept to prevent later
// iterations from silently contradicting it.
type DecisionEntry struct {
	Description string `json:"description"`
	Rationale   string `json:"rationale,omitempty"`
}

// FileAction is what happened to a touched file.
type FileAction string

const (
	FileActionCreated  FileAction = "created"
	FileActionModified FileAction = "modified"
	FileActionRead     FileAction = "read"
	FileActionDeleted  FileAction = "deleted"
)

// FileTouched is one file an agent read, wrote, or deleted during an
// iteration. Path must be relative to the project root.
type FileTouched struct {
	Path   string     `json:"path"`
	Action FileAction `json:"action"`
}

// Record is the complete account of a single execution iteration,
// scoped to one subsystem.
type Record struct {
	IterationNumber int             `json:"iteration_number"`
	TaskID          int64           `json:"task_id"`
	TaskTitle       string          `json:"task_title"`
	Subsystem       string          `json:"subsystem"`
	Discipline      string          `json:"discipline"`
	Timestamp       string          `json:"timestamp"`
	Outcome         Outcome         `json:"outcome"`
	Summary         string          `json:"summary"`
	Errors          []ErrorEntry    `json:"errors"`
	Decisions       []DecisionEntry `json:"decisions"`
	FilesTouched    []FileTouched   `json:"files_touched"`
	TokensUsed      *int            `json:"tokens_used,omitempty"`
	DurationMs      *int64          `json:"duration_ms,omitempty"`
	ModelTier       ModelTier       `json:"model_tier"`
}

// EmbeddingText builds the text that gets embedded for semantic search.
// Field order matters: earlier text carries more weight for most
// embedding models, so title/outcome/summary come first, then errors,
// then decisions. Text longer than 4000 characters is cut at 4000 and
// gets a trailing "\n[truncated]" marker (spec §4.6).
func (r *Record) EmbeddingText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\nOutcome: %s\n%s", r.TaskTitle, r.Outcome, r.Summary)

	if len(r.Errors) > 0 {
		b.WriteString("\nErrors:")
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "\n- %s", e.Message)
			if e.FilePath != "" {
				fmt.Fprintf(&b, " (in %s)", e.FilePath)
			}
		}
	}

	if len(r.Decisions) > 0 {
		b.WriteString("\nDecisions:")
		for _, d := range r.Decisions {
			fmt.Fprintf(&b, "\n- %s", d.Description)
		}
	}

	text := b.String()
	if len(text) > 4000 {
		text = text[:4000] + "\n[truncated]"
	}
	return text
}

// PointID returns a deterministic vector-index point identifier. The
// same project, subsystem, iteration, and task always produce the same
// ID, making re-embed upserts idempotent; different projects produce
// different IDs even for otherwise identical records, avoiding
// multi-project collisions in a shared index (spec §4.6).
func (r *Record) PointID(projectPath string) string {
	input := fmt.Sprintf("%s::%s::%d::%d", projectPath, r.Subsystem, r.IterationNumber, r.TaskID)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(input)).String()
}
