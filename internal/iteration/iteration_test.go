package iteration

import (
	"strings"
	"testing"
)

func TestEmbeddingTextIncludesKeyFields(t *testing.T) {
	r := Record{
		IterationNumber: 7,
		TaskID:          42,
		TaskTitle:       "Build login form",
		Subsystem:       "authentication",
		Discipline:      "frontend",
		Timestamp:       "2026-02-07T14:30:00Z",
		Outcome:         OutcomeFailure,
		Summary:         "Tried to build login form but auth middleware returns wrong shape",
		Errors: []ErrorEntry{{
			Message:   "TypeError: Cannot read property 'user' of undefined",
			ErrorType: ErrorTypeRuntime,
			FilePath:  "src/middleware/auth.ts",
		}},
		Decisions: []DecisionEntry{{
			Description: "Used React Hook Form for form state",
			Rationale:   "Better performance with validation",
		}},
		ModelTier: ModelTierPrimary,
	}

	text := r.EmbeddingText()
	for _, want := range []string{"Build login form", "failure", "TypeError", "React Hook Form"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in embedding text %q", want, text)
		}
	}
}

func TestPointIDIsDeterministic(t *testing.T) {
	r := Record{
		IterationNumber: 7,
		TaskID:          42,
		TaskTitle:       "Build login form",
		Subsystem:       "authentication",
		Discipline:      "frontend",
		Timestamp:       "2026-02-07T14:30:00Z",
		Outcome:         OutcomeSuccess,
		Summary:         "Done",
		ModelTier:       ModelTierPrimary,
	}

	id1 := r.PointID("/home/user/ticketmaster")
	id2 := r.PointID("/home/user/ticketmaster")
	if id1 != id2 {
		t.Fatalf("expected deterministic point id, got %q and %q", id1, id2)
	}

	id3 := r.PointID("/home/user/other-project")
	if id1 == id3 {
		t.Fatalf("expected different projects to produce different point ids")
	}
}

func TestEmbeddingTextCappedAt4000Chars(t *testing.T) {
	r := Record{
		IterationNumber: 1,
		TaskID:          1,
		TaskTitle:       "Test",
		Subsystem:       "test",
		Discipline:      "testing",
		Timestamp:       "2026-02-07T14:30:00Z",
		Outcome:         OutcomeFailure,
		Summary:         strings.Repeat("x", 5000),
		ModelTier:       ModelTierPrimary,
	}

	text := r.EmbeddingText()
	if len(text) > 4020 {
		t.Fatalf("expected length <= 4020, got %d", len(text))
	}
	if !strings.HasSuffix(text, "[truncated]") {
		t.Fatalf("expected text to end with [truncated], got %q", text[len(text)-20:])
	}
}
