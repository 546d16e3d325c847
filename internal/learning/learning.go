// Package learning curates the free-text learnings attached to a
// subsystem: dedup, negation-aware conflict detection, prompt-injection
// sanitization, and staleness-aware pruning (spec §4.3, §9). Grounded on
// original_source/crates/ralph-rag/src/learning.rs.
package learning

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Source identifies who produced a learning. Its ordering drives both
// pruning eligibility and prompt injection priority.
type Source string

const (
	SourceAuto         Source = "auto"
	SourceAgent        Source = "agent"
	SourceHuman        Source = "human"
	SourceOpusReviewed Source = "opus_reviewed"
)

// priority returns the prompt-injection ordering weight: human highest,
// auto lowest.
func (s Source) priority() int {
	switch s {
	case SourceHuman:
		return 4
	case SourceOpusReviewed:
		return 3
	case SourceAgent:
		return 2
	default:
		return 1
	}
}

func (s Source) label() string {
	switch s {
	case SourceAgent:
		return "agent"
	case SourceHuman:
		return "human"
	case SourceOpusReviewed:
		return "reviewed"
	default:
		return "auto"
	}
}

// Learning is a single distilled fact attached to a subsystem.
type Learning struct {
	Text        string `json:"text"`
	Reason      string `json:"reason,omitempty"`
	Source      Source `json:"source"`
	TaskID      *int64 `json:"task_id,omitempty"`
	Iteration   *int   `json:"iteration,omitempty"`
	Created     string `json:"created"`
	HitCount    int    `json:"hit_count"`
	Reviewed    bool   `json:"reviewed"`
	ReviewCount int    `json:"review_count"`
}

// AutoExtracted builds a learning produced by the extractor from a failed
// or noteworthy iteration.
func AutoExtracted(text string, iteration int, taskID *int64) Learning {
	return Learning{
		Text:      Sanitize(text),
		Source:    SourceAuto,
		TaskID:    taskID,
		Iteration: &iteration,
		Created:   time.Now().UTC().Format(time.RFC3339),
		HitCount:  1,
	}
}

// FromAgent builds a learning an agent wrote explicitly while working a task.
func FromAgent(text, reason string, taskID *int64) Learning {
	l := Learning{
		Text:     Sanitize(text),
		Source:   SourceAgent,
		TaskID:   taskID,
		Created:  time.Now().UTC().Format(time.RFC3339),
		HitCount: 1,
	}
	if reason != "" {
		l.Reason = reason
	}
	return l
}

// FromHuman builds a learning written via the UI. Human input is trusted
// verbatim, skipping sanitization.
func FromHuman(text, reason string) Learning {
	l := Learning{
		Text:     text,
		Source:   SourceHuman,
		Created:  time.Now().UTC().Format(time.RFC3339),
		HitCount: 1,
	}
	if reason != "" {
		l.Reason = reason
	}
	return l
}

// MarkReviewed promotes a learning to opus_reviewed status.
func (l *Learning) MarkReviewed() {
	l.Reviewed = true
	l.ReviewCount++
	l.Source = SourceOpusReviewed
}

// RecordReObservation bumps hit_count when dedup finds a near-duplicate.
func (l *Learning) RecordReObservation() {
	l.HitCount++
}

// IsAutoPrunable reports whether this learning may be silently removed
// when the subsystem's learning cap is exceeded. Only the weakest
// evidence (auto, unreviewed, seen once) qualifies, in keeping with the
// staleness paradox: a learning that prevents an error is never
// re-observed, so hit_count alone cannot be the only signal.
func (l *Learning) IsAutoPrunable() bool {
	return l.Source == SourceAuto && !l.Reviewed && l.HitCount <= 1
}

// InjectionPriority orders learnings for prompt assembly: reviewed first,
// then by source priority, then by hit count, all descending.
func (l *Learning) InjectionPriority() (bool, int, int) {
	return l.Reviewed, l.Source.priority(), l.HitCount
}

// FormatForPrompt renders a learning with enough provenance that the
// reading agent treats it as an observation to verify, not a rule to obey.
func (l *Learning) FormatForPrompt() string {
	parts := []string{l.Text}

	meta := []string{l.Source.label()}
	if l.Iteration != nil {
		meta = append(meta, "iteration "+strconv.Itoa(*l.Iteration))
	}
	if !l.Reviewed {
		meta = append(meta, "unreviewed")
	}
	if l.HitCount > 1 {
		meta = append(meta, "observed "+strconv.Itoa(l.HitCount)+"x")
	}
	parts = append(parts, "["+strings.Join(meta, ", ")+"]")

	if l.Reason != "" {
		parts = append(parts, "("+l.Reason+")")
	}
	return strings.Join(parts, " ")
}

// UnmarshalJSON accepts either a bare string ("quick note") or a full
// object with a required "text" field, matching the dual YAML shape the
// original agents and humans both write (spec §9). Anything else is a
// hard error: no silent fallback on malformed data.
func (l *Learning) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*l = Learning{
			Text:     asString,
			Source:   SourceAuto,
			HitCount: 1,
		}
		return nil
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return errLearningInvalidShape
	}

	text, ok := raw["text"].(string)
	if !ok || text == "" {
		return errLearningMissingText
	}

	out := Learning{Text: text, Source: SourceAuto, HitCount: 1}
	if reason, ok := raw["reason"].(string); ok {
		out.Reason = reason
	}
	if source, ok := raw["source"].(string); ok {
		switch Source(source) {
		case SourceAgent, SourceHuman, SourceOpusReviewed:
			out.Source = Source(source)
		default:
			out.Source = SourceAuto
		}
	}
	if taskID, ok := raw["task_id"].(float64); ok {
		id := int64(taskID)
		out.TaskID = &id
	}
	if iteration, ok := raw["iteration"].(float64); ok {
		it := int(iteration)
		out.Iteration = &it
	}
	if created, ok := raw["created"].(string); ok {
		out.Created = created
	}
	if hitCount, ok := raw["hit_count"].(float64); ok {
		out.HitCount = int(hitCount)
	}
	if reviewed, ok := raw["reviewed"].(bool); ok {
		out.Reviewed = reviewed
	}
	if reviewCount, ok := raw["review_count"].(float64); ok {
		out.ReviewCount = int(reviewCount)
	}

	*l = out
	return nil
}

type learningError string

func (e learningError) Error() string { return string(e) }

const errLearningMissingText = learningError("learning map must have a non-empty 'text' field")
const errLearningInvalidShape = learningError("learning must be a string or an object with a 'text' field")

// negationWords flip the meaning of a learning; used to tell a conflicting
// rewrite apart from a near-duplicate restatement (spec §9).
var negationWords = []string{
	"don't", "dont", "do not", "never", "not", "avoid", "instead of",
	"rather than", "shouldn't", "should not", "can't", "cannot",
	"won't", "will not", "stop", "remove", "delete",
}

// injectionPatterns are redacted on write for auto/agent-sourced text
// (spec §9); human input is trusted verbatim.
var injectionPatterns = []string{
	"IGNORE ALL", "IGNORE PREVIOUS", "IMPORTANT:", "SYSTEM:", "CRITICAL:",
	"<system>", "<instructions>", "<system-reminder>", "</system>",
	"you are now", "forget everything", "new instructions",
}

// Sanitize strips known injection patterns, lowercases excessive
// uppercase, and truncates to 500 characters.
func Sanitize(text string) string {
	sanitized := text
	lower := strings.ToLower(sanitized)
	for _, pattern := range injectionPatterns {
		patternLower := strings.ToLower(pattern)
		for {
			idx := strings.Index(lower, patternLower)
			if idx < 0 {
				break
			}
			sanitized = sanitized[:idx] + "[REDACTED]" + sanitized[idx+len(pattern):]
			lower = strings.ToLower(sanitized)
		}
	}

	var upperCount, alphaCount int
	for _, r := range sanitized {
		if !isAlpha(r) {
			continue
		}
		alphaCount++
		if isUpper(r) {
			upperCount++
		}
	}
	if alphaCount > 0 && float64(upperCount)/float64(alphaCount) > 0.5 {
		sanitized = strings.ToLower(sanitized)
	}

	if len(sanitized) > 500 {
		sanitized = sanitized[:500]
	}
	return strings.TrimSpace(sanitized)
}

func isAlpha(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isUpper(r rune) bool {
	return r >= 'A' && r <= 'Z'
}

// DedupOutcome is the verdict from checking a new learning against the
// existing set.
type DedupOutcome int

const (
	// Unique means no overlapping learning exists; add as new.
	Unique DedupOutcome = iota
	// Duplicate means a near-identical learning already exists; bump its
	// hit count instead of inserting.
	Duplicate
	// Conflict means an existing learning says the opposite; the store
	// replaces that entry with the new one and keeps the old text in the
	// new entry's reason.
	Conflict
)

// DedupResult carries the outcome plus which existing learning it concerns.
type DedupResult struct {
	Outcome       DedupOutcome
	ExistingIndex int
}

// CheckDeduplication compares newText's word set against every existing
// learning using Jaccard similarity, with negation-aware conflict
// detection: high overlap with opposite negation polarity is a Conflict,
// not a Duplicate (spec §9).
func CheckDeduplication(newText string, existing []Learning) DedupResult {
	newWords := normalizeWords(newText)
	if len(newWords) == 0 {
		return DedupResult{Outcome: Unique}
	}
	newNegated := hasNegation(newText)

	for i, l := range existing {
		existingWords := normalizeWords(l.Text)
		if len(existingWords) == 0 {
			continue
		}

		intersection := 0
		for w := range newWords {
			if existingWords[w] {
				intersection++
			}
		}
		union := len(newWords) + len(existingWords) - intersection
		if union == 0 {
			continue
		}
		jaccard := float64(intersection) / float64(union)

		if jaccard > 0.7 {
			if newNegated != hasNegation(l.Text) {
				return DedupResult{Outcome: Conflict, ExistingIndex: i}
			}
			return DedupResult{Outcome: Duplicate, ExistingIndex: i}
		}
	}
	return DedupResult{Outcome: Unique}
}

func normalizeWords(text string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(text) {
		trimmed := strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
			return !isAlphanumeric(r)
		}))
		if len(trimmed) > 2 {
			out[trimmed] = true
		}
	}
	return out
}

func isAlphanumeric(r rune) bool {
	return isAlpha(r) || (r >= '0' && r <= '9')
}

func hasNegation(text string) bool {
	lower := strings.ToLower(text)
	for _, neg := range negationWords {
		if strings.Contains(lower, neg) {
			return true
		}
	}
	return false
}

// SelectForPruning returns the indices of learnings to drop when the
// subsystem holds more than maxCount, oldest auto-prunable first. If
// fewer than the overflow amount are prunable, the caller should reject
// the new learning rather than evict a protected one.
func SelectForPruning(learnings []Learning, maxCount int) []int {
	if len(learnings) <= maxCount {
		return nil
	}
	overflow := len(learnings) - maxCount

	type candidate struct {
		index   int
		created string
	}
	var prunable []candidate
	for i, l := range learnings {
		if l.IsAutoPrunable() {
			prunable = append(prunable, candidate{index: i, created: l.Created})
		}
	}
	sort.Slice(prunable, func(i, j int) bool {
		return prunable[i].created < prunable[j].created
	})

	if overflow > len(prunable) {
		overflow = len(prunable)
	}
	out := make([]int, 0, overflow)
	for _, c := range prunable[:overflow] {
		out = append(out, c.index)
	}
	return out
}
