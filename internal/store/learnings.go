package store

import (
	"encoding/json"

	"github.com/ralphmem/ralphmem/internal/learning"
	"github.com/ralphmem/ralphmem/internal/rerr"
)

// AppendLearning runs a new learning through the curator's deduplication
// pass against a subsystem's existing list, merges or appends accordingly,
// and prunes back to maxCount if the cap is exceeded, refusing the write
// when too few entries are prunable to get there (spec §4.3):
// append_learning(L) followed by append_learning(L) leaves list size
// unchanged and increments hit_count by one.
func (d *DB) AppendLearning(subsystem string, candidate learning.Learning, maxCount int) (learning.DedupOutcome, error) {
	s, err := d.GetSubsystem(subsystem)
	if err != nil {
		return 0, err
	}

	dedup := learning.CheckDeduplication(candidate.Text, s.Learnings)
	switch dedup.Outcome {
	case learning.Duplicate:
		s.Learnings[dedup.ExistingIndex].RecordReObservation()
	case learning.Conflict:
		// Replace the superseded entry in place, recording its old text
		// in the new entry's reason so the conflict is traceable.
		candidate.Reason = "Replaced conflicting learning: " + s.Learnings[dedup.ExistingIndex].Text
		s.Learnings[dedup.ExistingIndex] = candidate
	default:
		s.Learnings = append(s.Learnings, candidate)
	}

	if maxCount > 0 && len(s.Learnings) > maxCount {
		prune := learning.SelectForPruning(s.Learnings, maxCount)
		s.Learnings = removeLearningIndexes(s.Learnings, prune)
		if len(s.Learnings) > maxCount {
			return 0, rerr.New(rerr.FeatureOps, "Learnings for subsystem %q are full (max %d): human review required", subsystem, maxCount)
		}
	}

	data, err := json.Marshal(s.Learnings)
	if err != nil {
		return 0, rerr.Wrap(rerr.FeatureOps, "failed to marshal learnings", err)
	}
	if _, err := d.conn.Exec("UPDATE subsystems SET learnings = ? WHERE name = ?", string(data), subsystem); err != nil {
		return 0, rerr.Wrap(rerr.DBWrite, "failed to update learnings", err)
	}
	return dedup.Outcome, nil
}

// GetLearnings returns a subsystem's current learnings in stored order
// (append order, with a conflicting entry replaced in its old slot). The
// list is not sorted by InjectionPriority.
func (d *DB) GetLearnings(subsystem string) ([]learning.Learning, error) {
	s, err := d.GetSubsystem(subsystem)
	if err != nil {
		return nil, err
	}
	return s.Learnings, nil
}

func removeLearningIndexes(learnings []learning.Learning, drop []int) []learning.Learning {
	if len(drop) == 0 {
		return learnings
	}
	dropSet := make(map[int]bool, len(drop))
	for _, i := range drop {
		dropSet[i] = true
	}
	out := make([]learning.Learning, 0, len(learnings)-len(drop))
	for i, l := range learnings {
		if !dropSet[i] {
			out = append(out, l)
		}
	}
	return out
}
