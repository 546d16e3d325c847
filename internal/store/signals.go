// Signal log: append-only structured events on a task, one of the eight
// verbs in spec §3.1/§4.2. Grounded on
// original_source/crates/sqlite-db/src/signals.rs, folded into the shared
// task_comments table via the nullable signal_verb column.
package store

import (
	"database/sql"
	"strings"

	"github.com/ralphmem/ralphmem/internal/rerr"
)

// TaskSignal is one typed event row, hydrated with only the fields its verb
// populates.
type TaskSignal struct {
	ID        int64  `json:"id"`
	TaskID    int64  `json:"task_id"`
	Author    string `json:"author"`
	Verb      string `json:"verb"`
	SessionID string `json:"session_id"`
	Created   string `json:"created"`

	Summary   string `json:"summary,omitempty"`
	Remaining string `json:"remaining,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Question  string `json:"question,omitempty"`
	Options   []string `json:"options,omitempty"`
	Preferred string `json:"preferred,omitempty"`
	Blocking  bool   `json:"blocking,omitempty"`
	Answer    string `json:"answer,omitempty"`
	What      string `json:"what,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Category  string `json:"category,omitempty"`
	Text      string `json:"text,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Rationale string `json:"rationale,omitempty"`
	Why       string `json:"why,omitempty"`
	On        string `json:"on,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// TaskSignalSummary is the per-task rollup from spec §4.2.
type TaskSignalSummary struct {
	PendingAsks      int     `json:"pending_asks"`
	FlagCount        int     `json:"flag_count"`
	MaxFlagSeverity  string  `json:"max_flag_severity,omitempty"`
	LastClosingVerb  string  `json:"last_closing_verb,omitempty"`
	SessionCount     int     `json:"session_count"`
	LearnedCount     int     `json:"learned_count"`
}

func requireNonEmpty(code rerr.Code, field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", rerr.New(code, "%s cannot be empty", field)
	}
	return trimmed, nil
}

func (d *DB) requireTask(taskID int64) error {
	if err := d.checkExists("tasks", "id", taskID); err != nil {
		return rerr.New(rerr.SignalOps, "Task %d does not exist", taskID)
	}
	return nil
}

// InsertDoneSignal records a "done" closing signal.
func (d *DB) InsertDoneSignal(taskID int64, sessionID, summary string) error {
	summary, err := requireNonEmpty(rerr.SignalOps, "Summary", summary)
	if err != nil {
		return err
	}
	if err := d.requireTask(taskID); err != nil {
		return err
	}
	_, err = d.conn.Exec(
		`INSERT INTO task_comments (task_id, author, signal_verb, session_id, summary, created)
		 VALUES (?, 'agent', 'done', ?, ?, ?)`, taskID, sessionID, summary, timestamp())
	if err != nil {
		return rerr.Wrap(rerr.DBWrite, "failed to insert done signal", err)
	}
	return nil
}

// InsertPartialSignal records a "partial" closing signal with remaining work.
func (d *DB) InsertPartialSignal(taskID int64, sessionID, summary, remaining string) error {
	summary, err := requireNonEmpty(rerr.SignalOps, "Summary", summary)
	if err != nil {
		return err
	}
	remaining, err = requireNonEmpty(rerr.SignalOps, "Remaining", remaining)
	if err != nil {
		return err
	}
	if err := d.requireTask(taskID); err != nil {
		return err
	}
	_, err = d.conn.Exec(
		`INSERT INTO task_comments (task_id, author, signal_verb, session_id, summary, remaining, created)
		 VALUES (?, 'agent', 'partial', ?, ?, ?, ?)`, taskID, sessionID, summary, remaining, timestamp())
	if err != nil {
		return rerr.Wrap(rerr.DBWrite, "failed to insert partial signal", err)
	}
	return nil
}

// InsertStuckSignal records a "stuck" closing signal.
func (d *DB) InsertStuckSignal(taskID int64, sessionID, reason string) error {
	reason, err := requireNonEmpty(rerr.SignalOps, "Reason", reason)
	if err != nil {
		return err
	}
	if err := d.requireTask(taskID); err != nil {
		return err
	}
	_, err = d.conn.Exec(
		`INSERT INTO task_comments (task_id, author, signal_verb, session_id, reason, created)
		 VALUES (?, 'agent', 'stuck', ?, ?, ?)`, taskID, sessionID, reason, timestamp())
	if err != nil {
		return rerr.Wrap(rerr.DBWrite, "failed to insert stuck signal", err)
	}
	return nil
}

// AskSignalInput is the payload for an "ask" signal.
type AskSignalInput struct {
	TaskID    int64
	SessionID string
	Question  string
	Blocking  bool
	Options   []string
	Preferred string
}

// InsertAskSignal records an "ask" signal; it may later be answered once.
func (d *DB) InsertAskSignal(in AskSignalInput) error {
	question, err := requireNonEmpty(rerr.SignalOps, "Question", in.Question)
	if err != nil {
		return err
	}
	if err := d.requireTask(in.TaskID); err != nil {
		return err
	}
	var options any
	if len(in.Options) > 0 {
		options = strings.Join(in.Options, "\n")
	}
	_, err = d.conn.Exec(
		`INSERT INTO task_comments (task_id, author, signal_verb, session_id, question, options,
		 preferred, blocking, created) VALUES (?, 'agent', 'ask', ?, ?, ?, ?, ?, ?)`,
		in.TaskID, in.SessionID, question, options, nullableString(in.Preferred), boolToInt(in.Blocking), timestamp())
	if err != nil {
		return rerr.Wrap(rerr.DBWrite, "failed to insert ask signal", err)
	}
	return nil
}

// FlagSignalInput is the payload for a "flag" signal.
type FlagSignalInput struct {
	TaskID    int64
	SessionID string
	What      string
	Severity  string
	Category  string
}

// InsertFlagSignal records a "flag" signal.
func (d *DB) InsertFlagSignal(in FlagSignalInput) error {
	what, err := requireNonEmpty(rerr.SignalOps, "What", in.What)
	if err != nil {
		return err
	}
	if err := d.requireTask(in.TaskID); err != nil {
		return err
	}
	_, err = d.conn.Exec(
		`INSERT INTO task_comments (task_id, author, signal_verb, session_id, what, severity, category, created)
		 VALUES (?, 'agent', 'flag', ?, ?, ?, ?, ?)`, in.TaskID, in.SessionID, what, in.Severity, in.Category, timestamp())
	if err != nil {
		return rerr.Wrap(rerr.DBWrite, "failed to insert flag signal", err)
	}
	return nil
}

// LearnedSignalInput is the payload for a "learned" signal.
type LearnedSignalInput struct {
	TaskID    int64
	SessionID string
	Text      string
	Kind      string
	Scope     string
	Rationale string
}

// InsertLearnedSignal records a "learned" signal.
func (d *DB) InsertLearnedSignal(in LearnedSignalInput) error {
	text, err := requireNonEmpty(rerr.SignalOps, "Text", in.Text)
	if err != nil {
		return err
	}
	if err := d.requireTask(in.TaskID); err != nil {
		return err
	}
	_, err = d.conn.Exec(
		`INSERT INTO task_comments (task_id, author, signal_verb, session_id, text, kind, scope, rationale, created)
		 VALUES (?, 'agent', 'learned', ?, ?, ?, ?, ?, ?)`, in.TaskID, in.SessionID, text, in.Kind, in.Scope, in.Rationale, timestamp())
	if err != nil {
		return rerr.Wrap(rerr.DBWrite, "failed to insert learned signal", err)
	}
	return nil
}

// SuggestSignalInput is the payload for a "suggest" signal.
type SuggestSignalInput struct {
	TaskID    int64
	SessionID string
	What      string
	Kind      string
	Why       string
}

// InsertSuggestSignal records a "suggest" signal.
func (d *DB) InsertSuggestSignal(in SuggestSignalInput) error {
	what, err := requireNonEmpty(rerr.SignalOps, "What", in.What)
	if err != nil {
		return err
	}
	why, err := requireNonEmpty(rerr.SignalOps, "Why", in.Why)
	if err != nil {
		return err
	}
	if err := d.requireTask(in.TaskID); err != nil {
		return err
	}
	_, err = d.conn.Exec(
		`INSERT INTO task_comments (task_id, author, signal_verb, session_id, what, kind, why, created)
		 VALUES (?, 'agent', 'suggest', ?, ?, ?, ?, ?)`, in.TaskID, in.SessionID, what, in.Kind, why, timestamp())
	if err != nil {
		return rerr.Wrap(rerr.DBWrite, "failed to insert suggest signal", err)
	}
	return nil
}

// BlockedSignalInput is the payload for a "blocked" signal.
type BlockedSignalInput struct {
	TaskID    int64
	SessionID string
	On        string
	Kind      string
	Detail    string
}

// InsertBlockedSignal records a "blocked" signal.
func (d *DB) InsertBlockedSignal(in BlockedSignalInput) error {
	on, err := requireNonEmpty(rerr.SignalOps, "On", in.On)
	if err != nil {
		return err
	}
	if err := d.requireTask(in.TaskID); err != nil {
		return err
	}
	_, err = d.conn.Exec(
		`INSERT INTO task_comments (task_id, author, signal_verb, session_id, on_condition, kind, detail, created)
		 VALUES (?, 'agent', 'blocked', ?, ?, ?, ?, ?)`, in.TaskID, in.SessionID, on, in.Kind, in.Detail, timestamp())
	if err != nil {
		return rerr.Wrap(rerr.DBWrite, "failed to insert blocked signal", err)
	}
	return nil
}

// AnswerAsk is a single-shot update keyed by signal id, refused for
// non-"ask" rows (spec §4.2).
func (d *DB) AnswerAsk(signalID int64, answer string) error {
	answer, err := requireNonEmpty(rerr.SignalOps, "Answer", answer)
	if err != nil {
		return err
	}
	res, err := d.conn.Exec("UPDATE task_comments SET answer = ? WHERE id = ? AND signal_verb = 'ask' AND answer IS NULL", answer, signalID)
	if err != nil {
		return rerr.Wrap(rerr.DBWrite, "failed to answer ask signal", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return rerr.New(rerr.SignalOps, "Signal %d does not exist, is not an ask, or is already answered", signalID)
	}
	return nil
}

// GetTaskSignals returns every typed signal on a task, oldest first.
func (d *DB) GetTaskSignals(taskID int64) ([]TaskSignal, error) {
	rows, err := d.conn.Query(
		`SELECT id, task_id, author, signal_verb, COALESCE(session_id, ''), created, summary, remaining,
		 reason, question, options, preferred, blocking, answer, what, severity, category, text, kind,
		 scope, rationale, why, on_condition, detail
		 FROM task_comments WHERE task_id = ? AND signal_verb IS NOT NULL
		 ORDER BY created ASC, id ASC`, taskID)
	if err != nil {
		return nil, rerr.Wrap(rerr.DBRead, "failed to query task signals", err)
	}
	defer rows.Close()

	var out []TaskSignal
	for rows.Next() {
		s, optionsStr, err := scanSignal(rows)
		if err != nil {
			return nil, rerr.Wrap(rerr.DBRead, "failed to scan task signal", err)
		}
		if optionsStr != "" {
			s.Options = strings.Split(optionsStr, "\n")
		}
		out = append(out, *s)
	}
	return out, nil
}

func scanSignal(rows *sql.Rows) (*TaskSignal, string, error) {
	var s TaskSignal
	var verb sql.NullString
	var summary, remaining, reason, question, options, preferred, answer, what, severity, category,
		text, kind, scope, rationale, why, on, detail sql.NullString
	var blocking sql.NullInt64

	if err := rows.Scan(&s.ID, &s.TaskID, &s.Author, &verb, &s.SessionID, &s.Created, &summary,
		&remaining, &reason, &question, &options, &preferred, &blocking, &answer, &what, &severity,
		&category, &text, &kind, &scope, &rationale, &why, &on, &detail); err != nil {
		return nil, "", err
	}

	s.Verb = verb.String
	s.Summary = summary.String
	s.Remaining = remaining.String
	s.Reason = reason.String
	s.Question = question.String
	s.Preferred = preferred.String
	s.Blocking = blocking.Int64 != 0
	s.Answer = answer.String
	s.What = what.String
	s.Severity = severity.String
	s.Category = category.String
	s.Text = text.String
	s.Kind = kind.String
	s.Scope = scope.String
	s.Rationale = rationale.String
	s.Why = why.String
	s.On = on.String
	s.Detail = detail.String
	return &s, options.String, nil
}

// severityRank gives blocking > warning > info > unknown its fixed total
// order (spec §4.2).
func severityRank(severity string) int {
	switch severity {
	case "info":
		return 1
	case "warning":
		return 2
	case "blocking":
		return 3
	default:
		return 0
	}
}

// GetSignalSummaries computes the rollup from spec §4.2 for a set of tasks
// in one query.
func (d *DB) GetSignalSummaries(taskIDs []int64) (map[int64]TaskSignalSummary, error) {
	if len(taskIDs) == 0 {
		return map[int64]TaskSignalSummary{}, nil
	}

	placeholders := make([]string, len(taskIDs))
	args := make([]any, len(taskIDs))
	for i, id := range taskIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	query := `SELECT task_id, signal_verb, answer, COALESCE(session_id, ''), blocking, COALESCE(severity, '')
		 FROM task_comments WHERE task_id IN (` + strings.Join(placeholders, ",") + `)
		 AND signal_verb IS NOT NULL ORDER BY task_id, created ASC`

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, rerr.Wrap(rerr.DBRead, "failed to query signal summaries", err)
	}
	defer rows.Close()

	summaries := make(map[int64]TaskSignalSummary)
	sessions := make(map[int64]map[string]bool)

	for rows.Next() {
		var taskID int64
		var verb, sessionID, severity string
		var answer sql.NullString
		var blocking sql.NullBool
		if err := rows.Scan(&taskID, &verb, &answer, &sessionID, &blocking, &severity); err != nil {
			return nil, rerr.Wrap(rerr.DBRead, "failed to scan signal summary row", err)
		}

		summary := summaries[taskID]
		if sessions[taskID] == nil {
			sessions[taskID] = make(map[string]bool)
		}
		sessions[taskID][sessionID] = true

		switch verb {
		case "ask":
			if !answer.Valid && blocking.Valid && blocking.Bool {
				summary.PendingAsks++
			}
		case "flag":
			summary.FlagCount++
			if severity != "" && severityRank(severity) > severityRank(summary.MaxFlagSeverity) {
				summary.MaxFlagSeverity = severity
			}
		case "learned":
			summary.LearnedCount++
		case "done", "partial", "stuck":
			summary.LastClosingVerb = verb
		}

		summaries[taskID] = summary
	}

	for taskID, set := range sessions {
		s := summaries[taskID]
		s.SessionCount = len(set)
		summaries[taskID] = s
	}

	return summaries, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
