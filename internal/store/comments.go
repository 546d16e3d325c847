package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/ralphmem/ralphmem/internal/rerr"
)

// timestamp uses the original's simpler "%Y-%m-%dT%H:%M:%SZ" form for
// comments and signals, mirroring comments.rs / signals.rs exactly. For
// UTC times this is the same text the time.RFC3339 stamps elsewhere give.
func timestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

// AddComment adds a plain task comment, optionally as a reply. Replies
// nest at most one level: a parent comment must itself have no parent
// (spec §3.2).
func (d *DB) AddComment(taskID int64, discipline, body string, parentCommentID *int64) (int64, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return 0, rerr.New(rerr.CommentOps, "Comment body cannot be empty")
	}
	if err := d.checkExists("tasks", "id", taskID); err != nil {
		return 0, rerr.New(rerr.CommentOps, "Task %d does not exist", taskID)
	}

	author := strings.TrimSpace(discipline)
	if author == "" {
		author = "human"
	}

	if parentCommentID != nil {
		var parentExists bool
		if err := d.conn.QueryRow("SELECT COUNT(*) > 0 FROM task_comments WHERE id = ? AND task_id = ?", *parentCommentID, taskID).Scan(&parentExists); err != nil {
			return 0, rerr.Wrap(rerr.DBRead, "failed to check parent comment", err)
		}
		if !parentExists {
			return 0, rerr.New(rerr.CommentOps, "Parent comment %d does not exist", *parentCommentID)
		}
		var parentHasParent bool
		if err := d.conn.QueryRow("SELECT parent_comment_id IS NOT NULL FROM task_comments WHERE id = ?", *parentCommentID).Scan(&parentHasParent); err != nil {
			return 0, rerr.Wrap(rerr.DBRead, "failed to check parent nesting", err)
		}
		if parentHasParent {
			return 0, rerr.New(rerr.CommentOps, "Cannot reply to a reply (max 2 layers)")
		}
		author = "human"
	}

	now := timestamp()
	res, err := d.conn.Exec(
		`INSERT INTO task_comments (task_id, author, body, parent_comment_id, created)
		 VALUES (?, ?, ?, ?, ?)`,
		taskID, author, body, parentCommentID, now,
	)
	if err != nil {
		return 0, rerr.Wrap(rerr.DBWrite, "failed to insert comment", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// UpdateComment edits an existing comment's body.
func (d *DB) UpdateComment(taskID, commentID int64, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return rerr.New(rerr.CommentOps, "Comment body cannot be empty")
	}
	res, err := d.conn.Exec("UPDATE task_comments SET body = ? WHERE id = ? AND task_id = ? AND signal_verb IS NULL", body, commentID, taskID)
	if err != nil {
		return rerr.Wrap(rerr.DBWrite, "failed to update comment", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return rerr.New(rerr.CommentOps, "Comment %d does not exist on task %d", commentID, taskID)
	}
	return nil
}

// DeleteComment removes a comment (and its replies, via FK cascade).
func (d *DB) DeleteComment(taskID, commentID int64) error {
	res, err := d.conn.Exec("DELETE FROM task_comments WHERE id = ? AND task_id = ? AND signal_verb IS NULL", commentID, taskID)
	if err != nil {
		return rerr.Wrap(rerr.DBWrite, "failed to delete comment", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return rerr.New(rerr.CommentOps, "Comment %d does not exist on task %d", commentID, taskID)
	}
	return nil
}

// GetCommentsForTask returns a task's plain comments (signal_verb IS NULL),
// most recent first.
func (d *DB) GetCommentsForTask(taskID int64) ([]TaskComment, error) {
	rows, err := d.conn.Query(
		`SELECT id, task_id, author, body, created, parent_comment_id
		 FROM task_comments WHERE task_id = ? AND signal_verb IS NULL ORDER BY id DESC`, taskID)
	if err != nil {
		return nil, rerr.Wrap(rerr.DBRead, "failed to query comments", err)
	}
	defer rows.Close()
	return scanComments(rows)
}

func (d *DB) getAllCommentsByTask() (map[int64][]TaskComment, error) {
	rows, err := d.conn.Query(
		`SELECT tc.id, tc.task_id, COALESCE(d.display_name, tc.author), tc.body, tc.created, tc.parent_comment_id
		 FROM task_comments tc
		 LEFT JOIN disciplines d ON tc.author = d.name
		 WHERE tc.signal_verb IS NULL ORDER BY tc.task_id, tc.id DESC`)
	if err != nil {
		return nil, rerr.Wrap(rerr.DBRead, "failed to query comments", err)
	}
	defer rows.Close()

	comments, err := scanComments(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[int64][]TaskComment)
	for _, c := range comments {
		out[c.TaskID] = append(out[c.TaskID], c)
	}
	return out, nil
}

func scanComments(rows *sql.Rows) ([]TaskComment, error) {
	var out []TaskComment
	for rows.Next() {
		var c TaskComment
		var parent sql.NullInt64
		var body sql.NullString
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Author, &body, &c.Created, &parent); err != nil {
			return nil, rerr.Wrap(rerr.DBRead, "failed to scan comment", err)
		}
		c.Body = body.String
		if parent.Valid {
			c.ParentCommentID = &parent.Int64
		}
		out = append(out, c)
	}
	return out, nil
}

// AddSubsystemComment inserts a categorized structured note on a subsystem.
func (d *DB) AddSubsystemComment(c SubsystemComment) (int64, error) {
	body := strings.TrimSpace(c.Body)
	category := strings.TrimSpace(c.Category)
	if body == "" {
		return 0, rerr.New(rerr.FeatureOps, "Subsystem comment body cannot be empty")
	}
	if category == "" {
		return 0, rerr.New(rerr.FeatureOps, "Subsystem comment category cannot be empty")
	}
	if err := d.checkExists("subsystems", "name", c.Subsystem); err != nil {
		return 0, rerr.New(rerr.FeatureOps, "Subsystem %q does not exist", c.Subsystem)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := d.conn.Exec(
		`INSERT INTO subsystem_comments (subsystem, category, discipline, agent_task_id, body, summary,
		 reason, source_iteration, created)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Subsystem, category, c.Discipline, c.AgentTaskID, body, c.Summary, c.Reason, c.SourceIteration, now,
	)
	if err != nil {
		return 0, rerr.Wrap(rerr.DBWrite, "failed to insert subsystem comment", err)
	}
	return res.LastInsertId()
}

// UpdateSubsystemComment edits a comment's body/summary/reason, stamping
// updated; callers use this to detect whether re-embedding is required
// (spec §4.4) by diffing EmbeddingText before/after.
func (d *DB) UpdateSubsystemComment(id int64, body, summary, reason string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return rerr.New(rerr.FeatureOps, "Subsystem comment body cannot be empty")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := d.conn.Exec("UPDATE subsystem_comments SET body = ?, summary = ?, reason = ?, updated = ? WHERE id = ?",
		body, summary, reason, now, id)
	if err != nil {
		return rerr.Wrap(rerr.DBWrite, "failed to update subsystem comment", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return rerr.New(rerr.FeatureOps, "Subsystem comment %d does not exist", id)
	}
	return nil
}

// DeleteSubsystemComment removes a comment; its embedding cascades via FK
// (spec §3.2).
func (d *DB) DeleteSubsystemComment(id int64) error {
	res, err := d.conn.Exec("DELETE FROM subsystem_comments WHERE id = ?", id)
	if err != nil {
		return rerr.Wrap(rerr.DBWrite, "failed to delete subsystem comment", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return rerr.New(rerr.FeatureOps, "Subsystem comment %d does not exist", id)
	}
	return nil
}

// GetSubsystemComment fetches one comment by id.
func (d *DB) GetSubsystemComment(id int64) (*SubsystemComment, error) {
	row := d.conn.QueryRow(
		`SELECT id, subsystem, category, discipline, agent_task_id, body, summary, reason,
		 source_iteration, created, updated FROM subsystem_comments WHERE id = ?`, id)
	c, err := scanSubsystemComment(row)
	if err == sql.ErrNoRows {
		return nil, rerr.New(rerr.FeatureOps, "Subsystem comment %d does not exist", id)
	}
	if err != nil {
		return nil, rerr.Wrap(rerr.DBRead, "failed to read subsystem comment", err)
	}
	return c, nil
}

// GetSubsystemComments lists all comments for a subsystem, newest first.
func (d *DB) GetSubsystemComments(subsystem string) ([]SubsystemComment, error) {
	rows, err := d.conn.Query(
		`SELECT id, subsystem, category, discipline, agent_task_id, body, summary, reason,
		 source_iteration, created, updated FROM subsystem_comments WHERE subsystem = ? ORDER BY id DESC`, subsystem)
	if err != nil {
		return nil, rerr.Wrap(rerr.DBRead, "failed to query subsystem comments", err)
	}
	defer rows.Close()

	var out []SubsystemComment
	for rows.Next() {
		c, err := scanSubsystemComment(rows)
		if err != nil {
			return nil, rerr.Wrap(rerr.DBRead, "failed to scan subsystem comment", err)
		}
		out = append(out, *c)
	}
	return out, nil
}

func scanSubsystemComment(row rowScanner) (*SubsystemComment, error) {
	var c SubsystemComment
	var discipline, summary, reason, updated sql.NullString
	var agentTaskID, sourceIteration sql.NullInt64
	if err := row.Scan(&c.ID, &c.Subsystem, &c.Category, &discipline, &agentTaskID, &c.Body, &summary,
		&reason, &sourceIteration, &c.Created, &updated); err != nil {
		return nil, err
	}
	c.Discipline = discipline.String
	c.Summary = summary.String
	c.Reason = reason.String
	c.Updated = updated.String
	if agentTaskID.Valid {
		c.AgentTaskID = &agentTaskID.Int64
	}
	if sourceIteration.Valid {
		v := int(sourceIteration.Int64)
		c.SourceIteration = &v
	}
	return &c, nil
}
