package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/ralphmem/ralphmem/internal/rerr"
)

// CreateTask assigns the next monotonic id (MAX(id)+1) and validates that
// the subsystem, discipline, and every dependency exist (spec §4.1).
func (d *DB) CreateTask(in TaskInput) (int64, error) {
	subsystem := strings.TrimSpace(in.Subsystem)
	discipline := strings.TrimSpace(in.Discipline)
	title := strings.TrimSpace(in.Title)

	if subsystem == "" {
		return 0, rerr.New(rerr.TaskOps, "Subsystem name cannot be empty")
	}
	if discipline == "" {
		return 0, rerr.New(rerr.TaskOps, "Discipline name cannot be empty")
	}
	if title == "" {
		return 0, rerr.New(rerr.TaskOps, "Task title cannot be empty")
	}

	if err := d.checkExists("subsystems", "name", subsystem); err != nil {
		return 0, rerr.New(rerr.TaskOps, "Subsystem %q does not exist. Create it first.", subsystem)
	}
	if err := d.checkExists("disciplines", "name", discipline); err != nil {
		return 0, rerr.New(rerr.TaskOps, "Discipline %q does not exist. Create it first.", discipline)
	}
	for _, depID := range in.DependsOn {
		if err := d.checkExists("tasks", "id", depID); err != nil {
			return 0, rerr.New(rerr.TaskOps, "Dependency task %d does not exist", depID)
		}
	}

	var nextID int64
	if err := d.conn.QueryRow("SELECT COALESCE(MAX(id), 0) + 1 FROM tasks").Scan(&nextID); err != nil {
		return 0, rerr.Wrap(rerr.DBRead, "failed to get next task id", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	tagsJSON, _ := json.Marshal(in.Tags)
	depsJSON, _ := json.Marshal(in.DependsOn)
	acJSON, _ := json.Marshal(in.AcceptanceCriteria)
	cfJSON, _ := json.Marshal(in.ContextFiles)
	oaJSON, _ := json.Marshal(in.OutputArtifacts)

	var priority, provenance *string
	if in.Priority != nil {
		v := string(*in.Priority)
		priority = &v
	}
	if in.Provenance != nil {
		v := string(*in.Provenance)
		provenance = &v
	}

	_, err := d.conn.Exec(
		`INSERT INTO tasks (id, subsystem, discipline, title, description, status, priority, tags,
		 depends_on, created, acceptance_criteria, context_files, output_artifacts, hints,
		 estimated_turns, provenance, agent, model, effort, thinking, pseudocode)
		 VALUES (?, ?, ?, ?, ?, 'pending', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nextID, subsystem, discipline, title, in.Description, priority, string(tagsJSON),
		string(depsJSON), now, string(acJSON), string(cfJSON), string(oaJSON), in.Hints,
		in.EstimatedTurns, provenance, in.Agent, in.Model, in.Effort, in.Thinking, in.Pseudocode,
	)
	if err != nil {
		return 0, rerr.Wrap(rerr.DBWrite, "failed to insert task", err)
	}
	return nextID, nil
}

// UpdateTask preserves status, blocked_by, created, completed, and
// provenance; only mutable fields are overwritten. Validates self-
// dependency and cycles (spec §3.2, §4.1).
func (d *DB) UpdateTask(id int64, in TaskInput) error {
	subsystem := strings.TrimSpace(in.Subsystem)
	discipline := strings.TrimSpace(in.Discipline)
	title := strings.TrimSpace(in.Title)

	if subsystem == "" {
		return rerr.New(rerr.TaskOps, "Subsystem name cannot be empty")
	}
	if discipline == "" {
		return rerr.New(rerr.TaskOps, "Discipline name cannot be empty")
	}
	if title == "" {
		return rerr.New(rerr.TaskOps, "Task title cannot be empty")
	}
	if err := d.checkExists("tasks", "id", id); err != nil {
		return rerr.New(rerr.TaskOps, "Task %d does not exist", id)
	}
	if err := d.checkExists("subsystems", "name", subsystem); err != nil {
		return rerr.New(rerr.TaskOps, "Subsystem %q does not exist. Create it first.", subsystem)
	}
	if err := d.checkExists("disciplines", "name", discipline); err != nil {
		return rerr.New(rerr.TaskOps, "Discipline %q does not exist. Create it first.", discipline)
	}
	for _, depID := range in.DependsOn {
		if err := d.checkExists("tasks", "id", depID); err != nil {
			return rerr.New(rerr.TaskOps, "Dependency task %d does not exist", depID)
		}
	}

	for _, depID := range in.DependsOn {
		if depID == id {
			return rerr.New(rerr.TaskOps, "Task %d cannot depend on itself", id)
		}
	}

	depsMap, err := d.loadDependsOnMap()
	if err != nil {
		return err
	}
	for _, depID := range in.DependsOn {
		if hasCircularDependency(id, depID, depsMap) {
			return rerr.New(rerr.TaskOps, "Circular dependency detected: task %d would create a cycle with task %d", id, depID)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	tagsJSON, _ := json.Marshal(in.Tags)
	depsJSON, _ := json.Marshal(in.DependsOn)
	acJSON, _ := json.Marshal(in.AcceptanceCriteria)
	cfJSON, _ := json.Marshal(in.ContextFiles)
	oaJSON, _ := json.Marshal(in.OutputArtifacts)

	var priority *string
	if in.Priority != nil {
		v := string(*in.Priority)
		priority = &v
	}

	res, err := d.conn.Exec(
		`UPDATE tasks SET subsystem = ?, discipline = ?, title = ?, description = ?, priority = ?,
		 tags = ?, depends_on = ?, updated = ?, acceptance_criteria = ?, context_files = ?,
		 output_artifacts = ?, hints = ?, estimated_turns = ?, agent = ?, model = ?, effort = ?,
		 thinking = ?, pseudocode = ? WHERE id = ?`,
		subsystem, discipline, title, in.Description, priority, string(tagsJSON), string(depsJSON),
		now, string(acJSON), string(cfJSON), string(oaJSON), in.Hints, in.EstimatedTurns,
		in.Agent, in.Model, in.Effort, in.Thinking, in.Pseudocode, id,
	)
	if err != nil {
		return rerr.Wrap(rerr.DBWrite, "failed to update task", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return rerr.New(rerr.TaskOps, "Task %d does not exist", id)
	}
	return nil
}

// SetTaskStatus sets status and stamps completed on every transition to
// done. Per DESIGN.md's resolution of the "re-stamp on done->done" open
// question (grounded in the original's set_task_status, which stamps
// unconditionally on every Done transition, not just the first), completed
// is always refreshed to "now" when the new status is done.
func (d *DB) SetTaskStatus(id int64, status TaskStatus, blockedBy string) error {
	if err := d.checkExists("tasks", "id", id); err != nil {
		return rerr.New(rerr.TaskOps, "Task %d does not exist", id)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	if status == StatusDone {
		_, err := d.conn.Exec("UPDATE tasks SET status = ?, completed = ?, updated = ? WHERE id = ?",
			string(status), now, now, id)
		if err != nil {
			return rerr.Wrap(rerr.DBWrite, "failed to update task status", err)
		}
		return nil
	}

	// status=blocked without a blocked_by is allowed (open question in spec
	// §9, resolved here): blocked_by is advisory context, not a gate.
	_, err := d.conn.Exec("UPDATE tasks SET status = ?, blocked_by = ?, updated = ? WHERE id = ?",
		string(status), nullableString(blockedBy), now, id)
	if err != nil {
		return rerr.Wrap(rerr.DBWrite, "failed to update task status", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// DeleteTask refuses while another task lists it in depends_on; comments
// and signals cascade via FK (spec §3.2/§4.1).
func (d *DB) DeleteTask(id int64) error {
	depsMap, err := d.loadDependsOnMap()
	if err != nil {
		return err
	}
	for taskID, deps := range depsMap {
		for _, dep := range deps {
			if dep == id {
				return rerr.New(rerr.TaskOps, "Cannot delete task %d: task %d depends on it", id, taskID)
			}
		}
	}

	res, err := d.conn.Exec("DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return rerr.Wrap(rerr.DBWrite, "failed to delete task", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return rerr.New(rerr.TaskOps, "Task %d does not exist", id)
	}
	return nil
}

// GetTask fetches a single task, hydrated with its comments and inferred
// status.
func (d *DB) GetTask(id int64) (*Task, error) {
	row := d.conn.QueryRow(taskSelectSQL+" WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, rerr.New(rerr.TaskOps, "Task %d does not exist", id)
	}
	if err != nil {
		return nil, rerr.Wrap(rerr.DBRead, "failed to read task", err)
	}

	statusMap, err := d.loadStatusMap()
	if err != nil {
		return nil, err
	}
	t.InferredStatus = computeInferredStatus(t.Status, t.DependsOn, statusMap)

	comments, err := d.GetCommentsForTask(t.ID)
	if err != nil {
		return nil, err
	}
	t.Comments = comments
	return t, nil
}

// GetTasks lists every task ordered by id, each hydrated with comments and
// inferred status, and pre-joined with subsystem/discipline display fields.
func (d *DB) GetTasks() ([]Task, error) {
	rows, err := d.conn.Query(
		`SELECT t.id, t.subsystem, t.discipline, t.title, t.description, t.status, t.priority, t.tags,
		 t.depends_on, t.blocked_by, t.created, t.updated, t.completed, t.acceptance_criteria,
		 t.context_files, t.output_artifacts, t.hints, t.estimated_turns, t.provenance, t.agent,
		 t.model, t.effort, t.thinking, t.pseudocode,
		 COALESCE(s.display_name, t.subsystem), COALESCE(s.acronym, t.subsystem),
		 COALESCE(disc.display_name, t.discipline), COALESCE(disc.acronym, t.discipline),
		 COALESCE(disc.icon, 'Circle'), COALESCE(disc.color, '#94a3b8')
		 FROM tasks t
		 LEFT JOIN subsystems s ON t.subsystem = s.name
		 LEFT JOIN disciplines disc ON t.discipline = disc.name
		 ORDER BY t.id`)
	if err != nil {
		return nil, rerr.Wrap(rerr.DBRead, "failed to query tasks", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanEnrichedTask(rows)
		if err != nil {
			return nil, rerr.Wrap(rerr.DBRead, "failed to scan task", err)
		}
		out = append(out, *t)
	}

	statusMap := make(map[int64]TaskStatus, len(out))
	for _, t := range out {
		statusMap[t.ID] = t.Status
	}
	commentMap, err := d.getAllCommentsByTask()
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].InferredStatus = computeInferredStatus(out[i].Status, out[i].DependsOn, statusMap)
		out[i].Comments = commentMap[out[i].ID]
	}
	return out, nil
}

const taskSelectSQL = `SELECT id, subsystem, discipline, title, description, status, priority, tags,
	 depends_on, blocked_by, created, updated, completed, acceptance_criteria, context_files,
	 output_artifacts, hints, estimated_turns, provenance, agent, model, effort, thinking, pseudocode
	 FROM tasks`

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var statusStr string
	var priority, provenance, description, blockedBy, updated, completed, hints, agent, model, effort, thinking, pseudocode sql.NullString
	var estimatedTurns sql.NullInt64
	var tagsJSON, depsJSON, acJSON, cfJSON, oaJSON string

	if err := row.Scan(&t.ID, &t.Subsystem, &t.Discipline, &t.Title, &description, &statusStr, &priority,
		&tagsJSON, &depsJSON, &blockedBy, &t.Created, &updated, &completed, &acJSON, &cfJSON, &oaJSON,
		&hints, &estimatedTurns, &provenance, &agent, &model, &effort, &thinking, &pseudocode); err != nil {
		return nil, err
	}

	t.Description = description.String
	t.BlockedBy = blockedBy.String
	t.Updated = updated.String
	t.Completed = completed.String
	t.Hints = hints.String
	t.Agent = agent.String
	t.Model = model.String
	t.Effort = effort.String
	t.Thinking = thinking.String
	t.Pseudocode = pseudocode.String

	status, ok := ParseTaskStatus(statusStr)
	if !ok {
		status = StatusPending
	}
	t.Status = status

	if priority.Valid {
		p := Priority(priority.String)
		t.Priority = &p
	}
	if provenance.Valid {
		p := TaskProvenance(provenance.String)
		t.Provenance = &p
	}
	if estimatedTurns.Valid {
		v := int(estimatedTurns.Int64)
		t.EstimatedTurns = &v
	}

	_ = json.Unmarshal([]byte(tagsJSON), &t.Tags)
	_ = json.Unmarshal([]byte(depsJSON), &t.DependsOn)
	_ = json.Unmarshal([]byte(acJSON), &t.AcceptanceCriteria)
	_ = json.Unmarshal([]byte(cfJSON), &t.ContextFiles)
	_ = json.Unmarshal([]byte(oaJSON), &t.OutputArtifacts)

	return &t, nil
}

func scanEnrichedTask(rows *sql.Rows) (*Task, error) {
	var t Task
	var statusStr string
	var priority, provenance, description, blockedBy, updated, completed, hints, agent, model, effort, thinking, pseudocode sql.NullString
	var estimatedTurns sql.NullInt64
	var tagsJSON, depsJSON, acJSON, cfJSON, oaJSON string

	if err := rows.Scan(&t.ID, &t.Subsystem, &t.Discipline, &t.Title, &description, &statusStr, &priority,
		&tagsJSON, &depsJSON, &blockedBy, &t.Created, &updated, &completed, &acJSON, &cfJSON, &oaJSON,
		&hints, &estimatedTurns, &provenance, &agent, &model, &effort, &thinking, &pseudocode,
		&t.SubsystemDisplayName, &t.SubsystemAcronym, &t.DisciplineDisplayName, &t.DisciplineAcronym,
		&t.DisciplineIcon, &t.DisciplineColor); err != nil {
		return nil, err
	}

	t.Description = description.String
	t.BlockedBy = blockedBy.String
	t.Updated = updated.String
	t.Completed = completed.String
	t.Hints = hints.String
	t.Agent = agent.String
	t.Model = model.String
	t.Effort = effort.String
	t.Thinking = thinking.String
	t.Pseudocode = pseudocode.String

	status, ok := ParseTaskStatus(statusStr)
	if !ok {
		status = StatusPending
	}
	t.Status = status

	if priority.Valid {
		p := Priority(priority.String)
		t.Priority = &p
	}
	if provenance.Valid {
		p := TaskProvenance(provenance.String)
		t.Provenance = &p
	}
	if estimatedTurns.Valid {
		v := int(estimatedTurns.Int64)
		t.EstimatedTurns = &v
	}

	_ = json.Unmarshal([]byte(tagsJSON), &t.Tags)
	_ = json.Unmarshal([]byte(depsJSON), &t.DependsOn)
	_ = json.Unmarshal([]byte(acJSON), &t.AcceptanceCriteria)
	_ = json.Unmarshal([]byte(cfJSON), &t.ContextFiles)
	_ = json.Unmarshal([]byte(oaJSON), &t.OutputArtifacts)

	return &t, nil
}

// computeInferredStatus implements spec §4.1's transition table exactly.
func computeInferredStatus(status TaskStatus, dependsOn []int64, statusMap map[int64]TaskStatus) InferredTaskStatus {
	switch status {
	case StatusInProgress:
		return InferredInProgress
	case StatusDone:
		return InferredDone
	case StatusSkipped:
		return InferredSkipped
	case StatusBlocked:
		return InferredExternallyBlocked
	case StatusPending:
		allDepsMet := true
		for _, depID := range dependsOn {
			if statusMap[depID] != StatusDone {
				allDepsMet = false
				break
			}
		}
		if allDepsMet {
			return InferredReady
		}
		return InferredWaitingOnDeps
	}
	return InferredWaitingOnDeps
}

func (d *DB) loadStatusMap() (map[int64]TaskStatus, error) {
	rows, err := d.conn.Query("SELECT id, status FROM tasks")
	if err != nil {
		return nil, rerr.Wrap(rerr.DBRead, "failed to load task statuses", err)
	}
	defer rows.Close()

	out := make(map[int64]TaskStatus)
	for rows.Next() {
		var id int64
		var statusStr string
		if err := rows.Scan(&id, &statusStr); err != nil {
			return nil, rerr.Wrap(rerr.DBRead, "failed to scan task status", err)
		}
		status, ok := ParseTaskStatus(statusStr)
		if !ok {
			status = StatusPending
		}
		out[id] = status
	}
	return out, nil
}

func (d *DB) loadDependsOnMap() (map[int64][]int64, error) {
	rows, err := d.conn.Query("SELECT id, depends_on FROM tasks")
	if err != nil {
		return nil, rerr.Wrap(rerr.DBRead, "failed to load task dependencies", err)
	}
	defer rows.Close()

	out := make(map[int64][]int64)
	for rows.Next() {
		var id int64
		var depsJSON string
		if err := rows.Scan(&id, &depsJSON); err != nil {
			return nil, rerr.Wrap(rerr.DBRead, "failed to scan task dependencies", err)
		}
		var deps []int64
		_ = json.Unmarshal([]byte(depsJSON), &deps)
		out[id] = deps
	}
	return out, nil
}

// hasCircularDependency checks, via DFS, whether adding taskID -> depID
// would create a cycle (spec §3.2/§4.1).
func hasCircularDependency(taskID, depID int64, depsMap map[int64][]int64) bool {
	visited := make(map[int64]bool)
	stack := []int64{depID}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if current == taskID {
			return true
		}
		if visited[current] {
			continue
		}
		visited[current] = true

		for _, next := range depsMap[current] {
			stack = append(stack, next)
		}
	}
	return false
}

func (d *DB) checkExists(table, column string, value any) error {
	var exists bool
	query := "SELECT COUNT(*) > 0 FROM " + table + " WHERE " + column + " = ?"
	if err := d.conn.QueryRow(query, value).Scan(&exists); err != nil {
		return rerr.Wrap(rerr.DBRead, "failed to check existence", err)
	}
	if !exists {
		return sql.ErrNoRows
	}
	return nil
}
