package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/ralphmem/ralphmem/internal/rerr"
)

// CreateSubsystem inserts a new subsystem. Name, display name, and acronym
// must be unique and non-empty; acronym must be 3-5 uppercase alphanumerics
// (spec §3.1).
func (d *DB) CreateSubsystem(in SubsystemInput) (*Subsystem, error) {
	name := strings.TrimSpace(in.Name)
	displayName := strings.TrimSpace(in.DisplayName)
	acronym := strings.TrimSpace(in.Acronym)

	if name == "" {
		return nil, rerr.New(rerr.FeatureOps, "Subsystem name cannot be empty")
	}
	if displayName == "" {
		return nil, rerr.New(rerr.FeatureOps, "Subsystem display name cannot be empty")
	}
	if err := validateAcronymFormat(acronym); err != nil {
		return nil, err
	}

	var nameExists, acronymExists bool
	if err := d.conn.QueryRow("SELECT COUNT(*) > 0 FROM subsystems WHERE name = ?", name).Scan(&nameExists); err != nil {
		return nil, rerr.Wrap(rerr.DBRead, "failed to check subsystem name", err)
	}
	if nameExists {
		return nil, rerr.New(rerr.FeatureOps, "Subsystem %q already exists", name)
	}
	if err := d.conn.QueryRow("SELECT COUNT(*) > 0 FROM subsystems WHERE acronym = ?", acronym).Scan(&acronymExists); err != nil {
		return nil, rerr.Wrap(rerr.DBRead, "failed to check subsystem acronym", err)
	}
	if acronymExists {
		return nil, rerr.New(rerr.FeatureOps, "Subsystem acronym %q already in use", acronym)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := d.conn.Exec(
		`INSERT INTO subsystems (name, display_name, acronym, description, status, architecture,
		 boundaries, dependencies, knowledge_paths, context_files, learnings, created)
		 VALUES (?, ?, ?, ?, 'active', ?, ?, ?, '[]', '[]', '[]', ?)`,
		name, displayName, acronym, in.Description, in.Architecture, in.Boundaries, in.Dependencies, now,
	)
	if err != nil {
		return nil, rerr.Wrap(rerr.DBWrite, "failed to insert subsystem", err)
	}

	return d.GetSubsystem(name)
}

// UpdateSubsystem updates the mutable fields of a subsystem. The name is
// the identity key and is not mutable; learnings are append-only and are
// never touched here (spec §4.3).
func (d *DB) UpdateSubsystem(name string, in SubsystemInput) error {
	displayName := strings.TrimSpace(in.DisplayName)
	acronym := strings.TrimSpace(in.Acronym)
	if displayName == "" {
		return rerr.New(rerr.FeatureOps, "Subsystem display name cannot be empty")
	}
	if err := validateAcronymFormat(acronym); err != nil {
		return err
	}

	var acronymExists bool
	if err := d.conn.QueryRow("SELECT COUNT(*) > 0 FROM subsystems WHERE acronym = ? AND name != ?", acronym, name).Scan(&acronymExists); err != nil {
		return rerr.Wrap(rerr.DBRead, "failed to check subsystem acronym", err)
	}
	if acronymExists {
		return rerr.New(rerr.FeatureOps, "Subsystem acronym %q already in use", acronym)
	}

	res, err := d.conn.Exec(
		`UPDATE subsystems SET display_name = ?, acronym = ?, description = ?, architecture = ?,
		 boundaries = ?, dependencies = ? WHERE name = ?`,
		displayName, acronym, in.Description, in.Architecture, in.Boundaries, in.Dependencies, name,
	)
	if err != nil {
		return rerr.Wrap(rerr.DBWrite, "failed to update subsystem", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return rerr.New(rerr.FeatureOps, "Subsystem %q does not exist", name)
	}
	return nil
}

// DeleteSubsystem refuses while any task still references the subsystem
// (spec §3.2).
func (d *DB) DeleteSubsystem(name string) error {
	var taskID int64
	var taskTitle string
	err := d.conn.QueryRow("SELECT id, title FROM tasks WHERE subsystem = ? LIMIT 1", name).Scan(&taskID, &taskTitle)
	if err == nil {
		return rerr.New(rerr.FeatureOps, "Cannot delete subsystem %q: task %d (%q) references it", name, taskID, taskTitle)
	}
	if err != sql.ErrNoRows {
		return rerr.Wrap(rerr.DBRead, "failed to check subsystem usage", err)
	}

	res, err := d.conn.Exec("DELETE FROM subsystems WHERE name = ?", name)
	if err != nil {
		return rerr.Wrap(rerr.DBWrite, "failed to delete subsystem", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return rerr.New(rerr.FeatureOps, "Subsystem %q does not exist", name)
	}
	return nil
}

// GetSubsystem fetches one subsystem by name.
func (d *DB) GetSubsystem(name string) (*Subsystem, error) {
	row := d.conn.QueryRow(
		`SELECT id, name, display_name, acronym, description, status, architecture, boundaries,
		 dependencies, knowledge_paths, context_files, learnings, created FROM subsystems WHERE name = ?`, name)
	s, err := scanSubsystem(row)
	if err == sql.ErrNoRows {
		return nil, rerr.New(rerr.FeatureOps, "Subsystem %q does not exist", name)
	}
	if err != nil {
		return nil, rerr.Wrap(rerr.DBRead, "failed to read subsystem", err)
	}
	return s, nil
}

// GetSubsystems lists all subsystems ordered by name.
func (d *DB) GetSubsystems() ([]Subsystem, error) {
	rows, err := d.conn.Query(
		`SELECT id, name, display_name, acronym, description, status, architecture, boundaries,
		 dependencies, knowledge_paths, context_files, learnings, created FROM subsystems ORDER BY name`)
	if err != nil {
		return nil, rerr.Wrap(rerr.DBRead, "failed to query subsystems", err)
	}
	defer rows.Close()

	var out []Subsystem
	for rows.Next() {
		s, err := scanSubsystem(rows)
		if err != nil {
			return nil, rerr.Wrap(rerr.DBRead, "failed to scan subsystem", err)
		}
		out = append(out, *s)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubsystem(row rowScanner) (*Subsystem, error) {
	var s Subsystem
	var knowledgePathsJSON, contextFilesJSON, learningsJSON string
	var description, architecture, boundaries, dependencies sql.NullString
	if err := row.Scan(&s.ID, &s.Name, &s.DisplayName, &s.Acronym, &description, &s.Status,
		&architecture, &boundaries, &dependencies, &knowledgePathsJSON, &contextFilesJSON,
		&learningsJSON, &s.Created); err != nil {
		return nil, err
	}
	s.Description = description.String
	s.Architecture = architecture.String
	s.Boundaries = boundaries.String
	s.Dependencies = dependencies.String
	_ = json.Unmarshal([]byte(knowledgePathsJSON), &s.KnowledgePaths)
	_ = json.Unmarshal([]byte(contextFilesJSON), &s.ContextFiles)
	_ = json.Unmarshal([]byte(learningsJSON), &s.Learnings)
	return &s, nil
}

// AddSubsystemContextFile appends a relative context file path, rejecting
// absolute paths and "..", and is idempotent (spec §4.3's feature-context-
// file rules apply to the same list shape).
func (d *DB) AddSubsystemContextFile(name, path string, maxFiles int) (bool, error) {
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, "\\") || strings.Contains(path, "..") {
		return false, rerr.New(rerr.FeatureOps, "Context file path must be relative and not contain '..': %q", path)
	}

	s, err := d.GetSubsystem(name)
	if err != nil {
		return false, err
	}
	for _, f := range s.ContextFiles {
		if f == path {
			return false, nil
		}
	}
	if len(s.ContextFiles) >= maxFiles {
		return false, rerr.New(rerr.FeatureOps, "Context file list is full (max %d)", maxFiles)
	}

	files := append(s.ContextFiles, path)
	data, _ := json.Marshal(files)
	if _, err := d.conn.Exec("UPDATE subsystems SET context_files = ? WHERE name = ?", string(data), name); err != nil {
		return false, rerr.Wrap(rerr.DBWrite, "failed to update context files", err)
	}
	return true, nil
}
