package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/ralphmem/ralphmem/internal/rerr"
)

// CreateDiscipline inserts a new discipline. Grounded on
// original_source/crates/sqlite-db/src/disciplines.rs::create_discipline.
func (d *DB) CreateDiscipline(in DisciplineInput) (*Discipline, error) {
	name := strings.TrimSpace(in.Name)
	displayName := strings.TrimSpace(in.DisplayName)
	acronym := strings.TrimSpace(in.Acronym)

	if name == "" {
		return nil, rerr.New(rerr.DisciplineOps, "Discipline name cannot be empty")
	}
	if displayName == "" {
		return nil, rerr.New(rerr.DisciplineOps, "Discipline display name cannot be empty")
	}
	if err := validateAcronymFormat(acronym); err != nil {
		return nil, err
	}

	var nameExists, acronymExists bool
	if err := d.conn.QueryRow("SELECT COUNT(*) > 0 FROM disciplines WHERE name = ?", name).Scan(&nameExists); err != nil {
		return nil, rerr.Wrap(rerr.DBRead, "failed to check discipline name", err)
	}
	if nameExists {
		return nil, rerr.New(rerr.DisciplineOps, "Discipline %q already exists", name)
	}
	if err := d.conn.QueryRow("SELECT COUNT(*) > 0 FROM disciplines WHERE acronym = ?", acronym).Scan(&acronymExists); err != nil {
		return nil, rerr.Wrap(rerr.DBRead, "failed to check discipline acronym", err)
	}
	if acronymExists {
		return nil, rerr.New(rerr.DisciplineOps, "Discipline acronym %q already in use", acronym)
	}

	icon := in.Icon
	if icon == "" {
		icon = "Circle"
	}
	color := in.Color
	if color == "" {
		color = "#94a3b8"
	}
	skillsJSON, _ := json.Marshal(in.Skills)
	mcpJSON, _ := json.Marshal(in.McpServers)
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := d.conn.Exec(
		`INSERT INTO disciplines (name, display_name, acronym, icon, color, system_prompt, agent,
		 model, effort, thinking, skills, conventions, mcp_servers, stack_id, created)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		name, displayName, acronym, icon, color, in.SystemPrompt, in.Agent, in.Model, in.Effort,
		in.Thinking, string(skillsJSON), in.Conventions, string(mcpJSON), in.StackID, now,
	)
	if err != nil {
		return nil, rerr.Wrap(rerr.DBWrite, "failed to insert discipline", err)
	}

	return d.GetDiscipline(name)
}

// UpdateDiscipline updates a discipline, excluding the identity name itself
// from the acronym-uniqueness check.
func (d *DB) UpdateDiscipline(name string, in DisciplineInput) error {
	displayName := strings.TrimSpace(in.DisplayName)
	acronym := strings.TrimSpace(in.Acronym)
	if displayName == "" {
		return rerr.New(rerr.DisciplineOps, "Discipline display name cannot be empty")
	}
	if err := validateAcronymFormat(acronym); err != nil {
		return err
	}

	var acronymExists bool
	if err := d.conn.QueryRow("SELECT COUNT(*) > 0 FROM disciplines WHERE acronym = ? AND name != ?", acronym, name).Scan(&acronymExists); err != nil {
		return rerr.Wrap(rerr.DBRead, "failed to check discipline acronym", err)
	}
	if acronymExists {
		return rerr.New(rerr.DisciplineOps, "Discipline acronym %q already in use", acronym)
	}

	skillsJSON, _ := json.Marshal(in.Skills)
	mcpJSON, _ := json.Marshal(in.McpServers)

	res, err := d.conn.Exec(
		`UPDATE disciplines SET display_name = ?, acronym = ?, icon = ?, color = ?, system_prompt = ?,
		 agent = ?, model = ?, effort = ?, thinking = ?, skills = ?, conventions = ?, mcp_servers = ?,
		 stack_id = ? WHERE name = ?`,
		displayName, acronym, in.Icon, in.Color, in.SystemPrompt, in.Agent, in.Model, in.Effort,
		in.Thinking, string(skillsJSON), in.Conventions, string(mcpJSON), in.StackID, name,
	)
	if err != nil {
		return rerr.Wrap(rerr.DBWrite, "failed to update discipline", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return rerr.New(rerr.DisciplineOps, "Discipline %q does not exist", name)
	}
	return nil
}

// DeleteDiscipline refuses while any task uses it (spec §3.2).
func (d *DB) DeleteDiscipline(name string) error {
	var taskID int64
	var taskTitle string
	err := d.conn.QueryRow("SELECT id, title FROM tasks WHERE discipline = ? LIMIT 1", name).Scan(&taskID, &taskTitle)
	if err == nil {
		return rerr.New(rerr.DisciplineOps, "Cannot delete discipline %q: task %d (%q) uses it", name, taskID, taskTitle)
	}
	if err != sql.ErrNoRows {
		return rerr.Wrap(rerr.DBRead, "failed to check discipline usage", err)
	}

	res, err := d.conn.Exec("DELETE FROM disciplines WHERE name = ?", name)
	if err != nil {
		return rerr.Wrap(rerr.DBWrite, "failed to delete discipline", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return rerr.New(rerr.DisciplineOps, "Discipline %q does not exist", name)
	}
	return nil
}

// GetDiscipline fetches one discipline by name.
func (d *DB) GetDiscipline(name string) (*Discipline, error) {
	row := d.conn.QueryRow(
		`SELECT id, name, display_name, acronym, icon, color, system_prompt, agent, model, effort,
		 thinking, skills, conventions, mcp_servers, stack_id, created FROM disciplines WHERE name = ?`, name)
	disc, err := scanDiscipline(row)
	if err == sql.ErrNoRows {
		return nil, rerr.New(rerr.DisciplineOps, "Discipline %q does not exist", name)
	}
	if err != nil {
		return nil, rerr.Wrap(rerr.DBRead, "failed to read discipline", err)
	}
	return disc, nil
}

// GetDisciplines lists all disciplines ordered by name.
func (d *DB) GetDisciplines() ([]Discipline, error) {
	rows, err := d.conn.Query(
		`SELECT id, name, display_name, acronym, icon, color, system_prompt, agent, model, effort,
		 thinking, skills, conventions, mcp_servers, stack_id, created FROM disciplines ORDER BY name`)
	if err != nil {
		return nil, rerr.Wrap(rerr.DBRead, "failed to query disciplines", err)
	}
	defer rows.Close()

	var out []Discipline
	for rows.Next() {
		disc, err := scanDiscipline(rows)
		if err != nil {
			return nil, rerr.Wrap(rerr.DBRead, "failed to scan discipline", err)
		}
		out = append(out, *disc)
	}
	return out, nil
}

func scanDiscipline(row rowScanner) (*Discipline, error) {
	var disc Discipline
	var skillsJSON, mcpJSON string
	var systemPrompt, agent, model, effort, thinking, conventions sql.NullString
	var stackID sql.NullInt64
	if err := row.Scan(&disc.ID, &disc.Name, &disc.DisplayName, &disc.Acronym, &disc.Icon, &disc.Color,
		&systemPrompt, &agent, &model, &effort, &thinking, &skillsJSON, &conventions, &mcpJSON,
		&stackID, &disc.Created); err != nil {
		return nil, err
	}
	disc.SystemPrompt = systemPrompt.String
	disc.Agent = agent.String
	disc.Model = model.String
	disc.Effort = effort.String
	disc.Thinking = thinking.String
	disc.Conventions = conventions.String
	if stackID.Valid {
		v := int(stackID.Int64)
		disc.StackID = &v
	}
	if err := json.Unmarshal([]byte(skillsJSON), &disc.Skills); err != nil {
		disc.Skills = nil
	}
	if err := json.Unmarshal([]byte(mcpJSON), &disc.McpServers); err != nil {
		disc.McpServers = nil
	}
	return &disc, nil
}

// SeedDisciplines loads one of three stack presets, matching
// disciplines.rs::seed_for_stack: 0 = none, 1 = eight generic disciplines,
// 2 = eight stack-specific disciplines (supplemented from original_source,
// see SPEC_FULL.md §1c). Each insert is skipped if the name already exists,
// so user edits are never overwritten.
func (d *DB) SeedDisciplines(stack int) error {
	var presets []DisciplineInput
	switch stack {
	case 0:
		return nil
	case 1:
		presets = genericDisciplinePreset
	case 2:
		presets = stackDisciplinePreset
	default:
		return rerr.New(rerr.DisciplineOps, "Unsupported discipline stack preset: %d", stack)
	}

	for _, in := range presets {
		var exists bool
		if err := d.conn.QueryRow("SELECT COUNT(*) > 0 FROM disciplines WHERE name = ?", in.Name).Scan(&exists); err != nil {
			return rerr.Wrap(rerr.DBRead, "failed to check discipline seed", err)
		}
		if exists {
			continue
		}
		if _, err := d.CreateDiscipline(in); err != nil {
			return err
		}
	}
	return nil
}

var genericDisciplinePreset = []DisciplineInput{
	{Name: "implementation", DisplayName: "Implementation", Acronym: "IMPL", Icon: "Code", Color: "#60a5fa",
		Skills: []string{"coding", "debugging"}},
	{Name: "refactoring", DisplayName: "Refactoring", Acronym: "RFCT", Icon: "Wrench", Color: "#34d399",
		Skills: []string{"refactoring", "code-quality"}},
	{Name: "investigation", DisplayName: "Investigation", Acronym: "INVS", Icon: "Search", Color: "#a78bfa",
		Skills: []string{"debugging", "tracing"}},
	{Name: "testing", DisplayName: "Testing", Acronym: "TEST", Icon: "FlaskConical", Color: "#fbbf24",
		Skills: []string{"unit-tests", "integration-tests"}},
	{Name: "architecture", DisplayName: "Architecture", Acronym: "ARCH", Icon: "Layers", Color: "#f472b6",
		Skills: []string{"design", "system-modeling"}},
	{Name: "devops", DisplayName: "DevOps", Acronym: "DVOP", Icon: "Server", Color: "#38bdf8",
		Skills: []string{"ci", "deployment"}},
	{Name: "security", DisplayName: "Security", Acronym: "SECR", Icon: "Shield", Color: "#f87171",
		Skills: []string{"threat-modeling", "auditing"}},
	{Name: "documentation", DisplayName: "Documentation", Acronym: "DOCS", Icon: "BookOpen", Color: "#94a3b8",
		Skills: []string{"writing", "diagrams"}},
}

var stackDisciplinePreset = []DisciplineInput{
	{Name: "frontend", DisplayName: "Frontend", Acronym: "FRNT", Icon: "Monitor", Color: "#60a5fa",
		Skills: []string{"react", "css"}},
	{Name: "backend", DisplayName: "Backend", Acronym: "BACK", Icon: "Server", Color: "#34d399",
		Skills: []string{"rust", "tauri-commands"}},
	{Name: "data", DisplayName: "Data", Acronym: "DATA", Icon: "Database", Color: "#a78bfa",
		Skills: []string{"sqlite", "migrations"}},
	{Name: "platform", DisplayName: "Platform", Acronym: "PLTF", Icon: "Layers", Color: "#fbbf24",
		Skills: []string{"tauri", "packaging"}},
	{Name: "quality", DisplayName: "Quality", Acronym: "QLTY", Icon: "FlaskConical", Color: "#f472b6",
		Skills: []string{"testing", "linting"}},
	{Name: "security", DisplayName: "Security", Acronym: "SECR", Icon: "Shield", Color: "#f87171",
		Skills: []string{"threat-modeling"}},
	{Name: "integration", DisplayName: "Integration", Acronym: "INTG", Icon: "Plug", Color: "#38bdf8",
		Skills: []string{"mcp", "ipc"}},
	{Name: "documentation", DisplayName: "Documentation", Acronym: "DOCS", Icon: "BookOpen", Color: "#94a3b8",
		Skills: []string{"writing"}},
}
