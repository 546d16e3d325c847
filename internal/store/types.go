package store

import "github.com/ralphmem/ralphmem/internal/learning"

// TaskStatus is the actual, stored status of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusDone       TaskStatus = "done"
	StatusBlocked    TaskStatus = "blocked"
	StatusSkipped    TaskStatus = "skipped"
)

func ParseTaskStatus(s string) (TaskStatus, bool) {
	switch TaskStatus(s) {
	case StatusPending, StatusInProgress, StatusDone, StatusBlocked, StatusSkipped:
		return TaskStatus(s), true
	}
	return "", false
}

// InferredTaskStatus is computed in-process from status + the dependency
// graph; it is never persisted (spec §4.1's transition table).
type InferredTaskStatus string

const (
	InferredReady             InferredTaskStatus = "ready"
	InferredWaitingOnDeps     InferredTaskStatus = "waiting_on_deps"
	InferredExternallyBlocked InferredTaskStatus = "externally_blocked"
	InferredInProgress        InferredTaskStatus = "in_progress"
	InferredDone              InferredTaskStatus = "done"
	InferredSkipped           InferredTaskStatus = "skipped"
)

// Priority is the optional urgency tag on a task.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// TaskProvenance is the origin of a task: exactly these three literals
// (spec §6).
type TaskProvenance string

const (
	ProvenanceAgent  TaskProvenance = "agent"
	ProvenanceHuman  TaskProvenance = "human"
	ProvenanceSystem TaskProvenance = "system"
)

// McpServerConfig is one entry in a discipline's ordered MCP server list.
type McpServerConfig struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Subsystem is a unit of knowledge scoping (spec §3.1).
type Subsystem struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	DisplayName     string   `json:"display_name"`
	Acronym         string   `json:"acronym"`
	Description     string   `json:"description,omitempty"`
	Status          string   `json:"status"`
	Architecture    string   `json:"architecture,omitempty"`
	Boundaries      string   `json:"boundaries,omitempty"`
	Dependencies    string   `json:"dependencies,omitempty"`
	KnowledgePaths  []string            `json:"knowledge_paths"`
	ContextFiles    []string            `json:"context_files"`
	Learnings       []learning.Learning `json:"learnings"`
	Created         string              `json:"created"`
}

// SubsystemInput is the create/update payload for a Subsystem.
type SubsystemInput struct {
	Name         string
	DisplayName  string
	Acronym      string
	Description  string
	Architecture string
	Boundaries   string
	Dependencies string
}

// Discipline is an execution role profile (spec §3.1).
type Discipline struct {
	ID             int64             `json:"id"`
	Name           string            `json:"name"`
	DisplayName    string            `json:"display_name"`
	Acronym        string            `json:"acronym"`
	Icon           string            `json:"icon"`
	Color          string            `json:"color"`
	SystemPrompt   string            `json:"system_prompt,omitempty"`
	Agent          string            `json:"agent,omitempty"`
	Model          string            `json:"model,omitempty"`
	Effort         string            `json:"effort,omitempty"`
	Thinking       string            `json:"thinking,omitempty"`
	Skills         []string          `json:"skills"`
	Conventions    string            `json:"conventions,omitempty"`
	McpServers     []McpServerConfig `json:"mcp_servers"`
	StackID        *int              `json:"stack_id,omitempty"`
	VisualIdentity string            `json:"visual_identity,omitempty"`
	Created        string            `json:"created"`
}

// DisciplineInput is the create/update payload for a Discipline.
type DisciplineInput struct {
	Name         string
	DisplayName  string
	Acronym      string
	Icon         string
	Color        string
	SystemPrompt string
	Agent        string
	Model        string
	Effort       string
	Thinking     string
	Skills       []string
	Conventions  string
	McpServers   []McpServerConfig
	StackID      *int
}

// TaskInput is the create/update payload for a Task.
type TaskInput struct {
	Subsystem           string
	Discipline          string
	Title               string
	Description         string
	Priority            *Priority
	Tags                []string
	DependsOn           []int64
	AcceptanceCriteria  []string
	ContextFiles        []string
	OutputArtifacts     []string
	Hints               string
	EstimatedTurns      *int
	Provenance          *TaskProvenance
	Agent               string
	Model               string
	Effort              string
	Thinking            string
	Pseudocode          string
}

// Task is a unit of work (spec §3.1), with comments hydrated on read.
type Task struct {
	ID                 int64          `json:"id"`
	Subsystem           string         `json:"subsystem"`
	Discipline          string         `json:"discipline"`
	Title               string         `json:"title"`
	Description         string         `json:"description,omitempty"`
	Status              TaskStatus     `json:"status"`
	InferredStatus      InferredTaskStatus `json:"inferred_status"`
	Priority            *Priority      `json:"priority,omitempty"`
	Tags                []string       `json:"tags"`
	DependsOn           []int64        `json:"depends_on"`
	BlockedBy           string         `json:"blocked_by,omitempty"`
	Created             string         `json:"created"`
	Updated             string         `json:"updated,omitempty"`
	Completed           string         `json:"completed,omitempty"`
	AcceptanceCriteria  []string       `json:"acceptance_criteria"`
	ContextFiles        []string       `json:"context_files"`
	OutputArtifacts     []string       `json:"output_artifacts"`
	Hints               string         `json:"hints,omitempty"`
	EstimatedTurns      *int           `json:"estimated_turns,omitempty"`
	Provenance          *TaskProvenance `json:"provenance,omitempty"`
	Agent               string         `json:"agent,omitempty"`
	Model               string         `json:"model,omitempty"`
	Effort              string         `json:"effort,omitempty"`
	Thinking            string         `json:"thinking,omitempty"`
	Pseudocode          string         `json:"pseudocode,omitempty"`

	SubsystemDisplayName  string `json:"subsystem_display_name,omitempty"`
	SubsystemAcronym      string `json:"subsystem_acronym,omitempty"`
	DisciplineDisplayName string `json:"discipline_display_name,omitempty"`
	DisciplineAcronym     string `json:"discipline_acronym,omitempty"`
	DisciplineIcon        string `json:"discipline_icon,omitempty"`
	DisciplineColor       string `json:"discipline_color,omitempty"`

	Comments []TaskComment `json:"comments"`
}

// TaskComment is a free-text note on a task (spec §3.1).
type TaskComment struct {
	ID              int64  `json:"id"`
	TaskID          int64  `json:"task_id"`
	Author          string `json:"author"`
	Body            string `json:"body"`
	Created         string `json:"created"`
	ParentCommentID *int64 `json:"parent_comment_id,omitempty"`
}

// TaskTemplate is a reusable routine task definition (spec §3.1).
type TaskTemplate struct {
	ID                 int64    `json:"id"`
	Name                string   `json:"name"`
	Discipline          string   `json:"discipline"`
	Title               string   `json:"title"`
	Description         string   `json:"description,omitempty"`
	AcceptanceCriteria  []string `json:"acceptance_criteria"`
	Hints               string   `json:"hints,omitempty"`
	EstimatedTurns      *int     `json:"estimated_turns,omitempty"`
	Created             string   `json:"created"`
}

// SubsystemComment is a categorized structured note on a subsystem
// (spec §3.1).
type SubsystemComment struct {
	ID              int64  `json:"id"`
	Subsystem       string `json:"subsystem"`
	Category        string `json:"category"`
	Discipline      string `json:"discipline,omitempty"`
	AgentTaskID     *int64 `json:"agent_task_id,omitempty"`
	Body            string `json:"body"`
	Summary         string `json:"summary,omitempty"`
	Reason          string `json:"reason,omitempty"`
	SourceIteration *int   `json:"source_iteration,omitempty"`
	Created         string `json:"created"`
	Updated         string `json:"updated,omitempty"`
}

// EmbeddingText is the fixed-joiner concatenation used to decide whether a
// comment needs re-embedding (spec §4.4): category, body, reason.
func (c SubsystemComment) EmbeddingText() string {
	text := c.Category + "\n" + c.Body
	if c.Reason != "" {
		text += "\n" + c.Reason
	}
	return text
}
