package harness

import (
	"fmt"
	"time"

	"github.com/ralphmem/ralphmem/internal/embedprovider"
	"github.com/ralphmem/ralphmem/internal/embedstore"
	"github.com/ralphmem/ralphmem/internal/eventbus"
	"github.com/ralphmem/ralphmem/internal/extractor"
	"github.com/ralphmem/ralphmem/internal/iteration"
	"github.com/ralphmem/ralphmem/internal/store"
)

// IterationRecordedSubject is published once an iteration's record has
// been persisted and embedded, for a UI or secondary process to react
// without polling the store.
const IterationRecordedSubject = "ralph.harness.iteration.recorded"

// Engine drives one iteration end to end: spawn the agent, collect its
// output, extract a record, persist it as a subsystem comment, and embed
// it into the recall index (spec §2's data-flow paragraph).
type Engine struct {
	db       *store.DB
	embeds   *embedstore.Store
	provider *embedprovider.Provider
	spawner  *Spawner
	bus      *eventbus.Server
}

// NewEngine wires the pieces an iteration run needs together.
func NewEngine(db *store.DB, embeds *embedstore.Store, provider *embedprovider.Provider, spawner *Spawner, bus *eventbus.Server) *Engine {
	return &Engine{db: db, embeds: embeds, provider: provider, spawner: spawner, bus: bus}
}

// RunIteration spawns the configured agent against a task, waits for it
// to finish, and persists the resulting iteration.Record. taskID must
// already exist and projectPath must be the checked-out project root the
// agent operates on.
func (e *Engine) RunIteration(taskID int64, iterationNumber int, prompt, projectPath string, modelTier iteration.ModelTier) (*iteration.Record, error) {
	before, err := e.db.GetTask(taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task %d before iteration: %w", taskID, err)
	}

	agent, err := e.spawner.SpawnAgent(taskID, projectPath, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to spawn agent for task %d: %w", taskID, err)
	}

	waitErr := e.spawner.Wait(agent)
	e.spawner.Release(taskID)
	raw := agent.Bridge.Collected()
	if waitErr != nil && !raw.TimedOut {
		// A non-timeout exit error (nonzero status, killed, etc) still
		// produces a record: the extractor classifies it from whatever
		// output was captured rather than failing the whole iteration.
		raw.AssistantText = append(raw.AssistantText, waitErr.Error())
	}

	after, err := e.db.GetTask(taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task %d after iteration: %w", taskID, err)
	}

	taskStatusAdvanced := after.Status != before.Status
	taskDone := after.Status == store.StatusDone

	result := extractor.Extract(raw, taskStatusAdvanced, taskDone, modelTier)
	record := result.IntoRecord(iterationNumber, taskID, after.Title, after.Subsystem, after.Discipline)
	record.Timestamp = time.Now().UTC().Format(time.RFC3339)

	if err := e.persist(&record); err != nil {
		return &record, fmt.Errorf("iteration ran but failed to persist: %w", err)
	}
	return &record, nil
}

// persist writes the record as a subsystem comment and embeds it, so it
// surfaces in both the task's history and future similarity queries.
func (e *Engine) persist(record *iteration.Record) error {
	taskID := record.TaskID
	sourceIteration := record.IterationNumber

	commentID, err := e.db.AddSubsystemComment(store.SubsystemComment{
		Subsystem:       record.Subsystem,
		Category:        "iteration",
		Discipline:      record.Discipline,
		AgentTaskID:     &taskID,
		Body:            record.Summary,
		SourceIteration: &sourceIteration,
	})
	if err != nil {
		return fmt.Errorf("failed to record iteration comment: %w", err)
	}

	embeddingText := record.EmbeddingText()
	embedded, err := e.provider.Embed(embeddingText)
	if err != nil {
		return fmt.Errorf("failed to embed iteration text: %w", err)
	}

	if err := e.embeds.UpsertCommentEmbedding(commentID, embedded.Vector, embedded.Model, embedded.Hash); err != nil {
		return fmt.Errorf("failed to store iteration embedding: %w", err)
	}

	if e.bus != nil {
		_ = e.bus.Publish(IterationRecordedSubject, record)
	}
	return nil
}
