// Package recall defines the rebuildable vector-index schema that sits
// on top of the entity store: collection naming scoped to avoid
// multi-project collisions, the payload shape returned from a search hit,
// and the indexes a real vector database would need for filtered
// queries (spec §4.6). Grounded on
// original_source/crates/ralph-rag/src/qdrant_schema.rs.
package recall

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/ralphmem/ralphmem/internal/iteration"
)

// CollectionConfig mirrors the defaults in internal/config.RecallConfig,
// kept here as the shape a vector index client actually constructs from.
type CollectionConfig struct {
	VectorSize      int
	HNSWM           int
	HNSWEfConstruct int
	SearchEf        int
	MinScore        float32
	MaxResults      int
}

// DefaultCollectionConfig matches the teacher's quality-optimized HNSW
// parameters: m=64, ef_construct=512, cosine distance, disk-backed.
func DefaultCollectionConfig() CollectionConfig {
	return CollectionConfig{
		VectorSize:      768,
		HNSWM:           64,
		HNSWEfConstruct: 512,
		SearchEf:        128,
		MinScore:        0.4,
		MaxResults:      20,
	}
}

// CollectionName derives a collision-safe collection identifier from the
// project path and subsystem name: {sha256(project)[:8]}-{sha256(subsystem)[:8]}.
// Two different projects sharing a subsystem name always get distinct
// collections (spec §4.6).
func CollectionName(projectPath, subsystemName string) string {
	return hex8(projectPath) + "-" + hex8(subsystemName)
}

func hex8(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}

// ExpectedCollections lists every collection name that should exist for
// a project's current subsystem set, used to find and remove orphaned
// collections left behind by a deleted or renamed subsystem.
func ExpectedCollections(projectPath string, subsystemNames []string) []string {
	out := make([]string, len(subsystemNames))
	for i, name := range subsystemNames {
		out[i] = CollectionName(projectPath, name)
	}
	return out
}

// RecordType distinguishes the three shapes of point stored in the
// index.
type RecordType string

const (
	RecordTypeIteration         RecordType = "iteration"
	RecordTypeSubsystemSnapshot RecordType = "subsystem_snapshot"
	RecordTypeMetadata          RecordType = "metadata"
)

// MemoryPayload is returned alongside every vector hit so no second
// lookup against the entity store is needed to render a result.
type MemoryPayload struct {
	RecordType        RecordType `json:"record_type"`
	IterationNumber   int        `json:"iteration_number"`
	TaskID            int64      `json:"task_id"`
	TaskTitle         string     `json:"task_title"`
	Subsystem         string     `json:"subsystem"`
	Discipline        string     `json:"discipline"`
	Timestamp         string     `json:"timestamp"`
	Outcome           string     `json:"outcome"`
	Summary           string     `json:"summary"`
	ErrorsJSON        string     `json:"errors_json"`
	DecisionsJSON     string     `json:"decisions_json"`
	FilesTouchedJSON  string     `json:"files_touched_json"`
	TokensUsed        *int       `json:"tokens_used,omitempty"`
	EmbeddingText     string     `json:"embedding_text"`
	EmbeddingModel    string     `json:"embedding_model"`
	EmbeddingHash     string     `json:"embedding_hash"`
}

// PayloadFromRecord builds the stored payload for an iteration record,
// hashing embeddingText so later upserts can skip re-embedding unchanged
// content (spec §4.4/§4.6).
func PayloadFromRecord(r *iteration.Record, embeddingText, embeddingModel string) MemoryPayload {
	sum := sha256.Sum256([]byte(embeddingText))

	errorsJSON, _ := json.Marshal(r.Errors)
	decisionsJSON, _ := json.Marshal(r.Decisions)
	filesJSON, _ := json.Marshal(r.FilesTouched)

	return MemoryPayload{
		RecordType:       RecordTypeIteration,
		IterationNumber:  r.IterationNumber,
		TaskID:           r.TaskID,
		TaskTitle:        r.TaskTitle,
		Subsystem:        r.Subsystem,
		Discipline:       r.Discipline,
		Timestamp:        r.Timestamp,
		Outcome:          string(r.Outcome),
		Summary:          r.Summary,
		ErrorsJSON:       string(errorsJSON),
		DecisionsJSON:    string(decisionsJSON),
		FilesTouchedJSON: string(filesJSON),
		TokensUsed:       r.TokensUsed,
		EmbeddingText:    embeddingText,
		EmbeddingModel:   embeddingModel,
		EmbeddingHash:    hex.EncodeToString(sum[:]),
	}
}

// PayloadIndexType maps to the index kind a real vector database would
// build for a payload field.
type PayloadIndexType string

const (
	PayloadIndexInteger PayloadIndexType = "integer"
	PayloadIndexKeyword PayloadIndexType = "keyword"
)

// PayloadIndex is one field that should be indexed for efficient
// filtered queries.
type PayloadIndex struct {
	Field string
	Type  PayloadIndexType
}

// RequiredPayloadIndexes lists the fields filtered queries need indexed;
// without them, every filtered query is a brute-force scan.
func RequiredPayloadIndexes() []PayloadIndex {
	return []PayloadIndex{
		{Field: "task_id", Type: PayloadIndexInteger},
		{Field: "outcome", Type: PayloadIndexKeyword},
		{Field: "record_type", Type: PayloadIndexKeyword},
		{Field: "discipline", Type: PayloadIndexKeyword},
	}
}
