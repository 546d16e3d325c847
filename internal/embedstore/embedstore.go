// Package embedstore holds per-comment embeddings and does brute-force
// cosine-similarity search scoped to one subsystem at a time (spec §4.4).
// Grounded on
// original_source/crates/sqlite-db/src/comment_embeddings.rs; persists
// through the same *sql.DB the store package opens via modernc.org/sqlite.
package embedstore

import (
	"database/sql"
	"math"
	"sort"

	"github.com/ralphmem/ralphmem/internal/rerr"
)

// Store wraps a *sql.DB for embedding upsert/search. It shares the
// connection opened by store.DB rather than owning its own.
type Store struct {
	conn *sql.DB
}

// New wraps an already-open database connection.
func New(conn *sql.DB) *Store {
	return &Store{conn: conn}
}

// ScoredComment is one subsystem comment returned from a similarity search,
// carrying its cosine score against the query vector.
type ScoredComment struct {
	CommentID int64
	Category  string
	Body      string
	Summary   string
	Reason    string
	Score     float32
}

// UpsertCommentEmbedding stores or replaces the embedding for a comment,
// keyed by comment id.
func (s *Store) UpsertCommentEmbedding(commentID int64, embedding []float32, model, hash string) error {
	blob := embeddingToBlob(embedding)
	_, err := s.conn.Exec(
		`INSERT INTO comment_embeddings (comment_id, embedding, embedding_model, embedding_hash)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(comment_id) DO UPDATE SET
		   embedding = excluded.embedding,
		   embedding_model = excluded.embedding_model,
		   embedding_hash = excluded.embedding_hash`,
		commentID, blob, model, hash,
	)
	if err != nil {
		return rerr.Wrap(rerr.DBWrite, "failed to upsert comment embedding", err)
	}
	return nil
}

// DeleteCommentEmbedding removes a comment's embedding directly; it also
// cascades automatically when the owning comment row is deleted.
func (s *Store) DeleteCommentEmbedding(commentID int64) error {
	if _, err := s.conn.Exec("DELETE FROM comment_embeddings WHERE comment_id = ?", commentID); err != nil {
		return rerr.Wrap(rerr.DBWrite, "failed to delete comment embedding", err)
	}
	return nil
}

// HasCommentEmbedding reports whether a comment already has a stored
// embedding.
func (s *Store) HasCommentEmbedding(commentID int64) bool {
	var exists bool
	err := s.conn.QueryRow("SELECT COUNT(*) > 0 FROM comment_embeddings WHERE comment_id = ?", commentID).Scan(&exists)
	return err == nil && exists
}

// EmbeddingHash returns the stored content hash for a comment's embedding,
// used to decide whether re-embedding is necessary after an edit.
func (s *Store) EmbeddingHash(commentID int64) (string, bool) {
	var hash string
	err := s.conn.QueryRow("SELECT embedding_hash FROM comment_embeddings WHERE comment_id = ?", commentID).Scan(&hash)
	if err != nil {
		return "", false
	}
	return hash, true
}

// SearchSubsystemComments scores every embedded comment on a subsystem
// against queryEmbedding, keeps those at or above minScore, and returns
// the top limit results ordered by descending score. Ties keep their
// original (comment id) order, since sort.SliceStable is used throughout
// (spec §9's stable-sort resolution for tie-break ordering).
func (s *Store) SearchSubsystemComments(subsystem string, queryEmbedding []float32, limit int, minScore float32) ([]ScoredComment, error) {
	rows, err := s.conn.Query(
		`SELECT ce.comment_id, ce.embedding, sc.category, sc.body, sc.summary, sc.reason
		 FROM comment_embeddings ce
		 JOIN subsystem_comments sc ON sc.id = ce.comment_id
		 WHERE sc.subsystem = ?`, subsystem)
	if err != nil {
		return nil, rerr.Wrap(rerr.DBRead, "failed to query comment embeddings", err)
	}
	defer rows.Close()

	var results []ScoredComment
	for rows.Next() {
		var commentID int64
		var blob []byte
		var category, body string
		var summary, reason sql.NullString
		if err := rows.Scan(&commentID, &blob, &category, &body, &summary, &reason); err != nil {
			return nil, rerr.Wrap(rerr.DBRead, "failed to scan comment embedding", err)
		}

		stored, ok := blobToEmbedding(blob)
		if !ok {
			continue
		}
		score := cosineSimilarity(queryEmbedding, stored)
		if score < minScore {
			continue
		}
		results = append(results, ScoredComment{
			CommentID: commentID,
			Category:  category,
			Body:      body,
			Summary:   summary.String,
			Reason:    reason.String,
			Score:     score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func embeddingToBlob(embedding []float32) []byte {
	blob := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		bits := math.Float32bits(f)
		blob[i*4+0] = byte(bits)
		blob[i*4+1] = byte(bits >> 8)
		blob[i*4+2] = byte(bits >> 16)
		blob[i*4+3] = byte(bits >> 24)
	}
	return blob
}

func blobToEmbedding(blob []byte) ([]float32, bool) {
	if len(blob)%4 != 0 {
		return nil, false
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		bits := uint32(blob[i*4+0]) | uint32(blob[i*4+1])<<8 | uint32(blob[i*4+2])<<16 | uint32(blob[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out, true
}

// cosineSimilarity returns 0 for length-mismatched or empty vectors, and
// for either vector having zero norm, matching the original's guard
// clauses exactly (spec §4.4).
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB)))
	if denom == 0.0 {
		return 0.0
	}
	return dot / denom
}
