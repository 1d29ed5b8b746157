package bank

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/ncruces"
)

// UpsertChunk stores one embedded chunk, keyed by
// (user_id, object_type, object_id, chunk_index, model). Re-storing with an
// unchanged content hash is a no-op; a changed hash replaces the row and its
// vector. The recency score is frozen at write time.
func (s *Store) UpsertChunk(c ChunkUpsert) (int64, error) {
	if !ValidObjectType(c.ObjectType) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownObjectType, c.ObjectType)
	}
	if len(c.Vector) != s.dim {
		return 0, fmt.Errorf("%w: got %d, store expects %d", ErrDimensionMismatch, len(c.Vector), s.dim)
	}

	var existingID int64
	var existingHash string
	err := s.db.QueryRow(`
		SELECT id, content_hash FROM chunks
		WHERE user_id = ? AND object_type = ? AND object_id = ? AND chunk_index = ? AND model = ?`,
		c.UserID, string(c.ObjectType), c.ObjectID, c.ChunkIndex, c.Model,
	).Scan(&existingID, &existingHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if err == nil && existingHash == c.ContentHash {
		return existingID, nil
	}

	recency := s.recencyAt(c.OccurredAt)
	meta, err := marshalMetadata(c.Metadata)
	if err != nil {
		return 0, err
	}

	blob, err := sqlite_vec.SerializeFloat32(c.Vector)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO chunks (user_id, object_type, object_id, chunk_index, model, content_hash, recency_score, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, object_type, object_id, chunk_index, model) DO UPDATE SET
			content_hash = excluded.content_hash,
			recency_score = excluded.recency_score,
			metadata = excluded.metadata,
			updated_at = datetime('now')`,
		c.UserID, string(c.ObjectType), c.ObjectID, c.ChunkIndex, c.Model, c.ContentHash, recency, meta)
	if err != nil {
		return 0, err
	}

	chunkID := existingID
	if chunkID == 0 {
		chunkID, err = res.LastInsertId()
		if err != nil {
			return 0, err
		}
	}

	if _, err := tx.Exec(`DELETE FROM vec_chunks WHERE chunk_id = ?`, chunkID); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`INSERT INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)`, chunkID, blob); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	return chunkID, nil
}

// recencyAt freezes exp(-age_days/tau) for the given timestamp. Chunks
// without a timestamp get NULL and score neutrally at search time.
func (s *Store) recencyAt(occurredAt *time.Time) any {
	if occurredAt == nil {
		return nil
	}
	ageDays := s.now().UTC().Sub(occurredAt.UTC()).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / s.ranking.TauDays)
}

// DeleteByObject removes every chunk (and vector) belonging to one object,
// across all chunk indexes and models.
func (s *Store) DeleteByObject(userID string, objectType ObjectType, objectID string) (int64, error) {
	rows, err := s.db.Query(`
		SELECT id FROM chunks
		WHERE user_id = ? AND object_type = ? AND object_id = ?`,
		userID, string(objectType), objectID)
	if err != nil {
		return 0, err
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := s.deleteChunkRow(id); err != nil {
			return 0, err
		}
	}

	return int64(len(ids)), nil
}

// DeleteByOwnerBefore sweeps event-backed chunks whose owning event row is
// gone or expired before the cutoff. It is the orphan pass behind retention:
// cascaded deletes handle live events, this catches whatever they missed.
func (s *Store) DeleteByOwnerBefore(userID string, cutoff time.Time) (int64, error) {
	rows, err := s.db.Query(`
		SELECT c.id FROM chunks c
		LEFT JOIN events e ON e.id = c.object_id AND e.user_id = c.user_id
		WHERE c.user_id = ? AND c.object_type = 'event'
		  AND (e.id IS NULL OR e.expires_at < ?)`,
		userID, cutoff.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return 0, err
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := s.deleteChunkRow(id); err != nil {
			return 0, err
		}
	}

	return int64(len(ids)), nil
}

func (s *Store) deleteChunkRow(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM vec_chunks WHERE chunk_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM chunks WHERE id = ?`, id)
	return err
}

// CountChunks reports how many chunks a user has, optionally narrowed to one
// object type.
func (s *Store) CountChunks(userID string, objectType ObjectType) (int, error) {
	var count int
	var err error
	if objectType == "" {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM chunks WHERE user_id = ?`, userID).Scan(&count)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM chunks WHERE user_id = ? AND object_type = ?`,
			userID, string(objectType)).Scan(&count)
	}
	return count, err
}

func marshalMetadata(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalMetadata(raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil
	}
	return m
}
