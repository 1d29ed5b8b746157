package bank

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/ncruces"
)

const defaultTopK = 10

// Search runs the two-stage ranking: a KNN pass over the vector index pulls
// the candidate pool, then the pure rerank reorders it by the blended score
// and truncates to TopK. Time and source filters join through the events
// table; they apply only when the search can return event chunks, so a
// search restricted to other object types ignores them.
func (s *Store) Search(ctx context.Context, userID string, queryVector []float32, opts SearchOptions) ([]RankedResult, error) {
	if len(queryVector) != s.dim {
		return nil, fmt.Errorf("%w: got %d, store expects %d", ErrDimensionMismatch, len(queryVector), s.dim)
	}

	candidates, err := s.stageA(ctx, userID, queryVector, opts)
	if err != nil {
		return nil, err
	}

	params := AdaptiveParams(opts.QueryText, s.ranking)
	ranked := Rerank(candidates, params)

	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	return ranked, nil
}

func (s *Store) stageA(ctx context.Context, userID string, queryVector []float32, opts SearchOptions) ([]RankedResult, error) {
	blob, err := sqlite_vec.SerializeFloat32(queryVector)
	if err != nil {
		return nil, err
	}

	hasEventFilter := opts.TimeStart != nil || opts.TimeEnd != nil || len(opts.Sources) > 0
	joinEvents := hasEventFilter && (len(opts.ObjectTypes) == 0 || containsType(opts.ObjectTypes, ObjectEvent))

	var sb strings.Builder
	sb.WriteString(`
		SELECT c.id, c.object_type, c.object_id, c.chunk_index, c.recency_score, c.metadata, v.distance
		FROM vec_chunks v
		JOIN chunks c ON v.chunk_id = c.id`)
	if joinEvents {
		sb.WriteString(`
		JOIN events e ON c.object_type = 'event' AND c.object_id = e.id AND e.user_id = c.user_id`)
	}
	sb.WriteString(`
		WHERE c.user_id = ?
		  AND v.embedding MATCH ?
		  AND k = ?`)

	args := []any{userID, blob, s.ranking.Candidates}

	if len(opts.ObjectTypes) > 0 {
		sb.WriteString(" AND c.object_type IN (" + placeholders(len(opts.ObjectTypes)) + ")")
		for _, t := range opts.ObjectTypes {
			args = append(args, string(t))
		}
	}
	if joinEvents {
		if opts.TimeStart != nil {
			sb.WriteString(" AND e.occurred_at >= ?")
			args = append(args, opts.TimeStart.UTC().Format(sqliteTimeLayout))
		}
		if opts.TimeEnd != nil {
			sb.WriteString(" AND e.occurred_at <= ?")
			args = append(args, opts.TimeEnd.UTC().Format(sqliteTimeLayout))
		}
		if len(opts.Sources) > 0 {
			sb.WriteString(" AND e.source IN (" + placeholders(len(opts.Sources)) + ")")
			for _, src := range opts.Sources {
				args = append(args, src)
			}
		}
	}

	sb.WriteString(" ORDER BY v.distance")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RankedResult
	for rows.Next() {
		var r RankedResult
		var objectType string
		var recency sql.NullFloat64
		var meta sql.NullString
		if err := rows.Scan(&r.ChunkID, &objectType, &r.ObjectID, &r.ChunkIndex, &recency, &meta, &r.Distance); err != nil {
			return nil, err
		}
		r.ObjectType = ObjectType(objectType)
		if recency.Valid {
			r.Recency = recency.Float64
		} else {
			r.Recency = neutralRecency
		}
		r.Metadata = unmarshalMetadata(meta)
		results = append(results, r)
	}

	return results, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func containsType(types []ObjectType, want ObjectType) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}
