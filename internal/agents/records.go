package agents

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const recordsSchema = `
CREATE TABLE IF NOT EXISTS summaries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    window_start DATETIME NOT NULL,
    window_end DATETIME NOT NULL,
    content TEXT NOT NULL,
    source_refs TEXT,
    created_at DATETIME DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_summaries_user ON summaries(user_id, created_at);

CREATE TABLE IF NOT EXISTS tasks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'open',
    priority TEXT NOT NULL DEFAULT 'medium',
    title TEXT NOT NULL,
    details TEXT,
    due_at DATETIME,
    source_refs TEXT,
    created_at DATETIME DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_tasks_user_status ON tasks(user_id, status);
`

const sqliteTimeLayout = "2006-01-02 15:04:05"

// SourceRef points a persisted record back at a contributing chunk's object.
type SourceRef struct {
	ObjectType string `json:"object_type"`
	ObjectID   string `json:"object_id"`
}

// TaskRecord is one extracted actionable item.
type TaskRecord struct {
	ID        int64
	UserID    string
	Status    string
	Priority  string
	Title     string
	Details   string
	DueAt     *time.Time
	Refs      []SourceRef
	CreatedAt time.Time
}

// Records persists the agents' durable outputs: window-scoped summaries and
// extracted tasks. It shares the store's database.
type Records struct {
	db *sql.DB
}

func NewRecords(db *sql.DB) (*Records, error) {
	if _, err := db.Exec(recordsSchema); err != nil {
		return nil, fmt.Errorf("migrate agent records: %w", err)
	}
	return &Records{db: db}, nil
}

func (r *Records) SaveSummary(userID string, windowStart, windowEnd time.Time, content string, refs []SourceRef) (int64, error) {
	refsJSON, err := marshalRefs(refs)
	if err != nil {
		return 0, err
	}

	res, err := r.db.Exec(`
		INSERT INTO summaries (user_id, window_start, window_end, content, source_refs)
		VALUES (?, ?, ?, ?, ?)`,
		userID, windowStart.UTC().Format(sqliteTimeLayout), windowEnd.UTC().Format(sqliteTimeLayout),
		content, refsJSON)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *Records) SaveTask(t TaskRecord) (int64, error) {
	refsJSON, err := marshalRefs(t.Refs)
	if err != nil {
		return 0, err
	}

	var dueAt any
	if t.DueAt != nil {
		dueAt = t.DueAt.UTC().Format(sqliteTimeLayout)
	}

	res, err := r.db.Exec(`
		INSERT INTO tasks (user_id, status, priority, title, details, due_at, source_refs)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, t.Status, t.Priority, t.Title, t.Details, dueAt, refsJSON)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// OpenTasks lists a user's open tasks, newest first.
func (r *Records) OpenTasks(userID string, limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(`
		SELECT id, user_id, status, priority, title, details, due_at, source_refs, created_at
		FROM tasks
		WHERE user_id = ? AND status = 'open'
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []TaskRecord
	for rows.Next() {
		var t TaskRecord
		var details, refs sql.NullString
		var dueAt, createdAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.UserID, &t.Status, &t.Priority, &t.Title, &details, &dueAt, &refs, &createdAt); err != nil {
			return nil, err
		}
		t.Details = details.String
		if dueAt.Valid {
			due := dueAt.Time.UTC()
			t.DueAt = &due
		}
		if refs.Valid && refs.String != "" {
			_ = json.Unmarshal([]byte(refs.String), &t.Refs)
		}
		if createdAt.Valid {
			t.CreatedAt = createdAt.Time.UTC()
		}
		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}

// LatestSummary returns the newest summary content for a user, or empty.
func (r *Records) LatestSummary(userID string) (string, error) {
	var content string
	err := r.db.QueryRow(`
		SELECT content FROM summaries WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID,
	).Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return content, err
}

func marshalRefs(refs []SourceRef) (any, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(refs)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
