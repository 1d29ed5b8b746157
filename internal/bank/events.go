package bank

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// InsertEvent records an ingested activity. Events are idempotent by
// (user_id, source, external_id): re-inserting an already-seen event returns
// the existing row's id with created=false and changes nothing.
func (s *Store) InsertEvent(e Event) (string, bool, error) {
	var existingID string
	err := s.db.QueryRow(`
		SELECT id FROM events WHERE user_id = ? AND source = ? AND external_id = ?`,
		e.UserID, e.Source, e.ExternalID,
	).Scan(&existingID)
	if err == nil {
		return existingID, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, err
	}

	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}

	meta, err := marshalMetadata(e.Metadata)
	if err != nil {
		return "", false, err
	}

	_, err = s.db.Exec(`
		INSERT INTO events (id, user_id, source, external_id, event_type, title, url, importance, occurred_at, expires_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, e.UserID, e.Source, e.ExternalID, e.EventType, e.Title, e.URL, e.Importance,
		e.OccurredAt.UTC().Format(sqliteTimeLayout), e.ExpiresAt.UTC().Format(sqliteTimeLayout), meta)
	if err != nil {
		return "", false, err
	}

	return id, true, nil
}

func (s *Store) GetEvent(userID, id string) (*Event, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, source, external_id, event_type, title, url, importance, occurred_at, expires_at, metadata, created_at
		FROM events WHERE user_id = ? AND id = ?`, userID, id)

	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// ExpiredEvents lists events whose expiry has passed, for the retention
// sweep to cascade-delete along with their chunks.
func (s *Store) ExpiredEvents(userID string, now time.Time) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, source, external_id, event_type, title, url, importance, occurred_at, expires_at, metadata, created_at
		FROM events WHERE user_id = ? AND expires_at < ?`,
		userID, now.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}

	return events, rows.Err()
}

func (s *Store) DeleteEvent(userID, id string) error {
	_, err := s.db.Exec(`DELETE FROM events WHERE user_id = ? AND id = ?`, userID, id)
	return err
}

// Checkpoint returns the last successful sync time for a source, or the zero
// time when the source has never synced. The driver hands DATETIME columns
// back as time.Time, so the scan goes straight into one.
func (s *Store) Checkpoint(userID, source string) (time.Time, error) {
	var syncedAt time.Time
	err := s.db.QueryRow(`
		SELECT synced_at FROM sync_checkpoints WHERE user_id = ? AND source = ?`,
		userID, source,
	).Scan(&syncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return syncedAt.UTC(), nil
}

func (s *Store) SetCheckpoint(userID, source string, syncedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_checkpoints (user_id, source, synced_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, source) DO UPDATE SET synced_at = excluded.synced_at`,
		userID, source, syncedAt.UTC().Format(sqliteTimeLayout))
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	var title, url sql.NullString
	var meta sql.NullString
	var createdAt sql.NullTime
	err := row.Scan(&e.ID, &e.UserID, &e.Source, &e.ExternalID, &e.EventType,
		&title, &url, &e.Importance, &e.OccurredAt, &e.ExpiresAt, &meta, &createdAt)
	if err != nil {
		return nil, err
	}

	e.Title = title.String
	e.URL = url.String
	e.Metadata = unmarshalMetadata(meta)
	e.OccurredAt = e.OccurredAt.UTC()
	e.ExpiresAt = e.ExpiresAt.UTC()
	if createdAt.Valid {
		e.CreatedAt = createdAt.Time.UTC()
	}

	return &e, nil
}
