package orchestrator

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bowerhall/contextbank/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS agent_executions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    agent_name TEXT NOT NULL,
    intent TEXT NOT NULL DEFAULT '',
    input_prompt TEXT NOT NULL,
    input_params TEXT,
    output TEXT NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_exec_user_agent ON agent_executions(user_id, agent_name, created_at);
CREATE INDEX IF NOT EXISTS idx_exec_session ON agent_executions(session_id);
`

const sqliteTimeLayout = "2006-01-02 15:04:05"

const cacheSize = 128

// AgentFunc is one invocable agent operation: prompt and params in, answer
// out.
type AgentFunc func(ctx context.Context, prompt string, params map[string]string) (string, error)

// Execution is one persisted agent run.
type Execution struct {
	ID         int64
	UserID     string
	SessionID  string
	AgentName  string
	Intent     string
	Prompt     string
	Params     map[string]string
	Output     string
	DurationMS int64
	CreatedAt  time.Time
}

// ResultQuery narrows GetAgentResult. A zero SessionID searches across all
// sessions; a zero WindowHours searches without a time bound.
type ResultQuery struct {
	SessionID   string
	WindowHours int
}

// Orchestrator runs agents for a single inbound request. One instance per
// request: every execution through it shares one session id, and duplicate
// calls within the session are answered from cache instead of re-invoking
// the agent.
type Orchestrator struct {
	db        *sql.DB
	userID    string
	sessionID string
	cache     *lru.Cache[string, string]
	now       func() time.Time
}

func New(db *sql.DB, userID string) (*Orchestrator, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate agent_executions: %w", err)
	}

	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		db:        db,
		userID:    userID,
		sessionID: uuid.NewString(),
		cache:     cache,
		now:       time.Now,
	}, nil
}

func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

// Execute runs an agent, deduplicating by (agent_name, prompt, params)
// within this session. Successful runs are persisted and cached; failures
// propagate without writing anything.
func (o *Orchestrator) Execute(ctx context.Context, agentName, intent, prompt string, params map[string]string, fn AgentFunc) (string, error) {
	key := cacheKey(agentName, prompt, params)

	if output, ok := o.cache.Get(key); ok {
		logger.Debug("orchestrator: cache hit", "agent", agentName, "session", o.sessionID)
		return output, nil
	}

	start := o.now()
	output, err := fn(ctx, prompt, params)
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", agentName, err)
	}
	elapsed := o.now().Sub(start)

	if err := o.persist(agentName, intent, prompt, params, output, elapsed); err != nil {
		return "", fmt.Errorf("persist execution for %s: %w", agentName, err)
	}
	o.cache.Add(key, output)

	logger.Debug("orchestrator: executed", "agent", agentName, "session", o.sessionID, "duration", elapsed)

	return output, nil
}

func (o *Orchestrator) persist(agentName, intent, prompt string, params map[string]string, output string, elapsed time.Duration) error {
	var paramsJSON any
	if len(params) > 0 {
		b, err := json.Marshal(params)
		if err != nil {
			return err
		}
		paramsJSON = string(b)
	}

	_, err := o.db.Exec(`
		INSERT INTO agent_executions (user_id, session_id, agent_name, intent, input_prompt, input_params, output, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.userID, o.sessionID, agentName, intent, prompt, paramsJSON, output, elapsed.Milliseconds())
	return err
}

// GetAgentResult returns the most recent matching execution's output, or
// empty with found=false. Absence is not an error. Without an explicit
// session id the lookup deliberately crosses sessions.
func (o *Orchestrator) GetAgentResult(agentName string, q ResultQuery) (string, bool, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT output FROM agent_executions WHERE user_id = ? AND agent_name = ?`)
	args := []any{o.userID, agentName}

	if q.SessionID != "" {
		sb.WriteString(" AND session_id = ?")
		args = append(args, q.SessionID)
	}
	if q.WindowHours > 0 {
		cutoff := o.now().UTC().Add(-time.Duration(q.WindowHours) * time.Hour)
		sb.WriteString(" AND created_at >= ?")
		args = append(args, cutoff.Format(sqliteTimeLayout))
	}
	sb.WriteString(" ORDER BY created_at DESC, id DESC LIMIT 1")

	var output string
	err := o.db.QueryRow(sb.String(), args...).Scan(&output)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	return output, true, nil
}

// RecentExecutions lists the owner's latest executions, newest first,
// optionally narrowed to specific agent names and a trailing window of
// hours. Zero hours means no time bound.
func (o *Orchestrator) RecentExecutions(agentNames []string, hours, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 10
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, user_id, session_id, agent_name, intent, input_prompt, input_params, output, duration_ms, created_at
		FROM agent_executions
		WHERE user_id = ?`)
	args := []any{o.userID}

	if len(agentNames) > 0 {
		sb.WriteString(" AND agent_name IN (" + placeholders(len(agentNames)) + ")")
		for _, name := range agentNames {
			args = append(args, name)
		}
	}
	if hours > 0 {
		cutoff := o.now().UTC().Add(-time.Duration(hours) * time.Hour)
		sb.WriteString(" AND created_at >= ?")
		args = append(args, cutoff.Format(sqliteTimeLayout))
	}

	sb.WriteString(" ORDER BY created_at DESC, id DESC LIMIT ?")
	args = append(args, limit)

	rows, err := o.db.Query(sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []Execution
	for rows.Next() {
		var e Execution
		var params sql.NullString
		var createdAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.UserID, &e.SessionID, &e.AgentName, &e.Intent,
			&e.Prompt, &params, &e.Output, &e.DurationMS, &createdAt); err != nil {
			return nil, err
		}
		if params.Valid && params.String != "" {
			_ = json.Unmarshal([]byte(params.String), &e.Params)
		}
		if createdAt.Valid {
			e.CreatedAt = createdAt.Time.UTC()
		}
		execs = append(execs, e)
	}

	return execs, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// cacheKey hashes (agent, prompt, sorted params) so the same logical call
// always maps to the same entry regardless of map iteration order.
func cacheKey(agentName, prompt string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(agentName))
	h.Write([]byte{':'})
	h.Write([]byte(prompt))
	for _, k := range keys {
		h.Write([]byte{':'})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(params[k]))
	}

	return hex.EncodeToString(h.Sum(nil))
}
