package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/iota-uz/specflow/flow/agent"
	"github.com/iota-uz/specflow/flow/emit"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It stores executions in a single-file database. Designed for:
//   - Development and testing with zero setup
//   - Single-process workflows
//   - Local workflows requiring persistence across restarts
//
// SQLiteStore uses WAL mode for concurrent reads and a busy timeout to
// tolerate short lock contention.
//
// Schema:
//   - executions: one row per workflow run, state columns stored as JSON
//   - execution_logs: append-only log entries keyed by execution
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore creates a new SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./dev.db" - file in current directory
//   - "/tmp/flow.db" - absolute path
//   - ":memory:" - in-memory database (data lost on close)
//
// The store automatically creates the database file and required
// tables, enables WAL mode, and configures a busy timeout.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./dev.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	executionsTable := `
		CREATE TABLE IF NOT EXISTS executions (
			execution_id TEXT NOT NULL PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			current_node TEXT NOT NULL,
			status TEXT NOT NULL,
			context TEXT NOT NULL,
			node_states TEXT NOT NULL,
			conversation TEXT NOT NULL,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, executionsTable); err != nil {
		return fmt.Errorf("failed to create executions table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status, created_at)"); err != nil {
		return fmt.Errorf("failed to create idx_executions_status: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id)"); err != nil {
		return fmt.Errorf("failed to create idx_executions_workflow: %w", err)
	}

	logsTable := `
		CREATE TABLE IF NOT EXISTS execution_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id TEXT NOT NULL,
			entry TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(execution_id) REFERENCES executions(execution_id)
		)
	`
	if _, err := s.db.ExecContext(ctx, logsTable); err != nil {
		return fmt.Errorf("failed to create execution_logs table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_logs_execution ON execution_logs(execution_id, id)"); err != nil {
		return fmt.Errorf("failed to create idx_logs_execution: %w", err)
	}

	return nil
}

// CreateExecution inserts a new execution record.
func (s *SQLiteStore) CreateExecution(ctx context.Context, exec *Execution) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	contextJSON, nodeStatesJSON, conversationJSON, err := marshalExecutionFields(exec)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	createdAt := exec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO executions
		(execution_id, workflow_id, current_node, status, context, node_states, conversation, last_error, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		exec.ExecutionID,
		exec.WorkflowID,
		exec.CurrentNode,
		string(exec.Status),
		contextJSON,
		nodeStatesJSON,
		conversationJSON,
		exec.LastError,
		createdAt.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		formatNullableTime(exec.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}

	return nil
}

// GetExecution loads an execution by ID.
func (s *SQLiteStore) GetExecution(ctx context.Context, executionID string) (*Execution, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT execution_id, workflow_id, current_node, status, context, node_states, conversation, last_error, created_at, updated_at, completed_at
		FROM executions
		WHERE execution_id = ?
	`
	exec, err := scanExecution(s.db.QueryRowContext(ctx, query, executionID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}
	return exec, nil
}

// UpdateExecution applies a partial update to an execution.
func (s *SQLiteStore) UpdateExecution(ctx context.Context, executionID string, upd Update) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Format(time.RFC3339Nano)}

	if upd.CurrentNode != nil {
		sets = append(sets, "current_node = ?")
		args = append(args, *upd.CurrentNode)
	}
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.Context != nil {
		data, err := json.Marshal(upd.Context)
		if err != nil {
			return fmt.Errorf("failed to marshal context: %w", err)
		}
		sets = append(sets, "context = ?")
		args = append(args, string(data))
	}
	if upd.NodeStates != nil {
		data, err := json.Marshal(upd.NodeStates)
		if err != nil {
			return fmt.Errorf("failed to marshal node states: %w", err)
		}
		sets = append(sets, "node_states = ?")
		args = append(args, string(data))
	}
	if upd.Conversation != nil {
		data, err := json.Marshal(upd.Conversation)
		if err != nil {
			return fmt.Errorf("failed to marshal conversation: %w", err)
		}
		sets = append(sets, "conversation = ?")
		args = append(args, string(data))
	}
	if upd.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *upd.LastError)
	}
	if upd.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, upd.CompletedAt.Format(time.RFC3339Nano))
	}

	args = append(args, executionID)

	// #nosec G201 -- column names are static, values are parameterized
	query := fmt.Sprintf("UPDATE executions SET %s WHERE execution_id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListExecutions returns executions with the given status, or all
// executions when status is empty, ordered by creation time.
func (s *SQLiteStore) ListExecutions(ctx context.Context, status Status) ([]*Execution, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT execution_id, workflow_id, current_node, status, context, node_states, conversation, last_error, created_at, updated_at, completed_at
		FROM executions
	`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at ASC, execution_id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		out = append(out, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return out, nil
}

// AddLog appends a log entry to an execution's log stream.
func (s *SQLiteStore) AddLog(ctx context.Context, executionID string, entry emit.LogEntry) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_logs (execution_id, entry)
		SELECT execution_id, ? FROM executions WHERE execution_id = ?
	`, string(data), executionID)
	if err != nil {
		return fmt.Errorf("failed to insert log entry: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check log insert result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Logs returns an execution's log entries in append order.
func (s *SQLiteStore) Logs(ctx context.Context, executionID string) ([]emit.LogEntry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	if _, err := s.GetExecution(ctx, executionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT entry FROM execution_logs
		WHERE execution_id = ?
		ORDER BY id ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []emit.LogEntry
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan log row: %w", err)
		}
		var entry emit.LogEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal log entry: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating log rows: %w", err)
	}

	return out, nil
}

// Close closes the database connection.
//
// After Close, all operations return an error. Calling Close multiple
// times is safe.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	var (
		exec             Execution
		status           string
		contextJSON      string
		nodeStatesJSON   string
		conversationJSON string
		createdAt        string
		updatedAt        string
		completedAt      sql.NullString
	)

	err := row.Scan(
		&exec.ExecutionID,
		&exec.WorkflowID,
		&exec.CurrentNode,
		&status,
		&contextJSON,
		&nodeStatesJSON,
		&conversationJSON,
		&exec.LastError,
		&createdAt,
		&updatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	exec.Status = Status(status)
	if err := json.Unmarshal([]byte(contextJSON), &exec.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}
	if err := json.Unmarshal([]byte(nodeStatesJSON), &exec.NodeStates); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node states: %w", err)
	}
	if err := json.Unmarshal([]byte(conversationJSON), &exec.Conversation); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	if exec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if exec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at: %w", err)
		}
		exec.CompletedAt = &t
	}

	return &exec, nil
}

func marshalExecutionFields(exec *Execution) (contextJSON, nodeStatesJSON, conversationJSON string, err error) {
	ctxData, err := json.Marshal(orEmptyMap(exec.Context))
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal context: %w", err)
	}
	nodeData, err := json.Marshal(orEmptyNodeStates(exec.NodeStates))
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal node states: %w", err)
	}
	convData, err := json.Marshal(orEmptyConversation(exec.Conversation))
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal conversation: %w", err)
	}
	return string(ctxData), string(nodeData), string(convData), nil
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptyNodeStates(m map[string]NodeState) map[string]NodeState {
	if m == nil {
		return map[string]NodeState{}
	}
	return m
}

func orEmptyConversation(c []agent.Message) []agent.Message {
	if c == nil {
		return []agent.Message{}
	}
	return c
}
