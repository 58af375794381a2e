package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/iota-uz/specflow/flow/emit"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// Designed for:
//   - Production workflows requiring persistence
//   - Distributed systems with multiple workers
//   - Long-running workflows that survive process restarts
//
// MySQLStore uses connection pooling and stores JSON documents for the
// context, node-state and conversation columns.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Example DSNs:
//
//	user:password@tcp(localhost:3306)/flows?parseTime=true
//
// parseTime=true is required so timestamp columns scan into time.Time.
//
// Never hardcode credentials in source code; read the DSN from the
// environment:
//
//	dsn := os.Getenv("MYSQL_DSN")
//	st, err := store.NewMySQLStore(dsn)
//
// The store automatically creates required tables and configures
// connection pooling.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

func (m *MySQLStore) createTables(ctx context.Context) error {
	executionsTable := `
		CREATE TABLE IF NOT EXISTS executions (
			execution_id VARCHAR(255) NOT NULL PRIMARY KEY,
			workflow_id VARCHAR(255) NOT NULL,
			current_node VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			context JSON NOT NULL,
			node_states JSON NOT NULL,
			conversation JSON NOT NULL,
			last_error TEXT NOT NULL,
			created_at TIMESTAMP(6) NOT NULL,
			updated_at TIMESTAMP(6) NOT NULL,
			completed_at TIMESTAMP(6) NULL,
			INDEX idx_status_created (status, created_at),
			INDEX idx_workflow (workflow_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, executionsTable); err != nil {
		return fmt.Errorf("failed to create executions table: %w", err)
	}

	logsTable := `
		CREATE TABLE IF NOT EXISTS execution_logs (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			execution_id VARCHAR(255) NOT NULL,
			entry JSON NOT NULL,
			created_at TIMESTAMP(6) DEFAULT CURRENT_TIMESTAMP(6),
			INDEX idx_execution (execution_id, id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, logsTable); err != nil {
		return fmt.Errorf("failed to create execution_logs table: %w", err)
	}

	return nil
}

// CreateExecution inserts a new execution record.
func (m *MySQLStore) CreateExecution(ctx context.Context, exec *Execution) error {
	if err := m.checkOpen(); err != nil {
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
	_, err = m.db.ExecContext(ctx, query,
		exec.ExecutionID,
		exec.WorkflowID,
		exec.CurrentNode,
		string(exec.Status),
		contextJSON,
		nodeStatesJSON,
		conversationJSON,
		exec.LastError,
		createdAt,
		now,
		nullableTime(exec.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}

	return nil
}

// GetExecution loads an execution by ID.
func (m *MySQLStore) GetExecution(ctx context.Context, executionID string) (*Execution, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT execution_id, workflow_id, current_node, status, context, node_states, conversation, last_error, created_at, updated_at, completed_at
		FROM executions
		WHERE execution_id = ?
	`
	exec, err := scanMySQLExecution(m.db.QueryRowContext(ctx, query, executionID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}
	return exec, nil
}

// UpdateExecution applies a partial update to an execution.
func (m *MySQLStore) UpdateExecution(ctx context.Context, executionID string, upd Update) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

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
		args = append(args, *upd.CompletedAt)
	}

	args = append(args, executionID)

	// #nosec G201 -- column names are static, values are parameterized
	query := fmt.Sprintf("UPDATE executions SET %s WHERE execution_id = ?", strings.Join(sets, ", "))
	res, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		// RowsAffected is 0 both for missing rows and no-op updates;
		// distinguish with a lookup.
		if _, err := m.GetExecution(ctx, executionID); err != nil {
			return err
		}
	}
	return nil
}

// ListExecutions returns executions with the given status, or all
// executions when status is empty, ordered by creation time.
func (m *MySQLStore) ListExecutions(ctx context.Context, status Status) ([]*Execution, error) {
	if err := m.checkOpen(); err != nil {
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

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Execution
	for rows.Next() {
		exec, err := scanMySQLExecution(rows)
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
func (m *MySQLStore) AddLog(ctx context.Context, executionID string, entry emit.LogEntry) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	if _, err := m.GetExecution(ctx, executionID); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO execution_logs (execution_id, entry) VALUES (?, ?)
	`, executionID, string(data))
	if err != nil {
		return fmt.Errorf("failed to insert log entry: %w", err)
	}
	return nil
}

// Logs returns an execution's log entries in append order.
func (m *MySQLStore) Logs(ctx context.Context, executionID string) ([]emit.LogEntry, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	if _, err := m.GetExecution(ctx, executionID); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `
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

// Close closes the database connection. Calling Close multiple times
// is safe.
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQLStore) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

func (m *MySQLStore) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func scanMySQLExecution(row rowScanner) (*Execution, error) {
	var (
		exec             Execution
		status           string
		contextJSON      string
		nodeStatesJSON   string
		conversationJSON string
		completedAt      sql.NullTime
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
		&exec.CreatedAt,
		&exec.UpdatedAt,
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
	if completedAt.Valid {
		t := completedAt.Time
		exec.CompletedAt = &t
	}

	return &exec, nil
}
