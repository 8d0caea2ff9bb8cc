// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jllopis/hive/pkg/errors"
	"github.com/jllopis/hive/pkg/llm"

	_ "modernc.org/sqlite"
)

const defaultConversationTable = "hive_conversations"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteConfig configures the SQLite conversation store.
type SQLiteConfig struct {
	ConversationConfig

	// DSN is used when DB is nil. ":memory:" keeps data in process.
	DSN string
	// DB is an already opened handle. The store never closes it.
	DB *sql.DB
	// TableName defaults to "hive_conversations".
	TableName string
}

// SQLiteConversation persists histories with the pure-Go SQLite driver.
type SQLiteConversation struct {
	db     *sql.DB
	owned  bool
	table  string
	config ConversationConfig
}

// NewSQLiteConversation opens the store and ensures its schema.
func NewSQLiteConversation(ctx context.Context, cfg SQLiteConfig) (*SQLiteConversation, error) {
	table := cfg.TableName
	if table == "" {
		table = defaultConversationTable
	}
	if !tableName.MatchString(table) {
		return nil, errors.Errorf(errors.CodeConfig, "invalid table name %q", table)
	}

	db, owned := cfg.DB, false
	if db == nil {
		if cfg.DSN == "" {
			return nil, errors.Errorf(errors.CodeConfig, "sqlite history store needs a dsn")
		}
		var err error
		db, err = sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, errors.New(errors.CodeConfig, "open sqlite", err)
		}
		owned = true
		// An in-memory database lives as long as its single connection.
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteConversation{db: db, owned: owned, table: table, config: cfg.ConversationConfig}
	if err := s.ensureSchema(ctx); err != nil {
		if owned {
			_ = db.Close()
		}
		return nil, err
	}
	return s, nil
}

func (s *SQLiteConversation) ensureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			agent TEXT NOT NULL DEFAULT '',
			tool_call_id TEXT NOT NULL DEFAULT '',
			tool_calls TEXT,
			metadata TEXT,
			created_at INTEGER NOT NULL
		);`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_session ON %s(session_id, seq);`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.New(errors.CodeInternal, "create conversation schema", err)
		}
	}
	return nil
}

// AppendMessages implements ConversationMemory. All messages are written in
// one transaction.
func (s *SQLiteConversation) AppendMessages(ctx context.Context, sessionID string, msgs ...ConversationMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.New(errors.CodeInternal, "begin append", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s
		(id, session_id, role, content, agent, tool_call_id, tool_calls, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table))
	if err != nil {
		return errors.New(errors.CodeInternal, "prepare append", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, msg := range msgs {
		msg = stamp(sessionID, msg, now)
		calls, err := marshalNullable(msg.ToolCalls, len(msg.ToolCalls) == 0)
		if err != nil {
			return err
		}
		meta, err := marshalNullable(msg.Metadata, len(msg.Metadata) == 0)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, msg.ID, sessionID, string(msg.Role), msg.Content, msg.Agent,
			msg.ToolCallID, calls, meta, msg.CreatedAt.UnixNano()); err != nil {
			return errors.New(errors.CodeInternal, "append message", err).WithContext("session_id", sessionID)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.New(errors.CodeInternal, "commit append", err)
	}
	return nil
}

func marshalNullable(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, errors.New(errors.CodeInternal, "encode message", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// GetMessages implements ConversationMemory.
func (s *SQLiteConversation) GetMessages(ctx context.Context, sessionID string) ([]ConversationMessage, error) {
	msgs, err := s.query(ctx, fmt.Sprintf(`SELECT id, session_id, role, content, agent, tool_call_id, tool_calls, metadata, created_at
		FROM %s WHERE session_id = ? ORDER BY seq`, s.table), sessionID)
	if err != nil {
		return nil, err
	}
	return s.config.truncate(ctx, msgs)
}

// GetRecentMessages implements ConversationMemory.
func (s *SQLiteConversation) GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]ConversationMessage, error) {
	if limit <= 0 {
		return s.query(ctx, fmt.Sprintf(`SELECT id, session_id, role, content, agent, tool_call_id, tool_calls, metadata, created_at
			FROM %s WHERE session_id = ? ORDER BY seq`, s.table), sessionID)
	}
	return s.query(ctx, fmt.Sprintf(`SELECT id, session_id, role, content, agent, tool_call_id, tool_calls, metadata, created_at
		FROM (SELECT * FROM %s WHERE session_id = ? ORDER BY seq DESC LIMIT ?) ORDER BY seq`, s.table), sessionID, limit)
}

func (s *SQLiteConversation) query(ctx context.Context, q string, args ...any) ([]ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "query messages", err)
	}
	defer rows.Close()

	var out []ConversationMessage
	for rows.Next() {
		var (
			msg         ConversationMessage
			role        string
			calls, meta sql.NullString
			created     int64
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &msg.Agent, &msg.ToolCallID,
			&calls, &meta, &created); err != nil {
			return nil, errors.New(errors.CodeInternal, "scan message", err)
		}
		msg.Role = llm.Role(role)
		msg.CreatedAt = time.Unix(0, created)
		if calls.Valid {
			if err := json.Unmarshal([]byte(calls.String), &msg.ToolCalls); err != nil {
				return nil, errors.New(errors.CodeInternal, "decode tool calls", err).WithContext("message_id", msg.ID)
			}
		}
		if meta.Valid {
			if err := json.Unmarshal([]byte(meta.String), &msg.Metadata); err != nil {
				return nil, errors.New(errors.CodeInternal, "decode metadata", err).WithContext("message_id", msg.ID)
			}
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.CodeInternal, "iterate messages", err)
	}
	return out, nil
}

// Clear implements ConversationMemory.
func (s *SQLiteConversation) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE session_id = ?`, s.table), sessionID); err != nil {
		return errors.New(errors.CodeInternal, "clear session", err).WithContext("session_id", sessionID)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *SQLiteConversation) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database if the store opened it.
func (s *SQLiteConversation) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
