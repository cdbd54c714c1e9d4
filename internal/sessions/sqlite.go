package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/beaconhq/beacon/pkg/models"
)

// SQLiteStore implements Store on top of a single SQLite file, the
// narrow persistence substrate spec.md §1 treats as an external
// collaborator behind the Store interface.
type SQLiteStore struct {
	db *sql.DB

	stmtCreateSession *sql.Stmt
	stmtGetSession    *sql.Stmt
	stmtUpdateSession *sql.Stmt
	stmtDeleteSession *sql.Stmt
	stmtGetByKey      *sql.Stmt
	stmtAppendMessage *sql.Stmt
	stmtGetHistory    *sql.Stmt
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	key        TEXT UNIQUE,
	agent_id   TEXT NOT NULL,
	channel    TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions(agent_id);
CREATE INDEX IF NOT EXISTS idx_sessions_channel ON sessions(agent_id, channel);

CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL,
	tool_calls   TEXT,
	tool_results TEXT,
	attachments  TEXT,
	metadata     TEXT,
	seq          INTEGER NOT NULL,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session_seq ON messages(session_id, seq);
`

// Open creates (or attaches to) a SQLite-backed Store at path. Pass
// ":memory:" for an ephemeral store suited to tests and local runs
// without the durability MemoryStore never had to begin with.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY storms.

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.prepare(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) prepare(ctx context.Context) error {
	stmts := []struct {
		dst **sql.Stmt
		sql string
	}{
		{&s.stmtCreateSession, `INSERT INTO sessions (id, key, agent_id, channel, channel_id, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`},
		{&s.stmtGetSession, `SELECT id, key, agent_id, channel, channel_id, metadata, created_at, updated_at FROM sessions WHERE id = ?`},
		{&s.stmtUpdateSession, `UPDATE sessions SET key = ?, agent_id = ?, channel = ?, channel_id = ?, metadata = ?, updated_at = ? WHERE id = ?`},
		{&s.stmtDeleteSession, `DELETE FROM sessions WHERE id = ?`},
		{&s.stmtGetByKey, `SELECT id, key, agent_id, channel, channel_id, metadata, created_at, updated_at FROM sessions WHERE key = ?`},
		{&s.stmtAppendMessage, `INSERT INTO messages (id, session_id, role, content, tool_calls, tool_results, attachments, metadata, seq, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?), ?)`},
		{&s.stmtGetHistory, `SELECT id, role, content, tool_calls, tool_results, attachments, metadata, created_at FROM messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?`},
	}
	for _, st := range stmts {
		prepared, err := s.db.PrepareContext(ctx, st.sql)
		if err != nil {
			return fmt.Errorf("prepare statement %q: %w", st.sql, err)
		}
		*st.dst = prepared
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now()
	session.CreatedAt, session.UpdatedAt = now, now

	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}
	var key any
	if session.Key != "" {
		key = session.Key
	}
	_, err = s.stmtCreateSession.ExecContext(ctx, session.ID, key, session.AgentID, string(session.Channel), session.ChannelID, metadata, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Session, error) {
	return scanSession(s.stmtGetSession.QueryRowContext(ctx, id))
}

func (s *SQLiteStore) GetByKey(ctx context.Context, key string) (*models.Session, error) {
	return scanSession(s.stmtGetByKey.QueryRowContext(ctx, key))
}

func (s *SQLiteStore) Update(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}
	session.UpdatedAt = time.Now()
	var key any
	if session.Key != "" {
		key = session.Key
	}
	res, err := s.stmtUpdateSession.ExecContext(ctx, key, session.AgentID, string(session.Channel), session.ChannelID, metadata, session.UpdatedAt, session.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New("session not found")
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.stmtDeleteSession.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New("session not found")
	}
	return nil
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, key string, agentID string, channel models.ChannelType, channelID string) (*models.Session, error) {
	if existing, err := s.GetByKey(ctx, key); err == nil {
		return existing, nil
	}
	session := &models.Session{
		Key:       key,
		AgentID:   agentID,
		Channel:   channel,
		ChannelID: channelID,
	}
	if err := s.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SQLiteStore) List(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error) {
	query := `SELECT id, key, agent_id, channel, channel_id, metadata, created_at, updated_at FROM sessions WHERE agent_id = ?`
	args := []any{agentID}
	if opts.Channel != "" {
		query += ` AND channel = ?`
		args = append(args, string(opts.Channel))
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []*models.Session{}
	for rows.Next() {
		session, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	toolResults, err := json.Marshal(msg.ToolResults)
	if err != nil {
		return fmt.Errorf("marshal tool results: %w", err)
	}
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("marshal message metadata: %w", err)
	}

	_, err = s.stmtAppendMessage.ExecContext(ctx,
		msg.ID, sessionID, string(msg.Role), msg.Content,
		toolCalls, toolResults, attachments, metadata,
		sessionID, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = maxMessagesPerSession
	}
	rows, err := s.stmtGetHistory.QueryContext(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer rows.Close()

	// Rows arrive newest-first (to make LIMIT cheap on a large history);
	// reverse them back into chronological order for the Context Builder.
	var reversed []*models.Message
	for rows.Next() {
		msg, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		reversed = append(reversed, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*models.Message, len(reversed))
	for i, msg := range reversed {
		out[len(reversed)-1-i] = msg
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	session, err := scanSessionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.New("session not found")
	}
	return session, err
}

func scanSessionRow(row rowScanner) (*models.Session, error) {
	var session models.Session
	var key sql.NullString
	var channel string
	var metadata []byte
	if err := row.Scan(&session.ID, &key, &session.AgentID, &channel, &session.ChannelID, &metadata, &session.CreatedAt, &session.UpdatedAt); err != nil {
		return nil, err
	}
	session.Key = key.String
	session.Channel = models.ChannelType(channel)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &session.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal session metadata: %w", err)
		}
	}
	return &session, nil
}

func scanMessageRow(row rowScanner) (*models.Message, error) {
	var msg models.Message
	var role string
	var toolCalls, toolResults, attachments, metadata []byte
	if err := row.Scan(&msg.ID, &role, &msg.Content, &toolCalls, &toolResults, &attachments, &metadata, &msg.CreatedAt); err != nil {
		return nil, err
	}
	msg.Role = models.Role(role)
	if len(toolCalls) > 0 {
		if err := json.Unmarshal(toolCalls, &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("unmarshal tool calls: %w", err)
		}
	}
	if len(toolResults) > 0 {
		if err := json.Unmarshal(toolResults, &msg.ToolResults); err != nil {
			return nil, fmt.Errorf("unmarshal tool results: %w", err)
		}
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal message metadata: %w", err)
		}
	}
	return &msg, nil
}
