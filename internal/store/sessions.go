package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const sessionColumns = `id, channel_type, channel_id, user_id, COALESCE(metadata, ''), created_at, updated_at`

// GetOrCreateSession returns the session for the identity, creating it on
// first use. The unique identity index makes concurrent callers converge on one row.
func (s *Store) GetOrCreateSession(ctx context.Context, channelType, channelID, userID string) (*Session, bool, error) {
	sess, err := s.GetSessionByIdentity(ctx, channelType, channelID, userID)
	if err == nil {
		return sess, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx, `INSERT INTO sessions (id, channel_type, channel_id, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_type, channel_id, user_id) DO NOTHING`,
		newID(), channelType, channelID, userID, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}
	n, _ := res.RowsAffected()
	sess, err = s.GetSessionByIdentity(ctx, channelType, channelID, userID)
	if err != nil {
		return nil, false, err
	}
	return sess, n > 0, nil
}

// GetSession returns a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// GetSessionByIdentity returns the session for (channelType, channelID, userID).
func (s *Store) GetSessionByIdentity(ctx context.Context, channelType, channelID, userID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE channel_type = ? AND channel_id = ? AND user_id = ?`, channelType, channelID, userID)
	return scanSession(row)
}

// ListSessions returns sessions ordered by most recent activity.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		ORDER BY updated_at DESC, rowid DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*Session, error) {
	var sess Session
	var meta string
	err := r.Scan(&sess.ID, &sess.ChannelType, &sess.ChannelID, &sess.UserID, &meta, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if meta != "" {
		sess.Metadata = []byte(meta)
	}
	return &sess, nil
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// AddMessage appends a message to a session and bumps its updated_at.
func (s *Store) AddMessage(ctx context.Context, sessionID, role, content string) (*Message, error) {
	msg := &Message{
		ID:        newID(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: s.now(),
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}
	_, _ = s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, msg.CreatedAt, sessionID)
	return msg, nil
}

// ListMessages returns the most recent limit messages of a session in
// chronological order. limit <= 0 means 100.
func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, role, content, created_at FROM messages
		WHERE session_id = ? ORDER BY rowid DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
