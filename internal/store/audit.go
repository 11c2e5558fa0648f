package store

import (
	"context"
	"fmt"
	"strings"
)

// AppendAudit writes an audit entry. ID and CreatedAt are filled in when empty.
func (s *Store) AppendAudit(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_log (
			id, session_id, channel_type, channel_id, user_id, domain, operation,
			input, output, permission_level, confirmation_required, confirmed, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullIfEmpty(e.SessionID), e.ChannelType, e.ChannelID, e.UserID, e.Domain, e.Operation,
		nullIfEmpty(string(e.Input)), nullIfEmpty(string(e.Output)),
		e.PermissionLevel, e.ConfirmationRequired, e.Confirmed, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// ListAudit returns audit entries, newest first.
func (s *Store) ListAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	var where []string
	var args []any
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Domain != "" {
		where = append(where, "domain = ?")
		args = append(args, f.Domain)
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	query := `SELECT id, COALESCE(session_id, ''), channel_type, channel_id, user_id, domain, operation,
		COALESCE(input, ''), COALESCE(output, ''), permission_level, confirmation_required, confirmed, created_at
		FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var input, output string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ChannelType, &e.ChannelID, &e.UserID, &e.Domain, &e.Operation,
			&input, &output, &e.PermissionLevel, &e.ConfirmationRequired, &e.Confirmed, &e.CreatedAt); err != nil {
			return nil, err
		}
		if input != "" {
			e.Input = []byte(input)
		}
		if output != "" {
			e.Output = []byte(output)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
