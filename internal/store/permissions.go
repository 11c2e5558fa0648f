package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const permissionColumns = `id, channel_type, channel_id, user_id, domain, level, created_at`

// SetPermission inserts the rule, or updates the level of the existing rule
// with the same channel, user and domain.
func (s *Store) SetPermission(ctx context.Context, rule PermissionRule) (*PermissionRule, error) {
	rule.UserID = strings.TrimSpace(rule.UserID)
	if rule.ChannelType == "" || rule.ChannelID == "" || rule.Domain == "" {
		return nil, fmt.Errorf("set permission: channel type, channel id and domain are required")
	}
	if rule.ID == "" {
		rule.ID = newID()
	}
	rule.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO permissions (`+permissionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_type, channel_id, user_id, domain) DO UPDATE SET level = excluded.level`,
		rule.ID, rule.ChannelType, rule.ChannelID, rule.UserID, rule.Domain, rule.Level, rule.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("set permission: %w", err)
	}
	return s.findPermission(ctx, rule.ChannelType, rule.ChannelID, rule.UserID, rule.Domain)
}

// GetPermission resolves the rule for an identity and domain: a user-scoped
// rule wins, otherwise the channel-scoped rule applies. ErrNotFound when neither exists.
func (s *Store) GetPermission(ctx context.Context, channelType, channelID, userID, domain string) (*PermissionRule, error) {
	if userID != "" {
		rule, err := s.findPermission(ctx, channelType, channelID, userID, domain)
		if err == nil {
			return rule, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return s.findPermission(ctx, channelType, channelID, "", domain)
}

func (s *Store) findPermission(ctx context.Context, channelType, channelID, userID, domain string) (*PermissionRule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+permissionColumns+` FROM permissions
		WHERE channel_type = ? AND channel_id = ? AND user_id = ? AND domain = ?`,
		channelType, channelID, userID, domain)
	var r PermissionRule
	err := row.Scan(&r.ID, &r.ChannelType, &r.ChannelID, &r.UserID, &r.Domain, &r.Level, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListPermissions returns all rules grouped by channel.
func (s *Store) ListPermissions(ctx context.Context) ([]PermissionRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+permissionColumns+` FROM permissions
		ORDER BY channel_type, channel_id, user_id, domain`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PermissionRule
	for rows.Next() {
		var r PermissionRule
		if err := rows.Scan(&r.ID, &r.ChannelType, &r.ChannelID, &r.UserID, &r.Domain, &r.Level, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeletePermission removes a rule by id.
func (s *Store) DeletePermission(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM permissions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
