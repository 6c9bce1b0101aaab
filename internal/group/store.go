// Package group provides PostgreSQL-backed access to travel group
// memberships. The chat daemon consults it before relaying or persisting any
// event: only members may post, only admins may delete.
package group

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Membership roles, matching the CHECK constraint on the memberships table.
const (
	RoleMember = "MEMBER"
	RoleAdmin  = "ADMIN"
)

// Store manages group memberships in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a membership store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// IsMember reports whether the user belongs to the group in any role.
func (s *Store) IsMember(ctx context.Context, groupID, userID int64) (bool, error) {
	const query = `
		SELECT 1
		FROM memberships
		WHERE group_id = $1 AND user_id = $2`

	var one int
	err := s.db.QueryRowContext(ctx, query, groupID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("group: membership check: %w", err)
	}
	return true, nil
}

// IsAdmin reports whether the user holds the admin role in the group.
func (s *Store) IsAdmin(ctx context.Context, groupID, userID int64) (bool, error) {
	const query = `
		SELECT 1
		FROM memberships
		WHERE group_id = $1 AND user_id = $2 AND role = $3`

	var one int
	err := s.db.QueryRowContext(ctx, query, groupID, userID, RoleAdmin).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("group: admin check: %w", err)
	}
	return true, nil
}

// Add inserts or updates a membership. Used by the group service and tests.
func (s *Store) Add(ctx context.Context, groupID, userID int64, role string) error {
	if role != RoleMember && role != RoleAdmin {
		return fmt.Errorf("group: invalid role %q", role)
	}

	const query = `
		INSERT INTO memberships (group_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO UPDATE SET role = EXCLUDED.role`

	if _, err := s.db.ExecContext(ctx, query, groupID, userID, role); err != nil {
		return fmt.Errorf("group: add membership: %w", err)
	}
	return nil
}

// Remove deletes a membership. Removing a non-member is a no-op.
func (s *Store) Remove(ctx context.Context, groupID, userID int64) error {
	const query = `
		DELETE FROM memberships
		WHERE group_id = $1 AND user_id = $2`

	if _, err := s.db.ExecContext(ctx, query, groupID, userID); err != nil {
		return fmt.Errorf("group: remove membership: %w", err)
	}
	return nil
}
