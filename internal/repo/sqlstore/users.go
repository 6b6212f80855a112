package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/conduit-lang/webscript/internal/repo"
	"github.com/conduit-lang/webscript/internal/security"
)

// ErrAuthentication is returned for unknown users or wrong passwords
var ErrAuthentication = errors.New("authentication failed")

// CreateUser adds a user with a bcrypt hashed password
func (s *Store) CreateUser(ctx context.Context, username, password string, admin bool) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	hash, err := security.HashPassword(password)
	if err != nil {
		return err
	}
	if _, err := s.exec(ctx, `DELETE FROM ws_users WHERE username = ?`, username); err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO ws_users (username, password_hash, admin) VALUES (?, ?, ?)`, username, hash, admin)
	if err != nil {
		return fmt.Errorf("failed to create user %s: %w", username, err)
	}
	return nil
}

// Authenticate verifies a username and password
func (s *Store) Authenticate(ctx context.Context, username, password string) error {
	var hash string
	err := s.queryRow(ctx, `SELECT password_hash FROM ws_users WHERE username = ?`, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAuthentication
	}
	if err != nil {
		return fmt.Errorf("failed to load user %s: %w", username, err)
	}
	if !security.CheckPassword(password, hash) {
		return ErrAuthentication
	}
	return nil
}

// UserExists reports whether a user is known
func (s *Store) UserExists(ctx context.Context, username string) (bool, error) {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM ws_users WHERE username = ?`, username).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// IsAdmin reports whether a user holds administrative authority
func (s *Store) IsAdmin(ctx context.Context, username string) (bool, error) {
	var admin bool
	err := s.queryRow(ctx, `SELECT admin FROM ws_users WHERE username = ?`, username).Scan(&admin)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return admin, nil
}

// IsGuest reports whether the username is the guest account
func (s *Store) IsGuest(username string) bool {
	return username == repo.UserGuest
}

// GetAuthorities returns the authorities held by a user
func (s *Store) GetAuthorities(ctx context.Context, username string) ([]string, error) {
	authorities := []string{username, repo.AuthorityEveryone}
	admin, err := s.IsAdmin(ctx, username)
	if err != nil {
		return nil, err
	}
	if admin {
		authorities = append(authorities, repo.AuthorityAdmins)
	}
	return authorities, nil
}
