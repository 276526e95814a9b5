// Package notify implements the push-notification webhooks: row lookups in
// the application database followed by FCM sends.
package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/zatomos/krab-relay/internal/config"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a single-row lookup matches nothing
var ErrNotFound = errors.New("record not found")

// Image is the subset of an Images row the webhooks need
type Image struct {
	UploadedBy  string
	Description string
}

// Store performs the webhook lookups
type Store interface {
	GroupName(ctx context.Context, groupID string) (string, error)
	Image(ctx context.Context, imageID string) (Image, error)
	Username(ctx context.Context, userID string) (string, error)
	GroupMembers(ctx context.Context, groupID string) ([]string, error)
	// FCMTokens returns the non-empty tokens of the given users
	FCMTokens(ctx context.Context, userIDs []string) ([]string, error)
	// FCMToken returns "" when the user has no token
	FCMToken(ctx context.Context, userID string) (string, error)
}

// Schema creates the tables the webhooks read. Used for SQLite databases.
const Schema = `
CREATE TABLE IF NOT EXISTS "Users" (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	fcm_token TEXT
);
CREATE TABLE IF NOT EXISTS "Groups" (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS "Members" (
	group_id TEXT NOT NULL REFERENCES "Groups"(id),
	user_id TEXT NOT NULL REFERENCES "Users"(id),
	PRIMARY KEY (group_id, user_id)
);
CREATE TABLE IF NOT EXISTS "Images" (
	id TEXT PRIMARY KEY,
	uploaded_by TEXT NOT NULL REFERENCES "Users"(id),
	description TEXT
);
`

// OpenDB opens the configured database
func OpenDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	driver, err := driverName(cfg.Type)
	if err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	db, err := sql.Open(driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func driverName(dbType string) (string, error) {
	switch dbType {
	case "postgres", "":
		return "postgres", nil
	case "sqlite":
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// SQLStore reads the application tables through database/sql
type SQLStore struct {
	db       *sql.DB
	postgres bool
}

// NewSQLStore wraps db. dbType selects the placeholder style.
func NewSQLStore(db *sql.DB, dbType string) *SQLStore {
	return &SQLStore{db: db, postgres: dbType != "sqlite"}
}

// EnsureSchema creates the tables when missing
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) placeholder(n int) string {
	if s.postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) GroupName(ctx context.Context, groupID string) (string, error) {
	var name string
	query := `SELECT name FROM "Groups" WHERE id = ` + s.placeholder(1)
	if err := s.db.QueryRowContext(ctx, query, groupID).Scan(&name); err != nil {
		return "", lookupError("group", groupID, err)
	}
	return name, nil
}

func (s *SQLStore) Image(ctx context.Context, imageID string) (Image, error) {
	var (
		img         Image
		description sql.NullString
	)
	query := `SELECT uploaded_by, description FROM "Images" WHERE id = ` + s.placeholder(1)
	if err := s.db.QueryRowContext(ctx, query, imageID).Scan(&img.UploadedBy, &description); err != nil {
		return Image{}, lookupError("image", imageID, err)
	}
	img.Description = description.String
	return img, nil
}

func (s *SQLStore) Username(ctx context.Context, userID string) (string, error) {
	var name string
	query := `SELECT username FROM "Users" WHERE id = ` + s.placeholder(1)
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&name); err != nil {
		return "", lookupError("user", userID, err)
	}
	return name, nil
}

func (s *SQLStore) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	query := `SELECT user_id FROM "Members" WHERE group_id = ` + s.placeholder(1)
	rows, err := s.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members of group %s: %w", groupID, err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

func (s *SQLStore) FCMTokens(ctx context.Context, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	marks := make([]string, len(userIDs))
	args := make([]interface{}, len(userIDs))
	for i, id := range userIDs {
		marks[i] = s.placeholder(i + 1)
		args[i] = id
	}

	query := `SELECT fcm_token FROM "Users" WHERE id IN (` + strings.Join(marks, ", ") + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query FCM tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token sql.NullString
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("failed to scan FCM token: %w", err)
		}
		if token.Valid && token.String != "" {
			tokens = append(tokens, token.String)
		}
	}
	return tokens, rows.Err()
}

func (s *SQLStore) FCMToken(ctx context.Context, userID string) (string, error) {
	var token sql.NullString
	query := `SELECT fcm_token FROM "Users" WHERE id = ` + s.placeholder(1)
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&token); err != nil {
		return "", lookupError("user", userID, err)
	}
	return token.String, nil
}

func lookupError(kind, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return fmt.Errorf("failed to look up %s %s: %w", kind, id, err)
}
