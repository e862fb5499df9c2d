package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/squadup-relay/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New opens the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests that need a custom schema or seed data.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== MessageStore implementation ====

// SaveMessage persists a message to storage.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Type == "" {
		msg.Type = store.MessageTypeText
	}

	query := `
		INSERT INTO messages (id, room_id, user_id, content, type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, msg.ID, msg.RoomID, msg.UserID, msg.Content, string(msg.Type), msg.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages retrieves the newest limit messages of a room in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID string, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	// rowid follows insertion order, which is also creation order.
	query := `
		SELECT m.id, m.room_id, m.user_id, m.content, m.type, m.created_at,
		       COALESCE(p.display_name, ''), COALESCE(p.username, ''), p.user_id IS NOT NULL
		FROM messages m
		LEFT JOIN profiles p ON p.user_id = m.user_id
		WHERE m.room_id = ?
		ORDER BY m.rowid DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var (
			msg         store.Message
			userID      sql.NullString
			msgType     string
			displayName string
			username    string
			hasProfile  bool
		)
		if err := rows.Scan(&msg.ID, &msg.RoomID, &userID, &msg.Content, &msgType, &msg.CreatedAt, &displayName, &username, &hasProfile); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Type = store.MessageType(msgType)
		switch {
		case !userID.Valid:
			msg.Username = store.SystemUsername
		case hasProfile:
			msg.UserID = &userID.String
			msg.Username = (&store.Profile{DisplayName: displayName, Username: username}).Name()
		default:
			msg.UserID = &userID.String
			msg.Username = store.UnknownUsername
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ==== ProfileStore implementation ====

// UpsertProfile creates or replaces a user's profile.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, p *store.Profile) error {
	p.UpdatedAt = time.Now().UTC()
	query := `
		INSERT INTO profiles (user_id, username, display_name, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, p.UserID, p.Username, p.DisplayName, p.UpdatedAt); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// GetProfile retrieves a profile by user id.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*store.Profile, error) {
	query := `
		SELECT user_id, username, display_name, updated_at
		FROM profiles
		WHERE user_id = ?
	`
	var p store.Profile
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&p.UserID, &p.Username, &p.DisplayName, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile %s: %w", userID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query profile: %w", err)
	}
	return &p, nil
}

// ==== ParticipantStore implementation ====

// AddParticipant records a user as a room participant. Adding twice is a no-op.
func (s *SQLiteStore) AddParticipant(ctx context.Context, roomID, userID string) error {
	query := `INSERT OR IGNORE INTO room_participants (room_id, user_id, joined_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, roomID, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// RemoveParticipant deletes a participant record. Removing an absent one is a no-op.
func (s *SQLiteStore) RemoveParticipant(ctx context.Context, roomID, userID string) error {
	query := `DELETE FROM room_participants WHERE room_id = ? AND user_id = ?`
	if _, err := s.db.ExecContext(ctx, query, roomID, userID); err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}
	return nil
}

// IsParticipant checks if a user is a participant of the room.
func (s *SQLiteStore) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM room_participants WHERE room_id = ? AND user_id = ?)`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, roomID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return exists, nil
}

// ListParticipants returns participant user ids in join order.
func (s *SQLiteStore) ListParticipants(ctx context.Context, roomID string) ([]string, error) {
	query := `SELECT user_id FROM room_participants WHERE room_id = ? ORDER BY rowid`
	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
