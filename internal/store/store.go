package store

import (
	"context"
	"errors"
	"time"
)

// MessageType classifies persisted messages.
type MessageType string

const (
	MessageTypeText         MessageType = "text"
	MessageTypeSystem       MessageType = "system"
	MessageTypeNotification MessageType = "notification"
)

const (
	// SystemUsername is shown for messages without a sender.
	SystemUsername = "Sistema"
	// UnknownUsername is shown when the sender has no profile.
	UnknownUsername = "Usuario"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Message represents a persisted chat message.
type Message struct {
	ID        string
	RoomID    string
	UserID    *string // nil for system messages
	Username  string  // resolved display name, not stored on the row
	Content   string
	Type      MessageType
	CreatedAt time.Time
}

// Profile holds a user's display identity.
type Profile struct {
	UserID      string
	Username    string
	DisplayName string
	UpdatedAt   time.Time
}

// Name returns the name shown next to the user's messages.
func (p *Profile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if p.Username != "" {
		return p.Username
	}
	return UnknownUsername
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message, assigning ID and CreatedAt when empty.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListMessages returns the newest limit messages of a room, oldest first.
	ListMessages(ctx context.Context, roomID string, limit int) ([]*Message, error)
}

// ProfileStore handles display name resolution.
type ProfileStore interface {
	// UpsertProfile creates or replaces a user's profile.
	UpsertProfile(ctx context.Context, p *Profile) error

	// GetProfile returns ErrNotFound when the user has no profile.
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

// ParticipantStore records durable room participants. This is not the relay's
// transient membership.
type ParticipantStore interface {
	AddParticipant(ctx context.Context, roomID, userID string) error
	RemoveParticipant(ctx context.Context, roomID, userID string) error
	IsParticipant(ctx context.Context, roomID, userID string) (bool, error)
	ListParticipants(ctx context.Context, roomID string) ([]string, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	MessageStore
	ProfileStore
	ParticipantStore

	// Close closes the underlying database connection.
	Close() error
}
