package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/squadup-relay/internal/store"
)

// Common errors for message operations.
var (
	ErrEmptyContent   = errors.New("message content is empty")
	ErrContentTooLong = errors.New("message content is too long")
	ErrNotParticipant = errors.New("user is not a participant of the room")
	ErrRoomRequired   = errors.New("room id is required")
)

// Publisher receives every message after it is stored.
type Publisher interface {
	Publish(msg *store.Message)
}

// Options bound what the service accepts and returns.
type Options struct {
	HistoryLimit     int
	MaxMessageLength int
}

// Service persists chat messages and notifies realtime subscribers.
type Service struct {
	store     store.Store
	publisher Publisher
	opts      Options
	log       *zerolog.Logger
}

// New creates a new message service.
func New(st store.Store, publisher Publisher, opts Options, logger *zerolog.Logger) *Service {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = 500
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{
		store:     st,
		publisher: publisher,
		opts:      opts,
		log:       logger,
	}
}

// FetchHistory returns the latest messages of a room, oldest first.
func (s *Service) FetchHistory(ctx context.Context, roomID string) ([]*store.Message, error) {
	if roomID == "" {
		return nil, ErrRoomRequired
	}
	msgs, err := s.store.ListMessages(ctx, roomID, s.opts.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// Persist stores a text message from a room participant and publishes it.
func (s *Service) Persist(ctx context.Context, roomID, userID, content string) (*store.Message, error) {
	if roomID == "" {
		return nil, ErrRoomRequired
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > s.opts.MaxMessageLength {
		return nil, ErrContentTooLong
	}

	ok, err := s.store.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return nil, fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return nil, ErrNotParticipant
	}

	msg := &store.Message{
		RoomID:  roomID,
		UserID:  &userID,
		Content: content,
		Type:    store.MessageTypeText,
	}
	msg.Username, err = s.displayName(ctx, userID)
	if err != nil {
		return nil, err
	}

	return s.save(ctx, msg)
}

// PersistSystem stores a message without a sender, e.g. "X joined the room".
func (s *Service) PersistSystem(ctx context.Context, roomID, content string) (*store.Message, error) {
	if roomID == "" {
		return nil, ErrRoomRequired
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	return s.save(ctx, &store.Message{
		RoomID:   roomID,
		Content:  content,
		Type:     store.MessageTypeSystem,
		Username: store.SystemUsername,
	})
}

// Join records the user as a durable room participant and announces it.
func (s *Service) Join(ctx context.Context, roomID, userID string) error {
	if roomID == "" {
		return ErrRoomRequired
	}
	already, err := s.store.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if already {
		return nil
	}
	if err := s.store.AddParticipant(ctx, roomID, userID); err != nil {
		return fmt.Errorf("add participant: %w", err)
	}

	name, err := s.displayName(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := s.PersistSystem(ctx, roomID, name+" se unió a la sala"); err != nil {
		s.log.Warn().Err(err).Str("room", roomID).Msg("failed to announce join")
	}
	return nil
}

// Leave removes the durable participant record and announces it.
func (s *Service) Leave(ctx context.Context, roomID, userID string) error {
	if roomID == "" {
		return ErrRoomRequired
	}
	was, err := s.store.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !was {
		return nil
	}
	if err := s.store.RemoveParticipant(ctx, roomID, userID); err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}

	name, err := s.displayName(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := s.PersistSystem(ctx, roomID, name+" salió de la sala"); err != nil {
		s.log.Warn().Err(err).Str("room", roomID).Msg("failed to announce leave")
	}
	return nil
}

// SetProfile stores the user's names.
func (s *Service) SetProfile(ctx context.Context, userID, username, displayName string) (*store.Profile, error) {
	p := &store.Profile{
		UserID:      userID,
		Username:    strings.TrimSpace(username),
		DisplayName: strings.TrimSpace(displayName),
	}
	if err := s.store.UpsertProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("upsert profile: %w", err)
	}
	return p, nil
}

func (s *Service) save(ctx context.Context, msg *store.Message) (*store.Message, error) {
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	if s.publisher != nil {
		s.publisher.Publish(msg)
	}
	return msg, nil
}

func (s *Service) displayName(ctx context.Context, userID string) (string, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.UnknownUsername, nil
		}
		return "", fmt.Errorf("get profile: %w", err)
	}
	return p.Name(), nil
}
