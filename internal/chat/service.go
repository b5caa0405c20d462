package chat

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"taskroom/api/internal/logging"
	"taskroom/api/internal/store"
)

// MessageStore is the slice of persistence the chat service needs.
type MessageStore interface {
	InsertMessage(ctx context.Context, m store.ChatMessage) (store.ChatMessage, error)
	GetMessage(ctx context.Context, id int64) (store.ChatMessage, error)
	UpdateMessageContent(ctx context.Context, id int64, content string) (store.ChatMessage, error)
	SoftDeleteMessage(ctx context.Context, id int64) error
}

// MembershipOracle answers whether a user holds an approved membership
// in a project.
type MembershipOracle interface {
	IsApprovedMember(ctx context.Context, projectID, userID string) (bool, error)
}

// roomBroadcaster is the slice of the hub the service uses.
type roomBroadcaster interface {
	JoinRoom(c *Client, projectID string)
	Broadcast(projectID string, event any, excludeID string)
}

// MessageIndex mirrors persisted messages into the search backend.
// Implementations must not block; indexing is best effort.
type MessageIndex interface {
	IndexChatMessage(m store.ChatMessage)
	RemoveChatMessage(id int64)
}

// Config tunes the chat service. Zero values fall back to defaults.
type Config struct {
	RateWindow   time.Duration
	RateMax      int
	TypingTTL    time.Duration
	StoreTimeout time.Duration
}

const (
	defaultRateWindow   = 10 * time.Second
	defaultRateMax      = 5
	defaultTypingTTL    = 3 * time.Second
	defaultStoreTimeout = 5 * time.Second
)

// Service implements the chat session protocol: joins gated on
// approved membership, rate-limited sends, typing presence, and
// owner-only edits and deletes. Every rejection goes back to the
// offending connection alone as an error event; the room never sees
// failed attempts.
type Service struct {
	rooms        roomBroadcaster
	messages     MessageStore
	members      MembershipOracle
	limiter      *Limiter
	typing       *Tracker
	index        MessageIndex
	storeTimeout time.Duration
	log          zerolog.Logger
}

func NewService(rooms roomBroadcaster, messages MessageStore, members MembershipOracle, cfg Config) *Service {
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = defaultRateWindow
	}
	if cfg.RateMax <= 0 {
		cfg.RateMax = defaultRateMax
	}
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = defaultTypingTTL
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}

	s := &Service{
		rooms:        rooms,
		messages:     messages,
		members:      members,
		limiter:      NewLimiter(cfg.RateWindow, cfg.RateMax),
		storeTimeout: cfg.StoreTimeout,
		log:          logging.L().With().Str("component", "chat").Logger(),
	}
	s.typing = NewTracker(cfg.TypingTTL, func(projectID, userID string) {
		rooms.Broadcast(projectID, TypingEvent{Type: EventUserStoppedTyping, UserID: userID}, "")
	})
	return s
}

// WithIndex attaches a search index fed on message writes.
func (s *Service) WithIndex(index MessageIndex) *Service {
	s.index = index
	return s
}

// HandleJoin admits the connection into a project room after a
// membership check and announces it to the peers already there.
func (s *Service) HandleJoin(ctx context.Context, c *Client, p JoinPayload) {
	if p.ProjectID == "" || p.UserID == "" || p.UserName == "" {
		s.sendError(c, ErrCodeValidation, "projectId, userId and userName are required")
		return
	}

	ok, err := s.isApprovedMember(ctx, p.ProjectID, p.UserID)
	if err != nil {
		s.log.Error().Err(err).Str("projectId", p.ProjectID).Str("userId", p.UserID).Msg("membership check failed")
		s.sendError(c, ErrCodePersistence, "could not verify project membership")
		return
	}
	if !ok {
		s.sendError(c, ErrCodeForbidden, "not an approved member of this project")
		return
	}

	c.setRoom(p.ProjectID, p.UserID, p.UserName)
	s.rooms.JoinRoom(c, p.ProjectID)
	s.rooms.Broadcast(p.ProjectID, PresenceEvent{
		Type:      EventUserJoined,
		UserID:    p.UserID,
		UserName:  p.UserName,
		Timestamp: time.Now().UTC(),
	}, c.ID)
	s.log.Info().Str("projectId", p.ProjectID).Str("userId", p.UserID).Msg("user joined chat")
}

// HandleSend runs the full send pipeline: rate limit, content
// validation, membership re-check, reply snapshot, persist, broadcast.
// The checks short-circuit in that order and a failing message leaves
// no trace in the store or the room.
func (s *Service) HandleSend(ctx context.Context, c *Client, p SendPayload) {
	if !c.InRoom() {
		s.sendError(c, ErrCodeNotInRoom, "join a project chat before sending messages")
		return
	}
	if !s.limiter.Allow(c.userID) {
		s.sendError(c, ErrCodeRateLimited, "sending too fast, slow down")
		return
	}

	content := strings.TrimSpace(p.MessageContent)
	if content == "" {
		s.sendError(c, ErrCodeValidation, "message content must not be empty")
		return
	}

	ok, err := s.isApprovedMember(ctx, c.projectID, c.userID)
	if err != nil {
		s.log.Error().Err(err).Str("projectId", c.projectID).Str("userId", c.userID).Msg("membership check failed")
		s.sendError(c, ErrCodePersistence, "could not verify project membership")
		return
	}
	if !ok {
		s.sendError(c, ErrCodeForbidden, "not an approved member of this project")
		return
	}

	msg := store.ChatMessage{
		ProjectID:  c.projectID,
		SenderID:   c.userID,
		SenderName: c.userName,
		Content:    content,
	}
	if p.ReplyToMessageID != nil {
		// Snapshot, not reference: the reply target's name and content
		// are copied so later edits or deletes cannot blank the quote.
		// A missing target just produces a non-reply message.
		target, err := s.getMessage(ctx, *p.ReplyToMessageID)
		switch {
		case err == nil:
			msg.ReplyToMessageID = &target.ID
			msg.ReplyToUserName = &target.SenderName
			msg.ReplyToContent = &target.Content
		case errors.Is(err, sql.ErrNoRows):
			s.log.Debug().Int64("replyTo", *p.ReplyToMessageID).Msg("reply target missing, sending without snapshot")
		default:
			s.log.Error().Err(err).Int64("replyTo", *p.ReplyToMessageID).Msg("reply target lookup failed")
			s.sendError(c, ErrCodePersistence, "could not load reply target")
			return
		}
	}

	saved, err := s.insertMessage(ctx, msg)
	if err != nil {
		s.log.Error().Err(err).Str("projectId", c.projectID).Msg("persist message failed")
		s.sendError(c, ErrCodePersistence, "could not save message")
		return
	}

	// The sender gets the broadcast too; that echo is the delivery ack.
	s.rooms.Broadcast(c.projectID, MessageEvent{Type: EventNewMessage, Message: saved}, "")
	if s.index != nil {
		s.index.IndexChatMessage(saved)
	}

	if s.typing.Clear(c.projectID, c.userID) {
		s.rooms.Broadcast(c.projectID, TypingEvent{Type: EventUserStoppedTyping, UserID: c.userID}, c.ID)
	}
}

// HandleTyping refreshes the user's typing presence. Only the
// transition into typing is broadcast; keystroke-driven repeats just
// extend the expiry quietly.
func (s *Service) HandleTyping(ctx context.Context, c *Client, p TypingPayload) {
	if !c.InRoom() {
		s.sendError(c, ErrCodeNotInRoom, "join a project chat first")
		return
	}
	if s.typing.Set(c.projectID, c.userID) {
		s.rooms.Broadcast(c.projectID, TypingEvent{Type: EventUserTyping, UserID: c.userID, UserName: c.userName}, c.ID)
	}
}

func (s *Service) HandleStopTyping(ctx context.Context, c *Client, p StopTypingPayload) {
	if !c.InRoom() {
		s.sendError(c, ErrCodeNotInRoom, "join a project chat first")
		return
	}
	if s.typing.Clear(c.projectID, c.userID) {
		s.rooms.Broadcast(c.projectID, TypingEvent{Type: EventUserStoppedTyping, UserID: c.userID}, c.ID)
	}
}

// HandleEdit rewrites a message's content. Only the original sender
// may edit, and the full updated row is broadcast so every peer
// renders the same state.
func (s *Service) HandleEdit(ctx context.Context, c *Client, p EditPayload) {
	if !c.InRoom() {
		s.sendError(c, ErrCodeNotInRoom, "join a project chat first")
		return
	}

	msg, err := s.getMessage(ctx, p.MessageID)
	if errors.Is(err, sql.ErrNoRows) {
		s.sendError(c, ErrCodeNotFound, "message not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Int64("messageId", p.MessageID).Msg("load message failed")
		s.sendError(c, ErrCodePersistence, "could not load message")
		return
	}
	// Messages outside the connection's room look absent, not forbidden.
	if msg.ProjectID != c.projectID {
		s.sendError(c, ErrCodeNotFound, "message not found")
		return
	}
	if msg.SenderID != c.userID {
		s.sendError(c, ErrCodeForbidden, "only the sender can edit a message")
		return
	}

	content := strings.TrimSpace(p.MessageContent)
	if content == "" {
		s.sendError(c, ErrCodeValidation, "message content must not be empty")
		return
	}

	updated, err := s.updateMessageContent(ctx, p.MessageID, content)
	if err != nil {
		s.log.Error().Err(err).Int64("messageId", p.MessageID).Msg("edit message failed")
		s.sendError(c, ErrCodePersistence, "could not edit message")
		return
	}
	s.rooms.Broadcast(c.projectID, MessageEvent{Type: EventMessageEdited, Message: updated}, "")
	if s.index != nil {
		s.index.IndexChatMessage(updated)
	}
}

// HandleDelete soft-deletes a message after the same ownership check
// as edits. Peers only ever learn the ID of the removed message.
func (s *Service) HandleDelete(ctx context.Context, c *Client, p DeletePayload) {
	if !c.InRoom() {
		s.sendError(c, ErrCodeNotInRoom, "join a project chat first")
		return
	}

	msg, err := s.getMessage(ctx, p.MessageID)
	if errors.Is(err, sql.ErrNoRows) {
		s.sendError(c, ErrCodeNotFound, "message not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Int64("messageId", p.MessageID).Msg("load message failed")
		s.sendError(c, ErrCodePersistence, "could not load message")
		return
	}
	if msg.ProjectID != c.projectID {
		s.sendError(c, ErrCodeNotFound, "message not found")
		return
	}
	if msg.SenderID != c.userID {
		s.sendError(c, ErrCodeForbidden, "only the sender can delete a message")
		return
	}

	if err := s.softDeleteMessage(ctx, p.MessageID); err != nil {
		s.log.Error().Err(err).Int64("messageId", p.MessageID).Msg("delete message failed")
		s.sendError(c, ErrCodePersistence, "could not delete message")
		return
	}
	s.rooms.Broadcast(c.projectID, MessageDeletedEvent{Type: EventMessageDeleted, MessageID: p.MessageID}, "")
	if s.index != nil {
		s.index.RemoveChatMessage(p.MessageID)
	}
}

// HandleDisconnect clears the connection's typing state and announces
// the departure. Hub unregistration happens in the read pump.
func (s *Service) HandleDisconnect(c *Client) {
	if !c.InRoom() {
		return
	}
	if s.typing.Clear(c.projectID, c.userID) {
		s.rooms.Broadcast(c.projectID, TypingEvent{Type: EventUserStoppedTyping, UserID: c.userID}, c.ID)
	}
	s.rooms.Broadcast(c.projectID, PresenceEvent{
		Type:      EventUserLeft,
		UserID:    c.userID,
		UserName:  c.userName,
		Timestamp: time.Now().UTC(),
	}, c.ID)
	s.log.Info().Str("projectId", c.projectID).Str("userId", c.userID).Msg("user left chat")
}

func (s *Service) sendError(c *Client, code, message string) {
	if err := c.SendEvent(NewErrorEvent(code, message)); err != nil {
		s.log.Error().Err(err).Str("clientId", c.ID).Msg("send error event failed")
	}
}

func (s *Service) isApprovedMember(ctx context.Context, projectID, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.members.IsApprovedMember(ctx, projectID, userID)
}

func (s *Service) getMessage(ctx context.Context, id int64) (store.ChatMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.messages.GetMessage(ctx, id)
}

func (s *Service) insertMessage(ctx context.Context, m store.ChatMessage) (store.ChatMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.messages.InsertMessage(ctx, m)
}

func (s *Service) updateMessageContent(ctx context.Context, id int64, content string) (store.ChatMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.messages.UpdateMessageContent(ctx, id, content)
}

func (s *Service) softDeleteMessage(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.messages.SoftDeleteMessage(ctx, id)
}
