// Package delivery persists outgoing messages and fans them out to live
// connections.
package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatrelay/internal/database"
	"chatrelay/internal/errs"
	"chatrelay/internal/live"
	"chatrelay/internal/models"
	"chatrelay/pkg/logger"
)

type RoomStore interface {
	FindRoom(ctx context.Context, roomID string) (*models.Room, error)
	SetLastMessage(ctx context.Context, room *models.Room, messageID string) error
}

type MessageStore interface {
	SaveMessage(ctx context.Context, msg *models.Message) error
}

type UnreadCounter interface {
	Increment(ctx context.Context, roomID string, recipientIDs []string) error
}

// RoomPath lists connections subscribed to a room.
type RoomPath interface {
	MembersOf(roomID string) []live.Conn
}

// Mailboxes lists every connection owned by a user.
type Mailboxes interface {
	ConnectionsOf(userID string) []live.Conn
}

type SendRequest struct {
	SenderID       string
	ConversationID string
	GroupID        string
	Content        string
	Attachment     *models.Attachment
}

// Receipt reports what a send did. Push counts only cover frames that were
// queued; they say nothing about what the peer received.
type Receipt struct {
	Message       *models.Message
	Recipients    []string
	RoomPushes    int
	MailboxPushes int
}

type Engine struct {
	rooms     RoomStore
	messages  MessageStore
	unread    UnreadCounter
	roomPath  RoomPath
	mailboxes Mailboxes
	now       func() time.Time
	log       zerolog.Logger
}

func NewEngine(rooms RoomStore, messages MessageStore, unread UnreadCounter, roomPath RoomPath, mailboxes Mailboxes) *Engine {
	return &Engine{
		rooms:     rooms,
		messages:  messages,
		unread:    unread,
		roomPath:  roomPath,
		mailboxes: mailboxes,
		now:       database.Now,
		log:       logger.Module("delivery"),
	}
}

func validate(req SendRequest) (roomID string, err error) {
	if req.SenderID == "" {
		return "", errs.ErrValidation.WithMessage("sender is required")
	}
	if (req.ConversationID == "") == (req.GroupID == "") {
		return "", errs.ErrMalformedTarget
	}
	if req.Content == "" && (req.Attachment == nil || req.Attachment.URL == "") {
		return "", errs.ErrMissingContent
	}
	if req.ConversationID != "" {
		return req.ConversationID, nil
	}
	return req.GroupID, nil
}

// Send stores the message and pushes it on both delivery paths. The message
// counts as sent once it is persisted: ledger and last-message failures
// after that point are logged, and pushes are best effort.
//
// The room path reaches every subscriber of the room, the sender's own
// connections included. The mailbox path reaches every connection of every
// recipient. A connection on both paths receives the frame twice and the
// consumer dedupes by message id.
func (e *Engine) Send(ctx context.Context, req SendRequest) (*Receipt, error) {
	roomID, err := validate(req)
	if err != nil {
		return nil, err
	}

	room, err := e.rooms.FindRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, errs.ErrRoomNotFound
		}
		return nil, errs.ErrStoreUnavailable.Wrap(err)
	}
	if wantKind := kindOf(req); room.Kind != wantKind {
		return nil, errs.ErrRoomNotFound.WithMessage("%s %s not found", wantKind, roomID)
	}
	if !room.HasMember(req.SenderID) {
		return nil, errs.ErrNotMember
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, errs.ErrInternal.Wrap(err)
	}
	msg := &models.Message{
		ID:             id.String(),
		SenderID:       req.SenderID,
		ConversationID: req.ConversationID,
		GroupID:        req.GroupID,
		Content:        req.Content,
		Attachment:     req.Attachment,
		CreatedAt:      e.now(),
	}
	if err := e.messages.SaveMessage(ctx, msg); err != nil {
		return nil, errs.ErrStoreUnavailable.Wrap(err)
	}

	recipients := room.Recipients(req.SenderID)
	if err := e.unread.Increment(ctx, room.ID, recipients); err != nil {
		e.log.Error().Err(err).Str("room", room.ID).Str("message", msg.ID).
			Msg("unread increment failed after message was stored")
	}
	if err := e.rooms.SetLastMessage(ctx, room, msg.ID); err != nil {
		e.log.Warn().Err(err).Str("room", room.ID).Msg("failed to update last message")
	}

	receipt := &Receipt{Message: msg, Recipients: recipients}

	frame, err := models.NewEnvelope(models.EventMessageDelivered, msg)
	if err != nil {
		e.log.Error().Err(err).Str("message", msg.ID).Msg("encode message frame")
		return receipt, nil
	}

	receipt.RoomPushes = live.PushAll(e.roomPath.MembersOf(room.ID), frame, nil)

	var mailbox []live.Conn
	for _, userID := range recipients {
		mailbox = append(mailbox, e.mailboxes.ConnectionsOf(userID)...)
	}
	receipt.MailboxPushes = live.PushAll(mailbox, frame, nil)

	e.log.Debug().Str("room", room.ID).Str("message", msg.ID).
		Int("room_pushes", receipt.RoomPushes).Int("mailbox_pushes", receipt.MailboxPushes).
		Msg("message delivered")
	return receipt, nil
}

func kindOf(req SendRequest) models.RoomKind {
	if req.ConversationID != "" {
		return models.RoomKindConversation
	}
	return models.RoomKindGroup
}
