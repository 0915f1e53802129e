package websocket

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"chatrelay/internal/channels"
	"chatrelay/internal/delivery"
	"chatrelay/internal/errs"
	"chatrelay/internal/live"
	"chatrelay/internal/models"
	"chatrelay/internal/presence"
	"chatrelay/internal/typing"
	"chatrelay/pkg/logger"
)

// Session is a live connection that carries the identity proven at upgrade.
type Session interface {
	live.Conn
	Subject() string
	DisplayName() string
}

type RoomAccess interface {
	CanAccess(ctx context.Context, userID, roomID string) error
	MarkRead(ctx context.Context, userID, roomID string) error
}

// Gateway turns inbound frames into calls on the core components.
type Gateway struct {
	presence *presence.Registry
	channels *channels.Membership
	engine   *delivery.Engine
	typing   *typing.Signal
	rooms    RoomAccess
	log      zerolog.Logger
}

func NewGateway(registry *presence.Registry, membership *channels.Membership, engine *delivery.Engine, signal *typing.Signal, rooms RoomAccess) *Gateway {
	return &Gateway{
		presence: registry,
		channels: membership,
		engine:   engine,
		typing:   signal,
		rooms:    rooms,
		log:      logger.Module("gateway"),
	}
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errs.ErrValidation.WithMessage("malformed payload: %v", err)
	}
	return nil
}

func roomPayload(raw json.RawMessage) (string, error) {
	var p models.RoomPayload
	if err := decode(raw, &p); err != nil {
		return "", err
	}
	if p.RoomID == "" {
		return "", errs.ErrValidation.WithMessage("room_id is required")
	}
	return p.RoomID, nil
}

// Handle processes one inbound frame. Failures go back to the sender as an
// error event; nothing is retried.
func (g *Gateway) Handle(ctx context.Context, s Session, data []byte) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		g.replyError(s, "", errs.ErrValidation.WithMessage("malformed frame"))
		return
	}
	if err := g.dispatch(ctx, s, env); err != nil {
		g.replyError(s, env.Type, err)
	}
}

func (g *Gateway) dispatch(ctx context.Context, s Session, env models.Envelope) error {
	if env.Type == models.EventConnect {
		return g.connect(ctx, s, env.Payload)
	}

	id, ok := g.presence.OwnerOf(s.ID())
	if !ok {
		return errs.ErrValidation.WithMessage("send connect before %s", env.Type)
	}

	switch env.Type {
	case models.EventJoinRoom:
		roomID, err := roomPayload(env.Payload)
		if err != nil {
			return err
		}
		if roomID != id.UserID {
			if err := g.rooms.CanAccess(ctx, id.UserID, roomID); err != nil {
				return err
			}
		}
		g.channels.Join(s, roomID)
		return nil

	case models.EventLeaveRoom:
		roomID, err := roomPayload(env.Payload)
		if err != nil {
			return err
		}
		if roomID == id.UserID {
			return errs.ErrValidation.WithMessage("cannot leave the personal mailbox")
		}
		g.channels.Leave(s, roomID)
		return nil

	case models.EventSendMessage:
		var p models.SendMessagePayload
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		conversationID, groupID := p.Target()
		_, err := g.engine.Send(ctx, delivery.SendRequest{
			SenderID:       id.UserID,
			ConversationID: conversationID,
			GroupID:        groupID,
			Content:        p.Content,
			Attachment:     p.Attachment,
		})
		return err

	case models.EventMarkRead:
		roomID, err := roomPayload(env.Payload)
		if err != nil {
			return err
		}
		return g.rooms.MarkRead(ctx, id.UserID, roomID)

	case models.EventTyping, models.EventStopTyping:
		roomID, err := roomPayload(env.Payload)
		if err != nil {
			return err
		}
		if !g.channels.IsSubscribed(s.ID(), roomID) {
			return errs.ErrNotMember.WithMessage("join room %s before typing in it", roomID)
		}
		if env.Type == models.EventTyping {
			_, err = g.typing.NotifyTyping(roomID, s)
		} else {
			_, err = g.typing.NotifyStopTyping(roomID, s)
		}
		return err

	case models.EventGetOnlineUsers:
		g.reply(s, models.EventOnlineUsersSnapshot, models.OnlineUsersPayload{UserIDs: g.presence.ListOnline()})
		return nil

	case models.EventSetStatus:
		var p models.StatusPayload
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		return g.presence.SetStatus(ctx, id.UserID, p.Status)
	}

	return errs.ErrValidation.WithMessage("unknown event %q", env.Type)
}

// connect binds the session to its user and subscribes it to the user's
// personal mailbox room.
func (g *Gateway) connect(ctx context.Context, s Session, raw json.RawMessage) error {
	var p models.ConnectPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	if p.UserID == "" {
		p.UserID = s.Subject()
	}
	if p.UserID != s.Subject() {
		return errs.ErrUnauthorized.WithMessage("user_id does not match token")
	}
	if p.DisplayName == "" {
		p.DisplayName = s.DisplayName()
	}

	if err := g.presence.Register(ctx, presence.Identity{UserID: p.UserID, DisplayName: p.DisplayName}, s); err != nil {
		g.log.Warn().Err(err).Str("user", p.UserID).Msg("presence not persisted on connect")
	}
	g.channels.Join(s, p.UserID)

	g.reply(s, models.EventConnected, p)
	return nil
}

// Disconnect releases everything the session held. It is the only
// cancellation path for a connection.
func (g *Gateway) Disconnect(ctx context.Context, s Session) {
	userID, offline, err := g.presence.Unregister(ctx, s)
	if err != nil {
		g.log.Warn().Err(err).Str("user", userID).Msg("presence not persisted on disconnect")
	}
	g.channels.Drop(s)
	if userID != "" {
		g.log.Debug().Str("user", userID).Str("conn", s.ID()).Bool("offline", offline).Msg("connection closed")
	}
}

// Evict unsubscribes every live connection of userID from roomID, after the
// user has lost access to it. It returns how many connections were dropped.
func (g *Gateway) Evict(userID, roomID string) int {
	n := 0
	for _, conn := range g.presence.ConnectionsOf(userID) {
		if g.channels.IsSubscribed(conn.ID(), roomID) {
			g.channels.Leave(conn, roomID)
			n++
		}
	}
	return n
}

func (g *Gateway) reply(s Session, t models.EventType, payload interface{}) {
	frame, err := models.NewEnvelope(t, payload)
	if err != nil {
		g.log.Error().Err(err).Str("event", string(t)).Msg("encode reply")
		return
	}
	s.Push(frame)
}

func (g *Gateway) replyError(s Session, req models.EventType, err error) {
	code := errs.GetCode(err)
	if code >= 50000 {
		g.log.Error().Err(err).Str("event", string(req)).Str("conn", s.ID()).Msg("request failed")
	} else {
		g.log.Debug().Err(err).Str("event", string(req)).Msg("request rejected")
	}
	g.reply(s, models.EventError, models.ErrorPayload{
		Code:    code,
		Message: errs.GetMessage(err),
		Request: string(req),
	})
}
