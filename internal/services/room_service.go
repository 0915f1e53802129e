package services

import (
	"context"
	"errors"
	"strings"

	"chatrelay/internal/database"
	"chatrelay/internal/errs"
	"chatrelay/internal/ledger"
	"chatrelay/internal/models"
)

// RoomStore is the part of the database the room service needs.
type RoomStore interface {
	database.RoomRepository
}

type RoomService struct {
	db     RoomStore
	ledger *ledger.Ledger
}

func NewRoomService(db RoomStore, ledger *ledger.Ledger) *RoomService {
	return &RoomService{db: db, ledger: ledger}
}

// AccessConversation returns the conversation between the two users,
// creating it on first contact.
func (s *RoomService) AccessConversation(ctx context.Context, userID, otherID string) (*models.Conversation, error) {
	otherID = strings.TrimSpace(otherID)
	if otherID == "" {
		return nil, errs.ErrValidation.WithMessage("user_id is required")
	}
	if otherID == userID {
		return nil, errs.ErrValidation.WithMessage("cannot start a conversation with yourself")
	}

	conv, err := s.db.GetOrCreateConversation(ctx, userID, otherID)
	if err != nil {
		return nil, errs.ErrStoreUnavailable.Wrap(err)
	}
	return s.withConversationCounts(ctx, conv)
}

func (s *RoomService) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	convs, err := s.db.ListUserConversations(ctx, userID)
	if err != nil {
		return nil, errs.ErrStoreUnavailable.Wrap(err)
	}
	for i, conv := range convs {
		if convs[i], err = s.withConversationCounts(ctx, conv); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

func (s *RoomService) CreateGroup(ctx context.Context, adminID string, req *models.CreateGroupRequest) (*models.Group, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, errs.ErrValidation.WithMessage("group name is required")
	}
	members := models.NormalizeMembers(adminID, req.MemberIDs)
	if len(members) < 2 {
		return nil, errs.ErrValidation.WithMessage("a group needs at least one member besides the admin")
	}

	group, err := s.db.CreateGroup(ctx, name, adminID, members)
	if err != nil {
		return nil, errs.ErrStoreUnavailable.Wrap(err)
	}
	return s.withGroupCounts(ctx, group)
}

func (s *RoomService) ListGroups(ctx context.Context, userID string) ([]*models.Group, error) {
	groups, err := s.db.ListUserGroups(ctx, userID)
	if err != nil {
		return nil, errs.ErrStoreUnavailable.Wrap(err)
	}
	for i, group := range groups {
		if groups[i], err = s.withGroupCounts(ctx, group); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// RenameGroup changes the group name. Admin only.
func (s *RoomService) RenameGroup(ctx context.Context, actorID, groupID, name string) (*models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.ErrValidation.WithMessage("group name is required")
	}
	group, err := s.memberGroup(ctx, actorID, groupID)
	if err != nil {
		return nil, err
	}
	if group.AdminID != actorID {
		return nil, errs.ErrNotAdmin
	}

	group, err = s.db.RenameGroup(ctx, groupID, name)
	if err != nil {
		return nil, storeError(err)
	}
	return s.withGroupCounts(ctx, group)
}

// AddMember appends a user to the group. Admin only. The new member starts
// receiving fan-out and unread counts from the next message on.
func (s *RoomService) AddMember(ctx context.Context, actorID, groupID, userID string) (*models.Group, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errs.ErrValidation.WithMessage("user_id is required")
	}
	group, err := s.memberGroup(ctx, actorID, groupID)
	if err != nil {
		return nil, err
	}
	if group.AdminID != actorID {
		return nil, errs.ErrNotAdmin
	}
	if group.Room().HasMember(userID) {
		return nil, errs.ErrAlreadyMember
	}

	group, err = s.db.AddGroupMember(ctx, groupID, userID)
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, errs.ErrAlreadyMember
		}
		return nil, storeError(err)
	}
	return s.withGroupCounts(ctx, group)
}

// RemoveMember drops a user from the group. The admin may remove anyone but
// themselves; any other member may only remove themselves. The removed
// user's unread counter is cleared.
func (s *RoomService) RemoveMember(ctx context.Context, actorID, groupID, userID string) (*models.Group, error) {
	group, err := s.memberGroup(ctx, actorID, groupID)
	if err != nil {
		return nil, err
	}
	if userID == group.AdminID {
		return nil, errs.ErrValidation.WithMessage("the admin cannot be removed from the group")
	}
	if actorID != group.AdminID && actorID != userID {
		return nil, errs.ErrNotAdmin
	}
	if !group.Room().HasMember(userID) {
		return nil, errs.ErrNotFound.WithMessage("user %s is not in this group", userID)
	}

	group, err = s.db.RemoveGroupMember(ctx, groupID, userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, errs.ErrNotFound.WithMessage("user %s is not in this group", userID)
		}
		return nil, storeError(err)
	}
	if err := s.ledger.Reset(ctx, groupID, userID); err != nil {
		return nil, err
	}
	return s.withGroupCounts(ctx, group)
}

// memberGroup loads a group the actor belongs to.
func (s *RoomService) memberGroup(ctx context.Context, actorID, groupID string) (*models.Group, error) {
	if groupID == "" {
		return nil, errs.ErrValidation.WithMessage("group id is required")
	}
	group, err := s.db.GetGroup(ctx, groupID)
	if err != nil {
		return nil, storeError(err)
	}
	if !group.Room().HasMember(actorID) {
		return nil, errs.ErrNotMember
	}
	return group, nil
}

func storeError(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return errs.ErrRoomNotFound
	}
	return errs.ErrStoreUnavailable.Wrap(err)
}

// Room resolves roomID and checks that userID belongs to it. Missing rooms
// and rooms the user is not in both read as not found.
func (s *RoomService) Room(ctx context.Context, userID, roomID string) (*models.Room, error) {
	if roomID == "" {
		return nil, errs.ErrValidation.WithMessage("room id is required")
	}
	room, err := s.db.FindRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, errs.ErrRoomNotFound
		}
		return nil, errs.ErrStoreUnavailable.Wrap(err)
	}
	if !room.HasMember(userID) {
		return nil, errs.ErrNotMember
	}
	return room, nil
}

func (s *RoomService) CanAccess(ctx context.Context, userID, roomID string) error {
	_, err := s.Room(ctx, userID, roomID)
	return err
}

// MarkRead clears the user's unread counter for the room.
func (s *RoomService) MarkRead(ctx context.Context, userID, roomID string) error {
	if err := s.CanAccess(ctx, userID, roomID); err != nil {
		return err
	}
	return s.ledger.Reset(ctx, roomID, userID)
}

func (s *RoomService) withConversationCounts(ctx context.Context, conv *models.Conversation) (*models.Conversation, error) {
	counts, err := s.ledger.CountsForMembers(ctx, conv.Room())
	if err != nil {
		return nil, err
	}
	conv.UnreadCount = counts
	return conv, nil
}

func (s *RoomService) withGroupCounts(ctx context.Context, group *models.Group) (*models.Group, error) {
	counts, err := s.ledger.CountsForMembers(ctx, group.Room())
	if err != nil {
		return nil, err
	}
	group.UnreadCount = counts
	return group, nil
}
