// Package ledger keeps per-room unread counters for room members.
package ledger

import (
	"context"

	"chatrelay/internal/errs"
	"chatrelay/internal/models"
)

// Store must apply each mutation atomically per (room, user) key. Callers
// never read a count back to write it.
type Store interface {
	IncrementUnread(ctx context.Context, roomID string, userIDs []string) error
	ResetUnread(ctx context.Context, roomID, userID string) error
	UnreadCount(ctx context.Context, roomID, userID string) (int, error)
	UnreadCounts(ctx context.Context, roomID string) (map[string]int, error)
}

type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Increment adds one to the counter of every listed recipient. Repeated ids
// count once.
func (l *Ledger) Increment(ctx context.Context, roomID string, recipientIDs []string) error {
	if roomID == "" {
		return errs.ErrValidation.WithMessage("room id is required")
	}
	ids := dedupe(recipientIDs)
	if len(ids) == 0 {
		return nil
	}
	if err := l.store.IncrementUnread(ctx, roomID, ids); err != nil {
		return errs.ErrStoreUnavailable.Wrap(err)
	}
	return nil
}

// Reset sets the user's counter for the room to zero.
func (l *Ledger) Reset(ctx context.Context, roomID, userID string) error {
	if roomID == "" || userID == "" {
		return errs.ErrValidation.WithMessage("room id and user id are required")
	}
	if err := l.store.ResetUnread(ctx, roomID, userID); err != nil {
		return errs.ErrStoreUnavailable.Wrap(err)
	}
	return nil
}

// CountFor returns the user's counter, 0 when none was ever recorded.
func (l *Ledger) CountFor(ctx context.Context, roomID, userID string) (int, error) {
	n, err := l.store.UnreadCount(ctx, roomID, userID)
	if err != nil {
		return 0, errs.ErrStoreUnavailable.Wrap(err)
	}
	return n, nil
}

func (l *Ledger) Counts(ctx context.Context, roomID string) (map[string]int, error) {
	counts, err := l.store.UnreadCounts(ctx, roomID)
	if err != nil {
		return nil, errs.ErrStoreUnavailable.Wrap(err)
	}
	return counts, nil
}

// CountsForMembers returns the counters of every room member, filling in 0
// for members without a row.
func (l *Ledger) CountsForMembers(ctx context.Context, room *models.Room) (map[string]int, error) {
	counts, err := l.Counts(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(room.Members))
	for _, m := range room.Members {
		out[m] = counts[m]
	}
	return out, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
