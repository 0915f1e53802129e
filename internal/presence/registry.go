package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"chatrelay/internal/errs"
	"chatrelay/internal/live"
	"chatrelay/internal/models"
	"chatrelay/pkg/logger"
)

// StatusStore persists presence transitions. The store is authoritative for
// status shown on fresh page loads; the registry only answers from memory.
type StatusStore interface {
	UpdatePresence(ctx context.Context, update models.PresenceUpdate) error
}

// Broadcaster reaches every connection in the process.
type Broadcaster interface {
	BroadcastAll(frame []byte)
}

// Directory mirrors online state to a shared store so other processes can
// read it. Optional.
type Directory interface {
	MarkOnline(ctx context.Context, userID string, at time.Time) error
	MarkOffline(ctx context.Context, userID string, at time.Time) error
}

type Identity struct {
	UserID      string
	DisplayName string
}

type Registry struct {
	mu     sync.RWMutex
	owners map[string]Identity              // connID -> owner
	conns  map[string]map[string]live.Conn // userID -> connID -> conn

	// Transitions of one user are applied one at a time, from the memory
	// change through the store write and the broadcast.
	locksMu sync.Mutex
	locks   map[string]*userLock

	store       StatusStore
	broadcaster Broadcaster
	directory   Directory
	now         func() time.Time
}

type Option func(*Registry)

func WithDirectory(d Directory) Option {
	return func(r *Registry) { r.directory = d }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(store StatusStore, broadcaster Broadcaster, opts ...Option) *Registry {
	r := &Registry{
		owners:      make(map[string]Identity),
		conns:       make(map[string]map[string]live.Conn),
		locks:       make(map[string]*userLock),
		store:       store,
		broadcaster: broadcaster,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func (r *Registry) lockUser(userID string) func() {
	r.locksMu.Lock()
	l, ok := r.locks[userID]
	if !ok {
		l = &userLock{}
		r.locks[userID] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, userID)
		}
		r.locksMu.Unlock()
	}
}

// Register binds conn to the user, marks the user online and tells everyone.
// The in-memory binding survives a store failure; the error is returned so
// the caller can log it.
func (r *Registry) Register(ctx context.Context, id Identity, conn live.Conn) error {
	unlock := r.lockUser(id.UserID)
	defer unlock()

	r.mu.Lock()
	if prev, ok := r.owners[conn.ID()]; ok && prev.UserID != id.UserID {
		r.detachLocked(prev.UserID, conn.ID())
	}
	r.owners[conn.ID()] = id
	userConns, ok := r.conns[id.UserID]
	if !ok {
		userConns = make(map[string]live.Conn)
		r.conns[id.UserID] = userConns
	}
	userConns[conn.ID()] = conn
	r.mu.Unlock()

	now := r.now()
	err := r.store.UpdatePresence(ctx, models.PresenceUpdate{
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		Status:      models.StatusOnline,
		At:          now,
	})
	if r.directory != nil {
		if derr := r.directory.MarkOnline(ctx, id.UserID, now); derr != nil {
			logger.Warn("presence directory mark online %s: %v", id.UserID, derr)
		}
	}

	r.broadcast(id.UserID, models.StatusOnline)
	logger.Debug("registered connection %s for user %s", conn.ID(), id.UserID)
	return err
}

// Unregister drops conn. The owner is looked up in the reverse index, so a
// connection that never identified itself is a no-op. It reports the owner
// and whether the user went offline. A user who still holds other
// connections keeps the stored status; only the activity time moves.
func (r *Registry) Unregister(ctx context.Context, conn live.Conn) (string, bool, error) {
	id, ok := r.OwnerOf(conn.ID())
	if !ok {
		return "", false, nil
	}

	unlock := r.lockUser(id.UserID)
	defer unlock()

	r.mu.Lock()
	current, ok := r.owners[conn.ID()]
	if !ok || current.UserID != id.UserID {
		// Moved or released while we waited for the lock.
		r.mu.Unlock()
		return "", false, nil
	}
	delete(r.owners, conn.ID())
	remaining := r.detachLocked(id.UserID, conn.ID())
	r.mu.Unlock()

	now := r.now()
	if remaining > 0 {
		err := r.store.UpdatePresence(ctx, models.PresenceUpdate{UserID: id.UserID, At: now})
		return id.UserID, false, err
	}

	err := r.store.UpdatePresence(ctx, models.PresenceUpdate{
		UserID: id.UserID,
		Status: models.StatusOffline,
		At:     now,
	})
	if r.directory != nil {
		if derr := r.directory.MarkOffline(ctx, id.UserID, now); derr != nil {
			logger.Warn("presence directory mark offline %s: %v", id.UserID, derr)
		}
	}
	r.broadcast(id.UserID, models.StatusOffline)
	logger.Debug("user %s went offline", id.UserID)
	return id.UserID, true, err
}

func (r *Registry) detachLocked(userID, connID string) int {
	userConns, ok := r.conns[userID]
	if !ok {
		return 0
	}
	delete(userConns, connID)
	if len(userConns) == 0 {
		delete(r.conns, userID)
		return 0
	}
	return len(userConns)
}

// ListOnline returns the online user ids, sorted.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[userID]
	return ok
}

// ConnectionsOf returns every live connection owned by the user.
func (r *Registry) ConnectionsOf(userID string) []live.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userConns, ok := r.conns[userID]
	if !ok {
		return nil
	}
	out := make([]live.Conn, 0, len(userConns))
	for _, c := range userConns {
		out = append(out, c)
	}
	return out
}

// OwnerOf returns the identity bound to a connection.
func (r *Registry) OwnerOf(connID string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.owners[connID]
	return id, ok
}

func (r *Registry) broadcast(userID string, status models.PresenceStatus) {
	if r.broadcaster == nil {
		return
	}
	frame, err := models.NewEnvelope(models.EventPresenceChanged, models.PresenceChangedPayload{
		UserID: userID,
		Status: status,
	})
	if err != nil {
		logger.Error("encode presence change: %v", err)
		return
	}
	r.broadcaster.BroadcastAll(frame)
}

// SetStatus applies an explicit status change such as away. Only users with
// a live connection can change status this way.
func (r *Registry) SetStatus(ctx context.Context, userID string, status models.PresenceStatus) error {
	if !status.Valid() {
		return errs.ErrValidation.WithMessage("unknown status %q", status)
	}

	unlock := r.lockUser(userID)
	defer unlock()

	if !r.IsOnline(userID) {
		return errs.ErrNotFound.WithMessage("user %s has no live connection", userID)
	}
	if err := r.store.UpdatePresence(ctx, models.PresenceUpdate{
		UserID: userID,
		Status: status,
		At:     r.now(),
	}); err != nil {
		return errs.ErrStoreUnavailable.Wrap(err)
	}
	r.broadcast(userID, status)
	return nil
}
