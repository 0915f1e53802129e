package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatrelay/internal/models"
	"chatrelay/pkg/logger"
)

//go:embed schema.sql
var schema string

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

// Migrate creates the tables if they do not exist yet.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// User Repository Implementation
func (db *PostgresDB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT id, display_name, status, last_active_at FROM users WHERE id = $1`

	user := &models.User{}
	var status string
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.DisplayName, &status, &user.LastActiveAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	user.Status = models.PresenceStatus(status)

	return user, nil
}

func (db *PostgresDB) UpdatePresence(ctx context.Context, update models.PresenceUpdate) error {
	query := `
		INSERT INTO users (id, display_name, status, last_active_at)
		VALUES ($1, $2, COALESCE(NULLIF($3, ''), 'offline'), $4)
		ON CONFLICT (id) DO UPDATE SET
			display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), users.display_name),
			status = CASE WHEN $3 = '' THEN users.status ELSE EXCLUDED.status END,
			last_active_at = EXCLUDED.last_active_at`

	_, err := db.pool.Exec(ctx, query, update.UserID, update.DisplayName, string(update.Status), update.At)
	return err
}

// Room Repository Implementation
const conversationColumns = `id, participant_a, participant_b, COALESCE(last_message_id, ''), created_at, updated_at`

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	conv := &models.Conversation{Participants: make([]string, 2)}
	err := row.Scan(
		&conv.ID, &conv.Participants[0], &conv.Participants[1], &conv.LastMessageID, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (db *PostgresDB) GetOrCreateConversation(ctx context.Context, a, b string) (*models.Conversation, error) {
	query := `
		INSERT INTO conversations (id, participant_a, participant_b, pair_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (pair_key) DO UPDATE SET pair_key = EXCLUDED.pair_key
		RETURNING ` + conversationColumns

	conv, err := scanConversation(db.pool.QueryRow(ctx, query, uuid.NewString(), a, b, models.PairKey(a, b)))
	if err != nil {
		return nil, fmt.Errorf("failed to access conversation: %w", err)
	}
	return conv, nil
}

func (db *PostgresDB) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`

	conv, err := scanConversation(db.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return conv, nil
}

func (db *PostgresDB) ListUserConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE participant_a = $1 OR participant_b = $1
		ORDER BY updated_at DESC`

	rows, err := db.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}

	return conversations, rows.Err()
}

func (db *PostgresDB) CreateGroup(ctx context.Context, name, adminID string, members []string) (*models.Group, error) {
	group := &models.Group{
		ID:      uuid.NewString(),
		Name:    name,
		AdminID: adminID,
		Members: models.NormalizeMembers(adminID, members),
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO groups (id, name, admin_id, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING created_at, updated_at`,
		group.ID, group.Name, group.AdminID,
	).Scan(&group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	for i, member := range group.Members {
		if _, err := tx.Exec(ctx,
			`INSERT INTO group_members (group_id, user_id, position) VALUES ($1, $2, $3)`,
			group.ID, member, i,
		); err != nil {
			return nil, fmt.Errorf("failed to add group member: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return group, nil
}

const groupColumns = `g.id, g.name, g.admin_id, COALESCE(g.last_message_id, ''), g.created_at, g.updated_at`

func scanGroup(row pgx.Row) (*models.Group, error) {
	group := &models.Group{}
	err := row.Scan(&group.ID, &group.Name, &group.AdminID, &group.LastMessageID, &group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return group, nil
}

func (db *PostgresDB) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups g WHERE g.id = $1`

	group, err := scanGroup(db.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	if err := db.loadMembers(ctx, []*models.Group{group}); err != nil {
		return nil, err
	}
	return group, nil
}

func (db *PostgresDB) ListUserGroups(ctx context.Context, userID string) ([]*models.Group, error) {
	query := `
		SELECT ` + groupColumns + `
		FROM groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = $1
		ORDER BY g.updated_at DESC`

	rows, err := db.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*models.Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := db.loadMembers(ctx, groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (db *PostgresDB) RenameGroup(ctx context.Context, groupID, name string) (*models.Group, error) {
	tag, err := db.pool.Exec(ctx, `UPDATE groups SET name = $2, updated_at = NOW() WHERE id = $1`, groupID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to rename group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return db.GetGroup(ctx, groupID)
}

func (db *PostgresDB) AddGroupMember(ctx context.Context, groupID, userID string) (*models.Group, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Locking the group row serializes position assignment.
	tag, err := tx.Exec(ctx, `UPDATE groups SET updated_at = NOW() WHERE id = $1`, groupID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	tag, err = tx.Exec(ctx, `
		INSERT INTO group_members (group_id, user_id, position)
		SELECT $1, $2, COALESCE(MAX(position), -1) + 1 FROM group_members WHERE group_id = $1
		ON CONFLICT (group_id, user_id) DO NOTHING`,
		groupID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to add group member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrDuplicate
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return db.GetGroup(ctx, groupID)
}

func (db *PostgresDB) RemoveGroupMember(ctx context.Context, groupID, userID string) (*models.Group, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to remove group member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	if _, err := tx.Exec(ctx, `UPDATE groups SET updated_at = NOW() WHERE id = $1`, groupID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return db.GetGroup(ctx, groupID)
}

func (db *PostgresDB) loadMembers(ctx context.Context, groups []*models.Group) error {
	if len(groups) == 0 {
		return nil
	}
	byID := make(map[string]*models.Group, len(groups))
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
		ids = append(ids, g.ID)
	}

	rows, err := db.pool.Query(ctx, `
		SELECT group_id, user_id FROM group_members
		WHERE group_id = ANY($1)
		ORDER BY group_id, position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var groupID, userID string
		if err := rows.Scan(&groupID, &userID); err != nil {
			return err
		}
		if g, ok := byID[groupID]; ok {
			g.Members = append(g.Members, userID)
		}
	}
	return rows.Err()
}

func (db *PostgresDB) FindRoom(ctx context.Context, roomID string) (*models.Room, error) {
	conv, err := db.GetConversation(ctx, roomID)
	if err == nil {
		return conv.Room(), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	group, err := db.GetGroup(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return group.Room(), nil
}

func (db *PostgresDB) SetLastMessage(ctx context.Context, room *models.Room, messageID string) error {
	var query string
	switch room.Kind {
	case models.RoomKindConversation:
		query = `UPDATE conversations SET last_message_id = $2, updated_at = NOW() WHERE id = $1`
	case models.RoomKindGroup:
		query = `UPDATE groups SET last_message_id = $2, updated_at = NOW() WHERE id = $1`
	default:
		return fmt.Errorf("unknown room kind %q", room.Kind)
	}

	tag, err := db.pool.Exec(ctx, query, room.ID, messageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Message Repository Implementation
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (db *PostgresDB) SaveMessage(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT INTO messages (id, room_id, conversation_id, group_id, sender_id, content,
			attachment_url, attachment_name, attachment_type, attachment_size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	var url, name, kind *string
	var size *int64
	if a := msg.Attachment; a != nil {
		url, name, kind = nullable(a.URL), nullable(a.Name), nullable(a.Type)
		size = &a.Size
	}

	_, err := db.pool.Exec(ctx, query,
		msg.ID, msg.RoomID(), nullable(msg.ConversationID), nullable(msg.GroupID), msg.SenderID, msg.Content,
		url, name, kind, size, msg.CreatedAt,
	)
	return err
}

func (db *PostgresDB) ListMessages(ctx context.Context, roomID string, offset, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, COALESCE(conversation_id, ''), COALESCE(group_id, ''), sender_id, content,
			attachment_url, attachment_name, attachment_type, attachment_size, created_at
		FROM messages
		WHERE room_id = $1
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3`

	if offset < 0 || limit < 0 {
		return nil, errInvalidWindow(offset, limit)
	}
	rows, err := db.pool.Query(ctx, query, roomID, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var url, name, kind *string
		var size *int64
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.GroupID, &msg.SenderID, &msg.Content,
			&url, &name, &kind, &size, &msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		if url != nil {
			msg.Attachment = &models.Attachment{URL: *url}
			if name != nil {
				msg.Attachment.Name = *name
			}
			if kind != nil {
				msg.Attachment.Type = *kind
			}
			if size != nil {
				msg.Attachment.Size = *size
			}
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// Ledger Repository Implementation
//
// Each statement is a single-row upsert per key, so Postgres row locks order
// a reset against any concurrent increment of the same key.
func (db *PostgresDB) IncrementUnread(ctx context.Context, roomID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	query := `
		INSERT INTO unread_counts (room_id, user_id, count)
		SELECT $1, u, 1 FROM (SELECT DISTINCT unnest($2::text[]) AS u) recipients
		ON CONFLICT (room_id, user_id) DO UPDATE SET count = unread_counts.count + 1`

	_, err := db.pool.Exec(ctx, query, roomID, userIDs)
	return err
}

func (db *PostgresDB) ResetUnread(ctx context.Context, roomID, userID string) error {
	query := `
		INSERT INTO unread_counts (room_id, user_id, count) VALUES ($1, $2, 0)
		ON CONFLICT (room_id, user_id) DO UPDATE SET count = 0`

	_, err := db.pool.Exec(ctx, query, roomID, userID)
	return err
}

func (db *PostgresDB) UnreadCount(ctx context.Context, roomID, userID string) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx,
		`SELECT count FROM unread_counts WHERE room_id = $1 AND user_id = $2`, roomID, userID,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

func (db *PostgresDB) UnreadCounts(ctx context.Context, roomID string) (map[string]int, error) {
	rows, err := db.pool.Query(ctx, `SELECT user_id, count FROM unread_counts WHERE room_id = $1`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var userID string
		var count int
		if err := rows.Scan(&userID, &count); err != nil {
			return nil, err
		}
		counts[userID] = count
	}
	return counts, rows.Err()
}

// Now is the clock used for message timestamps. Mongo keeps millisecond
// precision, so values are truncated to what every backend returns on read.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
