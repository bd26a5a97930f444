package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tidegraph/tidegraph/internal/log"
)

// Querier is the subset of pgxpool.Pool behavior the Store depends on.
// Interfaces are defined by the consumer, not the provider; *pgxpool.Pool
// satisfies this, and tests can substitute a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store manages chat and message persistence.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     Querier
	logger log.Logger
}

// NewStore creates a Store. A nil logger falls back to slog's default.
func NewStore(db Querier, logger log.Logger) *Store {
	if logger == nil {
		logger = log.New(log.Config{})
	}
	return &Store{db: db, logger: logger}
}

const chatColumns = "id, title, origin, created_at, updated_at"

// Create creates a new chat. The title is normalized via TitleFromContent.
func (s *Store) Create(ctx context.Context, title, origin string) (*Chat, error) {
	row := s.db.QueryRow(ctx,
		`INSERT INTO chats (title, origin) VALUES ($1, $2) RETURNING `+chatColumns,
		TitleFromContent(title), origin)

	c, err := scanChat(row)
	if err != nil {
		return nil, fmt.Errorf("creating chat: %w", err)
	}

	s.logger.Debug("created chat", "id", c.ID, "title", c.Title)
	return c, nil
}

// Get retrieves a chat by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Chat, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE id = $1`, pgUUID(id))

	c, err := scanChat(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("chat %s: %w", id, ErrChatNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting chat %s: %w", id, err)
	}
	return c, nil
}

// List lists chats ordered by most recently updated.
func (s *Store) List(ctx context.Context, limit, offset int32) ([]*Chat, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+chatColumns+` FROM chats ORDER BY updated_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	defer rows.Close()

	var chats []*Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chat: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	return chats, nil
}

// Rename updates a chat's title.
func (s *Store) Rename(ctx context.Context, id uuid.UUID, title string) (*Chat, error) {
	row := s.db.QueryRow(ctx,
		`UPDATE chats SET title = $2, updated_at = now() WHERE id = $1 RETURNING `+chatColumns,
		pgUUID(id), TitleFromContent(title))

	c, err := scanChat(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("chat %s: %w", id, ErrChatNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("renaming chat %s: %w", id, err)
	}
	return c, nil
}

// Delete deletes a chat and all its messages (CASCADE).
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM chats WHERE id = $1`, pgUUID(id))
	if err != nil {
		return fmt.Errorf("deleting chat %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chat %s: %w", id, ErrChatNotFound)
	}

	s.logger.Debug("deleted chat", "id", id)
	return nil
}

const messageColumns = "id, chat_id, ordinal, role, content, created_at, updated_at, finished_at"

// Messages returns all messages of a chat ordered by ordinal ascending.
func (s *Store) Messages(ctx context.Context, chatID uuid.UUID) ([]*Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+messageColumns+` FROM chat_messages WHERE chat_id = $1 ORDER BY ordinal ASC`,
		pgUUID(chatID))
	if err != nil {
		return nil, fmt.Errorf("listing messages for chat %s: %w", chatID, err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing messages for chat %s: %w", chatID, err)
	}
	return msgs, nil
}

// GetMessage retrieves a single message by ID.
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM chat_messages WHERE id = $1`, pgUUID(id))

	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrMessageNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", id, err)
	}
	return m, nil
}

// AppendExchange appends a finished user message and an empty, unfinished
// assistant message in one transaction. Ordinals are assigned under a chat
// row lock so concurrent posts to the same chat cannot interleave.
func (s *Store) AppendExchange(ctx context.Context, chatID uuid.UUID, userContent string) (*Message, *Message, error) {
	if strings.TrimSpace(userContent) == "" {
		return nil, nil, ErrEmptyContent
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	next, err := lockAndNextOrdinal(ctx, tx, chatID)
	if err != nil {
		return nil, nil, err
	}

	userMsg, err := insertMessage(ctx, tx, chatID, next, RoleUser, userContent, true)
	if err != nil {
		return nil, nil, fmt.Errorf("inserting user message: %w", err)
	}

	assistantMsg, err := insertMessage(ctx, tx, chatID, next+1, RoleAssistant, "", false)
	if err != nil {
		return nil, nil, fmt.Errorf("inserting assistant message: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE chats SET updated_at = now() WHERE id = $1`, pgUUID(chatID)); err != nil {
		return nil, nil, fmt.Errorf("touching chat %s: %w", chatID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("committing exchange: %w", err)
	}

	s.logger.Debug("appended exchange",
		"chat_id", chatID,
		"user_ordinal", userMsg.Ordinal,
		"assistant_ordinal", assistantMsg.Ordinal)
	return userMsg, assistantMsg, nil
}

// AppendMessage appends a single finished message. Used for seeding and
// imports; streamed assistant messages go through AppendExchange.
func (s *Store) AppendMessage(ctx context.Context, chatID uuid.UUID, role Role, content string) (*Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	next, err := lockAndNextOrdinal(ctx, tx, chatID)
	if err != nil {
		return nil, err
	}

	msg, err := insertMessage(ctx, tx, chatID, next, role, content, true)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE chats SET updated_at = now() WHERE id = $1`, pgUUID(chatID)); err != nil {
		return nil, fmt.Errorf("touching chat %s: %w", chatID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}
	return msg, nil
}

// FinishMessage stores the final content of a streamed assistant message and
// stamps finished_at.
func (s *Store) FinishMessage(ctx context.Context, id uuid.UUID, content string) (*Message, error) {
	row := s.db.QueryRow(ctx,
		`UPDATE chat_messages
		 SET content = $2, updated_at = now(), finished_at = now()
		 WHERE id = $1
		 RETURNING `+messageColumns,
		pgUUID(id), content)

	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrMessageNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finishing message %s: %w", id, err)
	}

	s.logger.Debug("finished message", "id", id, "content_length", len(content))
	return m, nil
}

// lockAndNextOrdinal locks the chat row and returns the next free ordinal.
// The SELECT ... FOR UPDATE serializes ordinal assignment per chat.
func lockAndNextOrdinal(ctx context.Context, tx pgx.Tx, chatID uuid.UUID) (int32, error) {
	var locked pgtype.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM chats WHERE id = $1 FOR UPDATE`, pgUUID(chatID)).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("chat %s: %w", chatID, ErrChatNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("locking chat %s: %w", chatID, err)
	}

	var maxOrdinal int32
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(ordinal), 0) FROM chat_messages WHERE chat_id = $1`,
		pgUUID(chatID)).Scan(&maxOrdinal)
	if err != nil {
		return 0, fmt.Errorf("reading max ordinal for chat %s: %w", chatID, err)
	}
	return maxOrdinal + 1, nil
}

func insertMessage(ctx context.Context, tx pgx.Tx, chatID uuid.UUID, ordinal int32, role Role, content string, finished bool) (*Message, error) {
	finishedExpr := "NULL"
	if finished {
		finishedExpr = "now()"
	}
	row := tx.QueryRow(ctx,
		`INSERT INTO chat_messages (chat_id, ordinal, role, content, finished_at)
		 VALUES ($1, $2, $3, $4, `+finishedExpr+`)
		 RETURNING `+messageColumns,
		pgUUID(chatID), ordinal, string(role), content)
	return scanMessage(row)
}

func scanChat(row pgx.Row) (*Chat, error) {
	var (
		id                   pgtype.UUID
		createdAt, updatedAt pgtype.Timestamptz
		c                    Chat
	)
	if err := row.Scan(&id, &c.Title, &c.Origin, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.ID = fromPgUUID(id)
	c.CreatedAt = createdAt.Time
	c.UpdatedAt = updatedAt.Time
	return &c, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var (
		id, chatID           pgtype.UUID
		role                 string
		createdAt, updatedAt pgtype.Timestamptz
		finishedAt           pgtype.Timestamptz
		m                    Message
	)
	if err := row.Scan(&id, &chatID, &m.Ordinal, &role, &m.Content, &createdAt, &updatedAt, &finishedAt); err != nil {
		return nil, err
	}
	m.ID = fromPgUUID(id)
	m.ChatID = fromPgUUID(chatID)
	m.Role = Role(role)
	m.CreatedAt = createdAt.Time
	m.UpdatedAt = updatedAt.Time
	if finishedAt.Valid {
		t := finishedAt.Time
		m.FinishedAt = &t
	}
	return &m, nil
}

// pgUUID converts uuid.UUID to pgtype.UUID.
func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// fromPgUUID converts pgtype.UUID to uuid.UUID.
func fromPgUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return id.Bytes
}
