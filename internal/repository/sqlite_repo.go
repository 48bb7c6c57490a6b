package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gemini-chat/internal/domain"
)

// SqliteConversationRepository implementa ConversationRepository sobre SQLite.
// Mismo contrato que la variante Postgres; sirve el modo local sin servidor.
type SqliteConversationRepository struct {
	db *sql.DB
}

func NewSqliteConversationRepository(db *sql.DB) *SqliteConversationRepository {
	return &SqliteConversationRepository{db: db}
}

func (r *SqliteConversationRepository) Create(ctx context.Context) (domain.Conversation, error) {
	conv := domain.Conversation{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}

	const query = `INSERT INTO conversations (id, created_at) VALUES (?, ?)`
	if _, err := r.db.ExecContext(ctx, query, conv.ID, conv.CreatedAt); err != nil {
		return domain.Conversation{}, fmt.Errorf("%w: create conversation: %w", domain.ErrStorage, err)
	}
	return conv, nil
}

func (r *SqliteConversationRepository) GetByID(ctx context.Context, id string) (domain.Conversation, error) {
	const convQuery = `SELECT id, created_at FROM conversations WHERE id = ?`

	var conv domain.Conversation
	err := r.db.QueryRowContext(ctx, convQuery, id).Scan(&conv.ID, &conv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Conversation{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("%w: get conversation: %w", domain.ErrStorage, err)
	}

	const msgQuery = `
		SELECT id, role, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`
	rows, err := r.db.QueryContext(ctx, msgQuery, id)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("%w: list messages: %w", domain.ErrStorage, err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return domain.Conversation{}, fmt.Errorf("%w: scan message: %w", domain.ErrStorage, err)
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return domain.Conversation{}, fmt.Errorf("%w: read messages: %w", domain.ErrStorage, err)
	}

	return conv, nil
}

func (r *SqliteConversationRepository) AppendTurn(ctx context.Context, id string, userMsg, modelMsg domain.Message) (domain.Conversation, error) {
	if !userMsg.Role.Valid() || !modelMsg.Role.Valid() {
		return domain.Conversation{}, fmt.Errorf("%w: unknown message role", domain.ErrValidation)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("%w: begin append: %w", domain.ErrStorage, err)
	}
	defer tx.Rollback()

	var exists string
	err = tx.QueryRowContext(ctx, `SELECT id FROM conversations WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Conversation{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("%w: resolve conversation: %w", domain.ErrStorage, err)
	}

	const insert = `
		INSERT INTO messages (id, conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	for _, msg := range []domain.Message{userMsg, modelMsg} {
		if _, err := tx.ExecContext(ctx, insert, msg.ID, id, msg.Role, msg.Content, msg.CreatedAt); err != nil {
			return domain.Conversation{}, fmt.Errorf("%w: insert message: %w", domain.ErrStorage, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Conversation{}, fmt.Errorf("%w: commit append: %w", domain.ErrStorage, err)
	}

	return r.GetByID(ctx, id)
}

func (r *SqliteConversationRepository) List(ctx context.Context) ([]domain.Conversation, error) {
	const convQuery = `SELECT id, created_at FROM conversations ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, convQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: list conversations: %w", domain.ErrStorage, err)
	}
	defer rows.Close()

	var convs []domain.Conversation
	index := make(map[string]int)
	for rows.Next() {
		var conv domain.Conversation
		if err := rows.Scan(&conv.ID, &conv.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan conversation: %w", domain.ErrStorage, err)
		}
		index[conv.ID] = len(convs)
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read conversations: %w", domain.ErrStorage, err)
	}

	const msgQuery = `
		SELECT id, conversation_id, role, content, created_at
		FROM messages
		ORDER BY seq ASC
	`
	msgRows, err := r.db.QueryContext(ctx, msgQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %w", domain.ErrStorage, err)
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var msg domain.Message
		var convID string
		if err := msgRows.Scan(&msg.ID, &convID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan message: %w", domain.ErrStorage, err)
		}
		if i, ok := index[convID]; ok {
			convs[i].Messages = append(convs[i].Messages, msg)
		}
	}
	if err := msgRows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read messages: %w", domain.ErrStorage, err)
	}

	return convs, nil
}
