package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gemini-chat/internal/domain"
)

// ConversationRepository define el contrato de almacenamiento de conversaciones.
// AppendTurn es atomico: ambos mensajes del turno se escriben juntos o ninguno.
type ConversationRepository interface {
	Create(ctx context.Context) (domain.Conversation, error)
	GetByID(ctx context.Context, id string) (domain.Conversation, error)
	AppendTurn(ctx context.Context, id string, userMsg, modelMsg domain.Message) (domain.Conversation, error)
	List(ctx context.Context) ([]domain.Conversation, error)
}

type PgConversationRepository struct {
	pool *pgxpool.Pool
}

func NewPgConversationRepository(pool *pgxpool.Pool) *PgConversationRepository {
	return &PgConversationRepository{pool: pool}
}

func (r *PgConversationRepository) Create(ctx context.Context) (domain.Conversation, error) {
	conv := domain.Conversation{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}

	const query = `INSERT INTO conversations (id, created_at) VALUES ($1, $2)`
	if _, err := r.pool.Exec(ctx, query, conv.ID, conv.CreatedAt); err != nil {
		return domain.Conversation{}, fmt.Errorf("%w: create conversation: %w", domain.ErrStorage, err)
	}
	return conv, nil
}

func (r *PgConversationRepository) GetByID(ctx context.Context, id string) (domain.Conversation, error) {
	const convQuery = `SELECT id, created_at FROM conversations WHERE id = $1`

	var conv domain.Conversation
	err := r.pool.QueryRow(ctx, convQuery, id).Scan(&conv.ID, &conv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Conversation{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("%w: get conversation: %w", domain.ErrStorage, err)
	}

	const msgQuery = `
		SELECT id, role, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY seq ASC
	`
	rows, err := r.pool.Query(ctx, msgQuery, id)
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

// AppendTurn escribe los dos mensajes del turno en una sola transaccion.
func (r *PgConversationRepository) AppendTurn(ctx context.Context, id string, userMsg, modelMsg domain.Message) (domain.Conversation, error) {
	if !userMsg.Role.Valid() || !modelMsg.Role.Valid() {
		return domain.Conversation{}, fmt.Errorf("%w: unknown message role", domain.ErrValidation)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("%w: begin append: %w", domain.ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	var exists string
	err = tx.QueryRow(ctx, `SELECT id FROM conversations WHERE id = $1 FOR UPDATE`, id).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Conversation{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("%w: resolve conversation: %w", domain.ErrStorage, err)
	}

	const insert = `
		INSERT INTO messages (id, conversation_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, msg := range []domain.Message{userMsg, modelMsg} {
		if _, err := tx.Exec(ctx, insert, msg.ID, id, msg.Role, msg.Content, msg.CreatedAt); err != nil {
			return domain.Conversation{}, fmt.Errorf("%w: insert message: %w", domain.ErrStorage, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Conversation{}, fmt.Errorf("%w: commit append: %w", domain.ErrStorage, err)
	}

	return r.GetByID(ctx, id)
}

func (r *PgConversationRepository) List(ctx context.Context) ([]domain.Conversation, error) {
	const convQuery = `SELECT id, created_at FROM conversations ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, convQuery)
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
	msgRows, err := r.pool.Query(ctx, msgQuery)
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
