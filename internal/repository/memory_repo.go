package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gemini-chat/internal/domain"
)

// MemoryConversationRepository guarda conversaciones en memoria, protegidas
// por mutex. Util para el chat de terminal y para tests sin base de datos.
type MemoryConversationRepository struct {
	mu            sync.Mutex
	order         []string
	conversations map[string]domain.Conversation
}

func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{
		conversations: make(map[string]domain.Conversation),
	}
}

func (r *MemoryConversationRepository) Create(_ context.Context) (domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv := domain.Conversation{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
	r.conversations[conv.ID] = conv
	r.order = append(r.order, conv.ID)
	return conv, nil
}

func (r *MemoryConversationRepository) GetByID(_ context.Context, id string) (domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[id]
	if !ok {
		return domain.Conversation{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return copyConversation(conv), nil
}

func (r *MemoryConversationRepository) AppendTurn(_ context.Context, id string, userMsg, modelMsg domain.Message) (domain.Conversation, error) {
	if !userMsg.Role.Valid() || !modelMsg.Role.Valid() {
		return domain.Conversation{}, fmt.Errorf("%w: unknown message role", domain.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[id]
	if !ok {
		return domain.Conversation{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	conv.Messages = append(conv.Messages, userMsg, modelMsg)
	r.conversations[id] = conv
	return copyConversation(conv), nil
}

func (r *MemoryConversationRepository) List(_ context.Context) ([]domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	convs := make([]domain.Conversation, 0, len(r.order))
	for _, id := range r.order {
		convs = append(convs, copyConversation(r.conversations[id]))
	}
	return convs, nil
}

// copyConversation devuelve una copia con su propio slice de mensajes para
// que el caller no pueda mutar el estado interno.
func copyConversation(conv domain.Conversation) domain.Conversation {
	out := conv
	out.Messages = append([]domain.Message(nil), conv.Messages...)
	return out
}
