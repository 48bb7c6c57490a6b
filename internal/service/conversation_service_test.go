package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"gemini-chat/internal/domain"
	"gemini-chat/internal/llm"
	"gemini-chat/internal/repository"
)

// failingRepo envuelve el repositorio en memoria para inyectar fallos de
// escritura y contar los appends.
type failingRepo struct {
	*repository.MemoryConversationRepository
	appendErr   error
	appendCalls int
}

func (r *failingRepo) AppendTurn(ctx context.Context, id string, userMsg, modelMsg domain.Message) (domain.Conversation, error) {
	r.appendCalls++
	if r.appendErr != nil {
		return domain.Conversation{}, r.appendErr
	}
	return r.MemoryConversationRepository.AppendTurn(ctx, id, userMsg, modelMsg)
}

func newTestService(repo repository.ConversationRepository, gen llm.Generator) *ConversationService {
	return NewConversationService(repo, gen, NewKeyedLocker(), zap.NewNop(), 0)
}

func TestConverse_FreshSessionPersistsTurn(t *testing.T) {
	repo := repository.NewMemoryConversationRepository()
	gen := &llm.MockGenerator{Response: "Hi there"}
	svc := newTestService(repo, gen)
	ctx := context.Background()

	exchange, err := svc.Converse(ctx, "Hello", "", domain.GenerationConfig{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if exchange.ConversationID == "" {
		t.Fatalf("expected a conversation id")
	}
	if exchange.Text != "Hi there" {
		t.Fatalf("expected text %q, got %q", "Hi there", exchange.Text)
	}
	if len(gen.LastHistory) != 0 {
		t.Fatalf("expected empty history for fresh session, got %d turns", len(gen.LastHistory))
	}

	convs, err := svc.ListConversations(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
	msgs := convs[0].Messages
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != domain.RoleUser || msgs[0].Content != "Hello" {
		t.Fatalf("unexpected user message: %+v", msgs[0])
	}
	if msgs[1].Role != domain.RoleModel || msgs[1].Content != "Hi there" {
		t.Fatalf("unexpected model message: %+v", msgs[1])
	}
}

func TestConverse_ContinuationPassesExactHistory(t *testing.T) {
	repo := repository.NewMemoryConversationRepository()
	gen := &llm.MockGenerator{Response: "Hi there"}
	svc := newTestService(repo, gen)
	ctx := context.Background()

	first, err := svc.Converse(ctx, "Hello", "", domain.GenerationConfig{})
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}

	gen.Response = "Fine"
	second, err := svc.Converse(ctx, "How are you?", first.ConversationID, domain.GenerationConfig{})
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if second.ConversationID != first.ConversationID {
		t.Fatalf("expected same conversation id")
	}
	if second.Text != "Fine" {
		t.Fatalf("expected %q, got %q", "Fine", second.Text)
	}

	wantHistory := []llm.Turn{
		{Role: domain.RoleUser, Content: "Hello"},
		{Role: domain.RoleModel, Content: "Hi there"},
	}
	if len(gen.LastHistory) != len(wantHistory) {
		t.Fatalf("expected %d history turns, got %d", len(wantHistory), len(gen.LastHistory))
	}
	for i, w := range wantHistory {
		if gen.LastHistory[i] != w {
			t.Fatalf("history turn %d: got %+v, want %+v", i, gen.LastHistory[i], w)
		}
	}

	conv, err := repo.GetByID(ctx, first.ConversationID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(conv.Messages) != 4 {
		t.Fatalf("expected 4 messages after two turns, got %d", len(conv.Messages))
	}
}

func TestConverse_FreshSessionGetsUnseenID(t *testing.T) {
	repo := repository.NewMemoryConversationRepository()
	svc := newTestService(repo, &llm.MockGenerator{Response: "ok"})
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		exchange, err := svc.Converse(ctx, "hola", "", domain.GenerationConfig{})
		if err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		if seen[exchange.ConversationID] {
			t.Fatalf("conversation id %q repeated", exchange.ConversationID)
		}
		seen[exchange.ConversationID] = true
	}
}

func TestConverse_UnknownIDNoMutation(t *testing.T) {
	repo := &failingRepo{MemoryConversationRepository: repository.NewMemoryConversationRepository()}
	gen := &llm.MockGenerator{Response: "ok"}
	svc := newTestService(repo, gen)
	ctx := context.Background()

	_, err := svc.Converse(ctx, "Hello", "nonexistent", domain.GenerationConfig{})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if gen.Calls != 0 {
		t.Fatalf("expected no generation call, got %d", gen.Calls)
	}
	if repo.appendCalls != 0 {
		t.Fatalf("expected no append, got %d", repo.appendCalls)
	}
	convs, _ := repo.List(ctx)
	if len(convs) != 0 {
		t.Fatalf("expected store untouched, got %d conversations", len(convs))
	}
}

func TestConverse_GenerationFailureSkipsPersistence(t *testing.T) {
	repo := &failingRepo{MemoryConversationRepository: repository.NewMemoryConversationRepository()}
	genErr := fmt.Errorf("%w: quota exceeded", domain.ErrGeneration)
	svc := newTestService(repo, &llm.MockGenerator{Err: genErr})
	ctx := context.Background()

	_, err := svc.Converse(ctx, "Hello", "", domain.GenerationConfig{})
	if !errors.Is(err, domain.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
	if repo.appendCalls != 0 {
		t.Fatalf("expected no append after failed generation, got %d", repo.appendCalls)
	}

	// La conversacion creada queda vacia: ningun mensaje suelto.
	convs, _ := repo.List(ctx)
	for _, conv := range convs {
		if len(conv.Messages) != 0 {
			t.Fatalf("expected empty conversation, got %d messages", len(conv.Messages))
		}
	}
}

func TestConverse_PersistFailureCarriesGeneratedText(t *testing.T) {
	appendErr := fmt.Errorf("%w: write failed", domain.ErrStorage)
	repo := &failingRepo{
		MemoryConversationRepository: repository.NewMemoryConversationRepository(),
		appendErr:                    appendErr,
	}
	svc := newTestService(repo, &llm.MockGenerator{Response: "Hi there"})

	_, err := svc.Converse(context.Background(), "Hello", "", domain.GenerationConfig{})

	var persistErr *domain.PersistError
	if !errors.As(err, &persistErr) {
		t.Fatalf("expected PersistError, got %v", err)
	}
	if persistErr.Text != "Hi there" {
		t.Fatalf("expected generated text preserved, got %q", persistErr.Text)
	}
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected underlying ErrStorage, got %v", err)
	}
}

func TestConversePartial_DeliversFragmentsAndPersists(t *testing.T) {
	repo := repository.NewMemoryConversationRepository()
	gen := &llm.MockGenerator{Chunks: []string{"Hi", " ", "there"}}
	svc := newTestService(repo, gen)
	ctx := context.Background()

	var partials []string
	exchange, err := svc.ConversePartial(ctx, "Hello", "", domain.GenerationConfig{}, func(fragment string) {
		partials = append(partials, fragment)
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if exchange.Text != "Hi there" {
		t.Fatalf("expected aggregated text %q, got %q", "Hi there", exchange.Text)
	}
	if len(partials) != 3 {
		t.Fatalf("expected 3 fragments, got %d", len(partials))
	}

	conv, err := repo.GetByID(ctx, exchange.ConversationID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(conv.Messages) != 2 || conv.Messages[1].Content != "Hi there" {
		t.Fatalf("expected persisted model message with full text, got %+v", conv.Messages)
	}
}

func TestConversePartial_StreamFailureSkipsPersistence(t *testing.T) {
	repo := &failingRepo{MemoryConversationRepository: repository.NewMemoryConversationRepository()}
	streamErr := fmt.Errorf("%w: connection reset", domain.ErrStream)
	gen := &llm.MockGenerator{Chunks: []string{"Hi", " th"}, StreamErr: streamErr}
	svc := newTestService(repo, gen)

	_, err := svc.ConversePartial(context.Background(), "Hello", "", domain.GenerationConfig{}, nil)
	if !errors.Is(err, domain.ErrStream) {
		t.Fatalf("expected ErrStream, got %v", err)
	}
	if repo.appendCalls != 0 {
		t.Fatalf("expected no append after failed stream, got %d", repo.appendCalls)
	}
}

// dyingStreamGenerator simula un proveedor cuyo stream muere a mitad de
// camino: entrega un fragmento, cancela el contexto del caller y cierra el
// canal sin chunk terminal de error.
type dyingStreamGenerator struct {
	cancel context.CancelFunc
}

func (g *dyingStreamGenerator) GenerateOnce(ctx context.Context, prompt string, history []llm.Turn, cfg domain.GenerationConfig) (string, error) {
	return "", nil
}

func (g *dyingStreamGenerator) GenerateStream(ctx context.Context, prompt string, history []llm.Turn, cfg domain.GenerationConfig) (<-chan llm.Chunk, error) {
	out := make(chan llm.Chunk, 1)
	out <- llm.Chunk{Text: "Hi th"}
	g.cancel()
	close(out)
	return out, nil
}

func TestConversePartial_CancelledStreamSkipsPersistence(t *testing.T) {
	repo := &failingRepo{MemoryConversationRepository: repository.NewMemoryConversationRepository()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := newTestService(repo, &dyingStreamGenerator{cancel: cancel})

	_, err := svc.ConversePartial(ctx, "Hello", "", domain.GenerationConfig{}, nil)
	if !errors.Is(err, domain.ErrStream) {
		t.Fatalf("expected ErrStream for a stream cut by cancellation, got %v", err)
	}
	if repo.appendCalls != 0 {
		t.Fatalf("expected no append after cancelled stream, got %d", repo.appendCalls)
	}

	convs, _ := repo.List(context.Background())
	for _, conv := range convs {
		if len(conv.Messages) != 0 {
			t.Fatalf("expected no truncated turn persisted, got %d messages", len(conv.Messages))
		}
	}
}

func TestConverse_EmptyPromptRejected(t *testing.T) {
	svc := newTestService(repository.NewMemoryConversationRepository(), &llm.MockGenerator{Response: "ok"})

	if _, err := svc.Converse(context.Background(), "   ", "", domain.GenerationConfig{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestGenerateSingle_NoPersistence(t *testing.T) {
	repo := &failingRepo{MemoryConversationRepository: repository.NewMemoryConversationRepository()}
	gen := &llm.MockGenerator{Response: "a story"}
	svc := newTestService(repo, gen)
	ctx := context.Background()

	text, err := svc.GenerateSingle(ctx, "Write a story about a magic backpack.", domain.GenerationConfig{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if text != "a story" {
		t.Fatalf("got %q", text)
	}
	if len(gen.LastHistory) != 0 {
		t.Fatalf("expected no history for single-shot prompt")
	}
	convs, _ := repo.List(ctx)
	if len(convs) != 0 || repo.appendCalls != 0 {
		t.Fatalf("expected store untouched")
	}
}
