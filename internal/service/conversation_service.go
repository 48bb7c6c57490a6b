package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gemini-chat/internal/domain"
	"gemini-chat/internal/llm"
	"gemini-chat/internal/repository"
)

const defaultGenerateTimeout = 60 * time.Second

// ConversationService orquesta un turno completo: resolver o crear la
// conversacion, armar el historial, generar con el proveedor y persistir el
// turno de forma atomica.
type ConversationService struct {
	repo      repository.ConversationRepository
	generator llm.Generator
	locks     ConversationLocker
	logger    *zap.Logger
	timeout   time.Duration
}

// NewConversationService arma el servicio. locks puede ser nil para
// reproducir el comportamiento sin exclusion, pero el cableado normal pasa
// un KeyedLocker o un RedisLocker.
func NewConversationService(
	repo repository.ConversationRepository,
	generator llm.Generator,
	locks ConversationLocker,
	logger *zap.Logger,
	timeout time.Duration,
) *ConversationService {
	if timeout <= 0 {
		timeout = defaultGenerateTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationService{
		repo:      repo,
		generator: generator,
		locks:     locks,
		logger:    logger,
		timeout:   timeout,
	}
}

// Converse ejecuta un turno bloqueante y devuelve el texto completo junto al
// id resuelto de la conversacion. conversationID vacio crea una conversacion
// nueva; un id desconocido falla con ErrNotFound sin mutar nada.
func (s *ConversationService) Converse(ctx context.Context, prompt, conversationID string, cfg domain.GenerationConfig) (domain.Exchange, error) {
	return s.converse(ctx, prompt, conversationID, cfg, nil, false)
}

// ConversePartial ejecuta un turno en streaming: onPartial recibe cada
// fragmento incremental en vivo y el retorno trae el texto completo. Un
// stream que falla a mitad de camino no persiste nada.
func (s *ConversationService) ConversePartial(ctx context.Context, prompt, conversationID string, cfg domain.GenerationConfig, onPartial func(string)) (domain.Exchange, error) {
	return s.converse(ctx, prompt, conversationID, cfg, onPartial, true)
}

func (s *ConversationService) converse(ctx context.Context, prompt, conversationID string, cfg domain.GenerationConfig, onPartial func(string), stream bool) (domain.Exchange, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return domain.Exchange{}, fmt.Errorf("%w: empty prompt", domain.ErrValidation)
	}

	// Resolver o crear la sesion. El lock cubre la ventana completa
	// leer historial → generar → agregar turno.
	var conv domain.Conversation
	var err error
	fresh := conversationID == ""
	if fresh {
		conv, err = s.repo.Create(ctx)
		if err != nil {
			return domain.Exchange{}, fmt.Errorf("create conversation: %w", err)
		}
		conversationID = conv.ID
	}

	if s.locks != nil {
		release, lockErr := s.locks.Lock(ctx, conversationID)
		if lockErr != nil {
			return domain.Exchange{}, fmt.Errorf("lock conversation: %w", lockErr)
		}
		defer release()
	}

	if !fresh {
		conv, err = s.repo.GetByID(ctx, conversationID)
		if err != nil {
			return domain.Exchange{}, err
		}
	}

	history, err := AssembleHistory(conv)
	if err != nil {
		return domain.Exchange{}, err
	}

	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var text string
	if stream {
		chunks, streamErr := s.generator.GenerateStream(genCtx, prompt, history, cfg)
		if streamErr != nil {
			return domain.Exchange{}, streamErr
		}
		text, err = AggregateStream(chunks, onPartial)
		if err == nil && genCtx.Err() != nil {
			// El canal cerro sin error terminal pero el contexto ya
			// murio: el texto puede estar truncado y no se persiste.
			if errors.Is(genCtx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("%w: stream cut short", domain.ErrProviderTimeout)
			} else {
				err = fmt.Errorf("%w: cancelled mid-stream: %w", domain.ErrStream, genCtx.Err())
			}
		}
	} else {
		text, err = s.generator.GenerateOnce(genCtx, prompt, history, cfg)
	}
	if err != nil {
		// Generacion fallida o cancelada: no se persiste nada.
		return domain.Exchange{}, err
	}

	now := time.Now().UTC()
	userMsg := domain.Message{ID: uuid.NewString(), Role: domain.RoleUser, Content: prompt, CreatedAt: now}
	modelMsg := domain.Message{ID: uuid.NewString(), Role: domain.RoleModel, Content: text, CreatedAt: now}

	if _, err := s.repo.AppendTurn(ctx, conversationID, userMsg, modelMsg); err != nil {
		s.logger.Error("append turn failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return domain.Exchange{}, &domain.PersistError{Text: text, Err: err}
	}

	return domain.Exchange{ConversationID: conversationID, Text: text}, nil
}

// GenerateSingle es el caso degenerado sin sesion: un prompt suelto, sin
// historial y sin persistencia.
func (s *ConversationService) GenerateSingle(ctx context.Context, prompt string, cfg domain.GenerationConfig) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("%w: empty prompt", domain.ErrValidation)
	}

	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.generator.GenerateOnce(genCtx, prompt, nil, cfg)
}

// ListConversations delega en el repositorio; solo lectura.
func (s *ConversationService) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	return s.repo.List(ctx)
}
