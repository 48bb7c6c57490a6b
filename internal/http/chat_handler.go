package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gemini-chat/internal/domain"
	"gemini-chat/internal/service"
)

// Prompt por defecto del endpoint de completions sueltas.
const defaultSinglePrompt = "Write a story about a magic backpack."

// ChatHandler mantiene dependencias para los endpoints de conversacion.
type ChatHandler struct {
	logger *zap.Logger
	convs  *service.ConversationService
}

// NewChatHandler crea una instancia de ChatHandler con dependencias necesarias.
func NewChatHandler(logger *zap.Logger, convs *service.ConversationService) *ChatHandler {
	return &ChatHandler{logger: logger, convs: convs}
}

type chatRequest struct {
	Prompt         string                  `json:"prompt" binding:"required"`
	ConversationID string                  `json:"conversation_id"`
	Config         domain.GenerationConfig `json:"config"`
}

// Chat maneja POST /chat: un turno bloqueante.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid chat request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	exchange, err := h.convs.Converse(c.Request.Context(), req.Prompt, req.ConversationID, req.Config)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, exchange)
}

// ChatStream maneja POST /chat/stream: mismo turno pero la respuesta sale
// como eventos SSE, un evento chunk por fragmento y un evento done al final.
func (h *ChatHandler) ChatStream(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid chat stream request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	onPartial := func(fragment string) {
		c.SSEvent("chunk", fragment)
		c.Writer.Flush()
	}

	exchange, err := h.convs.ConversePartial(c.Request.Context(), req.Prompt, req.ConversationID, req.Config, onPartial)
	if err != nil {
		// Los headers ya salieron; el fallo se informa como evento.
		h.logger.Error("chat stream failed", zap.Error(err))
		c.SSEvent("error", err.Error())
		c.Writer.Flush()
		return
	}

	c.SSEvent("done", exchange)
	c.Writer.Flush()
}

// ListChats maneja GET /chat: todas las conversaciones almacenadas.
func (h *ChatHandler) ListChats(c *gin.Context) {
	convs, err := h.convs.ListConversations(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// GenerateText maneja GET /generate: completion suelta sin sesion ni
// persistencia.
func (h *ChatHandler) GenerateText(c *gin.Context) {
	prompt := c.Query("prompt")
	if prompt == "" {
		prompt = defaultSinglePrompt
	}

	text, err := h.convs.GenerateSingle(c.Request.Context(), prompt, domain.GenerationConfig{})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": text})
}

// writeError traduce la taxonomia de errores del nucleo a status HTTP sin
// inspeccionar mensajes.
func (h *ChatHandler) writeError(c *gin.Context, err error) {
	var persistErr *domain.PersistError
	switch {
	case errors.As(err, &persistErr):
		h.logger.Error("turn not persisted", zap.Error(err))
		// El texto generado viaja en la respuesta para que no se pierda.
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "could not persist turn",
			"text":  persistErr.Text,
		})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrProviderTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "provider timeout"})
	case errors.Is(err, domain.ErrGeneration), errors.Is(err, domain.ErrStream):
		h.logger.Error("generation failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "generation failed"})
	default:
		h.logger.Error("internal error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
