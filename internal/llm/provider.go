package llm

import (
	"context"

	"gemini-chat/internal/domain"
)

// Turn es un mensaje neutral al proveedor, listo para sembrar una sesion de chat.
type Turn struct {
	Role    domain.Role
	Content string
}

// Chunk es un fragmento incremental de una respuesta en streaming. Un Chunk
// con Err != nil es terminal: el canal se cierra despues de emitirlo.
type Chunk struct {
	Text string
	Err  error
}

// Generator define las dos formas de generacion contra un proveedor externo:
// bloqueante (texto completo) y streaming (secuencia finita de fragmentos, no
// reiniciable). history puede ser nil para un prompt suelto sin sesion.
type Generator interface {
	GenerateOnce(ctx context.Context, prompt string, history []Turn, cfg domain.GenerationConfig) (string, error)
	GenerateStream(ctx context.Context, prompt string, history []Turn, cfg domain.GenerationConfig) (<-chan Chunk, error)
}
