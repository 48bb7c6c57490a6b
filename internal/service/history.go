package service

import (
	"fmt"

	"gemini-chat/internal/domain"
	"gemini-chat/internal/llm"
)

// AssembleHistory proyecta una conversacion almacenada a los turnos neutrales
// que consume el proveedor. Funcion pura: preserva el orden exacto, descarta
// timestamps. Una conversacion vacia produce un historial vacio (chat fresco).
func AssembleHistory(conv domain.Conversation) ([]llm.Turn, error) {
	turns := make([]llm.Turn, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		if !msg.Role.Valid() {
			return nil, fmt.Errorf("%w: unknown role %q", domain.ErrValidation, msg.Role)
		}
		turns = append(turns, llm.Turn{Role: msg.Role, Content: msg.Content})
	}
	return turns, nil
}
