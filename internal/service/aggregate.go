package service

import (
	"strings"

	"gemini-chat/internal/llm"
)

// AggregateStream consume el canal de chunks hasta agotarlo y concatena los
// fragmentos en orden de emision. onPartial, si no es nil, recibe cada
// fragmento incremental (no el acumulado) apenas llega. Un chunk con Err
// aborta la agregacion: el error se propaga y no se devuelve texto parcial
// como exito; lo que onPartial ya entrego es lo unico que el caller conserva.
// Un canal vacio produce la cadena vacia. No reiniciable: el canal queda
// consumido.
func AggregateStream(chunks <-chan llm.Chunk, onPartial func(string)) (string, error) {
	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		sb.WriteString(chunk.Text)
		if onPartial != nil {
			onPartial(chunk.Text)
		}
	}
	return sb.String(), nil
}
