package llm

import (
	"context"

	"gemini-chat/internal/domain"
)

// MockGenerator permite tests sin llamar a un proveedor real. Registra el
// ultimo prompt e historial recibidos para poder afirmarlos en los tests.
type MockGenerator struct {
	Response  string
	Chunks    []string
	Err       error
	StreamErr error

	Calls       int
	LastPrompt  string
	LastHistory []Turn
	LastConfig  domain.GenerationConfig
}

func (m *MockGenerator) GenerateOnce(_ context.Context, prompt string, history []Turn, cfg domain.GenerationConfig) (string, error) {
	m.record(prompt, history, cfg)
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}

func (m *MockGenerator) GenerateStream(_ context.Context, prompt string, history []Turn, cfg domain.GenerationConfig) (<-chan Chunk, error) {
	m.record(prompt, history, cfg)
	if m.Err != nil {
		return nil, m.Err
	}

	out := make(chan Chunk, len(m.Chunks)+1)
	for _, text := range m.Chunks {
		out <- Chunk{Text: text}
	}
	if m.StreamErr != nil {
		out <- Chunk{Err: m.StreamErr}
	}
	close(out)
	return out, nil
}

func (m *MockGenerator) record(prompt string, history []Turn, cfg domain.GenerationConfig) {
	m.Calls++
	m.LastPrompt = prompt
	m.LastHistory = append([]Turn(nil), history...)
	m.LastConfig = cfg
}
