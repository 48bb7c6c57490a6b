package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openaiapi "github.com/sashabaranov/go-openai"

	"gemini-chat/internal/domain"
)

// OpenAIClient implementa Generator sobre una API chat-completions de OpenAI.
type OpenAIClient struct {
	api   *openaiapi.Client
	model string
}

func NewOpenAIClient(token, model string) *OpenAIClient {
	if model == "" {
		model = openaiapi.GPT4oMini
	}
	return &OpenAIClient{
		api:   openaiapi.NewClient(token),
		model: model,
	}
}

func (c *OpenAIClient) GenerateOnce(ctx context.Context, prompt string, history []Turn, cfg domain.GenerationConfig) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, c.buildRequest(prompt, history, cfg, false))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: generate", domain.ErrProviderTimeout)
		}
		return "", fmt.Errorf("%w: %w", domain.ErrGeneration, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: empty response", domain.ErrGeneration)
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) GenerateStream(ctx context.Context, prompt string, history []Turn, cfg domain.GenerationConfig) (<-chan Chunk, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, c.buildRequest(prompt, history, cfg, true))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: open stream", domain.ErrProviderTimeout)
		}
		return nil, fmt.Errorf("%w: open stream: %w", domain.ErrGeneration, err)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer stream.Close()

		// emit corta los deltas de texto apenas el caller cancela. El
		// chunk terminal de error se envia siempre sin select: el canal
		// debe cerrar con el error visible para que una secuencia
		// truncada nunca parezca completa.
		emit := func(chunk Chunk) bool {
			select {
			case out <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					out <- Chunk{Err: fmt.Errorf("%w: waiting for chunk", domain.ErrProviderTimeout)}
					return
				}
				out <- Chunk{Err: fmt.Errorf("%w: %w", domain.ErrStream, err)}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if delta := resp.Choices[0].Delta.Content; delta != "" {
				if !emit(Chunk{Text: delta}) {
					out <- Chunk{Err: fmt.Errorf("%w: cancelled: %w", domain.ErrStream, ctx.Err())}
					return
				}
			}
		}
	}()

	return out, nil
}

func (c *OpenAIClient) buildRequest(prompt string, history []Turn, cfg domain.GenerationConfig, stream bool) openaiapi.ChatCompletionRequest {
	messages := make([]openaiapi.ChatCompletionMessage, 0, len(history)+1)
	for _, turn := range history {
		messages = append(messages, openaiapi.ChatCompletionMessage{
			Role:    openaiRole(turn.Role),
			Content: turn.Content,
		})
	}
	messages = append(messages, openaiapi.ChatCompletionMessage{
		Role:    openaiapi.ChatMessageRoleUser,
		Content: prompt,
	})

	req := openaiapi.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   stream,
	}
	if cfg.Temperature != nil {
		req.Temperature = *cfg.Temperature
	}
	if cfg.TopP != nil {
		req.TopP = *cfg.TopP
	}
	if cfg.MaxOutputTokens != nil {
		req.MaxCompletionTokens = *cfg.MaxOutputTokens
	}
	return req
}

// openaiRole traduce el rol neutral al vocabulario de OpenAI, que llama
// assistant a lo que Gemini llama model.
func openaiRole(role domain.Role) string {
	if role == domain.RoleModel {
		return openaiapi.ChatMessageRoleAssistant
	}
	return openaiapi.ChatMessageRoleUser
}
