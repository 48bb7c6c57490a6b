package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"gemini-chat/internal/domain"
)

const defaultChunkTimeout = 30 * time.Second

// GeminiClient implementa Generator contra la API generativelanguage de Google.
type GeminiClient struct {
	baseURL      string
	apiKey       string
	model        string
	client       *http.Client
	stream       *http.Client
	chunkTimeout time.Duration
	logger       *zap.Logger
}

// NewGeminiClient construye un cliente apuntando a la API de Gemini. El
// cliente de streaming no lleva timeout global: el corte por inactividad
// entre chunks lo maneja el watchdog de GenerateStream.
func NewGeminiClient(baseURL, apiKey, model string, chunkTimeout time.Duration, logger *zap.Logger) *GeminiClient {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	if model == "" {
		model = "gemini-pro"
	}
	if chunkTimeout <= 0 {
		chunkTimeout = defaultChunkTimeout
	}
	return &GeminiClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		model:        model,
		client:       &http.Client{Timeout: 60 * time.Second},
		stream:       &http.Client{},
		chunkTimeout: chunkTimeout,
		logger:       logger,
	}
}

func (c *GeminiClient) GenerateOnce(ctx context.Context, prompt string, history []Turn, cfg domain.GenerationConfig) (string, error) {
	bodyBytes, err := json.Marshal(buildGeminiRequest(prompt, history, cfg))
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %w", domain.ErrGeneration, err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("%w: create request: %w", domain.ErrGeneration, err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: generate", domain.ErrProviderTimeout)
		}
		return "", fmt.Errorf("%w: do request: %w", domain.ErrGeneration, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %w", domain.ErrGeneration, err)
	}

	if resp.StatusCode >= 400 {
		if c.logger != nil {
			c.logger.Warn("gemini error response",
				zap.Int("status", resp.StatusCode),
				zap.ByteString("body", respBody),
			)
		}
		return "", fmt.Errorf("%w: status=%d", domain.ErrGeneration, resp.StatusCode)
	}

	var gr geminiResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return "", fmt.Errorf("%w: unmarshal response: %w", domain.ErrGeneration, err)
	}
	if gr.Error != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrGeneration, gr.Error.Message)
	}

	text := gr.text()
	if text == "" {
		return "", fmt.Errorf("%w: empty response", domain.ErrGeneration)
	}
	return text, nil
}

// GenerateStream abre la variante SSE de la API y reenvia cada fragmento por
// el canal. La espera de cada chunk esta vigilada: si el proveedor se queda
// mudo mas de chunkTimeout, la secuencia termina con ErrProviderTimeout.
func (c *GeminiClient) GenerateStream(ctx context.Context, prompt string, history []Turn, cfg domain.GenerationConfig) (<-chan Chunk, error) {
	bodyBytes, err := json.Marshal(buildGeminiRequest(prompt, history, cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %w", domain.ErrGeneration, err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", c.baseURL, c.model)
	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: create request: %w", domain.ErrGeneration, err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: open stream", domain.ErrProviderTimeout)
		}
		return nil, fmt.Errorf("%w: open stream: %w", domain.ErrGeneration, err)
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		if c.logger != nil {
			c.logger.Warn("gemini stream error response",
				zap.Int("status", resp.StatusCode),
				zap.ByteString("body", respBody),
			)
		}
		return nil, fmt.Errorf("%w: status=%d", domain.ErrGeneration, resp.StatusCode)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer cancel()
		defer resp.Body.Close()

		// emit corta los fragmentos de texto apenas el caller cancela. El
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

		var timedOut atomic.Bool
		watchdog := time.AfterFunc(c.chunkTimeout, func() {
			timedOut.Store(true)
			cancel()
		})
		defer watchdog.Stop()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			watchdog.Reset(c.chunkTimeout)
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" || payload == "[DONE]" {
				continue
			}

			var gr geminiResponse
			if err := json.Unmarshal([]byte(payload), &gr); err != nil {
				out <- Chunk{Err: fmt.Errorf("%w: decode chunk: %w", domain.ErrStream, err)}
				return
			}
			if gr.Error != nil {
				out <- Chunk{Err: fmt.Errorf("%w: %s", domain.ErrStream, gr.Error.Message)}
				return
			}
			if text := gr.text(); text != "" {
				if !emit(Chunk{Text: text}) {
					out <- Chunk{Err: fmt.Errorf("%w: cancelled: %w", domain.ErrStream, ctx.Err())}
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			if timedOut.Load() {
				out <- Chunk{Err: fmt.Errorf("%w: waiting for chunk", domain.ErrProviderTimeout)}
				return
			}
			out <- Chunk{Err: fmt.Errorf("%w: read stream: %w", domain.ErrStream, err)}
		}
	}()

	return out, nil
}

func buildGeminiRequest(prompt string, history []Turn, cfg domain.GenerationConfig) geminiRequest {
	contents := make([]geminiContent, 0, len(history)+1)
	for _, turn := range history {
		contents = append(contents, geminiContent{
			Role:  string(turn.Role),
			Parts: []geminiPart{{Text: turn.Content}},
		})
	}
	contents = append(contents, geminiContent{
		Role:  string(domain.RoleUser),
		Parts: []geminiPart{{Text: prompt}},
	})

	return geminiRequest{
		Contents: contents,
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     cfg.Temperature,
			TopP:            cfg.TopP,
			TopK:            cfg.TopK,
			MaxOutputTokens: cfg.MaxOutputTokens,
		},
	}
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	TopP            *float32 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (r *geminiResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String()
}
