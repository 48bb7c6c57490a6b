package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"gemini-chat/internal/config"
	"gemini-chat/internal/domain"
	"gemini-chat/internal/llm"
	"gemini-chat/internal/repository"
	"gemini-chat/internal/service"
)

// Chat de terminal contra el proveedor real, con el store en memoria. Usa la
// via streaming para imprimir la respuesta a medida que llega.
func main() {
	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)

	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := zap.NewExample()
	defer logger.Sync()

	chunkTimeout := time.Duration(cfg.StreamChunkTimeoutSeconds) * time.Second
	var generator llm.Generator
	switch cfg.LLMProvider {
	case "openai":
		generator = llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	default:
		generator = llm.NewGeminiClient(cfg.GeminiBaseURL, cfg.GeminiAPIKey, cfg.GeminiModel, chunkTimeout, logger)
	}

	convSvc := service.NewConversationService(
		repository.NewMemoryConversationRepository(),
		generator,
		service.NewKeyedLocker(),
		logger,
		time.Duration(cfg.GenerateTimeoutSeconds)*time.Second,
	)

	fmt.Println("===== Chat =====")
	fmt.Println("Escribe tu mensaje; 'exit' para salir.")

	var conversationID string
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		prompt := strings.TrimSpace(line)
		if prompt == "" {
			continue
		}
		if prompt == "exit" {
			return
		}

		exchange, err := convSvc.ConversePartial(ctx, prompt, conversationID, domain.GenerationConfig{}, func(fragment string) {
			fmt.Print(fragment)
		})
		fmt.Println()
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		conversationID = exchange.ConversationID
	}
}
