package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const narratorSystemPrompt = "Você é um assistente meteorológico. Escreva um resumo curto, em português, " +
	"com no máximo quatro frases, usando apenas os dados fornecidos."

// ErrEmptyCompletion is returned when the model answers with no text.
var ErrEmptyCompletion = errors.New("empty completion")

type LLMConfig struct {
	Endpoint       string
	APIKey         string
	Model          string
	Timeout        time.Duration
	BreakerTimeout time.Duration
}

// LLMClient talks to any OpenAI compatible chat completions endpoint.
type LLMClient struct {
	api            *openai.Client
	model          string
	logger         *zap.Logger
	circuitBreaker *gobreaker.CircuitBreaker
}

func NewLLMClient(cfg LLMConfig, logger *zap.Logger) *LLMClient {
	apiConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		apiConfig.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	}
	apiConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				zap.String("client", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &LLMClient{
		api:            openai.NewClientWithConfig(apiConfig),
		model:          cfg.Model,
		logger:         logger,
		circuitBreaker: breaker,
	}
}

// Narrate returns the model's text for prompt. The caller owns the deadline.
func (c *LLMClient) Narrate(ctx context.Context, prompt string) (string, error) {
	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: narratorSystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			Temperature: 0.3,
			MaxTokens:   300,
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, ErrEmptyCompletion
		}
		text := strings.TrimSpace(resp.Choices[0].Message.Content)
		if text == "" {
			return nil, ErrEmptyCompletion
		}
		return text, nil
	})
	if err != nil {
		return "", fmt.Errorf("llm narrative: %w", err)
	}

	return result.(string), nil
}
