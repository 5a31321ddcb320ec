package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kbcurator/backend/pkg/circuitbreaker"
	"github.com/kbcurator/backend/pkg/logger"
	"github.com/kbcurator/backend/pkg/retry"
)

// ErrMalformedResponse marks an oracle reply that could not be parsed
// even after retries. Callers treat it as a permanent per-item failure.
var ErrMalformedResponse = errors.New("malformed oracle response")

type Client struct {
	client      *openai.Client
	model       string
	visionModel string
	embedModel  string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Config struct {
	APIKey         string
	Model          string
	VisionModel    string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
}

func NewClient(cfg Config) *Client {
	client := openai.NewClient(cfg.APIKey)

	cb := circuitbreaker.NewCircuitBreaker("oracle", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		IsRetryable:    isTransient,
		Logger:         logger.GetLogger(),
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	logger.Info("Oracle client initialized",
		zap.String("model", cfg.Model),
		zap.String("embedding_model", cfg.EmbeddingModel),
	)

	return &Client{
		client:      client,
		model:       cfg.Model,
		visionModel: cfg.VisionModel,
		embedModel:  cfg.EmbeddingModel,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

// isTransient classifies oracle failures: rate limits and server-side
// errors are retried, everything else fails the attempt immediately.
func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)

			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}

			if len(resp.Choices) == 0 {
				return fmt.Errorf("completion returned no choices: %w", ErrMalformedResponse)
			}

			logger.Debug("Oracle completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}

func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var embedding []float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: []string{text},
					Model: openai.EmbeddingModel(c.embedModel),
				},
			)

			if err != nil {
				return fmt.Errorf("failed to generate embedding: %w", err)
			}

			if len(resp.Data) == 0 {
				return fmt.Errorf("embedding response empty: %w", ErrMalformedResponse)
			}

			embedding = make([]float32, len(resp.Data[0].Embedding))
			copy(embedding, resp.Data[0].Embedding)

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return embedding, nil
}

// SummarizeDocument produces a short summary used for requirement
// prompts and as the regenerable derived field the maintenance sweep
// verifies.
func (c *Client) SummarizeDocument(ctx context.Context, content string) (string, error) {
	systemPrompt := `You are a knowledge-base curator. Generate a concise 2-3 sentence summary of the given document.
Focus on the subject matter, the procedures it describes, and the terminology it uses. Be specific.`

	userPrompt := fmt.Sprintf("Summarize this document:\n\n%s", truncate(content, 4000))

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.3,
		MaxTokens:    300,
	})
	if err != nil {
		return "", fmt.Errorf("failed to summarize: %w", err)
	}

	logger.Debug("Document summarized", zap.Int("summary_length", len(resp.Content)))

	return resp.Content, nil
}

// CategorizeChunk labels a chunk with one of the fixed category labels.
// Best effort: ingestion proceeds with an empty category on failure.
func (c *Client) CategorizeChunk(ctx context.Context, content string) (string, error) {
	systemPrompt := `You classify knowledge-base fragments. Reply with exactly one word from:
concept, procedure, decision, vocabulary, reference, other`

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   truncate(content, 1500),
		Temperature:  0.1,
		MaxTokens:    10,
	})
	if err != nil {
		return "", fmt.Errorf("failed to categorize chunk: %w", err)
	}

	return parseCategory(resp.Content), nil
}

// TranscribePage runs the heavy extraction mode: a vision completion
// that transcribes a page image into plain text. Used by the extraction
// self-healer when structural extraction under-delivers.
func (c *Client) TranscribePage(ctx context.Context, imageDataURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var content string

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model: c.visionModel,
					Messages: []openai.ChatCompletionMessage{
						{
							Role: openai.ChatMessageRoleUser,
							MultiContent: []openai.ChatMessagePart{
								{
									Type: openai.ChatMessagePartTypeText,
									Text: "Transcribe all text on this page. Output only the text, preserving paragraph breaks.",
								},
								{
									Type: openai.ChatMessagePartTypeImageURL,
									ImageURL: &openai.ChatMessageImageURL{
										URL: imageDataURL,
									},
								},
							},
						},
					},
					MaxTokens: 4096,
				},
			)
			if err != nil {
				return fmt.Errorf("failed to transcribe page: %w", err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("transcription returned no choices: %w", ErrMalformedResponse)
			}
			content = resp.Choices[0].Message.Content
			return nil
		})
	})

	if err != nil {
		return "", err
	}

	return content, nil
}

// truncate cuts to at most max bytes on a rune boundary so the prompt
// stays valid UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
