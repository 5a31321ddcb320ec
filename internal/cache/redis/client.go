package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kbcurator/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("embedding:%s", textHash), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}

	logger.Debug("Embedding cached", zap.String("text_hash", textHash))
	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("embedding:%s", textHash)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var embedding []float32
	err = json.Unmarshal(data, &embedding)
	if err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}

	logger.Debug("Embedding cache hit", zap.String("text_hash", textHash))
	return embedding, true, nil
}

// SetSuggestion caches a gap-remediation suggestion so repeated gap
// reports for an unchanged requirement item don't re-bill the oracle.
func (c *Client) SetSuggestion(ctx context.Context, itemHash, suggestion string, ttl time.Duration) error {
	err := c.client.Set(ctx, fmt.Sprintf("suggestion:%s", itemHash), suggestion, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set suggestion cache: %w", err)
	}
	return nil
}

func (c *Client) GetSuggestion(ctx context.Context, itemHash string) (string, bool, error) {
	val, err := c.client.Get(ctx, fmt.Sprintf("suggestion:%s", itemHash)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get suggestion cache: %w", err)
	}
	return val, true, nil
}

// AcquireSweepLock guards a maintenance sweep with SETNX so overlapping
// triggers (ticker + manual) don't run concurrent repairs.
func (c *Client) AcquireSweepLock(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, "maintenance:sweep-lock", time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire sweep lock: %w", err)
	}
	return ok, nil
}

func (c *Client) ReleaseSweepLock(ctx context.Context) error {
	err := c.client.Del(ctx, "maintenance:sweep-lock").Err()
	if err != nil {
		return fmt.Errorf("failed to release sweep lock: %w", err)
	}
	return nil
}
