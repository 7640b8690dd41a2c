package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/medassist/backend/pkg/logger"
)

// Client caches terminology search responses. Concept rows are never cached
// here; every mapping lookup goes to the store.
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

func (c *Client) SetTermSearch(ctx context.Context, termHash string, payload []byte, ttl time.Duration) error {
	err := c.client.Set(ctx, fmt.Sprintf("termsearch:%s", termHash), payload, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set term search cache: %w", err)
	}

	logger.Debug("Term search cached", zap.String("term_hash", termHash), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetTermSearch(ctx context.Context, termHash string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("termsearch:%s", termHash)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get term search cache: %w", err)
	}

	logger.Debug("Term search cache hit", zap.String("term_hash", termHash))
	return data, true, nil
}
