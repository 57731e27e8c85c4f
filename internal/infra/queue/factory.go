package queue

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Open builds a Client from a DSN: memory://, postgres://... or amqp://...
// The in-memory backend loses every job on restart and must be asked for by name.
func Open(dsn string, logger *zap.Logger, cfg Config) (*Client, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("queue: dsn is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("queue: parse dsn: %w", err)
	}
	switch scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme)); scheme {
	case "memory", "mem", "inmem":
		return NewMemory(logger, cfg), nil
	case "postgres", "postgresql":
		return NewPostgres(dsn, logger, cfg)
	case "amqp", "amqps":
		return NewRabbitMQ(dsn, logger, cfg)
	default:
		return nil, fmt.Errorf("queue: unsupported scheme %q", scheme)
	}
}

// Backend names the storage behind the client, for logs and health output.
func (c *Client) Backend() string {
	switch c.backend.(type) {
	case *memoryBackend:
		return "memory"
	case *postgresBackend:
		return "postgres"
	case *rabbitBackend:
		return "rabbitmq"
	default:
		return "unknown"
	}
}
