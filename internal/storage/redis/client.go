package redis

import (
	"context"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	xerrors "NFTMarket-Harness/internal/errors"
)

// Config holds Redis connection settings.
type Config struct {
	Address  string
	Password string
	DB       int
}

// Open creates a client and PINGs the server.
func Open(ctx context.Context, cfg Config) (*goredis.Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "redis address is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "connect to redis",
			xerrors.WithMetadata("address", cfg.Address))
	}
	return client, nil
}
