package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 90 * 24 * time.Hour

// Store keeps per-user session values in Redis under session:<user>:<field>.
type Store struct {
	client *goredis.Client
	ttl    time.Duration
}

func New(url string) (*Store, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{client: client, ttl: defaultTTL}, nil
}

func NewWithClient(client *goredis.Client) *Store {
	return &Store{client: client, ttl: defaultTTL}
}

func (s *Store) Close() error {
	return s.client.Close()
}

// LastFolder returns "" when the user has no stored folder.
func (s *Store) LastFolder(ctx context.Context, userID string) (string, error) {
	v, err := s.client.Get(ctx, lastFolderKey(userID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get last folder: %w", err)
	}
	return v, nil
}

func (s *Store) SetLastFolder(ctx context.Context, userID, folderID string) error {
	if err := s.client.Set(ctx, lastFolderKey(userID), folderID, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set last folder: %w", err)
	}
	return nil
}

func lastFolderKey(userID string) string {
	return "session:" + userID + ":last_folder"
}
