package dao

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"mygame/netsim/internal/tick"
	"mygame/netsim/pkg/config"
)

const (
	KeyRoomPrefix     = "room:"
	keySnapshotSuffix = ":snapshot"

	// a crashed room is only worth resuming for a while
	snapshotTTL = 10 * time.Minute
)

// Store keeps room admission tokens and the latest authoritative snapshot.
type Store struct {
	rdb *redis.Client
}

// NewStore connects and pings redis.
func NewStore(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// ValidateRoomToken checks whether the given token matches the stored room token.
func (s *Store) ValidateRoomToken(ctx context.Context, roomID, token string) (bool, error) {
	val, err := s.rdb.HGet(ctx, KeyRoomPrefix+roomID, "token").Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == token, nil
}

// SetRoomToken stores the admission token of a room.
func (s *Store) SetRoomToken(ctx context.Context, roomID, token string) error {
	return s.rdb.HSet(ctx, KeyRoomPrefix+roomID, "token", token).Err()
}

// SaveSnapshot replaces the room's persisted snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, roomID string, t tick.Tick, data []byte) error {
	key := KeyRoomPrefix + roomID + keySnapshotSuffix
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, "tick", uint32(t), "data", data)
	pipe.Expire(ctx, key, snapshotTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// LoadSnapshot returns the persisted snapshot; ok is false when none exists.
func (s *Store) LoadSnapshot(ctx context.Context, roomID string) (t tick.Tick, data []byte, ok bool, err error) {
	vals, err := s.rdb.HGetAll(ctx, KeyRoomPrefix+roomID+keySnapshotSuffix).Result()
	if err != nil {
		return 0, nil, false, err
	}
	raw, hasTick := vals["tick"]
	body, hasData := vals["data"]
	if !hasTick || !hasData {
		return 0, nil, false, nil
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, nil, false, errors.New("corrupt snapshot tick: " + raw)
	}
	return tick.Tick(n), []byte(body), true, nil
}
