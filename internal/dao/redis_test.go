package dao

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mygame/netsim/internal/tick"
	"mygame/netsim/pkg/config"
)

// newTestStore connects to NETSIM_TEST_REDIS_ADDR or skips.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("NETSIM_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("NETSIM_TEST_REDIS_ADDR not set")
	}
	s, err := NewStore(context.Background(), config.RedisConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_Snapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room := "test-" + uuid.NewString()

	_, _, ok, err := s.LoadSnapshot(ctx, room)
	require.NoError(t, err)
	assert.False(t, ok)

	data := []byte{0x22, 0x00, 0xff, 0x10}
	require.NoError(t, s.SaveSnapshot(ctx, room, 640, data))
	require.NoError(t, s.SaveSnapshot(ctx, room, 704, data[:2]))

	got, body, ok, err := s.LoadSnapshot(ctx, room)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tick.Tick(704), got)
	assert.Equal(t, data[:2], body)
}

func TestStore_RoomToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room := "test-" + uuid.NewString()

	ok, err := s.ValidateRoomToken(ctx, room, "secret")
	require.NoError(t, err)
	assert.False(t, ok, "unknown rooms admit nobody")

	require.NoError(t, s.SetRoomToken(ctx, room, "secret"))
	ok, err = s.ValidateRoomToken(ctx, room, "secret")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ValidateRoomToken(ctx, room, "guess")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewStore_Unreachable(t *testing.T) {
	_, err := NewStore(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
