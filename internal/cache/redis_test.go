package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"imagedrop/internal/config"
)

func TestNewRedisClient(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()

	client, err := NewRedisClient(context.Background(), config.RedisConfig{Addr: addr})
	require.NoError(t, err)
	require.NoError(t, client.Close())

	srv.Close()
	_, err = NewRedisClient(context.Background(), config.RedisConfig{Addr: addr})
	require.Error(t, err)
}
