package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/easybooktrip/loyalty-engine/pkg/redis"
)

type tierEntry struct {
	Tier       string `json:"tier"`
	MinPoints  int64  `json:"min_points"`
	Multiplier string `json:"multiplier"`
}

func newTestManager(t *testing.T) (*Manager, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	return NewManager(&redisclient.Client{Client: db}), mock
}

func TestManagerGetHit(t *testing.T) {
	manager, mock := newTestManager(t)
	ctx := context.Background()

	mock.ExpectGet("loyalty:tierconfigs").SetVal(`{"tier":"GOLD","min_points":25000,"multiplier":"1.5"}`)

	var entry tierEntry
	err := manager.Get(ctx, "loyalty:tierconfigs", &entry)
	require.NoError(t, err)
	assert.Equal(t, "GOLD", entry.Tier)
	assert.Equal(t, int64(25000), entry.MinPoints)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagerGetMiss(t *testing.T) {
	manager, mock := newTestManager(t)
	ctx := context.Background()

	mock.ExpectGet("loyalty:tierconfigs").RedisNil()

	var entry tierEntry
	err := manager.Get(ctx, "loyalty:tierconfigs", &entry)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestManagerSetMarshalsJSON(t *testing.T) {
	manager, mock := newTestManager(t)
	ctx := context.Background()

	entry := tierEntry{Tier: "SILVER", MinPoints: 10000, Multiplier: "1.25"}
	mock.ExpectSet("loyalty:tierconfigs",
		`{"tier":"SILVER","min_points":10000,"multiplier":"1.25"}`,
		5*time.Minute).SetVal("OK")

	err := manager.Set(ctx, "loyalty:tierconfigs", entry, 5*time.Minute)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManagerGetOrSetCacheHitSkipsLoader(t *testing.T) {
	manager, mock := newTestManager(t)
	ctx := context.Background()

	mock.ExpectGet("loyalty:earnrule:FLIGHT").SetVal(`{"tier":"BRONZE","min_points":0,"multiplier":"1"}`)

	loaderCalled := false
	var entry tierEntry
	err := manager.GetOrSet(ctx, "loyalty:earnrule:FLIGHT", time.Minute, &entry, func() (interface{}, error) {
		loaderCalled = true
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, loaderCalled)
	assert.Equal(t, "BRONZE", entry.Tier)
}

func TestManagerGetOrSetCacheMissRunsLoader(t *testing.T) {
	manager, mock := newTestManager(t)
	ctx := context.Background()

	mock.ExpectGet("loyalty:earnrule:HOTEL").RedisNil()

	var entry tierEntry
	err := manager.GetOrSet(ctx, "loyalty:earnrule:HOTEL", time.Minute, &entry, func() (interface{}, error) {
		return tierEntry{Tier: "PLATINUM", MinPoints: 75000, Multiplier: "2"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "PLATINUM", entry.Tier)
	assert.Equal(t, int64(75000), entry.MinPoints)
}

func TestManagerGetOrSetLoaderError(t *testing.T) {
	manager, mock := newTestManager(t)
	ctx := context.Background()

	mock.ExpectGet("loyalty:earnrule:HOTEL").RedisNil()

	var entry tierEntry
	err := manager.GetOrSet(ctx, "loyalty:earnrule:HOTEL", time.Minute, &entry, func() (interface{}, error) {
		return nil, assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestManagerDelete(t *testing.T) {
	manager, mock := newTestManager(t)
	ctx := context.Background()

	mock.ExpectDel("loyalty:tierconfigs", "loyalty:earnrule:FLIGHT").SetVal(2)

	err := manager.Delete(ctx, "loyalty:tierconfigs", "loyalty:earnrule:FLIGHT")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}