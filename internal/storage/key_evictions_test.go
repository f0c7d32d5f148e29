package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"llm_router/internal/models"
)

type recordingEvictor struct {
	mu     sync.Mutex
	hashes []string
}

func (r *recordingEvictor) Evict(ctx context.Context, keyHash string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hashes = append(r.hashes, keyHash)
}

func TestKeyEvictions_ReachOtherReplicas(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	newClient := func() *redis.Client {
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = c.Close() })
		return c
	}

	dbA, _ := newMockDB(t)
	dbB, _ := newMockDB(t)
	a := dbA.NewKeyEvictions(newClient(), zap.NewNop())
	b := dbB.NewKeyEvictions(newClient(), zap.NewNop())
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))
	defer func() { _ = a.Stop() }()
	defer func() { _ = b.Stop() }()

	dbB.apiKeyCache.Set("hash-1", &models.UniversalAPIKey{KeyPrefix: "sk-1"})
	dbB.apiKeyCache.Set("hash-2", &models.UniversalAPIKey{KeyPrefix: "sk-2"})

	a.Evict(ctx, "hash-1")

	assert.Eventually(t, func() bool {
		_, ok := dbB.apiKeyCache.Get("hash-1")
		return !ok
	}, time.Second, 5*time.Millisecond)

	_, ok := dbB.apiKeyCache.Get("hash-2")
	assert.True(t, ok)
}

func TestKeyEvictions_StopIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	db, _ := newMockDB(t)
	e := db.NewKeyEvictions(client, nil)
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Stop())
	require.NoError(t, e.Stop())
}

func TestAPIKeyRepository_RevokeAnnouncesEviction(t *testing.T) {
	db, mock := newMockDB(t)
	evictor := &recordingEvictor{}
	db.SetKeyEvictor(evictor)
	repo := db.NewAPIKeyRepository()
	id := uuid.New()

	mock.ExpectQuery("UPDATE universal_api_keys").
		WithArgs(id, "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"key_hash"}).AddRow("hash-1"))

	require.NoError(t, repo.Revoke(context.Background(), "user-1", id))
	assert.Equal(t, []string{"hash-1"}, evictor.hashes)
	assert.NoError(t, mock.ExpectationsWereMet())
}
