package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb), mr
}

func TestSessionCache_SessionRoundTrip(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewSessionCache(client, 10)
	ctx := context.Background()

	got, err := cache.GetSession(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	s := &domain.Session{
		ID:         "s1",
		TenantID:   "t1",
		UserID:     "u1",
		Status:     domain.SessionStatusActive,
		Metadata:   map[string]any{"topic": "weather"},
		TTLSeconds: 60,
	}
	require.NoError(t, cache.SetSession(ctx, s, time.Minute))

	got, err = cache.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t1", got.TenantID)
	assert.Equal(t, "weather", got.Metadata["topic"])
	assert.Equal(t, time.Minute, mr.TTL("session:s1"))

	require.NoError(t, cache.DeleteSession(ctx, "s1"))
	assert.False(t, mr.Exists("session:s1"))
}

func TestSessionCache_SetSessionSkipsExpired(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewSessionCache(client, 10)

	require.NoError(t, cache.SetSession(context.Background(), &domain.Session{ID: "s1"}, 0))
	assert.False(t, mr.Exists("session:s1"))
}

func TestSessionCache_Messages(t *testing.T) {
	client, _ := newTestClient(t)
	cache := NewSessionCache(client, 3)
	ctx := context.Background()

	_, ok, err := cache.GetMessages(ctx, "s1", 10, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	// appending to an uncached history is a no-op
	require.NoError(t, cache.AppendMessage(ctx, "s1", &domain.Message{ID: "m0"}, time.Minute))
	_, ok, err = cache.GetMessages(ctx, "s1", 10, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	msgs := []domain.Message{
		{ID: "m1", SessionID: "s1", Role: domain.RoleUser, Content: "hi"},
		{ID: "m2", SessionID: "s1", Role: domain.RoleAssistant, Content: "hello"},
	}
	version, err := cache.MessagesVersion(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "m0", version)
	stored, err := cache.SetMessages(ctx, "s1", version, msgs, time.Minute)
	require.NoError(t, err)
	require.True(t, stored)
	require.NoError(t, cache.AppendMessage(ctx, "s1", &domain.Message{ID: "m3", Content: "again"}, time.Minute))

	page, ok, err := cache.GetMessages(ctx, "s1", 2, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, page, 2)
	assert.Equal(t, "m2", page[0].ID)
	assert.Equal(t, "m3", page[1].ID)

	all, ok, err := cache.GetMessages(ctx, "s1", 0, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, all, 3)

	// exceeding the limit drops the cached list
	require.NoError(t, cache.AppendMessage(ctx, "s1", &domain.Message{ID: "m4"}, time.Minute))
	_, ok, err = cache.GetMessages(ctx, "s1", 0, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionCache_FillSkippedAfterAppend(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewSessionCache(client, 10)
	ctx := context.Background()

	version, err := cache.MessagesVersion(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, version)

	// a writer commits m2 after the reader loaded only m1
	require.NoError(t, cache.AppendMessage(ctx, "s1", &domain.Message{ID: "m2"}, time.Minute))

	stored, err := cache.SetMessages(ctx, "s1", version, []domain.Message{{ID: "m1"}}, time.Minute)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.False(t, mr.Exists("session:s1:messages"))

	require.NoError(t, cache.AppendMessage(ctx, "s1", &domain.Message{ID: "m3"}, time.Minute))
	_, ok, err := cache.GetMessages(ctx, "s1", 0, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.DeleteSession(ctx, "s1"))
	assert.False(t, mr.Exists("session:s1:messages:version"))
}

func TestQuotaCounter_AdmitAndRelease(t *testing.T) {
	client, _ := newTestClient(t)
	counter := NewQuotaCounter(client)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		allowed, n, err := counter.Admit(ctx, "t1", domain.ResourceSessions, 3, 0)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, int64(i), n)
	}

	allowed, n, err := counter.Admit(ctx, "t1", domain.ResourceSessions, 3, 0)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, int64(3), n)

	left, err := counter.Release(ctx, "t1", domain.ResourceSessions)
	require.NoError(t, err)
	assert.Equal(t, int64(2), left)

	allowed, _, err = counter.Admit(ctx, "t1", domain.ResourceSessions, 3, 0)
	require.NoError(t, err)
	assert.True(t, allowed)

	// other tenants are independent
	used, err := counter.Get(ctx, "t2", domain.ResourceSessions)
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestQuotaCounter_ReleaseFloorsAtZero(t *testing.T) {
	client, _ := newTestClient(t)
	counter := NewQuotaCounter(client)

	n, err := counter.Release(context.Background(), "t1", domain.ResourceChannels)
	require.NoError(t, err)
	assert.Zero(t, n)

	used, err := counter.Get(context.Background(), "t1", domain.ResourceChannels)
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestQuotaCounter_WindowResets(t *testing.T) {
	client, mr := newTestClient(t)
	counter := NewQuotaCounter(client)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := counter.Admit(ctx, "t1", domain.ResourceSkills, 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, _, err := counter.Admit(ctx, "t1", domain.ResourceSkills, 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	mr.FastForward(61 * time.Second)

	allowed, n, err := counter.Admit(ctx, "t1", domain.ResourceSkills, 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, int64(1), n)
}

func TestPubSub_Delivers(t *testing.T) {
	client, _ := newTestClient(t)
	bus := NewPubSub(client)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []string
	require.NoError(t, bus.Subscribe(ctx, "gateway:events", func(b []byte) {
		mu.Lock()
		got = append(got, string(b))
		mu.Unlock()
	}))

	require.NoError(t, bus.Publish(ctx, "gateway:events", []byte(`{"room":"tenant:t1"}`)))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == `{"room":"tenant:t1"}`
	}, 2*time.Second, 10*time.Millisecond)
}
