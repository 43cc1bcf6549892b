// internal/store/store_test.go
package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/ladder/internal/database"
	"github.com/jason-s-yu/ladder/internal/match"
	"github.com/jason-s-yu/ladder/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

// exerciseDocuments runs the behaviour every backend must share.
func exerciseDocuments(t *testing.T, docs Documents, guild string) {
	ctx := context.Background()

	var got doc
	ok, err := docs.Get(ctx, guild, "missing", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, docs.Set(ctx, guild, "k", doc{Name: "first", Items: []string{"a"}}))
	ok, err = docs.Get(ctx, guild, "k", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, doc{Name: "first", Items: []string{"a"}}, got)

	require.NoError(t, docs.Set(ctx, guild, "k", doc{Name: "second"}))
	got = doc{}
	ok, err = docs.Get(ctx, guild, "k", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", got.Name)

	// Other guilds do not see the document.
	ok, err = docs.Get(ctx, guild+"-other", "k", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	guilds, err := docs.Guilds(ctx)
	require.NoError(t, err)
	assert.Contains(t, guilds, guild)
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	exerciseDocuments(t, m, "g1")

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Set(context.Background(), "g1", "k", 1), ErrClosed)
}

func TestSQLite(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer s.Close()
	exerciseDocuments(t, s, "g1")
}

func TestSQLiteFileReopen(t *testing.T) {
	path := t.TempDir() + "/ladder.db"
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), "g", "k", doc{Name: "kept"}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	var got doc
	ok, err := s.Get(context.Background(), "g", "k", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "kept", got.Name)
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	prefix := "ladder-test:" + uuid.NewString() + ":"
	r := NewRedis(rdb, prefix)
	defer r.Close()
	t.Cleanup(func() {
		rdb.Del(context.Background(), prefix+"g1")
	})
	exerciseDocuments(t, r, "g1")
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := database.Connect(ctx, dsn, 5*time.Second, logrus.New())
	require.NoError(t, err)
	require.NoError(t, database.EnsureSchema(ctx, pool))
	p := NewPostgres(pool)
	defer p.Close()
	exerciseDocuments(t, p, "test-"+uuid.NewString())
}

func TestRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemory(), 2)

	ps, err := repo.Participants(ctx, "g")
	require.NoError(t, err)
	assert.Empty(t, ps)

	require.NoError(t, repo.SaveParticipants(ctx, "g", map[string]models.Participant{
		"42": {Name: "jstn", Rating: 1510, Wins: 1},
	}))
	ps, err = repo.Participants(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, models.Participant{ID: "42", Name: "jstn", Rating: 1510, Wins: 1}, ps["42"])

	a, _ := match.NewRoster([]string{"42"}, match.Size{Exact: 1})
	b, _ := match.NewRoster([]string{"43"}, match.Size{Exact: 1})
	now := time.Now().UTC().Truncate(time.Second)
	live, err := match.New("g", "ladder", 40, a, b, now)
	require.NoError(t, err)
	done, err := match.New("g", "ladder", 40, b, a, now)
	require.NoError(t, err)
	require.NoError(t, done.Cancel(now))

	require.NoError(t, repo.SaveMatches(ctx, "g", map[uuid.UUID]*match.Match{live.ID: live, done.ID: done}))
	ms, err := repo.Matches(ctx, "g")
	require.NoError(t, err)
	require.Len(t, ms, 1, "terminal matches are not kept in the active document")
	assert.Equal(t, live.SideA, ms[live.ID].SideA)
	assert.Equal(t, match.StateForming, ms[live.ID].State)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.AppendHistory(ctx, "g", Archive(done)))
	}
	h, err := repo.History(ctx, "g")
	require.NoError(t, err)
	assert.Len(t, h, 2)
	assert.Equal(t, match.StateCancelled, h[0].State)

	require.NoError(t, repo.SaveQueues(ctx, "g", map[string][]string{"sixmans": {"1", "2"}}))
	q, err := repo.Queues(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, q["sixmans"])

	guilds, err := repo.Guilds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"g"}, guilds)
}
