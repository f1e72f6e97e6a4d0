package postgres

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pscheid92/pulsegate/internal/domain"
)

var testDatabaseURL string

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	testDatabaseURL, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get connection string: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	_ = container.Terminate(ctx)
	os.Exit(code)
}

func setupHistory(t *testing.T) (*History, *pgxpool.Pool) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	pool, err := Connect(ctx, testDatabaseURL)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `TRUNCATE channel_history`)
	require.NoError(t, err)

	h := NewHistory(pool, clockwork.NewRealClock())
	t.Cleanup(func() {
		_ = h.Close()
		pool.Close()
	})
	return h, pool
}

func liveUpdate(seq int) domain.ServerMessage {
	return domain.ServerMessage{
		Type:      domain.TypeLiveUpdate,
		Data:      map[string]any{"seq": fmt.Sprintf("%d", seq)},
		Timestamp: time.Now().UTC(),
	}
}

func seqOf(t *testing.T, msg domain.ServerMessage) string {
	t.Helper()
	data, ok := msg.Data.(map[string]any)
	require.True(t, ok)
	seq, ok := data["seq"].(string)
	require.True(t, ok)
	return seq
}

func TestHistory_AppendFlushRecent(t *testing.T) {
	h, _ := setupHistory(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Append(ctx, "news", liveUpdate(i)))
	}
	h.flush()

	got, err := h.Recent(ctx, "news", 10)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, msg := range got {
		assert.Equal(t, fmt.Sprintf("%d", i), seqOf(t, msg), "oldest first")
	}
}

func TestHistory_RecentHonorsLimit(t *testing.T) {
	h, _ := setupHistory(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Append(ctx, "news", liveUpdate(i)))
	}
	h.flush()

	got, err := h.Recent(ctx, "news", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "3", seqOf(t, got[0]))
	assert.Equal(t, "4", seqOf(t, got[1]))

	got, err = h.Recent(ctx, "news", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHistory_ChannelsAreIsolated(t *testing.T) {
	h, _ := setupHistory(t)
	ctx := context.Background()

	require.NoError(t, h.Append(ctx, "news", liveUpdate(1)))
	require.NoError(t, h.Append(ctx, "sports", liveUpdate(2)))
	h.flush()

	got, err := h.Recent(ctx, "news", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1", seqOf(t, got[0]))
}

func TestHistory_CloseFlushesPending(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	pool, err := Connect(ctx, testDatabaseURL)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Exec(ctx, `TRUNCATE channel_history`)
	require.NoError(t, err)

	h := NewHistory(pool, clockwork.NewRealClock())
	require.NoError(t, h.Append(ctx, "news", liveUpdate(7)))
	require.NoError(t, h.Close())

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM channel_history`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestHistory_RecentUnknownChannel(t *testing.T) {
	h, _ := setupHistory(t)

	got, err := h.Recent(context.Background(), "ghost", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
