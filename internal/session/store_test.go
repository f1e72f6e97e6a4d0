package session

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/pulsegate/internal/domain"
)

func TestStore_CreateAndGet(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(time.Hour, clock)
	ctx := context.Background()

	created, err := store.Create(ctx, "alice", domain.RoleMember, []string{"read"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("alice"), got.Identity)
	assert.Equal(t, domain.RoleMember, got.Role)
	assert.Equal(t, []string{"read"}, got.Permissions)
}

func TestStore_GetUnknown(t *testing.T) {
	store := NewStore(time.Hour, clockwork.NewFakeClock())

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestStore_SlidingTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(time.Hour, clock)
	ctx := context.Background()

	created, err := store.Create(ctx, "alice", domain.RoleMember, nil)
	require.NoError(t, err)

	// Each lookup inside the TTL pushes the expiry out again.
	for i := 0; i < 3; i++ {
		clock.Advance(59 * time.Minute)
		_, err = store.Get(ctx, created.ID)
		require.NoError(t, err, "lookup %d should refresh the session", i+1)
	}

	// Without lookups the session lapses.
	clock.Advance(61 * time.Minute)
	_, err = store.Get(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestStore_GetExpiredRemoves(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(time.Hour, clock)
	ctx := context.Background()

	created, err := store.Create(ctx, "alice", domain.RoleMember, nil)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, err = store.Get(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestStore_Delete(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(time.Hour, clock)
	ctx := context.Background()

	created, err := store.Create(ctx, "alice", domain.RoleAdmin, nil)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, created.ID))
	_, err = store.Get(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	// Deleting again is not an error.
	assert.NoError(t, store.Delete(ctx, created.ID))
}

func TestStore_ReturnsCopies(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(time.Hour, clock)
	ctx := context.Background()

	created, err := store.Create(ctx, "alice", domain.RoleMember, []string{"read"})
	require.NoError(t, err)

	created.Identity = "mallory"
	created.Permissions[0] = "write"

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("alice"), got.Identity)
	assert.Equal(t, []string{"read"}, got.Permissions)
}

func TestStore_JanitorEvictsExpired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(time.Hour, clock)
	ctx := context.Background()

	_, err := store.Create(ctx, "alice", domain.RoleMember, nil)
	require.NoError(t, err)
	_, err = store.Create(ctx, "bob", domain.RoleMember, nil)
	require.NoError(t, err)

	stop := store.StartJanitor(time.Minute)
	defer stop()

	clock.BlockUntil(1)
	clock.Advance(2 * time.Hour)

	assert.Eventually(t, func() bool {
		return store.Len() == 0
	}, time.Second, 5*time.Millisecond)
}
