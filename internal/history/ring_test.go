package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/pulsegate/internal/domain"
)

func update(i int) domain.ServerMessage {
	return domain.NewReply(domain.TypeLiveUpdate, map[string]int{"seq": i}, time.Unix(int64(i), 0))
}

func seqOf(t *testing.T, msg domain.ServerMessage) int {
	t.Helper()
	data, ok := msg.Data.(map[string]int)
	require.True(t, ok)
	return data["seq"]
}

func TestRing_AppendAndRecent(t *testing.T) {
	r := NewRing(10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Append(ctx, "news", update(i)))
	}

	msgs, err := r.Recent(ctx, "news", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		assert.Equal(t, i, seqOf(t, m))
	}
}

func TestRing_OverwritesOldestWhenFull(t *testing.T) {
	r := NewRing(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Append(ctx, "news", update(i)))
	}

	msgs, err := r.Recent(ctx, "news", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, 2, seqOf(t, msgs[0]))
	assert.Equal(t, 3, seqOf(t, msgs[1]))
	assert.Equal(t, 4, seqOf(t, msgs[2]))
}

func TestRing_LimitReturnsNewest(t *testing.T) {
	r := NewRing(10)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, r.Append(ctx, "news", update(i)))
	}

	msgs, err := r.Recent(ctx, "news", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	// The two newest, still oldest first.
	assert.Equal(t, 4, seqOf(t, msgs[0]))
	assert.Equal(t, 5, seqOf(t, msgs[1]))
}

func TestRing_UnknownChannel(t *testing.T) {
	r := NewRing(10)

	msgs, err := r.Recent(context.Background(), "nope", 5)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRing_ChannelsAreIndependent(t *testing.T) {
	r := NewRing(2)
	ctx := context.Background()

	require.NoError(t, r.Append(ctx, "a", update(1)))
	require.NoError(t, r.Append(ctx, "b", update(2)))

	msgsA, err := r.Recent(ctx, "a", 10)
	require.NoError(t, err)
	msgsB, err := r.Recent(ctx, "b", 10)
	require.NoError(t, err)

	require.Len(t, msgsA, 1)
	require.Len(t, msgsB, 1)
	assert.Equal(t, 1, seqOf(t, msgsA[0]))
	assert.Equal(t, 2, seqOf(t, msgsB[0]))
}

func TestRing_CapacityOne(t *testing.T) {
	r := NewRing(1)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, r.Append(ctx, "news", update(i)))
	}

	msgs, err := r.Recent(ctx, "news", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 3, seqOf(t, msgs[0]))
}

func TestRing_SurvivesManyChannels(t *testing.T) {
	r := NewRing(4)
	ctx := context.Background()

	for c := 0; c < 20; c++ {
		channel := fmt.Sprintf("channel-%d", c)
		for i := 0; i < 6; i++ {
			require.NoError(t, r.Append(ctx, channel, update(i)))
		}
	}

	msgs, err := r.Recent(ctx, "channel-19", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, 2, seqOf(t, msgs[0]))
}
