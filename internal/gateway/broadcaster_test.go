package gateway

import (
	"context"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/pulsegate/internal/domain"
)

func TestSendTo_UnknownConnectionIsFalse(t *testing.T) {
	g := newTestGateway(t)

	ok := g.manager.Broadcaster().SendTo("no-such-connection", domain.NewReply("note", nil, time.Now()))
	assert.False(t, ok)
}

func TestSendToIdentity_FansOutToEveryBoundConnection(t *testing.T) {
	g := newTestGateway(t)

	sess, err := g.sessions.Create(context.Background(), "alice", domain.RoleMember, nil)
	require.NoError(t, err)
	g.auth.set(&domain.AuthResult{Session: sess, Method: domain.AuthMethodSession}, nil)

	connA, _ := g.connect(t)
	connB, _ := g.connect(t)
	for _, conn := range []*ws.Conn{connA, connB} {
		send(t, conn, domain.TypeAuthenticate, domain.Credentials{SessionID: sess.ID})
		readUntil(t, conn, domain.TypeAuthenticated)
	}

	delivered, queued := g.manager.Broadcaster().SendToIdentity("alice", domain.NewReply("note", map[string]string{"k": "v"}, time.Now()))
	assert.Equal(t, 2, delivered)
	assert.False(t, queued)

	readUntil(t, connA, "note")
	readUntil(t, connB, "note")
}

func TestSendToIdentity_QueuesWhenOffline(t *testing.T) {
	g := newTestGateway(t)

	msg := domain.NewReply("note", map[string]string{"k": "v"}, time.Now())
	delivered, queued := g.manager.Broadcaster().SendToIdentity("nobody", msg)
	assert.Zero(t, delivered)
	assert.True(t, queued)

	size, err := g.queue.Size(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestBroadcastChannel_DeadMemberDoesNotAbortFanOut(t *testing.T) {
	g := newTestGateway(t)
	connA, _ := g.connect(t)
	connB, _ := g.connect(t)

	send(t, connA, domain.TypeSubscribe, subscribePayload{Channel: "news"})
	readUntil(t, connA, domain.TypeSubscribed)
	send(t, connB, domain.TypeSubscribe, subscribePayload{Channel: "news"})
	readUntil(t, connB, domain.TypeSubscribed)

	// A member with no live connection behind it: its send fails, the
	// rest of the fan-out continues.
	require.NoError(t, g.registry.Subscribe("ghost", "", domain.RoleMember, "news"))

	count := g.manager.Broadcaster().BroadcastChannel("news", domain.NewReply("note", nil, time.Now()))
	assert.Equal(t, 2, count)

	readUntil(t, connA, "note")
	readUntil(t, connB, "note")
}

func TestBroadcastRoom_ExcludesSender(t *testing.T) {
	g := newTestGateway(t)
	connA, idA := g.connect(t)
	connB, _ := g.connect(t)

	send(t, connA, domain.TypeJoinRoom, roomPayload{Room: "general"})
	readUntil(t, connA, domain.TypeRoomJoined)
	send(t, connB, domain.TypeJoinRoom, roomPayload{Room: "general"})
	readUntil(t, connB, domain.TypeRoomJoined)
	readUntil(t, connA, domain.TypeUserJoinedRoom)

	count := g.manager.Broadcaster().BroadcastRoom("general", domain.NewReply("note", nil, time.Now()), idA)
	assert.Equal(t, 1, count)
	readUntil(t, connB, "note")
}
