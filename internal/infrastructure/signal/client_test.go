package signal

import (
	"context"
	"testing"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialClient(t *testing.T, f *relayFixture, id, role string) (*Client, *protocol.Roster) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, f.wsURL, DefaultClientOptions())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	env, err := protocol.Encode(protocol.Join{Room: "room-1", ParticipantID: domain.ParticipantID(id), Role: role}, "")
	require.NoError(t, err)
	require.NoError(t, c.Send(env))

	select {
	case env := <-c.Incoming():
		msg, err := protocol.Decode(env)
		require.NoError(t, err)
		return c, msg.(*protocol.Roster)
	case <-time.After(2 * time.Second):
		t.Fatal("no roster")
	}
	return nil, nil
}

func TestClient_ExchangesThroughRelay(t *testing.T) {
	f := newRelayFixture(t, nil)
	alice, _ := dialClient(t, f, "alice", "driver")
	bob, roster := dialClient(t, f, "bob", "subject")
	require.Len(t, roster.Participants, 1)

	<-alice.Incoming() // peer-joined

	env, err := protocol.Encode(protocol.Answer{SDP: "v=0"}, "alice")
	require.NoError(t, err)
	require.NoError(t, bob.Send(env))

	select {
	case got := <-alice.Incoming():
		assert.Equal(t, protocol.TypeAnswer, got.Type)
		assert.Equal(t, domain.ParticipantID("bob"), got.From)
	case <-time.After(2 * time.Second):
		t.Fatal("answer not relayed")
	}
}

func TestClient_CloseEndsStreams(t *testing.T) {
	f := newRelayFixture(t, nil)
	alice, _ := dialClient(t, f, "alice", "driver")

	require.NoError(t, alice.Close())
	<-alice.Done()
	assert.ErrorIs(t, alice.Err(), ErrClientClosed)

	env, _ := protocol.Encode(protocol.BoardClear{}, "")
	assert.Error(t, alice.Send(env))

	assert.Eventually(t, func() bool {
		return !f.server.IsConnected("room-1", "alice")
	}, 2*time.Second, 10*time.Millisecond)
}
