package protocol

import (
	"encoding/json"
	"testing"

	"syncroom/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_Offer(t *testing.T) {
	env, err := Encode(Offer{SDP: "v=0", Restart: true}, "bob")
	require.NoError(t, err)
	assert.Equal(t, TypeOffer, env.Type)
	assert.True(t, env.Targeted())

	data, err := Marshal(env)
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID("bob"), parsed.To)

	msg, err := Decode(parsed)
	require.NoError(t, err)
	offer, ok := msg.(*Offer)
	require.True(t, ok)
	assert.True(t, offer.Restart)
}

func TestDecode_ICECandidateWireShape(t *testing.T) {
	data := []byte(`{"type":"ice-candidate","from":"alice","to":"bob","payload":{"candidate":{"candidate":"candidate:1 1 udp 2122260223 10.0.0.1 54321 typ host","sdpMid":"0","sdpMLineIndex":0}}}`)

	env, err := Parse(data)
	require.NoError(t, err)
	msg, err := Decode(env)
	require.NoError(t, err)

	c := msg.(*ICECandidate).Candidate
	require.NotNil(t, c.SDPMid)
	assert.Equal(t, "0", *c.SDPMid)
	require.NotNil(t, c.SDPMLineIndex)
	assert.Equal(t, uint16(0), *c.SDPMLineIndex)
	assert.Nil(t, c.UsernameFragment)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Parse([]byte(`{"payload":{}}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Parse([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode(&Envelope{Type: "telepathy"})
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Decode(&Envelope{Type: TypeOffer, Payload: json.RawMessage(`{"sdp":42}`)})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecode_EmptyPayload(t *testing.T) {
	msg, err := Decode(&Envelope{Type: TypeBoardClear})
	require.NoError(t, err)
	assert.IsType(t, &BoardClear{}, msg)
}

func TestRegistryCoversEveryVariant(t *testing.T) {
	variants := []Message{
		Join{}, Roster{}, PeerJoined{}, PeerLeft{}, Offer{}, Answer{},
		ICECandidate{Candidate: webrtc.ICECandidateInit{}}, ViewChange{}, EditorUpdate{}, EditorResult{},
		BoardStroke{}, BoardUndo{}, BoardClear{}, BoardSyncRequest{}, BoardSyncReply{}, Error{},
	}
	for _, v := range variants {
		assert.True(t, Known(v.Type()), v.Type())
		env, err := Encode(v, "")
		require.NoError(t, err)
		decoded, err := Decode(env)
		require.NoError(t, err)
		assert.Equal(t, v.Type(), decoded.Type())
	}
}
