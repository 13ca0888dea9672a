package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"syncroom/internal/core/domain"
	"syncroom/internal/participant/negotiation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestExportBoard_ReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.msgpack")
	strokes := []domain.Stroke{
		{ID: "s1", AuthorID: "alice", Seq: 1, Payload: json.RawMessage(`{"x":1}`)},
		{ID: "s2", AuthorID: "bob", Seq: 1, Payload: json.RawMessage(`{"x":2}`)},
	}
	require.NoError(t, exportBoard(path, "r1", strokes))

	exp, err := readExport(path)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("r1"), exp.Room)
	require.Len(t, exp.Strokes, 2)
	assert.Equal(t, domain.StrokeID("s2"), exp.Strokes[1].ID)
	assert.JSONEq(t, `{"x":2}`, string(exp.Strokes[1].Payload))
}

func TestReadExport_RejectsOtherVersions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.msgpack")
	data, err := msgpack.Marshal(&boardExport{Version: 99, Room: "r1"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = readExport(path)
	assert.ErrorContains(t, err, "unsupported export version")
}

func TestInspectCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.msgpack")
	require.NoError(t, exportBoard(path, "r1", []domain.Stroke{{ID: "s1", AuthorID: "alice", Seq: 1, Payload: json.RawMessage(`{}`)}}))

	var out strings.Builder
	inspectCmd.SetOut(&out)
	require.NoError(t, inspectCmd.RunE(inspectCmd, []string{path}))
	assert.Contains(t, out.String(), "room r1")
	assert.Contains(t, out.String(), "alice")
}

func TestRosterTable(t *testing.T) {
	roster := []domain.Participant{
		{ID: "alice", DisplayName: "Alice", Role: domain.RoleDriver},
		{ID: "bob", DisplayName: "Bob", Role: domain.RoleSubject},
	}
	links := []negotiation.LinkStatus{
		{Remote: "alice", State: domain.NegotiationConnected},
		{Remote: "bob", State: domain.NegotiationFailed, Initiator: true, Restarted: true, Unavailable: true},
	}
	out := rosterTable(roster, links, func(domain.ParticipantID) uint64 { return 7 })

	assert.Contains(t, out, "connected")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "unavailable")
	assert.Contains(t, out, "offer")
}
