package protocol

import (
	"syncroom/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// Type is the discriminator carried in every envelope.
type Type string

const (
	TypeJoin             Type = "join"
	TypeRoster           Type = "roster"
	TypePeerJoined       Type = "peer-joined"
	TypePeerLeft         Type = "peer-left"
	TypeOffer            Type = "offer"
	TypeAnswer           Type = "answer"
	TypeICECandidate     Type = "ice-candidate"
	TypeViewChange       Type = "view-change"
	TypeEditorUpdate     Type = "editor-update"
	TypeEditorResult     Type = "editor-result"
	TypeBoardStroke      Type = "board-stroke"
	TypeBoardUndo        Type = "board-undo"
	TypeBoardClear       Type = "board-clear"
	TypeBoardSyncRequest Type = "board-sync-request"
	TypeBoardSyncReply   Type = "board-sync-reply"
	TypeError            Type = "error"
)

// Message is implemented by every payload variant.
type Message interface {
	Type() Type
}

type Join struct {
	Room          domain.RoomID        `json:"room"`
	ParticipantID domain.ParticipantID `json:"participantId"`
	Name          string               `json:"name,omitempty"`
	Role          string               `json:"role"`
	Token         string               `json:"token,omitempty"`
}

type Roster struct {
	Room         domain.RoomID        `json:"room"`
	Self         domain.Participant   `json:"self"`
	Participants []domain.Participant `json:"participants"`
}

type PeerJoined struct {
	Participant domain.Participant `json:"participant"`
}

type PeerLeft struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
}

type Offer struct {
	SDP     string `json:"sdp"`
	Restart bool   `json:"restart,omitempty"`
}

type Answer struct {
	SDP string `json:"sdp"`
}

// ICECandidate carries the browser-shaped candidate init.
type ICECandidate struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type ViewChange struct {
	View domain.ViewID `json:"view"`
}

type EditorUpdate struct {
	Content  string               `json:"content"`
	Language string               `json:"language"`
	AuthorID domain.ParticipantID `json:"authorId"`
	Revision uint64               `json:"revision"`
}

type EditorResult struct {
	Output   string               `json:"output"`
	AuthorID domain.ParticipantID `json:"authorId"`
}

type BoardStroke struct {
	Stroke   domain.Stroke        `json:"stroke"`
	AuthorID domain.ParticipantID `json:"authorId"`
}

type BoardUndo struct {
	StrokeID domain.StrokeID      `json:"strokeId"`
	AuthorID domain.ParticipantID `json:"authorId"`
}

type BoardClear struct {
	AuthorID domain.ParticipantID `json:"authorId"`
}

type BoardSyncRequest struct {
	RequesterID domain.ParticipantID `json:"requesterId"`
	RequestID   string               `json:"requestId"`
}

type BoardSyncReply struct {
	TargetID  domain.ParticipantID `json:"targetId"`
	RequestID string               `json:"requestId"`
	Strokes   []domain.Stroke      `json:"strokes"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal,omitempty"`
}

func (Join) Type() Type             { return TypeJoin }
func (Roster) Type() Type           { return TypeRoster }
func (PeerJoined) Type() Type       { return TypePeerJoined }
func (PeerLeft) Type() Type         { return TypePeerLeft }
func (Offer) Type() Type            { return TypeOffer }
func (Answer) Type() Type           { return TypeAnswer }
func (ICECandidate) Type() Type     { return TypeICECandidate }
func (ViewChange) Type() Type       { return TypeViewChange }
func (EditorUpdate) Type() Type     { return TypeEditorUpdate }
func (EditorResult) Type() Type     { return TypeEditorResult }
func (BoardStroke) Type() Type      { return TypeBoardStroke }
func (BoardUndo) Type() Type        { return TypeBoardUndo }
func (BoardClear) Type() Type       { return TypeBoardClear }
func (BoardSyncRequest) Type() Type { return TypeBoardSyncRequest }
func (BoardSyncReply) Type() Type   { return TypeBoardSyncReply }
func (Error) Type() Type            { return TypeError }

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}
