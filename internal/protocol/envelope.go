package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"syncroom/internal/core/domain"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMalformed   = errors.New("malformed message")
)

// Envelope is the only frame shape on the wire. The relay reads Type and To
// and stamps From; Payload stays opaque to it.
type Envelope struct {
	Type    Type                 `json:"type"`
	From    domain.ParticipantID `json:"from,omitempty"`
	To      domain.ParticipantID `json:"to,omitempty"`
	Payload json.RawMessage      `json:"payload,omitempty"`
}

// Targeted reports whether the envelope is addressed to a single participant.
func (e *Envelope) Targeted() bool {
	return e.To != ""
}

var registry = map[Type]func() Message{
	TypeJoin:             func() Message { return &Join{} },
	TypeRoster:           func() Message { return &Roster{} },
	TypePeerJoined:       func() Message { return &PeerJoined{} },
	TypePeerLeft:         func() Message { return &PeerLeft{} },
	TypeOffer:            func() Message { return &Offer{} },
	TypeAnswer:           func() Message { return &Answer{} },
	TypeICECandidate:     func() Message { return &ICECandidate{} },
	TypeViewChange:       func() Message { return &ViewChange{} },
	TypeEditorUpdate:     func() Message { return &EditorUpdate{} },
	TypeEditorResult:     func() Message { return &EditorResult{} },
	TypeBoardStroke:      func() Message { return &BoardStroke{} },
	TypeBoardUndo:        func() Message { return &BoardUndo{} },
	TypeBoardClear:       func() Message { return &BoardClear{} },
	TypeBoardSyncRequest: func() Message { return &BoardSyncRequest{} },
	TypeBoardSyncReply:   func() Message { return &BoardSyncReply{} },
	TypeError:            func() Message { return &Error{} },
}

// Known reports whether t is a registered variant.
func Known(t Type) bool {
	_, ok := registry[t]
	return ok
}

// Encode wraps msg in an envelope addressed to `to` (empty for broadcast).
func Encode(msg Message, to domain.ParticipantID) (*Envelope, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msg.Type(), err)
	}
	return &Envelope{Type: msg.Type(), To: to, Payload: payload}, nil
}

// Decode returns the concrete variant for env as a pointer, e.g. *Offer.
func Decode(env *Envelope) (Message, error) {
	newMsg, ok := registry[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	msg := newMsg()
	if len(env.Payload) == 0 {
		return msg, nil
	}
	if err := json.Unmarshal(env.Payload, msg); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
	}
	return msg, nil
}

// Parse reads a frame into an envelope without touching the payload.
func Parse(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return &env, nil
}

func Marshal(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}
