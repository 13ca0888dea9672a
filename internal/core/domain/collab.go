package domain

import "encoding/json"

type StrokeID string

// Stroke is one immutable drawing operation. Payload carries geometry and
// style and is never interpreted by the engine.
type Stroke struct {
	ID       StrokeID        `json:"id" msgpack:"id"`
	AuthorID ParticipantID   `json:"authorId" msgpack:"author_id"`
	Payload  json.RawMessage `json:"payload" msgpack:"payload"`
	Seq      uint64          `json:"seq" msgpack:"seq"`
}

// EditorSnapshot is the whole shared document; the latest one wins.
type EditorSnapshot struct {
	Content  string        `json:"content"`
	Language string        `json:"language"`
	AuthorID ParticipantID `json:"authorId"`
	Revision uint64        `json:"revision"`
}

type ViewID string

type ViewState struct {
	View   ViewID        `json:"view"`
	Driver ParticipantID `json:"driver"`
}
