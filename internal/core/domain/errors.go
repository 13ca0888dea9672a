package domain

import "errors"

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomExists          = errors.New("room already exists")
	ErrRoomExpired         = errors.New("room expired")
	ErrNotEntitled         = errors.New("participant not entitled to join room")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrInvalidRole         = errors.New("invalid role")
	ErrLinkNotFound        = errors.New("peer link not found")
	ErrNegotiationFailed   = errors.New("negotiation failed")
	ErrMediaSwitchFailed   = errors.New("media source switch failed")
)
