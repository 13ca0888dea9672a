package domain

// NegotiationState is the lifecycle of a media link to one remote participant.
type NegotiationState string

const (
	NegotiationIdle      NegotiationState = "idle"
	NegotiationOffering  NegotiationState = "offering"
	NegotiationAnswering NegotiationState = "answering"
	NegotiationConnected NegotiationState = "connected"
	NegotiationFailed    NegotiationState = "failed"
	NegotiationClosed    NegotiationState = "closed"
)

func (s NegotiationState) Terminal() bool {
	return s == NegotiationFailed || s == NegotiationClosed
}

// VideoSource is what currently feeds the outbound video slot.
type VideoSource string

const (
	VideoNone   VideoSource = "none"
	VideoCamera VideoSource = "camera"
	VideoScreen VideoSource = "screen"
)
