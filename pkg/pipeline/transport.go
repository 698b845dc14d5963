package pipeline

import "context"

// Participant is one room occupant as reported by the transport (§4.2
// event handlers, "participants_map").
type Participant struct {
	SessionID string
	UserID    string
	Name      string
}

// ActiveSpeakerEvent mirrors the transport's active-speaker-changed payload.
type ActiveSpeakerEvent struct {
	PeerID string
	// ID is a fallback identifier used when PeerID is unavailable, per
	// §4.2's on_active_speaker_changed resolution order.
	ID string
}

// Transport is the room-provider boundary: join/leave a room, render
// frames, and report participant state. The concrete vendor SDK is out of
// scope (§1); PailFlow depends only on this interface.
type Transport interface {
	// ParticipantCount returns the number of participants currently present,
	// including the bot, used by on_participant_left's "only the bot
	// remains" gate.
	ParticipantCount(ctx context.Context) (int, error)
	// Participants returns a snapshot of all present participants
	// (including the bot), used to rebuild participants_map.
	Participants(ctx context.Context) ([]Participant, error)
	// LocalSessionID returns the bot's own session id in the room.
	LocalSessionID() string
	// RenderAudio sends one outbound audio chunk to the room.
	RenderAudio(ctx context.Context, pcm []byte) error
	// RenderImage sends a static or animated visual frame.
	RenderImage(ctx context.Context, data []byte) error
	// Leave initiates a graceful room-leave, bounded by ctx's deadline.
	Leave(ctx context.Context) error
}
