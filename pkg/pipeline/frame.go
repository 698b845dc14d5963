// Package pipeline implements the Media Pipeline Runtime: a bounded,
// cancellable chain of nodes that turns inbound audio into a transcribed,
// LLM-driven conversation and an accumulated transcript (§4.2).
package pipeline

import "time"

// Frame is the tagged-union message passed between pipeline nodes. Each
// node consumes frames of the types it understands and forwards or
// produces others, per the node contracts in §4.2.
type Frame interface {
	frameMarker()
}

// AudioIn carries one chunk of inbound PCM audio from the transport.
type AudioIn struct {
	PCM []byte
}

func (AudioIn) frameMarker() {}

// AudioOut carries one chunk of outbound PCM audio destined for the transport.
type AudioOut struct {
	PCM []byte
}

func (AudioOut) frameMarker() {}

// UserTranscription is one STT result for user speech.
type UserTranscription struct {
	Text      string
	IsFinal   bool
	SpeakerID string // diarization id, empty if unresolved
	UserID    string // resolved participant session id, filled by speaker_tracker
}

func (UserTranscription) frameMarker() {}

// AssistantTranscription is one finalized chunk of assistant speech, timestamped.
type AssistantTranscription struct {
	Text      string
	Timestamp time.Time
}

func (AssistantTranscription) frameMarker() {}

// BotStartedSpeaking brackets the start of a tts render.
type BotStartedSpeaking struct{}

func (BotStartedSpeaking) frameMarker() {}

// BotStoppedSpeaking brackets the end of a tts render.
type BotStoppedSpeaking struct{}

func (BotStoppedSpeaking) frameMarker() {}

// LLMRun signals the llm node to produce a reply from the current context.
type LLMRun struct{}

func (LLMRun) frameMarker() {}

// MetricsLLMUsage reports token usage for one completed LLM call, consumed
// by the metrics_tap node.
type MetricsLLMUsage struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
}

func (MetricsLLMUsage) frameMarker() {}

// ImageOutput is a single static image frame for the animation node.
type ImageOutput struct {
	Data []byte
}

func (ImageOutput) frameMarker() {}

// AnimatedSprite is a sequence of image frames, played in order by the
// animation node's talking state.
type AnimatedSprite struct {
	Frames [][]byte
}

func (AnimatedSprite) frameMarker() {}
