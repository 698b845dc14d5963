package pipeline

import (
	"context"
	"log/slog"
)

// Resumer is the Durable Workflow Engine boundary that on_participant_left
// dispatches to: resume from a checkpoint, or fall back to a direct
// post-call invocation when no checkpoint is found (§4.2, §4.3).
type Resumer interface {
	// Resume attempts to resume thread_id from its persisted checkpoint.
	// ErrCheckpointMissing (or any other error) means the caller should
	// fall back to PostCallDirect.
	Resume(ctx context.Context, workflowThreadID string) error
	// PostCallDirect invokes the Post-Call Pipeline directly, bypassing the
	// workflow engine, when no paused thread could be found.
	PostCallDirect(ctx context.Context, roomName, workflowThreadID string) error
}

// EventHandlers implements the transport event contracts of §4.2. It holds
// the mutable state (participants_map, last known workflow thread id) that
// those handlers read and update.
type EventHandlers struct {
	pipeline   *Pipeline
	transcript *TranscriptHandler
	tracker    *SpeakerTracker
	resumer    Resumer

	roomName string
	shutdown func(context.Context)
}

// NewEventHandlers wires the handlers for one bot session.
func NewEventHandlers(pipeline *Pipeline, transcript *TranscriptHandler, tracker *SpeakerTracker, resumer Resumer, roomName string, shutdown func(context.Context)) *EventHandlers {
	return &EventHandlers{
		pipeline:   pipeline,
		transcript: transcript,
		tracker:    tracker,
		resumer:    resumer,
		roomName:   roomName,
		shutdown:   shutdown,
	}
}

// OnParticipantJoined rebuilds participants_map from the transport
// snapshot and appends newly seen ids to participant_join_order.
func (h *EventHandlers) OnParticipantJoined(ctx context.Context, transport Transport) {
	participants, err := transport.Participants(ctx)
	if err != nil {
		slog.Warn("pipeline: on_participant_joined: list participants failed", "error", err)
		return
	}
	h.transcript.SyncParticipants(participants, transport.LocalSessionID())
}

// OnActiveSpeakerChanged resolves peer_id from the event (preferring
// PeerID, falling back to ID) and binds it to the speaker tracker's
// last-seen diarization id.
func (h *EventHandlers) OnActiveSpeakerChanged(event ActiveSpeakerEvent) {
	peerID := event.PeerID
	if peerID == "" {
		peerID = event.ID
	}
	h.tracker.BindActiveSpeaker(peerID)
}

// OnFirstParticipantJoined adds an introduction instruction to the system
// prompt via Pipeline.IntroduceOnFirstJoin; no reply is generated until the
// next user turn.
func (h *EventHandlers) OnFirstParticipantJoined() {
	h.pipeline.IntroduceOnFirstJoin("A participant has joined. Introduce yourself briefly.")
}

// OnParticipantCountsUpdated is log-only, per §4.2.
func (h *EventHandlers) OnParticipantCountsUpdated(count int) {
	slog.Info("pipeline: participant-counts-updated", "room", h.roomName, "count", count)
}

// OnParticipantLeft implements §4.2's shutdown-trigger gate: the bot stays
// while any non-bot participant remains, and otherwise resumes the
// workflow engine (or falls back to a direct post-call invocation) before
// tearing down the pipeline.
func (h *EventHandlers) OnParticipantLeft(ctx context.Context, transport Transport, cancel context.CancelFunc) {
	count, err := transport.ParticipantCount(ctx)
	if err != nil {
		slog.Warn("pipeline: on_participant_left: participant count failed", "error", err)
		return
	}
	if count > 1 {
		return
	}

	threadID, err := h.transcript.ResolveWorkflowThreadID(ctx)
	if err != nil {
		slog.Warn("pipeline: on_participant_left: resolve workflow thread failed", "room", h.roomName, "error", err)
	}

	if threadID != "" {
		if err := h.resumer.Resume(ctx, threadID); err != nil {
			slog.Warn("pipeline: resume failed, falling back to direct post-call", "thread_id", threadID, "error", err)
			if err := h.resumer.PostCallDirect(ctx, h.roomName, threadID); err != nil {
				slog.Error("pipeline: direct post-call fallback failed", "room", h.roomName, "error", err)
			}
		}
	} else {
		if err := h.resumer.PostCallDirect(ctx, h.roomName, ""); err != nil {
			slog.Error("pipeline: direct post-call invocation failed", "room", h.roomName, "error", err)
		}
	}

	if h.shutdown != nil {
		h.shutdown(ctx)
	}
	cancel()
}
