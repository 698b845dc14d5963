package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pailflow/pailflow/pkg/pkgerrors"
	"github.com/pailflow/pailflow/pkg/persistence"
)

// TranscriptMessage is one line contributed to on_transcript_update (§4.2.1).
type TranscriptMessage struct {
	Role      string // "user" or "assistant"
	Content   string
	UserID    string // participant session id, when role == "user"
	Timestamp time.Time
}

// TranscriptHandler owns the in-memory transcript for one bot session and
// flushes it to the owning WorkflowThread row on every update.
type TranscriptHandler struct {
	store persistence.Adapter

	mu               sync.Mutex
	roomName         string
	botName          string
	transcriptText   string
	participants     map[string]Participant // session id -> participant
	workflowThreadID string
	joinOrder        *JoinOrder
}

// NewTranscriptHandler constructs a handler bound to roomName/botName, using
// joinOrder as the shared, speaker_tracker-visible participant arrival view.
func NewTranscriptHandler(store persistence.Adapter, roomName, botName string, joinOrder *JoinOrder) *TranscriptHandler {
	return &TranscriptHandler{
		store:        store,
		roomName:     roomName,
		botName:      botName,
		participants: make(map[string]Participant),
		joinOrder:    joinOrder,
	}
}

// SetWorkflowThreadID caches the owning thread id once known, so later
// updates skip the by-room-name lookup.
func (h *TranscriptHandler) SetWorkflowThreadID(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.workflowThreadID = id
}

// WorkflowThreadID returns the cached thread id, if any.
func (h *TranscriptHandler) WorkflowThreadID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.workflowThreadID
}

// SyncParticipants rebuilds the participants_map from a transport snapshot,
// per on_participant_joined (§4.2), excluding localSessionID (the bot
// itself) and appending newly seen ids to the shared join order.
func (h *TranscriptHandler) SyncParticipants(participants []Participant, localSessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rebuilt := make(map[string]Participant, len(participants))
	for _, p := range participants {
		if p.SessionID == localSessionID || p.Name == h.botName {
			continue
		}
		rebuilt[p.SessionID] = p
		h.joinOrder.Append(p.SessionID)
	}
	h.participants = rebuilt
}

// Transcript returns the accumulated transcript text.
func (h *TranscriptHandler) Transcript() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transcriptText
}

// OnTranscriptUpdate appends each message to the transcript, resolving a
// display speaker name per §4.2.1's fallback chain, then persists the
// accumulated text to the owning WorkflowThread row.
func (h *TranscriptHandler) OnTranscriptUpdate(ctx context.Context, messages []TranscriptMessage) error {
	h.mu.Lock()
	for _, m := range messages {
		speaker := h.resolveSpeakerNameLocked(m)
		ts := m.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		h.transcriptText += fmt.Sprintf("[%s] %s: %s\n", ts.Format(time.RFC3339), speaker, m.Content)
	}
	text := h.transcriptText
	h.mu.Unlock()

	return h.persist(ctx, text)
}

// resolveSpeakerNameLocked must be called with h.mu held.
func (h *TranscriptHandler) resolveSpeakerNameLocked(m TranscriptMessage) string {
	if m.Role == "assistant" {
		return h.botName
	}

	if p, ok := h.participants[m.UserID]; ok {
		return p.Name
	}
	for _, p := range h.participants {
		if p.SessionID == m.UserID || p.UserID == m.UserID {
			return p.Name
		}
	}
	if len(h.participants) == 1 {
		for _, p := range h.participants {
			return p.Name
		}
	}
	return "User"
}

// ResolveWorkflowThreadID returns the cached thread id, or looks one up by
// room name (caching it on success), per §4.2's on_participant_left
// resolution order: "prefer the handler's cached value; else look it up by
// the room name searching for a paused WorkflowThread."
func (h *TranscriptHandler) ResolveWorkflowThreadID(ctx context.Context) (string, error) {
	if id := h.WorkflowThreadID(); id != "" {
		return id, nil
	}
	thread, err := h.store.FindPausedThreadByRoomName(ctx, h.roomName)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("pipeline: resolve workflow thread by room name: %w", err)
	}
	h.SetWorkflowThreadID(thread.WorkflowThreadID)
	return thread.WorkflowThreadID, nil
}

// persist writes transcript_text to the owning WorkflowThread, resolving
// the thread id by room name on first success if it wasn't already known.
func (h *TranscriptHandler) persist(ctx context.Context, text string) error {
	threadID, err := h.ResolveWorkflowThreadID(ctx)
	if err != nil {
		return err
	}
	if threadID == "" {
		// No owning thread yet (e.g. join_bot hasn't persisted the row); the
		// transcript stays in memory until a later update succeeds.
		return nil
	}

	thread, err := h.store.GetWorkflowThread(ctx, threadID)
	if err != nil {
		return fmt.Errorf("pipeline: load workflow thread %s: %w", threadID, err)
	}
	thread.TranscriptText = text
	if err := h.store.UpdateWorkflowThread(ctx, thread); err != nil {
		return fmt.Errorf("pipeline: persist transcript for %s: %w", threadID, err)
	}
	return nil
}
