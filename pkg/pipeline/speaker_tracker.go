package pipeline

import "sync"

// SpeakerTracker resolves STT's opaque diarization ids to room-provider
// participant session ids (§4.2, GLOSSARY). It is mutated only by its own
// node (mapping new speaker ids) and by the participant-joined handler
// (rebuilding join order), both single-threaded inside one bot worker, so
// the mutex here guards against the one legitimate cross-goroutine access:
// a status read from the HTTP surface.
type SpeakerTracker struct {
	mu sync.Mutex

	lastSpeakerID string
	// speakerToParticipant maps deepgram_speaker_id -> participant_session_id.
	speakerToParticipant map[string]string
	joinOrder            *JoinOrder
}

// JoinOrder is the shared, append-only view of participant arrival order
// that the Transcript Handler owns and the SpeakerTracker queries — wired
// through an immutable reference rather than a mutable back-reference
// cycle (§9, "Cyclic handler/tracker back-references").
type JoinOrder struct {
	mu    sync.Mutex
	order []string // participant session ids, in join order
}

// NewJoinOrder constructs an empty join-order tracker.
func NewJoinOrder() *JoinOrder { return &JoinOrder{} }

// Append records a newly seen participant session id, preserving order and
// ignoring duplicates.
func (j *JoinOrder) Append(sessionID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, id := range j.order {
		if id == sessionID {
			return
		}
	}
	j.order = append(j.order, sessionID)
}

// FirstUnmapped returns the first session id in join order not present in
// mapped, or "" if all are mapped.
func (j *JoinOrder) FirstUnmapped(mapped map[string]bool) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, id := range j.order {
		if !mapped[id] {
			return id
		}
	}
	return ""
}

// Snapshot returns a copy of the current join order.
func (j *JoinOrder) Snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.order))
	copy(out, j.order)
	return out
}

// NewSpeakerTracker wires a tracker to the shared join-order view.
func NewSpeakerTracker(joinOrder *JoinOrder) *SpeakerTracker {
	return &SpeakerTracker{
		speakerToParticipant: make(map[string]string),
		joinOrder:            joinOrder,
	}
}

// Resolve maps a diarization speaker id to a participant session id,
// auto-mapping to the first unmapped participant in join order on first
// sight (§4.2, speaker_tracker node contract).
func (s *SpeakerTracker) Resolve(speakerID string) string {
	if speakerID == "" {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSpeakerID = speakerID
	if pid, ok := s.speakerToParticipant[speakerID]; ok {
		return pid
	}

	mapped := make(map[string]bool, len(s.speakerToParticipant))
	for _, pid := range s.speakerToParticipant {
		mapped[pid] = true
	}
	next := s.joinOrder.FirstUnmapped(mapped)
	if next == "" {
		return ""
	}
	s.speakerToParticipant[speakerID] = next
	return next
}

// BindActiveSpeaker binds the last-seen diarization speaker id to peerID,
// per on_active_speaker_changed (§4.2).
func (s *SpeakerTracker) BindActiveSpeaker(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSpeakerID == "" || peerID == "" {
		return
	}
	s.speakerToParticipant[s.lastSpeakerID] = peerID
}

// LastSpeakerID returns the most recently observed diarization speaker id.
func (s *SpeakerTracker) LastSpeakerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSpeakerID
}
