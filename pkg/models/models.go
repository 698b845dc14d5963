// Package models contains PailFlow's core domain types: the records that
// flow between the orchestrator, the workflow engine, the media pipeline,
// and the post-call pipeline.
package models

import "time"

// MeetingStatus enumerates the lifecycle states of a WorkflowThread's call.
type MeetingStatus string

const (
	MeetingInProgress MeetingStatus = "in_progress"
	MeetingCompleted  MeetingStatus = "completed"
	MeetingFailed     MeetingStatus = "failed"
)

// WorkflowThread is the canonical per-run record; primary key for all
// bot-call state (§3).
type WorkflowThread struct {
	WorkflowThreadID string `json:"workflow_thread_id"`

	RoomName    string         `json:"room_name"`
	RoomURL     string         `json:"room_url"`
	BotID       string         `json:"bot_id"`
	BotConfig   map[string]any `json:"bot_config"`
	BotEnabled  bool           `json:"bot_enabled"`
	UnkeyKeyID  string         `json:"unkey_key_id"`

	MeetingStatus   MeetingStatus `json:"meeting_status"`
	MeetingStart    *time.Time    `json:"meeting_start_time,omitempty"`
	MeetingEnd      *time.Time    `json:"meeting_end_time,omitempty"`
	BotJoinTime     *time.Time    `json:"bot_join_time,omitempty"`
	BotLeaveTime    *time.Time    `json:"bot_leave_time,omitempty"`
	BotDurationS    *float64      `json:"bot_duration_s,omitempty"`

	TranscriptText      string `json:"transcript_text"`
	TranscriptProcessed bool   `json:"transcript_processed"`

	EmailSent   bool `json:"email_sent"`
	WebhookSent bool `json:"webhook_sent"`

	CandidateSummary    string         `json:"candidate_summary"`
	Insights            *Insights      `json:"insights,omitempty"`
	QAPairs             []QAPair       `json:"qa_pairs"`
	WebhookCallbackURL  string         `json:"webhook_callback_url"`
	EmailResultsTo      string         `json:"email_results_to"`

	WorkflowPaused              bool   `json:"workflow_paused"`
	WaitingForMeetingEnded      bool   `json:"waiting_for_meeting_ended"`
	WaitingForTranscriptWebhook bool   `json:"waiting_for_transcript_webhook"`
	CheckpointID                string `json:"checkpoint_id"`

	UsageStats UsageStats     `json:"usage_stats"`
	Metadata   map[string]any `json:"metadata"`

	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Resumable implements I4: a thread is resumable iff paused with a known checkpoint.
func (t *WorkflowThread) Resumable() bool {
	return t.WorkflowPaused && t.CheckpointID != ""
}

// BotSessionStatus enumerates BotSession lifecycle states.
type BotSessionStatus string

const (
	BotSessionRunning   BotSessionStatus = "running"
	BotSessionCompleted BotSessionStatus = "completed"
	BotSessionFailed    BotSessionStatus = "failed"
)

// BotSession is a legacy mirror of a bot's run, keyed independently of the
// WorkflowThread for status-endpoint convenience (§3, §6).
type BotSession struct {
	BotID     string           `json:"bot_id"`
	RoomName  string           `json:"room_name"`
	Status    BotSessionStatus `json:"status"`
	StartedAt time.Time        `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`

	BotConfig        map[string]any `json:"bot_config"`
	TranscriptText   string         `json:"transcript_text,omitempty"`
	QAPairs          []QAPair       `json:"qa_pairs,omitempty"`
	Insights         *Insights      `json:"insights,omitempty"`
	Error            string         `json:"error,omitempty"`
	WorkflowThreadID string         `json:"workflow_thread_id,omitempty"`
}

// QAPair is one parsed question/answer unit from a transcript (§4.4 step 2).
type QAPair struct {
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	QuestionID *string `json:"question_id,omitempty"`
}

// QuestionAssessment is one scored entry inside Insights.QuestionAssessments.
type QuestionAssessment struct {
	Question string  `json:"question"`
	Answer   string  `json:"answer"`
	Score    float64 `json:"score"`
	Notes    string  `json:"notes"`
}

// Insights is the structured output of the insight-extraction LLM step
// (§3, §4.4 step 3). Extra carries arbitrary user-defined keys the LLM
// returned beyond the fixed schema, per Design Note "Dynamic key sets".
type Insights struct {
	OverallScore        float64              `json:"overall_score"`
	CompetencyScores     map[string]float64   `json:"competency_scores"`
	Strengths            []string             `json:"strengths"`
	Weaknesses           []string             `json:"weaknesses"`
	QuestionAssessments  []QuestionAssessment `json:"question_assessments"`
	Extra                map[string]any       `json:"-"`
}

// UsageStats accumulates underlying LLM/STT cost for a run (§3, §4.6).
type UsageStats struct {
	TotalCostUSD    float64 `json:"total_cost_usd"`
	PosthogTraceID  string  `json:"posthog_trace_id,omitempty"`
}

// UsageTransaction is the append-only ledger row that charges the customer
// for one completed bot call (§3, §4.7).
type UsageTransaction struct {
	ID        string                     `json:"id"`
	UserID    string                     `json:"user_id"`
	Amount    float64                    `json:"amount"` // negative USD ("usage_burn")
	Type      string                     `json:"type"`
	DurationS float64                    `json:"duration_s"`
	LPLCost   float64                    `json:"lpl_cost"`
	Metadata  UsageTransactionMetadata   `json:"metadata"`
	CreatedAt time.Time                  `json:"created_at"`
}

// UsageTransactionMetadata carries the dedup key (WorkflowThreadID) plus
// diagnostic context (§4.7 step 6, I5).
type UsageTransactionMetadata struct {
	WorkflowThreadID string `json:"workflow_thread_id"`
	BotID            string `json:"bot_id"`
	RoomName         string `json:"room_name"`
}

// User is the billing identity debited on transaction creation (§3, §4.7).
type User struct {
	ID            string  `json:"id"`
	UnkeyID       string  `json:"unkey_id"`
	CreditBalance float64 `json:"credit_balance"`
}

// TranscriptLine is one in-memory appended transcript entry (§3), flushed
// into WorkflowThread.TranscriptText by the transcript handler.
type TranscriptLine struct {
	SpeakerName string
	Content     string
	Timestamp   time.Time
}
