package api

import "github.com/pailflow/pailflow/pkg/models"

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version,omitempty"`
}

// JoinBotResponse is returned by POST /v1/bots/join on success.
type JoinBotResponse struct {
	Success          bool   `json:"success"`
	BotID            string `json:"bot_id"`
	WorkflowThreadID string `json:"workflow_thread_id"`
}

// BotStatusResponse is returned by GET /v1/bots/{bot_id}/status.
type BotStatusResponse struct {
	BotID          string           `json:"bot_id"`
	Status         string           `json:"status"`
	StartedAt      string           `json:"started_at"`
	CompletedAt    string           `json:"completed_at,omitempty"`
	TranscriptText string           `json:"transcript_text,omitempty"`
	QAPairs        []models.QAPair  `json:"qa_pairs,omitempty"`
	Insights       *models.Insights `json:"insights,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// ExecuteWorkflowResponse is returned by POST /v1/workflows/{name}/execute.
type ExecuteWorkflowResponse struct {
	Success          bool   `json:"success"`
	WorkflowThreadID string `json:"workflow_thread_id,omitempty"`
}
