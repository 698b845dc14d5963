package api

// JoinBotRequest is the request body for POST /v1/bots/join.
type JoinBotRequest struct {
	Provider            string         `json:"provider"`
	RoomURL             string         `json:"room_url"`
	Token               string         `json:"token,omitempty"`
	BotConfig           map[string]any `json:"bot_config"`
	ProcessInsights     *bool          `json:"process_insights,omitempty"`
	Email               string         `json:"email,omitempty"`
	AnalysisPrompt      string         `json:"analysis_prompt,omitempty"`
	SummaryFormatPrompt string         `json:"summary_format_prompt,omitempty"`
	WebhookCallbackURL  string         `json:"webhook_callback_url,omitempty"`
	BackendHint         string         `json:"backend_hint,omitempty"`
	WorkflowThreadID    string         `json:"workflow_thread_id,omitempty"`
}

// ExecuteWorkflowRequest is the request body for POST /v1/workflows/{name}/execute.
type ExecuteWorkflowRequest struct {
	Message          string `json:"message"`
	RoomName         string `json:"room_name,omitempty"`
	WorkflowThreadID string `json:"workflow_thread_id,omitempty"`
}
