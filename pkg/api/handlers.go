package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pailflow/pailflow/pkg/models"
	"github.com/pailflow/pailflow/pkg/pkgerrors"
)

// roomNameFromURL extracts the trailing path segment of an opaque room URL
// (§4.1: "the trailing path segment is the room name").
func roomNameFromURL(roomURL string) string {
	trimmed := strings.TrimRight(roomURL, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return trimmed
	}
	return trimmed[idx+1:]
}

// JoinBot implements POST /v1/bots/join (§6). It runs the admission check,
// starts the workflow (join_bot), and registers a legacy bot-session mirror
// row for the status endpoint.
func (s *Server) JoinBot(c *gin.Context) {
	var req JoinBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if req.RoomURL == "" {
		writeError(c, http.StatusBadRequest, "validation", "room_url is required")
		return
	}

	unkeyKeyID := unkeyKeyIDFrom(c)

	if s.ledger != nil && unkeyKeyID != "" {
		hasCredits, balance, err := s.ledger.AdmissionCheck(c.Request.Context(), unkeyKeyID)
		if err != nil {
			mapDomainError(c, err)
			return
		}
		if !hasCredits {
			writeInsufficientCredits(c, balance)
			return
		}
	}

	roomName := roomNameFromURL(req.RoomURL)
	botConfig := req.BotConfig
	if botConfig == nil {
		botConfig = map[string]any{}
	}
	if req.Email != "" {
		botConfig["email_results_to"] = req.Email
	}

	workflowThreadID, _, err := s.engine.Start(
		c.Request.Context(), req.RoomURL, req.Token, roomName, botConfig, req.BackendHint, req.WorkflowThreadID,
	)
	if err != nil {
		mapDomainError(c, err)
		return
	}

	botID := uuid.NewString()
	if s.store != nil {
		thread, terr := s.store.GetWorkflowThread(c.Request.Context(), workflowThreadID)
		if terr == nil {
			thread.BotID = botID
			thread.UnkeyKeyID = unkeyKeyID
			thread.EmailResultsTo = req.Email
			thread.WebhookCallbackURL = req.WebhookCallbackURL
			if thread.Metadata == nil {
				thread.Metadata = map[string]any{}
			}
			if req.AnalysisPrompt != "" {
				thread.Metadata["analysis_prompt"] = req.AnalysisPrompt
			}
			if req.SummaryFormatPrompt != "" {
				thread.Metadata["summary_format_prompt"] = req.SummaryFormatPrompt
			}
			_ = s.store.UpdateWorkflowThread(c.Request.Context(), thread)
		}

		_ = s.store.CreateBotSession(c.Request.Context(), &models.BotSession{
			BotID:            botID,
			RoomName:         roomName,
			Status:           models.BotSessionRunning,
			StartedAt:        time.Now().UTC(),
			BotConfig:        botConfig,
			WorkflowThreadID: workflowThreadID,
		})
	}

	c.JSON(http.StatusOK, JoinBotResponse{
		Success:          true,
		BotID:            botID,
		WorkflowThreadID: workflowThreadID,
	})
}

// BotStatus implements GET /v1/bots/{bot_id}/status (§6).
func (s *Server) BotStatus(c *gin.Context) {
	botID := c.Param("bot_id")
	if s.store == nil {
		writeError(c, http.StatusNotFound, "not_found", "bot session not found")
		return
	}

	session, err := s.store.GetBotSession(c.Request.Context(), botID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			writeError(c, http.StatusNotFound, "not_found", "bot session not found")
			return
		}
		mapDomainError(c, err)
		return
	}

	resp := BotStatusResponse{
		BotID:          session.BotID,
		Status:         string(session.Status),
		StartedAt:      session.StartedAt.Format(time.RFC3339),
		TranscriptText: session.TranscriptText,
		QAPairs:        session.QAPairs,
		Insights:       session.Insights,
		Error:          session.Error,
	}
	if session.CompletedAt != nil {
		resp.CompletedAt = session.CompletedAt.Format(time.RFC3339)
	}

	// Prefer the live orchestrator-observed status over the mirror row when
	// a session is still tracked (the mirror row only updates at completion).
	if s.orch != nil && session.Status == models.BotSessionRunning {
		if s.orch.IsBotRunning(c.Request.Context(), session.RoomName) {
			resp.Status = string(models.BotSessionRunning)
		}
	}

	c.JSON(http.StatusOK, resp)
}

// ExecuteWorkflow implements POST /v1/workflows/{name}/execute (§6): a
// generic invocation point. The only workflow named by this system is
// "post_call" — process_transcript's resume/direct entry point.
func (s *Server) ExecuteWorkflow(c *gin.Context) {
	name := c.Param("name")

	var req ExecuteWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "validation", err.Error())
		return
	}

	switch name {
	case "post_call", "process_transcript":
		var err error
		if req.WorkflowThreadID != "" {
			err = s.engine.Resume(c.Request.Context(), req.WorkflowThreadID)
			if err != nil && errors.Is(err, pkgerrors.ErrCheckpointMissing) {
				err = s.engine.PostCallDirect(c.Request.Context(), req.RoomName, req.WorkflowThreadID)
			}
		} else {
			err = s.engine.PostCallDirect(c.Request.Context(), req.RoomName, req.WorkflowThreadID)
		}
		if err != nil {
			mapDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, ExecuteWorkflowResponse{Success: true, WorkflowThreadID: req.WorkflowThreadID})
	default:
		writeError(c, http.StatusNotFound, "not_found", "unknown workflow: "+name)
	}
}
