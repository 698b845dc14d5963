package postcall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pailflow/pailflow/pkg/accounting"
	"github.com/pailflow/pailflow/pkg/llm"
	"github.com/pailflow/pailflow/pkg/models"
	"github.com/pailflow/pailflow/pkg/persistence"
	"github.com/pailflow/pailflow/pkg/pkgerrors"
	"github.com/pailflow/pailflow/pkg/usage"
)

// Config wires the Post-Call Pipeline's dependencies.
type Config struct {
	Store   persistence.Adapter
	LLM     llm.Client
	Model   string
	Tracker *usage.Tracker
	Ledger  *accounting.Ledger
	Email   EmailConfig
	Webhook WebhookConfig
}

// Pipeline runs the nine steps of §4.4 against a finished call's
// WorkflowThread row.
type Pipeline struct {
	cfg Config
}

// New wires a Pipeline to its dependencies.
func New(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// Run implements workflow.PostCallRunner. workflowThreadID is preferred
// when known; roomName is used to locate the most recent paused thread
// when it is not (the §4.3 fallback path). Each step is individually
// idempotent (parsing is pure, insights overwrite, email/webhook/
// transaction are flag- or existence-gated), so Run may be re-entered
// safely after a partial prior failure.
func (p *Pipeline) Run(ctx context.Context, roomName, workflowThreadID string) error {
	thread, err := p.resolveThread(ctx, roomName, workflowThreadID)
	if err != nil {
		return fmt.Errorf("postcall: resolve thread: %w", err)
	}

	botName, _ := thread.BotConfig["name"].(string)

	// Step 2: parse transcript into Q/A pairs.
	thread.QAPairs = ParseQAPairs(thread.TranscriptText, botName)

	// Step 3: extract insights (overwrites any prior value).
	analysisPrompt, _ := thread.Metadata["analysis_prompt"].(string)
	insights, llmUsage, traceID := ExtractInsights(ctx, p.cfg.LLM, p.cfg.Model, analysisPrompt, thread.TranscriptText, thread.QAPairs)
	thread.Insights = insights

	// Step 4: record LLM cost against usage_stats.
	recordLLMCost(ctx, p.cfg.Tracker, thread.WorkflowThreadID, p.cfg.Model, llmUsage, traceID)

	// Step 5: generate summary.
	info := readCandidateInfo(thread.BotConfig)
	summaryFormatPrompt, _ := thread.Metadata["summary_format_prompt"].(string)
	thread.CandidateSummary = BuildSummary(ctx, p.cfg.LLM, p.cfg.Model, summaryFormatPrompt, info, insights, thread.QAPairs)

	// Step 6: email (gated on email_results_to set and not yet sent).
	if thread.EmailResultsTo != "" && !thread.EmailSent {
		if err := SendSummaryEmail(ctx, p.cfg.Email, thread.EmailResultsTo, info.displayInterviewType(), info.displayParticipantName(), thread.CandidateSummary); err != nil {
			slog.Warn("postcall: email send failed, email_sent remains false", "workflow_thread_id", thread.WorkflowThreadID, "error", err)
		} else {
			thread.EmailSent = true
		}
	}

	// Step 7: webhook (gated on webhook_callback_url set and not yet sent).
	if thread.WebhookCallbackURL != "" && !thread.WebhookSent {
		if err := SendWebhook(ctx, p.cfg.Webhook, thread.WebhookCallbackURL, thread); err != nil {
			slog.Warn("postcall: webhook delivery failed, webhook_sent remains false", "workflow_thread_id", thread.WorkflowThreadID, "error", err)
		} else {
			thread.WebhookSent = true
		}
	}

	// Step 9 (persist first so the secondary transaction sees final state).
	thread.TranscriptProcessed = true
	if err := p.cfg.Store.UpdateWorkflowThread(ctx, thread); err != nil {
		return fmt.Errorf("postcall: persist final state: %w", err)
	}

	// Step 8: create the secondary usage transaction (idempotent; see §4.7).
	if p.cfg.Ledger != nil {
		if _, err := p.cfg.Ledger.CreateTransaction(ctx, thread); err != nil {
			slog.Warn("postcall: secondary usage transaction failed", "workflow_thread_id", thread.WorkflowThreadID, "error", err)
		}
	}

	return nil
}

func (p *Pipeline) resolveThread(ctx context.Context, roomName, workflowThreadID string) (*models.WorkflowThread, error) {
	if workflowThreadID != "" {
		thread, err := p.cfg.Store.GetWorkflowThread(ctx, workflowThreadID)
		if err == nil {
			return thread, nil
		}
		if !errors.Is(err, pkgerrors.ErrNotFound) {
			return nil, err
		}
	}
	if roomName == "" {
		return nil, fmt.Errorf("no workflow_thread_id and no room_name to resolve a thread from")
	}
	thread, err := p.cfg.Store.FindPausedThreadByRoomName(ctx, roomName)
	if err != nil {
		return nil, err
	}
	return thread, nil
}
