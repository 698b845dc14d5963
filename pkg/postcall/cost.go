package postcall

import (
	"context"
	"log/slog"

	"github.com/pailflow/pailflow/pkg/llm"
	"github.com/pailflow/pailflow/pkg/pricing"
	"github.com/pailflow/pailflow/pkg/usage"
)

// recordLLMCost implements §4.4 step 4: compute USD cost from the
// insight-extraction call's token usage and add it to usage_stats via the
// Usage Tracker. A pricing or recording failure is logged and otherwise
// ignored — cost accounting must never abort the pipeline.
func recordLLMCost(ctx context.Context, tracker *usage.Tracker, workflowThreadID, model string, u llm.Usage, traceID string) {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 {
		return
	}
	cost, err := pricing.CalculateLLMCost(model, u.PromptTokens, u.CompletionTokens)
	if err != nil {
		slog.Warn("postcall: failed to price insight-extraction call", "workflow_thread_id", workflowThreadID, "model", model, "error", err)
		return
	}
	if _, err := tracker.UpdateWorkflowUsageCost(ctx, workflowThreadID, cost, traceID); err != nil {
		slog.Warn("postcall: failed to record insight-extraction cost", "workflow_thread_id", workflowThreadID, "error", err)
	}
}
