package postcall

import (
	"context"
	"fmt"
	"strings"

	"github.com/pailflow/pailflow/pkg/llm"
	"github.com/pailflow/pailflow/pkg/models"
)

// candidateInfo is the subset of bot_config relevant to summary/email
// composition (§4.4 steps 5-6). Any field may be absent from a given
// bot_config map; absent fields render as "unspecified".
type candidateInfo struct {
	interviewType   string
	participantName string
}

func readCandidateInfo(botConfig map[string]any) candidateInfo {
	info := candidateInfo{}
	if v, ok := botConfig["interview_type"].(string); ok {
		info.interviewType = v
	}
	if v, ok := botConfig["participant_name"].(string); ok {
		info.participantName = v
	}
	return info
}

func (c candidateInfo) displayInterviewType() string {
	if c.interviewType == "" {
		return "unspecified"
	}
	return c.interviewType
}

func (c candidateInfo) displayParticipantName() string {
	if c.participantName == "" {
		return "unspecified"
	}
	return c.participantName
}

// BuildSummary implements §4.4 step 5: a deterministic template built from
// candidate info, insights, and qa pairs, unless a user-supplied
// summaryFormatPrompt is configured, in which case the LLM composes the
// summary from that prompt plus the same context.
func BuildSummary(ctx context.Context, client llm.Client, model, summaryFormatPrompt string, info candidateInfo, insights *models.Insights, qaPairs []models.QAPair) string {
	template := templateSummary(info, insights, qaPairs)
	if summaryFormatPrompt == "" {
		return template
	}

	prompt := strings.ReplaceAll(summaryFormatPrompt, "{summary}", template)
	prompt = strings.ReplaceAll(prompt, "{qa_text}", formatQAPairs(qaPairs))

	resp, err := client.Complete(ctx, llm.CompletionRequest{
		Model:       model,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.3,
		MaxTokens:   1024,
	})
	if err != nil {
		return template
	}
	return resp.Text
}

func templateSummary(info candidateInfo, insights *models.Insights, qaPairs []models.QAPair) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Candidate: %s\n", info.displayParticipantName())
	fmt.Fprintf(&b, "Interview type: %s\n", info.displayInterviewType())
	fmt.Fprintf(&b, "Overall score: %.1f/10\n\n", insights.OverallScore)

	if len(insights.Strengths) > 0 {
		b.WriteString("Strengths:\n")
		for _, s := range insights.Strengths {
			fmt.Fprintf(&b, "- %s\n", s)
		}
		b.WriteString("\n")
	}
	if len(insights.Weaknesses) > 0 {
		b.WriteString("Weaknesses:\n")
		for _, w := range insights.Weaknesses {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteString("\n")
	}

	b.WriteString("Questions and answers:\n")
	for i, qa := range qaPairs {
		fmt.Fprintf(&b, "%d. Q: %s\n   A: %s\n", i+1, qa.Question, qa.Answer)
	}

	return b.String()
}
