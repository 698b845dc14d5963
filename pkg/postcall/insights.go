package postcall

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pailflow/pailflow/pkg/llm"
	"github.com/pailflow/pailflow/pkg/models"
)

const defaultAnalysisTemplate = `You are reviewing an interview transcript. Analyze the candidate's answers and respond with a single JSON object matching this schema:
{
  "overall_score": number 0-10,
  "competency_scores": {"<competency>": number 0-10, ...},
  "strengths": [string, ...],
  "weaknesses": [string, ...],
  "question_assessments": [{"question": string, "answer": string, "score": number 0-10, "notes": string}, ...]
}

Transcript:
%s

Question/Answer pairs:
%s
`

// rawInsights mirrors the LLM's JSON response shape before validation;
// map[string]any preserves unknown extension fields for Extra.
type rawInsights map[string]any

// ExtractInsights builds the insight-extraction prompt (a user-supplied
// analysisPrompt with {transcript}/{qa_text} substitution, or the default
// schema prompt), calls the LLM with JSON-mode and low temperature, and
// validates the response per §4.4 step 3. It never returns an error for a
// malformed LLM response — on parse/validation failure it returns
// placeholder insights instead, so the pipeline can continue.
func ExtractInsights(ctx context.Context, client llm.Client, model, analysisPrompt, transcript string, qaPairs []models.QAPair) (*models.Insights, llm.Usage, string) {
	prompt := buildAnalysisPrompt(analysisPrompt, transcript, qaPairs)

	resp, err := client.Complete(ctx, llm.CompletionRequest{
		Model:       model,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.3,
		JSONMode:    true,
		MaxTokens:   2048,
	})
	if err != nil {
		return placeholderInsights(qaPairs, "Analysis pending"), llm.Usage{}, ""
	}

	insights, ok := parseAndValidate(resp.Text, qaPairs)
	if !ok {
		return placeholderInsights(qaPairs, "Analysis pending"), resp.Usage, resp.TraceID
	}
	return insights, resp.Usage, resp.TraceID
}

func buildAnalysisPrompt(analysisPrompt, transcript string, qaPairs []models.QAPair) string {
	qaText := formatQAPairs(qaPairs)
	if analysisPrompt != "" {
		p := strings.ReplaceAll(analysisPrompt, "{transcript}", transcript)
		p = strings.ReplaceAll(p, "{qa_text}", qaText)
		return p
	}
	return fmt.Sprintf(defaultAnalysisTemplate, transcript, qaText)
}

func formatQAPairs(qaPairs []models.QAPair) string {
	var b strings.Builder
	for i, qa := range qaPairs {
		fmt.Fprintf(&b, "Q%d: %s\nA%d: %s\n", i+1, qa.Question, i+1, qa.Answer)
	}
	return b.String()
}

// parseAndValidate implements §4.4 step 3's validation rules. ok is false
// on any JSON parse failure.
func parseAndValidate(text string, qaPairs []models.QAPair) (*models.Insights, bool) {
	text = extractJSONObject(text)

	var raw rawInsights
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, false
	}

	insights := &models.Insights{
		CompetencyScores: map[string]float64{},
		Extra:            map[string]any{},
	}

	if v, ok := raw["overall_score"].(float64); ok {
		insights.OverallScore = clamp01to10(v)
	}
	if m, ok := raw["competency_scores"].(map[string]any); ok {
		for k, v := range m {
			if f, ok := v.(float64); ok {
				insights.CompetencyScores[k] = clamp01to10(f)
			}
		}
	}
	insights.Strengths = stringList(raw["strengths"])
	insights.Weaknesses = stringList(raw["weaknesses"])
	insights.QuestionAssessments = questionAssessments(raw["question_assessments"])

	if len(insights.QuestionAssessments) != len(qaPairs) {
		insights.QuestionAssessments = rebuildAssessments(qaPairs, "")
	}

	for k, v := range raw {
		switch k {
		case "overall_score", "competency_scores", "strengths", "weaknesses", "question_assessments":
			continue
		default:
			insights.Extra[k] = v
		}
	}

	return insights, true
}

// extractJSONObject trims any leading/trailing prose around the first
// top-level JSON object, tolerating models that ignore the JSON-mode
// instruction and wrap the object in commentary.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}

func clamp01to10(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

func stringList(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func questionAssessments(v any) []models.QuestionAssessment {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []models.QuestionAssessment
	for _, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			continue // non-dict items are filtered out
		}
		qa := models.QuestionAssessment{}
		if s, ok := m["question"].(string); ok {
			qa.Question = s
		}
		if s, ok := m["answer"].(string); ok {
			qa.Answer = s
		}
		if f, ok := m["score"].(float64); ok {
			qa.Score = clamp01to10(f)
		}
		if s, ok := m["notes"].(string); ok {
			qa.Notes = s
		}
		out = append(out, qa)
	}
	return out
}

// rebuildAssessments reconstructs question_assessments from qaPairs when
// the LLM's response didn't match 1:1, per §4.4 step 3.
func rebuildAssessments(qaPairs []models.QAPair, notes string) []models.QuestionAssessment {
	out := make([]models.QuestionAssessment, 0, len(qaPairs))
	for _, qa := range qaPairs {
		out = append(out, models.QuestionAssessment{
			Question: qa.Question,
			Answer:   qa.Answer,
			Score:    0,
			Notes:    notes,
		})
	}
	return out
}

// placeholderInsights implements the "on JSON parse or validation error"
// branch of §4.4 step 3.
func placeholderInsights(qaPairs []models.QAPair, notes string) *models.Insights {
	if len(qaPairs) == 0 {
		notes = "No structured Q&A pairs found"
	}
	return &models.Insights{
		OverallScore:        0,
		CompetencyScores:    map[string]float64{},
		Strengths:           []string{},
		Weaknesses:          []string{},
		QuestionAssessments: rebuildAssessments(qaPairs, notes),
		Extra:               map[string]any{},
	}
}
