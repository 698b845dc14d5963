package postcall

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pailflow/pailflow/pkg/llm"
	"github.com/pailflow/pailflow/pkg/models"
)

type fakeLLM struct {
	text string
	err  error
	used llm.Usage
}

func (f *fakeLLM) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Text: f.text, Usage: f.used, TraceID: "trace-1"}, nil
}

var _ llm.Client = (*fakeLLM)(nil)

func sampleQAPairs() []models.QAPair {
	return []models.QAPair{
		{Question: "What is your experience with Go?", Answer: "Five years."},
		{Question: "Tell me about concurrency.", Answer: "Goroutines and channels."},
	}
}

func TestExtractInsights_ValidJSONIsClampedAndRetainsExtraFields(t *testing.T) {
	client := &fakeLLM{text: `{
		"overall_score": 15,
		"competency_scores": {"communication": -2, "technical": 7.5},
		"strengths": ["clear answers"],
		"weaknesses": ["vague on testing"],
		"question_assessments": [
			{"question": "What is your experience with Go?", "answer": "Five years.", "score": 8, "notes": "solid"},
			{"question": "Tell me about concurrency.", "answer": "Goroutines and channels.", "score": 9, "notes": "strong"}
		],
		"person_name": "Jordan"
	}`}

	insights, usage, traceID := ExtractInsights(context.Background(), client, "claude-3-7-sonnet", "", "transcript", sampleQAPairs())

	assert.Equal(t, float64(10), insights.OverallScore, "overall_score must clamp to [0,10]")
	assert.Equal(t, float64(0), insights.CompetencyScores["communication"])
	assert.Equal(t, 7.5, insights.CompetencyScores["technical"])
	assert.Equal(t, []string{"clear answers"}, insights.Strengths)
	assert.Len(t, insights.QuestionAssessments, 2)
	assert.Equal(t, "Jordan", insights.Extra["person_name"])
	assert.Equal(t, "trace-1", traceID)
	_ = usage
}

func TestExtractInsights_InvalidJSONProducesPlaceholder(t *testing.T) {
	client := &fakeLLM{text: "not json"}

	insights, _, _ := ExtractInsights(context.Background(), client, "claude-3-7-sonnet", "", "transcript", sampleQAPairs())

	require.NotNil(t, insights)
	assert.Equal(t, float64(0), insights.OverallScore)
	assert.Empty(t, insights.Strengths)
	assert.Empty(t, insights.Weaknesses)
	require.Len(t, insights.QuestionAssessments, 2)
	for _, qa := range insights.QuestionAssessments {
		assert.Equal(t, float64(0), qa.Score)
		assert.Equal(t, "Analysis pending", qa.Notes)
	}
}

func TestExtractInsights_NoQAPairsDistinguishesPlaceholderReason(t *testing.T) {
	client := &fakeLLM{text: "not json"}

	insights, _, _ := ExtractInsights(context.Background(), client, "claude-3-7-sonnet", "", "transcript", nil)

	assert.Empty(t, insights.QuestionAssessments)
}

func TestExtractInsights_MismatchedAssessmentCountIsRebuilt(t *testing.T) {
	client := &fakeLLM{text: `{"overall_score": 5, "question_assessments": [{"question":"q","answer":"a","score":3,"notes":"n"}]}`}

	insights, _, _ := ExtractInsights(context.Background(), client, "claude-3-7-sonnet", "", "transcript", sampleQAPairs())

	require.Len(t, insights.QuestionAssessments, 2)
	assert.Equal(t, sampleQAPairs()[0].Question, insights.QuestionAssessments[0].Question)
	assert.Equal(t, float64(0), insights.QuestionAssessments[0].Score)
}

func TestExtractInsights_NonDictAssessmentItemsAreFiltered(t *testing.T) {
	client := &fakeLLM{text: `{"overall_score": 5, "question_assessments": ["not a dict", {"question":"q1","answer":"a1","score":4,"notes":"ok"}]}`}

	insights, _, _ := ExtractInsights(context.Background(), client, "claude-3-7-sonnet", "", "transcript", sampleQAPairs())

	// one valid entry survives filtering, which then mismatches qaPairs'
	// length of 2 and triggers a rebuild.
	require.Len(t, insights.QuestionAssessments, 2)
}

func TestExtractInsights_LLMErrorProducesPlaceholder(t *testing.T) {
	client := &fakeLLM{err: assertError("boom")}

	insights, usage, traceID := ExtractInsights(context.Background(), client, "claude-3-7-sonnet", "", "transcript", sampleQAPairs())

	assert.Equal(t, float64(0), insights.OverallScore)
	assert.Equal(t, llm.Usage{}, usage)
	assert.Empty(t, traceID)
}

type assertError string

func (e assertError) Error() string { return string(e) }
