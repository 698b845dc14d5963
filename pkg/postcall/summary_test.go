package postcall

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pailflow/pailflow/pkg/models"
)

func TestBuildSummary_DefaultTemplateIncludesCandidateInfoAndQA(t *testing.T) {
	insights := &models.Insights{
		OverallScore: 8,
		Strengths:    []string{"clear communicator"},
		Weaknesses:   []string{"light on testing detail"},
	}
	info := candidateInfo{interviewType: "engineering", participantName: "Jordan"}

	summary := BuildSummary(context.Background(), &fakeLLM{}, "model", "", info, insights, sampleQAPairs())

	assert.Contains(t, summary, "Jordan")
	assert.Contains(t, summary, "engineering")
	assert.Contains(t, summary, "clear communicator")
	assert.Contains(t, summary, "light on testing detail")
	assert.Contains(t, summary, "Five years.")
}

func TestBuildSummary_MissingCandidateInfoShowsUnspecified(t *testing.T) {
	insights := &models.Insights{}
	summary := BuildSummary(context.Background(), &fakeLLM{}, "model", "", candidateInfo{}, insights, nil)
	assert.Contains(t, summary, "unspecified")
}

func TestBuildSummary_UserSuppliedPromptDelegatesToLLM(t *testing.T) {
	insights := &models.Insights{}
	client := &fakeLLM{text: "a custom formatted summary"}

	summary := BuildSummary(context.Background(), client, "model", "Format this: {summary}", candidateInfo{}, insights, nil)
	assert.Equal(t, "a custom formatted summary", summary)
}

func TestBuildSummary_LLMErrorFallsBackToTemplate(t *testing.T) {
	insights := &models.Insights{OverallScore: 3}
	client := &fakeLLM{err: assertError("down")}

	summary := BuildSummary(context.Background(), client, "model", "Format this: {summary}", candidateInfo{}, insights, nil)
	assert.Contains(t, summary, "Overall score: 3.0/10")
}
