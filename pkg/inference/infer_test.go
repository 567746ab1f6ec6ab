package inference_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/polisai/polis-triage/internal/governance"
	"github.com/polisai/polis-triage/pkg/domain"
	"github.com/polisai/polis-triage/pkg/inference"
	"github.com/polisai/polis-triage/pkg/inference/inferencetest"
)

func TestInferPlanningDecision(t *testing.T) {
	model := inferencetest.New().OnText("USER_MODE", `
	{
		"should_reject": false,
		"plan": [
			{"step": 1, "agent": "servicenow", "question": "find change CHG42"},
			{"step": 2, "agent": "log_analytics", "question": "check pipeline logs"}
		],
		"plan_reason": "change first, then logs"
	}
	`)

	got, err := inference.Infer[domain.PlanningDecision](context.Background(), model,
		inference.Prompt{User: "## Mode: USER_MODE"}, inference.PlanningShape)
	require.NoError(t, err)
	assert.Equal(t, domain.RouteExecute, got.Route())
	require.Len(t, got.Plan, 2)
	assert.Equal(t, domain.PlanStep{Step: 2, Target: domain.WorkerLogAnalytics, Instruction: "check pipeline logs"}, got.Plan[1])
}

func TestInferRejectsShapeViolations(t *testing.T) {
	tests := []struct {
		name  string
		shape *inference.Shape
		reply string
	}{
		{"not json", inference.PlanningShape, "I think we should ask servicenow"},
		{"empty", inference.ReviewShape, "  \n"},
		{"fenced", inference.ReviewShape, "```json\n{\"is_complete\": true}\n```"},
		{"prose around object", inference.ReviewShape, `I think {"is_complete": true} is right`},
		{"trailing prose", inference.ReviewShape, `{"is_complete": true} Let me know if you need more.`},
		{"two objects", inference.ReviewShape, `{"is_complete": true} {"is_complete": false}`},
		{"unknown agent", inference.PlanningShape, `{"plan": [{"step": 1, "agent": "jira", "question": "x"}]}`},
		{"step zero", inference.PlanningShape, `{"plan": [{"step": 0, "agent": "servicenow", "question": "x"}]}`},
		{"missing is_complete", inference.ReviewShape, `{"summary": "done"}`},
		{"confidence out of range", inference.ReviewShape, `{"is_complete": true, "confidence": 1.5}`},
		{"missing accept_review", inference.RetryShape, `{"new_plan": []}`},
		{"empty clarification", inference.ClarifyShape, `{"clarification_request": ""}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			model := inferencetest.New().OnText("", tc.reply)
			_, err := inference.Infer[map[string]any](context.Background(), model, inference.Prompt{User: "q"}, tc.shape)
			require.Error(t, err)

			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.shape.Name(), verr.Shape)
		})
	}
}

func TestInferReviewAndClarification(t *testing.T) {
	model := inferencetest.New().
		OnText("Review Request", `{"is_complete": false, "missing_aspects": ["logs"], "suggested_approach": "ask log_analytics", "confidence": 0.4}`).
		OnText("clarification", `{"clarification_request": "Which pipeline?", "possible_interpretations": ["ingest", "export"]}`)

	review, err := inference.Infer[domain.ReviewDecision](context.Background(), model,
		inference.Prompt{User: "## Review Request"}, inference.ReviewShape)
	require.NoError(t, err)
	assert.False(t, review.IsComplete)
	assert.Equal(t, []string{"logs"}, review.MissingAspects)
	assert.InDelta(t, 0.4, review.Confidence, 1e-9)

	clar, err := inference.Infer[domain.Clarification](context.Background(), model,
		inference.Prompt{User: "polite clarification request"}, inference.ClarifyShape)
	require.NoError(t, err)
	assert.Equal(t, "Which pipeline?", clar.Request)
	assert.Equal(t, []string{"ingest", "export"}, clar.Interpretations)
}

func TestInferPassesModelErrorsThrough(t *testing.T) {
	boom := errors.New("boom")
	model := inferencetest.New().On("", inferencetest.Reply{Err: boom})

	_, err := inference.Infer[domain.ReviewDecision](context.Background(), model, inference.Prompt{User: "q"}, inference.ReviewShape)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, domain.ErrValidation)
}

func TestNewShapeRejectsBadSchema(t *testing.T) {
	_, err := inference.NewShape("broken", `{"type": 12}`)
	assert.Error(t, err)
}

type fakeLLM struct {
	messages []llms.MessageContent
	reply    string
}

func (f *fakeLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLangChainModelSendsSystemAndUser(t *testing.T) {
	llm := &fakeLLM{reply: `{"is_complete": true}`}
	model := inference.JSONModel(llm)

	out, err := model.Generate(context.Background(), inference.Prompt{System: "You review results.", User: "## Review Request"})
	require.NoError(t, err)
	assert.Equal(t, `{"is_complete": true}`, out)

	require.Len(t, llm.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, llm.messages[0].Role)
	assert.Equal(t, llms.TextPart("You review results."), llm.messages[0].Parts[0])
	assert.Equal(t, llms.ChatMessageTypeHuman, llm.messages[1].Role)

	_, err = inference.NewLangChainModel(llm).Generate(context.Background(), inference.Prompt{User: "hi"})
	require.NoError(t, err)
	assert.Len(t, llm.messages, 1)
}

func TestGovernedModelClassifiesTimeouts(t *testing.T) {
	slow := inference.ModelFunc(func(ctx context.Context, _ inference.Prompt) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	policy := governance.NewCallPolicy(governance.CallPolicyConfig{Timeout: 10 * time.Millisecond})

	_, err := inference.Governed(slow, policy, "planner").Generate(context.Background(), inference.Prompt{User: "q"})
	require.Error(t, err)

	var timeout *domain.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "planner", timeout.Target)
}

func TestNewProviderRejectsUnknownProvider(t *testing.T) {
	_, err := inference.NewProvider(inference.ProviderConfig{Provider: "carrier-pigeon"})
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}
