package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/polisai/polis-triage/pkg/config"
	"github.com/polisai/polis-triage/pkg/domain"
	"github.com/polisai/polis-triage/pkg/triage"
)

// scriptedLLM answers according to the instructions in the system message.
type scriptedLLM struct {
	mu      sync.Mutex
	replies map[string]string
	calls   []string
}

func (s *scriptedLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	var system string
	for _, m := range messages {
		if m.Role != llms.ChatMessageTypeSystem {
			continue
		}
		for _, p := range m.Parts {
			if text, ok := p.(llms.TextContent); ok {
				system += text.Text
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for marker, reply := range s.replies {
		if strings.Contains(system, marker) {
			s.calls = append(s.calls, marker)
			return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: reply}}}, nil
		}
	}
	return nil, errors.New("no scripted reply for system prompt")
}

func (s *scriptedLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, s, prompt, options...)
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{replies: map[string]string{
		"PLANNER": `{"should_reject": false, "clarify": false,
			"plan": [{"step": 1, "agent": "servicenow", "question": "What happened to CHG42?"}],
			"plan_reason": "change lookup"}`,
		"REVIEWER":   `{"is_complete": true, "summary": "answered", "missing_aspects": [], "confidence": 0.9}`,
		"CLARIFIER":  `{"clarification_request": "Which change?"}`,
		"SERVICENOW": "CHG42 failed during the database migration.",
	}}
}

func writeAgent(t *testing.T, dir, key, marker string) {
	t.Helper()
	content := "name: " + key + "\ndescription: " + key + " agent\ninstructions: You are the " + marker + " agent.\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, key+".yaml"), []byte(content), 0o600))
}

// fixture writes a config file and agents dir and returns the config path.
func fixture(t *testing.T, withReviewer bool) string {
	t.Helper()
	dir := t.TempDir()
	agents := filepath.Join(dir, "agents")
	require.NoError(t, os.Mkdir(agents, 0o755))

	writeAgent(t, agents, "planner", "PLANNER")
	writeAgent(t, agents, "clarifier", "CLARIFIER")
	writeAgent(t, agents, "servicenow", "SERVICENOW")
	if withReviewer {
		writeAgent(t, agents, "reviewer", "REVIEWER")
	}

	cfg := `
logging:
  level: error
agents:
  dir: ` + agents + `
workers:
  - id: servicenow
    description: Incidents and change requests
`
	path := filepath.Join(dir, "triage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func execute(t *testing.T, llm llms.Model, args ...string) (string, string, error) {
	t.Helper()
	opts := &options{newLLM: func(string) (llms.Model, error) { return llm, nil }}
	root := newRootCmd(opts)

	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append(args, "--env-file", ""))
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRunCommand(t *testing.T) {
	llm := newScriptedLLM()
	out, stderr, err := execute(t, llm, "run", "-c", fixture(t, true), "--progress", "What", "happened", "to", "CHG42?")
	require.NoError(t, err, stderr)

	assert.Contains(t, out, "## Servicenow")
	assert.Contains(t, out, "CHG42 failed during the database migration.")
	assert.Contains(t, stderr, "[servicenow] agent invoked")
	assert.Equal(t, []string{"PLANNER", "SERVICENOW", "REVIEWER"}, llm.calls)
}

func TestRunCommandFanOutVariant(t *testing.T) {
	llm := newScriptedLLM()
	out, stderr, err := execute(t, llm, "run", "-c", fixture(t, false), "--variant", "fanout", "CHG42?")
	require.NoError(t, err, stderr)

	assert.Contains(t, out, "CHG42 failed during the database migration.")
	assert.NotContains(t, llm.calls, "REVIEWER")
}

func TestRunCommandNeedsQuery(t *testing.T) {
	_, _, err := execute(t, newScriptedLLM(), "run", "-c", fixture(t, true))
	require.Error(t, err)
}

func TestDescribeCommand(t *testing.T) {
	out, stderr, err := execute(t, newScriptedLLM(), "describe", "-c", fixture(t, true))
	require.NoError(t, err, stderr)

	assert.Contains(t, out, "workflow "+triage.DefaultWorkflowName)
	assert.Contains(t, out, triage.NodeRouteReview)
	assert.Contains(t, out, triage.NodeRetryPlanning)
}

func TestBuildRequiresReviewerDefinition(t *testing.T) {
	_, _, err := execute(t, newScriptedLLM(), "describe", "-c", fixture(t, false))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
	assert.Contains(t, err.Error(), `"reviewer"`)
}

func TestBuildRejectsUnknownVariant(t *testing.T) {
	_, _, err := execute(t, newScriptedLLM(), "describe", "-c", fixture(t, true), "--variant", "pipeline")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestProviderFactoryCachesPerModel(t *testing.T) {
	t.Setenv("TRIAGE_TEST_OPENAI_KEY", "sk-test")
	factory := providerFactory(config.ModelConfig{
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		APIKeyEnv: "TRIAGE_TEST_OPENAI_KEY",
	})

	a, err := factory("")
	require.NoError(t, err)
	b, err := factory("gpt-4o-mini")
	require.NoError(t, err)
	c, err := factory("gpt-4o")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}
