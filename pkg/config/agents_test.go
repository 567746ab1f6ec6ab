package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-triage/pkg/domain"
)

const servicenowAgent = `
name: servicenow
description: Looks up incidents and change requests
instructions: |
  You answer questions about ServiceNow incidents.
model:
  api_version: "2024-10-21"
  model_id: gpt-4o
`

func TestLoadAgentDefinition(t *testing.T) {
	path := writeFile(t, t.TempDir(), "servicenow.yaml", servicenowAgent)

	def, err := LoadAgentDefinition(path)
	require.NoError(t, err)
	assert.Equal(t, "servicenow", def.Name)
	assert.Equal(t, "Looks up incidents and change requests", def.Description)
	assert.Contains(t, def.Instructions, "ServiceNow incidents")
	assert.Equal(t, "2024-10-21", def.Model.APIVersion)
	assert.Equal(t, "gpt-4o", def.Model.ModelID)
}

func TestLoadAgentDefinitionMissingFields(t *testing.T) {
	path := writeFile(t, t.TempDir(), "reviewer.yaml", "name: reviewer\n")

	_, err := LoadAgentDefinition(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
	assert.Contains(t, err.Error(), "description, instructions")
}

func TestLoadAgents(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "servicenow.yaml", servicenowAgent)
	writeFile(t, dir, "planner.yml", "name: planner\ndescription: plans\ninstructions: plan things\n")
	writeFile(t, dir, "README.md", "not an agent")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	agents, err := LoadAgents(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"planner", "servicenow"}, agents.Keys())

	def, err := agents.Get(AgentPlanner)
	require.NoError(t, err)
	assert.Equal(t, "plan things", def.Instructions)

	_, err = agents.Get(AgentReviewer)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	err = agents.Require(AgentPlanner, AgentReviewer, AgentClarifier)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reviewer, clarifier")
	assert.NoError(t, agents.Require("servicenow"))
}

func TestLoadAgentsReportsBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.yaml", servicenowAgent)
	writeFile(t, dir, "bad.yaml", "name: [broken")

	_, err := LoadAgents(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
	assert.Contains(t, err.Error(), "bad.yaml")
}

func TestWatchDirReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "servicenow.yaml", servicenowAgent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reloads atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- WatchDir(ctx, dir, func() { reloads.Add(1) }, WithDebounce(10*time.Millisecond))
	}()

	// The watcher registers asynchronously; keep touching the file until a
	// reload is observed.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(servicenowAgent+"\n"), 0o600)
		return reloads.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WatchDir did not return after cancel")
	}
}

func TestWatchDirIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var reloads atomic.Int32
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600)
	}()

	require.NoError(t, WatchDir(ctx, dir, func() { reloads.Add(1) }, WithDebounce(5*time.Millisecond)))
	assert.Zero(t, reloads.Load())
}

func TestWatchDirMissingDir(t *testing.T) {
	err := WatchDir(context.Background(), filepath.Join(t.TempDir(), "absent"), func() {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to watch directory")
}
