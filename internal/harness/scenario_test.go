package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/triad/internal/model"
)

const minimalInput = `
    input:
      fields:
        title: Test
        starts_at: "2026-02-01T10:00:00Z"
        ends_at: "2026-02-01T12:00:00Z"
        max_capacity: 10
        ticket_price: "0"
      initiator:
        external_id: user-1
        address: "0x00000000000000000000000000000000000000a1"
`

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenarioValidFile(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "test.yaml", `
name: test_scenario
description: "Test scenario for validation"
setup:
  signer: true
  health:
    cache: degraded
  faults:
    - store: media
      op: upload
      after: 1
      error: quota exceeded
flow:
  - step: prepare
`+minimalInput+`
  - step: advance
    duration: 25h
  - step: expire
    expect:
      phase: failed
assertions:
  - type: trace_contains
    call: media.delete
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	assert.True(t, scenario.Setup.Signer)
	assert.Equal(t, model.Degraded, scenario.Setup.Health["cache"])
	assert.Equal(t, Fault{Store: "media", Op: "upload", After: 1, Error: "quota exceeded"}, scenario.Setup.Faults[0])
	require.Len(t, scenario.Flow, 3)
	assert.Equal(t, "Test", scenario.Flow[0].Input["fields"].(map[string]any)["title"])
	assert.Equal(t, 25*time.Hour, scenario.Flow[1].Duration)
	assert.Equal(t, model.PhaseFailed, scenario.Flow[2].Expect.Phase)
	assert.Len(t, scenario.Assertions, 1)
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenarioRejectsUnknownFields(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "typo.yaml", `
name: typo
flow:
  - step: sync
assertion:
  - type: trace_contains
    call: cache.insert
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenarioValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing name", "flow:\n  - step: sync\n", "name is required"},
		{"empty flow", "name: x\n", "flow must have at least one step"},
		{"unknown step", "name: x\nflow:\n  - step: teleport\n", `unknown step "teleport"`},
		{"prepare without input", "name: x\nflow:\n  - step: prepare\n", "input is required"},
		{"bad outcome", "name: x\nflow:\n  - step: sign\n    outcome: maybe\n", `unknown outcome "maybe"`},
		{"advance without duration", "name: x\nflow:\n  - step: advance\n", "duration must be positive"},
		{"fault without store", "name: x\nflow:\n  - step: fault\n    op: get\n    error: boom\n", `unknown store ""`},
		{"bad health", "name: x\nsetup:\n  health:\n    cache: sleepy\nflow:\n  - step: sync\n", `unknown state "sleepy"`},
		{"bad assertion", "name: x\nflow:\n  - step: sync\nassertions:\n  - type: vibes\n", `unknown assertion type "vibes"`},
		{"count without call", "name: x\nflow:\n  - step: sync\nassertions:\n  - type: trace_count\n    count: 1\n", "call is required"},
		{"final_state bad store", "name: x\nflow:\n  - step: sync\nassertions:\n  - type: final_state\n    store: disk\n    expect: {a: 1}\n", "store must be operation"},
		{"final_state without expect", "name: x\nflow:\n  - step: sync\nassertions:\n  - type: final_state\n    store: cache\n", "expect is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDirSortsByFileName(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "b.yaml", "name: second\nflow:\n  - step: sync\n")
	writeScenario(t, dir, "a.yml", "name: first\nflow:\n  - step: cleanup\n")
	writeScenario(t, dir, "notes.txt", "not a scenario")

	scenarios, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	assert.Equal(t, "first", scenarios[0].Name)
	assert.Equal(t, "second", scenarios[1].Name)
}

func TestLoadDirReportsBadFile(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "bad.yaml", "name: bad\n")

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")
}
