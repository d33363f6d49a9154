package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenariosMatchGoldenTraces(t *testing.T) {
	scenarios, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestTracesAreDeterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/creation_with_banner.yaml")
	require.NoError(t, err)

	first, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	second, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	a, err := TraceSnapshot{ScenarioName: scenario.Name, Trace: first.Trace}.Marshal()
	require.NoError(t, err)
	b, err := TraceSnapshot{ScenarioName: scenario.Name, Trace: second.Trace}.Marshal()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestSnapshotIsCanonical(t *testing.T) {
	snap := TraceSnapshot{
		ScenarioName: "tiny",
		Trace:        []TraceEvent{{Seq: 1, Step: "sync"}},
	}
	out, err := snap.Marshal()
	require.NoError(t, err)
	assert.Equal(t, `{"scenario_name":"tiny","trace":[{"seq":1,"step":"sync"}]}`+"\n", string(out))
}
