package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiny-ml-lab/internal/kmeans"
)

const fastConfig = `
log_level: error
gridworld:
  interval: 0s
  max_episodes: 5
regression:
  interval: 0s
  epochs: 50
kmeans:
  interval: 0s
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tinyml.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fastConfig), 0o644))

	var out, errOut bytes.Buffer
	a := newApp(&out, &errOut)
	root := a.rootCmd()
	root.SetArgs(append([]string{"--config", path}, args...))
	err := root.ExecuteContext(context.Background())
	a.close()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "tinyml dev\n", out)
}

func TestRegressStepMode(t *testing.T) {
	out, err := execute(t, "regress", "--step", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "phase=makingPrediction")
	assert.Contains(t, out, "phase=calculatingError")
	assert.Contains(t, out, "phase=learningFromError epoch=1")
	assert.Contains(t, out, "regress summary: scenario=weather")
}

func TestRegressContinuousWithPredictions(t *testing.T) {
	out, err := execute(t, "regress", "--scenario", "sales", "--predict", "0.5,1")
	require.NoError(t, err)
	assert.Contains(t, out, "regress summary: scenario=sales epochs=50")
	assert.Contains(t, out, "predict(0.500) =")
	assert.Contains(t, out, "predict(1.000) =")
}

func TestMazeRunsConfiguredEpisodes(t *testing.T) {
	out, err := execute(t, "maze", "--episodes", "3", "--demo")
	require.NoError(t, err)
	assert.Contains(t, out, "maze summary: episodes=3")
	assert.Contains(t, out, "best path")
	assert.Contains(t, out, "demonstration")
	assert.Contains(t, out, "value map:")
}

func TestMazeStepMode(t *testing.T) {
	out, err := execute(t, "maze", "--step", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "phase=makingMove")
	assert.Contains(t, out, "phase=calculatingReward")
	assert.Contains(t, out, "phase=updatingQTable")
}

func TestClusterJSON(t *testing.T) {
	out, err := execute(t, "cluster", "--json")
	require.NoError(t, err)

	var snap kmeans.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out[bytes.IndexByte([]byte(out), '{'):]), &snap))
	assert.NotEqual(t, kmeans.OutcomeNone, snap.Outcome)
	assert.Len(t, snap.Centroids, 3)
	assert.Len(t, snap.Points, 100)
}

func TestClusterRejectsOversizedK(t *testing.T) {
	_, err := execute(t, "cluster", "--k", "500", "--step", "2")
	assert.ErrorIs(t, err, kmeans.ErrInvalidK)
}

func TestAllRunsEveryEngine(t *testing.T) {
	out, err := execute(t, "all")
	require.NoError(t, err)
	assert.Contains(t, out, "maze summary: episodes=5")
	assert.Contains(t, out, "regress summary")
	assert.Contains(t, out, "cluster summary")
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "loud", "version")
	assert.Error(t, err)
}
