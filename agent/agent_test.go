package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridproxy/leapnet/metrics"
	"github.com/gridproxy/leapnet/proxy"
)

// stubEnv emits deterministic observations. Episodes terminate every
// episodeLen steps; the first terminalStarts reset/step pairs report done
// immediately to exercise the reboot retry.
type stubEnv struct {
	step           int
	resets         int
	episodeLen     int
	terminalStarts int
}

func stubObs(i int) proxy.MapObservation {
	v := float64(i)
	return proxy.MapObservation{
		"prod_p":      {v, v + 1, 2 - v},
		"line_status": {0, 0},
		"a_or":        {50 + v, 60 - v},
		"load_v":      {100 + v, 99 - v, 101, 100 + 0.5*v},
	}
}

func (e *stubEnv) Reset() (proxy.Observation, error) {
	e.resets++
	e.step++
	return stubObs(e.step), nil
}

func (e *stubEnv) Step(Action) (proxy.Observation, float64, bool, error) {
	if e.terminalStarts > 0 {
		e.terminalStarts--
		return stubObs(0), 0, true, nil
	}
	e.step++
	done := e.episodeLen > 0 && e.step%e.episodeLen == 0
	return stubObs(e.step), 1.0, done, nil
}

func (e *stubEnv) RewardRange() (float64, float64) { return 0, 1 }

// countingActor returns a fixed action and counts its invocations.
type countingActor struct {
	calls int
}

func (c *countingActor) Act(proxy.Observation, float64, bool) Action {
	c.calls++
	return "noop"
}

func agentConfig() proxy.Config {
	cfg := proxy.DefaultConfig()
	cfg.Name = "test_agent"
	cfg.Capacity = 8
	cfg.TrainBatchSize = 3
	cfg.AttrX = []string{"prod_p"}
	cfg.AttrTau = []string{"line_status"}
	cfg.AttrY = []string{"a_or", "load_v"}
	cfg.SizesEnc = []int{4}
	cfg.SizesMain = []int{5}
	cfg.SizesOut = []int{4}
	cfg.LR = 1e-3
	cfg.Seed = 11
	return cfg
}

func newTestAgent(t *testing.T, acfg Config) (*Agent, *countingActor) {
	t.Helper()
	prx, err := proxy.New(agentConfig(), nil)
	require.NoError(t, err)
	actor := &countingActor{}
	return New(actor, prx, acfg, nil), actor
}

func TestAgentTrainWritesCheckpoint(t *testing.T) {
	dir := t.TempDir()
	a, actor := newTestAgent(t, Config{LogEvery: 4, SaveEvery: 4, BootstrapSize: 3})
	env := &stubEnv{}

	require.NoError(t, a.Train(env, 12, dir, ""))

	assert.Equal(t, 12, a.GlobalIter())
	assert.Greater(t, actor.calls, 12)

	modelDir := filepath.Join(dir, "test_agent")
	for _, name := range []string{"metadata.json", "test_agent.gob", "loss.png"} {
		_, err := os.Stat(filepath.Join(modelDir, name))
		assert.NoError(t, err, "missing %s", name)
	}
}

func TestAgentTrainSkipsUntilFullBatch(t *testing.T) {
	a, _ := newTestAgent(t, Config{BootstrapSize: 1})
	env := &stubEnv{}

	// two steps cannot fill a batch of three, training silently waits
	require.NoError(t, a.Train(env, 2, "", ""))
	assert.Zero(t, a.prx.TrainIter())

	require.NoError(t, a.Train(env, 10, "", ""))
	assert.Greater(t, a.prx.TrainIter(), 0)
}

func TestAgentEpisodeReboot(t *testing.T) {
	a, _ := newTestAgent(t, Config{BootstrapSize: 1})
	env := &stubEnv{episodeLen: 4}

	require.NoError(t, a.Train(env, 10, "", ""))
	assert.Greater(t, env.resets, 1)
	assert.Equal(t, 10, a.GlobalIter())
}

func TestAgentRebootRetriesTerminalStart(t *testing.T) {
	a, _ := newTestAgent(t, Config{BootstrapSize: 1})
	env := &stubEnv{terminalStarts: 3}

	require.NoError(t, a.Train(env, 5, "", ""))
	// one reset per terminal start plus the one that finally stuck
	assert.Equal(t, 4, env.resets)
	assert.Equal(t, 5, a.GlobalIter())
}

func TestAgentSaveLoadReproducesPredictions(t *testing.T) {
	dir := t.TempDir()
	a, _ := newTestAgent(t, Config{BootstrapSize: 2})
	require.NoError(t, a.Train(&stubEnv{}, 15, dir, ""))

	probe := stubObs(99)
	want, err := a.prx.PredictObs(probe)
	require.NoError(t, err)

	restored, _ := newTestAgent(t, Config{})
	require.NoError(t, restored.Load(filepath.Join(dir, "test_agent")))

	got, err := restored.prx.PredictObs(probe)
	require.NoError(t, err)
	require.Equal(t, len(want), len(got))
	for i := range want {
		require.Equal(t, len(want[i]), len(got[i]))
		for j := range want[i] {
			assert.InDelta(t, want[i][j], got[i][j], 1e-12)
		}
	}
	assert.Equal(t, a.prx.TrainIter(), restored.prx.TrainIter())
	assert.Equal(t, a.GlobalIter(), restored.GlobalIter())
}

func TestAgentLoadMissingPath(t *testing.T) {
	a, _ := newTestAgent(t, Config{})
	err := a.Load(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestAgentEvaluateWritesResults(t *testing.T) {
	trainDir := t.TempDir()
	evalDir := t.TempDir()

	a, _ := newTestAgent(t, Config{BootstrapSize: 2})
	require.NoError(t, a.Train(&stubEnv{}, 10, trainDir, ""))

	ev, _ := newTestAgent(t, Config{})
	summary, err := ev.Evaluate(&stubEnv{}, 6,
		filepath.Join(trainDir, "test_agent"), evalDir,
		map[string]metrics.Metric{"mse": metrics.MSERaw, "mse_avg": metrics.MSEMean})
	require.NoError(t, err)

	assert.Equal(t, 6, summary["predict_step"])
	assert.Contains(t, summary, "predict_time")
	assert.Contains(t, summary, "avg_pred_time_s")

	mse, ok := summary["mse"].(map[string]any)
	require.True(t, ok)
	// width-2 outputs report per-column lists, scalars collapse
	assert.Len(t, mse["a_or"], 2)
	avg, ok := summary["mse_avg"].(map[string]any)
	require.True(t, ok)
	_, isScalar := avg["a_or"].(float64)
	assert.True(t, isScalar)

	modelDir := filepath.Join(evalDir, "test_agent")
	for _, name := range []string{
		"metrics.json", "metadata.json",
		"a_or_pred.csv", "a_or_real.csv",
		"load_v_pred.csv", "load_v_real.csv",
	} {
		_, err := os.Stat(filepath.Join(modelDir, name))
		assert.NoError(t, err, "missing %s", name)
	}
}

func TestAgentConfigDefaults(t *testing.T) {
	prx, err := proxy.New(agentConfig(), nil)
	require.NoError(t, err)
	a := New(&countingActor{}, prx, Config{Ext: "bin"}, nil)
	assert.Equal(t, 256, a.cfg.LogEvery)
	assert.Equal(t, 256, a.cfg.SaveEvery)
	assert.Equal(t, 1, a.cfg.BootstrapSize)
	assert.Equal(t, ".bin", a.cfg.Ext)
}
