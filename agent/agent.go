// Package agent wraps an external action policy with a leap-net proxy,
// interleaving data collection, training, periodic checkpointing and
// evaluation while driving the environment loop.
package agent

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/gridproxy/leapnet/metrics"
	"github.com/gridproxy/leapnet/pkg/errors"
	"github.com/gridproxy/leapnet/pkg/log"
	"github.com/gridproxy/leapnet/proxy"
)

// Config holds the orchestration periods and checkpoint naming.
type Config struct {
	// LogEvery emits a progress record every N training iterations.
	LogEvery int
	// SaveEvery checkpoints the proxy every N training iterations.
	SaveEvery int
	// BootstrapSize is the number of observations gathered before the
	// proxy is initialized; statistics are computed from this batch.
	BootstrapSize int
	// Ext is the weights-file extension; normalized to start with a dot.
	Ext string
}

// DefaultConfig mirrors the historical orchestration defaults.
func DefaultConfig() Config {
	return Config{
		LogEvery:      256,
		SaveEvery:     256,
		BootstrapSize: 1,
		Ext:           ".gob",
	}
}

// checkpoint is the on-disk metadata.json layout: the proxy record plus
// the agent's own counters.
type checkpoint struct {
	Proxy      *proxy.Metadata `json:"proxy"`
	TrainIter  int             `json:"train_iter"`
	GlobalIter int             `json:"global_iter"`
}

// Agent drives the environment loop. States: uninitialized until the
// bootstrap batch is gathered, then initialized; training or evaluating
// depending on the entry point. Not safe for concurrent use.
type Agent struct {
	actor Actor
	prx   *proxy.Proxy
	cfg   Config
	log   log.Logger

	initialized bool
	training    bool

	globalIter int
	savePath   string

	pending     []proxy.Observation
	lossHistory []float64
}

// New wraps an action policy and a proxy into an orchestrating agent.
func New(actor Actor, prx *proxy.Proxy, cfg Config, logger log.Logger) *Agent {
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 256
	}
	if cfg.SaveEvery <= 0 {
		cfg.SaveEvery = 256
	}
	if cfg.BootstrapSize <= 0 {
		cfg.BootstrapSize = 1
	}
	cfg.Ext = proxy.NormalizeExt(cfg.Ext)
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Agent{
		actor: actor,
		prx:   prx,
		cfg:   cfg,
		log:   logger.With(log.ModelNameKey, prx.Name()),
	}
}

// Name returns the wrapped proxy's model name.
func (a *Agent) Name() string { return a.prx.Name() }

// GlobalIter returns the number of environment steps taken.
func (a *Agent) GlobalIter() int { return a.globalIter }

// Act feeds the observation into the proxy, performs one training step
// when in training mode, and returns the wrapped policy's action. This is
// the per-step heart of both loops.
func (a *Agent) Act(obs proxy.Observation, reward float64, done bool) (Action, error) {
	if err := a.storeObs(obs); err != nil {
		return nil, err
	}

	if a.training && a.initialized {
		losses, err := a.prx.TrainStep()
		switch {
		case err == nil:
			var total float64
			for _, l := range losses {
				total += l
			}
			a.lossHistory = append(a.lossHistory, total)
			if a.prx.TrainIter()%a.cfg.LogEvery == 0 {
				a.log.Info("training progress",
					log.IterationKey, a.prx.TrainIter(),
					log.LossKey, total,
					"global_iter", a.globalIter,
				)
			}
			if a.prx.TrainIter()%a.cfg.SaveEvery == 0 {
				if err := a.Save(a.savePath); err != nil {
					return nil, err
				}
			}
		case errors.As(err, new(*errors.InsufficientDataError)):
			// not enough rows for a full batch yet; keep collecting
		default:
			return nil, err
		}
	}

	return a.actor.Act(obs, reward, done), nil
}

// storeObs records the observation, initializing the proxy once the
// bootstrap batch is complete.
func (a *Agent) storeObs(obs proxy.Observation) error {
	if !a.initialized {
		a.pending = append(a.pending, obs)
		if len(a.pending) < a.cfg.BootstrapSize {
			return nil
		}
		if err := a.prx.Init(a.pending); err != nil {
			return err
		}
		if err := a.prx.BuildModel(); err != nil {
			return err
		}
		for _, o := range a.pending {
			if err := a.prx.StoreObs(o); err != nil {
				return err
			}
		}
		a.pending = nil
		a.initialized = true
		return nil
	}
	return a.prx.StoreObs(obs)
}

// Train runs the full training loop for totalSteps environment steps,
// checkpointing periodically and once more at the end. A non-empty
// loadPath resumes from an earlier checkpoint.
func (a *Agent) Train(env Environment, totalSteps int, savePath, loadPath string) error {
	a.savePath = savePath
	if savePath != "" {
		if err := os.MkdirAll(savePath, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create %q", savePath)
		}
	}
	if loadPath != "" {
		if err := a.Load(loadPath); err != nil {
			return err
		}
	}
	a.training = true

	obs, err := a.reboot(env)
	if err != nil {
		return err
	}
	reward, _ := env.RewardRange()
	done := false

	for a.globalIter < totalSteps {
		act, err := a.Act(obs, reward, done)
		if err != nil {
			return err
		}
		obs, reward, done, err = env.Step(act)
		if err != nil {
			return err
		}
		if done {
			if obs, err = a.reboot(env); err != nil {
				return err
			}
			done = false
		}
		a.globalIter++
	}

	if err := a.Save(a.savePath); err != nil {
		return err
	}
	if a.savePath != "" && len(a.lossHistory) > 0 {
		plotPath := filepath.Join(a.savePath, a.Name(), "loss.png")
		if err := saveLossCurve(plotPath, a.lossHistory); err != nil {
			return err
		}
	}
	a.log.Info("training finished",
		"global_iter", a.globalIter,
		log.IterationKey, a.prx.TrainIter(),
	)
	return nil
}

// Evaluate suppresses training and runs totalSteps prediction steps,
// recording each prediction next to the ground truth extracted from the
// same observation. Results and the configured metrics are persisted under
// savePath and returned.
func (a *Agent) Evaluate(env Environment, totalSteps int, loadPath, savePath string, ms map[string]metrics.Metric) (map[string]any, error) {
	a.training = false
	if loadPath != "" {
		if err := a.Load(loadPath); err != nil {
			return nil, err
		}
		a.globalIter = 0
		a.savePath = ""
	}

	obs, err := a.reboot(env)
	if err != nil {
		return nil, err
	}
	reward, _ := env.RewardRange()
	done := false

	var rec *recorder
	for a.globalIter < totalSteps {
		act, err := a.Act(obs, reward, done)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			// allocation deferred until output sizes are known
			sizes, err := a.prx.OutputSizes()
			if err != nil {
				return nil, err
			}
			rec = newRecorder(a.prx.AttrY(), sizes, totalSteps)
		}

		pred, err := a.prx.Predict()
		if err != nil {
			return nil, err
		}
		truth, err := a.prx.TrueOutput(obs)
		if err != nil {
			return nil, err
		}
		rec.record(a.globalIter, pred, truth)

		obs, reward, done, err = env.Step(act)
		if err != nil {
			return nil, err
		}
		if done {
			if obs, err = a.reboot(env); err != nil {
				return nil, err
			}
			done = false
		}
		a.globalIter++
	}

	return a.saveResults(savePath, ms, rec)
}

// Save checkpoints metadata and weights under path/<name>. An empty path
// disables saving.
func (a *Agent) Save(path string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Join(path, a.Name())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %q", dir)
	}
	md, err := a.prx.Metadata()
	if err != nil {
		return err
	}
	ck := checkpoint{Proxy: md, TrainIter: a.prx.TrainIter(), GlobalIter: a.globalIter}
	data, err := json.MarshalIndent(&ck, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal checkpoint")
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %q", filepath.Join(dir, "metadata.json"))
	}
	if err := a.prx.SaveWeights(dir, a.cfg.Ext); err != nil {
		return err
	}
	a.log.Debug("checkpoint written", log.PathKey, dir, log.IterationKey, a.prx.TrainIter())
	return nil
}

// Load restores a checkpoint from path (the model directory written by
// Save). Metadata is applied before the model is rebuilt, and the rebuilt
// model receives the weights: that order is mandatory.
func (a *Agent) Load(path string) error {
	if _, err := os.Stat(path); err != nil {
		return errors.NewLoadError(path, err)
	}
	data, err := os.ReadFile(filepath.Join(path, "metadata.json"))
	if err != nil {
		return errors.NewLoadError(filepath.Join(path, "metadata.json"), err)
	}
	var ck checkpoint
	if err := json.Unmarshal(data, &ck); err != nil {
		return errors.NewLoadError(path, err)
	}
	if err := a.prx.ApplyMetadata(ck.Proxy); err != nil {
		return err
	}
	a.globalIter = ck.GlobalIter
	if err := a.prx.BuildModel(); err != nil {
		return err
	}
	if err := a.prx.LoadWeights(path, a.cfg.Ext); err != nil {
		return err
	}
	a.initialized = false // buffer is re-created on the next observation
	a.log.Info("checkpoint restored", log.PathKey, path, log.IterationKey, a.prx.TrainIter())
	return nil
}

// reboot resets the environment at an episode boundary and immediately
// re-issues one policy action, retrying until the environment reports a
// non-terminal state. This guards against environments that start already
// terminated.
func (a *Agent) reboot(env Environment) (proxy.Observation, error) {
	minReward, _ := env.RewardRange()
	for {
		obs, err := env.Reset()
		if err != nil {
			return nil, err
		}
		next, _, done, err := env.Step(a.actor.Act(obs, minReward, false))
		if err != nil {
			return nil, err
		}
		if !done {
			return next, nil
		}
	}
}
