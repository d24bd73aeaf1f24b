package agent

import "github.com/gridproxy/leapnet/proxy"

// Action is whatever the external policy emits; the agent never inspects
// it, only forwards it to the environment.
type Action any

// Actor is the external action-selection policy wrapped by the agent. Its
// internals are out of scope here; it is consumed once per step.
type Actor interface {
	Act(obs proxy.Observation, reward float64, done bool) Action
}

// Environment is the simulator loop driven by the agent.
type Environment interface {
	// Reset starts a new episode and returns its first observation.
	Reset() (proxy.Observation, error)

	// Step applies an action and returns the next observation, the step
	// reward and whether the episode terminated.
	Step(a Action) (obs proxy.Observation, reward float64, done bool, err error)

	// RewardRange returns the lowest and highest possible rewards; the
	// lowest is used as the reward fed to the actor on a fresh episode.
	RewardRange() (min, max float64)
}
