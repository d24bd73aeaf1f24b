// Package leapnet provides a fast learned surrogate ("proxy") for a
// power-grid simulator, built around the LEAP Net architecture: per-attribute
// encoders feeding a shared trunk whose encoding is reshaped by a
// context-conditioned residual correction before per-attribute decoders
// produce the predicted grid state.
//
// The repository is organized into several packages:
//
//   - proxy: the surrogate itself: circular training buffer, frozen
//     normalization statistics, training/inference entry points, and
//     checkpoint metadata
//   - nn: the leap-net computation graph, dense and leap layers, the Adam
//     optimizer and learning-rate schedules
//   - agent: an orchestrating agent that wraps an external action policy
//     and interleaves data collection, training, checkpointing and
//     evaluation while driving an environment loop
//   - preprocessing: per-attribute standardization
//   - metrics: regression metrics used during evaluation
//   - core/model: lifecycle state and gob persistence helpers
//   - pkg/errors, pkg/log: error handling and structured logging
//
// A typical training run wires an action policy and an environment into an
// agent:
//
//	prx, err := proxy.New(proxy.DefaultConfig(), log.NewLogger("proxy"))
//	if err != nil {
//	    // ...
//	}
//	ag := agent.New(policy, prx, agent.DefaultConfig(), log.NewLogger("agent"))
//	if err := ag.Train(env, totalSteps, "model_saved", ""); err != nil {
//	    // ...
//	}
package leapnet
