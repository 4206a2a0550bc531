// Package agent runs the decide/act/observe loop for a session and reports
// its progress through the session buffer.
//
// Invariants:
// - One active run per session; Start rejects overlap with ErrRunInProgress.
// - The loop only appends to history, never rewrites it.
// - Tool failures become tool messages; decision failures end the run as failed.
// - A run performs at most MaxIterations decisions.
//
// Usage:
//
//	loop, _ := agent.NewLoop(agent.LoopConfig{
//		Decider:    decider,
//		Dispatcher: dispatcher,
//		Store:      store,
//	})
//	runner, _ := agent.NewRunner(agent.RunnerConfig{Store: store, Loop: loop})
//	res, _ := runner.Start(ctx, "s1", "find recent papers on retrieval")
//	_ = res.RunID
package agent
