// Package node provides the orchestrator-side handle of one store-node worker.
//
// A Worker wraps the external process (local or via ssh), its stdin command
// channel and its output watcher, and tracks the worker lifecycle:
//
//	Created -> Starting -> Ready -> Joined -> Running -> Terminated
//
// Transitions only move forward one step at a time; Failed is reachable from
// any non-terminal state and keeps the failure cause.
//
// # Basic Usage
//
//	w := node.New(0, node.RoleBootstrap, node.Placement{Host: "vm1"})
//	if err := w.Start(cmd, node.StartOptions{WriteTimeout: 5 * time.Second}); err != nil {
//	    // w.State() == node.StateFailed
//	}
//	defer w.Teardown(5 * time.Second)
//
//	line, err := w.Await(ctx, watcher.Contains("Server is up and running in"), 30*time.Second)
//	err = w.Send(ctx, "join -b 10.0.0.5 5050")
//
// # Teardown
//
// Each worker runs in its own process group. Teardown sends SIGTERM to the
// group, waits for the grace period, then escalates to SIGKILL. It runs at
// most once no matter how many times it is called.
package node
