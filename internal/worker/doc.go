// Package worker provides a bounded goroutine pool.
//
// The cluster launcher uses it to spawn store-node processes in parallel
// (ssh session setup dominates remote launch time) while capping how many
// spawns are in flight at once.
//
// # Basic Usage
//
//	pool := worker.NewPool(4)
//	pool.Start(ctx)
//	defer pool.Stop()
//
//	for _, w := range workers {
//	    pool.Submit(func(ctx context.Context) {
//	        // spawn w
//	    })
//	}
//	pool.Wait() // every accepted job has returned
//
// # Cancellation
//
// Jobs receive the pool context. Jobs already accepted still run after the
// context is cancelled so that Wait and Stop always return; they are
// expected to check ctx.Err() and return early.
package worker
