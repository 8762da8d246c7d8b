// Package cluster provides launching and teardown of store-node clusters.
//
// A Launcher turns a Spec (k, consistency policy, ordered placements) into a
// Cluster of node.Worker handles. Worker 0 is always the bootstrap; the rest
// are followers. A Spawner builds each worker's command line, running it
// directly for local placements and through ssh for remote ones.
//
// # Basic Usage
//
//	spawner := cluster.NewSpawner(cluster.DefaultNodeCommand(), cluster.DefaultRemoteConfig())
//	l := cluster.NewLauncher(spawner, cluster.Options{Stagger: 500 * time.Millisecond})
//
//	c, err := l.Launch(ctx, cluster.Spec{
//	    K:           3,
//	    Consistency: "chain-replication",
//	    Placements:  cluster.Distribute(10, hosts),
//	})
//	if err != nil {
//	    return err
//	}
//	defer c.Teardown(5 * time.Second)
//
// # Failure Isolation
//
// A worker whose process (or ssh session) cannot be started enters Failed;
// the remaining workers are still launched. Teardown runs concurrently over
// all workers and each worker is torn down at most once.
package cluster
