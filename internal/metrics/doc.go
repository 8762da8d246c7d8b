// Package metrics records per-worker insertion results and aggregates them
// into cluster throughput.
//
// A Record is the InsertionRecord of one worker: successful insertion count,
// first and last success timestamps, and the reason its workload stopped
// early (if any). Duration is last - first, and 0 with fewer than one
// success.
//
// # Basic Usage
//
//	rec := metrics.NewRecord(3, "node-3")
//	start := time.Now()
//	// ... insert one key ...
//	rec.Success(time.Now(), time.Since(start))
//
//	agg := metrics.Summarize(records)
//	fmt.Printf("%.1f keys/sec\n", agg.Throughput)
//
// # Aggregation
//
// Only workers with at least one success contribute. Throughput is their
// total successful insertions divided by the longest duration among them;
// it is 0 when no worker succeeded.
package metrics
