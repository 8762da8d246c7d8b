// Package report formats and parses the run's line-oriented output.
//
// SummaryLine renders the per-configuration result line
//
//	k=<k>, consistency=<policy>: <throughput> keys/sec
//
// and WriteMarkers emits the per-worker scrape markers
//
//	node-3 INSERTION_DURATION: 5.000000
//	node-3 INSERTED_KEYS: 50
//	node-3 THROUGHPUT: 10.000000
//
// ParseMarkers reads them back (e.g. from captured agent output) so the
// same throughput policy can be applied offline.
package report
