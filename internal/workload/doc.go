// Package workload loads per-worker key partitions and replays them against
// a joined worker.
//
// Each key becomes one `insert <key> <value>` command (the key doubles as the
// value unless Config.Value is set). The next key is only sent once the
// previous one was acknowledged. The first error line, timeout or broken
// channel stops that worker's workload; the partial record is kept.
package workload
