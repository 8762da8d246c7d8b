// Package join runs the bootstrap/join protocol for one cluster.
//
// The bootstrap's readiness line is awaited first and its advertised address
// parsed out; the bootstrap then self-joins with `join -b <ip> <port>`. Only
// after that do followers issue `join`, each after a settle delay, and each
// must see a join confirmation within the join deadline. A single
// stabilization delay follows before the workload phase.
//
// # Modes
//
//   - sequential: followers are started and joined one at a time after the
//     bootstrap has joined.
//   - concurrent: followers are launched with staggered start times while the
//     bootstrap readiness wait is in progress; their joins run in parallel
//     once the bootstrap has joined.
//
// A follower that misses its deadline is marked Failed and left out of the
// workload phase. A bootstrap failure aborts the configuration.
package join
