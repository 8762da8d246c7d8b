// Package api serves the live status of a running experiment matrix.
//
// Routes:
//
//	GET /api/status   current configuration and per-worker states
//	GET /api/results  one summary per finished configuration (?detail=1 for full results)
//	GET /api/presets  available presets
//	GET /metrics      Prometheus exposition (when a handler is supplied)
//	GET /healthz      liveness
//	/ws               WebSocket stream of lifecycle and result events
package api
