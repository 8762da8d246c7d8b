package experiment

import (
	"fmt"
	"strings"
	"time"

	"chord-bench/internal/metrics"
	"chord-bench/internal/protocol"
	"chord-bench/internal/report"
)

// WorkerResult はワーカー1つ分の最終状態と挿入記録
type WorkerResult struct {
	metrics.Snapshot
	Role      string `json:"role"`
	Placement string `json:"placement"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
}

// Result は1構成の実行結果（ExperimentResult）
type Result struct {
	Config    ExperimentConfig        `json:"config"`
	StartTime time.Time               `json:"start_time"`
	EndTime   time.Time               `json:"end_time"`
	Bootstrap protocol.Endpoint       `json:"bootstrap"`
	Records   map[int]*metrics.Record `json:"-"`
	Workers   []WorkerResult          `json:"workers"`
	Aggregate metrics.Aggregate       `json:"aggregate"`
	Err       error                   `json:"-"`
	Error     string                  `json:"error,omitempty"`
}

// Throughput はクラスタ全体のスループット（keys/sec）を返す
func (r *Result) Throughput() float64 {
	return r.Aggregate.Throughput
}

// SummaryLine は構成1つ分の結果行を返す
func (r *Result) SummaryLine() string {
	return report.SummaryLine(r.Config.K, string(r.Config.Consistency), r.Throughput())
}

// Report は結果をフォーマットして返す
func (r *Result) Report() string {
	status := "OK"
	if r.Err != nil {
		status = "FAILED: " + r.Err.Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, `
================================================================================
                  EXPERIMENT REPORT: k=%d, consistency=%s
================================================================================

EXECUTION SUMMARY
-----------------
  Start Time:     %s
  End Time:       %s
  Duration:       %v
  Bootstrap:      %s
  Status:         %s

THROUGHPUT
----------
  Workers:          %d
  Succeeded:        %d
  Keys Inserted:    %d
  Max Duration:     %v
  Throughput:       %.1f keys/sec

WORKERS
-------
`,
		r.Config.K, r.Config.Consistency,
		r.StartTime.Format("2006-01-02 15:04:05"),
		r.EndTime.Format("2006-01-02 15:04:05"),
		r.EndTime.Sub(r.StartTime).Round(time.Millisecond),
		orDash(r.Bootstrap.String()),
		status,
		r.Aggregate.Workers,
		r.Aggregate.Succeeded,
		r.Aggregate.TotalInserted,
		r.Aggregate.MaxDuration.Round(time.Millisecond),
		r.Aggregate.Throughput,
	)

	fmt.Fprintf(&b, "  %-10s %-9s %-22s %-10s %8s %10s %10s  %s\n",
		"WORKER", "ROLE", "PLACEMENT", "STATE", "KEYS", "DURATION", "RATE", "STOP REASON")
	for _, w := range r.Workers {
		reason := w.StopReason
		if reason == "" {
			reason = w.Error
		}
		fmt.Fprintf(&b, "  %-10s %-9s %-22s %-10s %8d %10v %10.1f  %s\n",
			w.Label, w.Role, w.Placement, w.State, w.Count,
			w.Duration.Round(time.Millisecond), w.Rate, orDash(reason))
	}

	b.WriteString("\n================================================================================")
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
