package metrics

import (
	"sort"
	"sync"
	"time"
)

const defaultMaxLatencySamples = 1000

// Record はワーカー1つ分の挿入記録（InsertionRecord）
// 書き込みは担当ドライバのみが行うが、状態APIから並行に読まれるためロックで保護する
type Record struct {
	NodeID int
	Label  string

	mu                sync.RWMutex
	attempted         int
	count             int
	first             time.Time
	last              time.Time
	stopErr           error
	totalLatency      time.Duration
	latencies         []time.Duration
	maxLatencySamples int
}

// NewRecord は新しい記録を作成する
func NewRecord(nodeID int, label string) *Record {
	return &Record{
		NodeID:            nodeID,
		Label:             label,
		latencies:         make([]time.Duration, 0, 64),
		maxLatencySamples: defaultMaxLatencySamples,
	}
}

// Attempt は挿入コマンドを1つ発行したことを記録する
func (r *Record) Attempt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempted++
}

// Success は成功した挿入を記録する
// 最初の成功時刻は1回目のみ設定され、最後の成功時刻は毎回更新される
func (r *Record) Success(at time.Time, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.count++
	if r.count == 1 {
		r.first = at
	}
	r.last = at
	r.totalLatency += latency
	if len(r.latencies) < r.maxLatencySamples {
		r.latencies = append(r.latencies, latency)
	}
}

// Stop はワーカーの負荷が途中で打ち切られた理由を記録する（最初の理由を保持）
func (r *Record) Stop(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopErr == nil {
		r.stopErr = err
	}
}

// Count は成功した挿入数を返す
func (r *Record) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Attempted は発行した挿入コマンド数を返す
func (r *Record) Attempted() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.attempted
}

// First は最初の成功時刻を返す（成功がなければゼロ値）
func (r *Record) First() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.first
}

// Last は最後の成功時刻を返す（成功がなければゼロ値）
func (r *Record) Last() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Err は打ち切り理由を返す（最後まで完走した場合は nil）
func (r *Record) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stopErr
}

// Duration は最後の成功 - 最初の成功を返す（成功が1件未満なら0）
func (r *Record) Duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.duration()
}

func (r *Record) duration() time.Duration {
	if r.count < 1 {
		return 0
	}
	return r.last.Sub(r.first)
}

// Rate はワーカー単体の挿入レート（keys/sec）を返す（所要時間が0なら0）
func (r *Record) Rate() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d := r.duration().Seconds()
	if d <= 0 {
		return 0
	}
	return float64(r.count) / d
}

// AverageLatency は平均レイテンシを返す
func (r *Record) AverageLatency() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return 0
	}
	return r.totalLatency / time.Duration(r.count)
}

// P99Latency はP99レイテンシを返す（サンプルベース）
func (r *Record) P99Latency() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(r.latencies))
	copy(sorted, r.latencies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Snapshot は記録のスナップショット
type Snapshot struct {
	NodeID         int           `json:"node_id"`
	Label          string        `json:"label"`
	Attempted      int           `json:"attempted"`
	Count          int           `json:"count"`
	First          time.Time     `json:"first_success,omitempty"`
	Last           time.Time     `json:"last_success,omitempty"`
	Duration       time.Duration `json:"duration_ns"`
	Rate           float64       `json:"rate"`
	AverageLatency time.Duration `json:"avg_latency_ns"`
	P99Latency     time.Duration `json:"p99_latency_ns"`
	StopReason     string        `json:"stop_reason,omitempty"`
}

// Snapshot は現在の記録のスナップショットを返す
func (r *Record) Snapshot() Snapshot {
	s := Snapshot{
		NodeID:         r.NodeID,
		Label:          r.Label,
		Attempted:      r.Attempted(),
		Count:          r.Count(),
		First:          r.First(),
		Last:           r.Last(),
		Duration:       r.Duration(),
		Rate:           r.Rate(),
		AverageLatency: r.AverageLatency(),
		P99Latency:     r.P99Latency(),
	}
	if err := r.Err(); err != nil {
		s.StopReason = err.Error()
	}
	return s
}

// Sample は集計の入力となるワーカー単位の値
type Sample struct {
	Count    int
	Duration time.Duration
}

// Aggregate はクラスタ全体の集計結果
type Aggregate struct {
	Workers       int           `json:"workers"`
	Succeeded     int           `json:"succeeded"` // 1件以上成功したワーカー数
	TotalInserted int           `json:"total_inserted"`
	MaxDuration   time.Duration `json:"max_duration_ns"`
	Throughput    float64       `json:"throughput"`
}

// AggregateSamples はサンプル群からスループットを計算する
// スループット = 1件以上成功したワーカーの成功数合計 / それらのワーカーの最大所要時間。
// 成功したワーカーがいない、または最大所要時間が0の場合は0
func AggregateSamples(samples []Sample) Aggregate {
	agg := Aggregate{Workers: len(samples)}
	for _, s := range samples {
		if s.Count < 1 {
			continue
		}
		agg.Succeeded++
		agg.TotalInserted += s.Count
		if s.Duration > agg.MaxDuration {
			agg.MaxDuration = s.Duration
		}
	}
	if agg.Succeeded > 0 && agg.MaxDuration > 0 {
		agg.Throughput = float64(agg.TotalInserted) / agg.MaxDuration.Seconds()
	}
	return agg
}

// Summarize は記録群を集計する
func Summarize(records []*Record) Aggregate {
	samples := make([]Sample, 0, len(records))
	for _, r := range records {
		if r == nil {
			continue
		}
		samples = append(samples, Sample{Count: r.Count(), Duration: r.Duration()})
	}
	return AggregateSamples(samples)
}
