package report

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"time"

	"chord-bench/internal/metrics"
)

// スクレイプ用マーカー
const (
	MarkerDuration   = "INSERTION_DURATION:"
	MarkerKeys       = "INSERTED_KEYS:"
	MarkerThroughput = "THROUGHPUT:"
)

var markerPattern = regexp.MustCompile(`^(?:(\S+)\s+)?(INSERTION_DURATION|INSERTED_KEYS|THROUGHPUT):\s*([-+0-9.eE]+)`)

// SummaryLine は構成1つ分の結果行を返す
func SummaryLine(k int, consistency string, throughput float64) string {
	return fmt.Sprintf("k=%d, consistency=%s: %.1f keys/sec", k, consistency, throughput)
}

// WriteMarkers はワーカー1つ分のマーカー行を書き出す
func WriteMarkers(w io.Writer, label string, rec *metrics.Record) error {
	prefix := ""
	if label != "" {
		prefix = label + " "
	}
	_, err := fmt.Fprintf(w, "%s%s %.6f\n%s%s %d\n%s%s %.6f\n",
		prefix, MarkerDuration, rec.Duration().Seconds(),
		prefix, MarkerKeys, rec.Count(),
		prefix, MarkerThroughput, rec.Rate(),
	)
	return err
}

// WorkerMarkers はマーカー行から復元したワーカー1つ分の値
type WorkerMarkers struct {
	Label       string
	Duration    time.Duration
	Keys        int
	Throughput  float64
	HasDuration bool
	HasKeys     bool
}

// Sample は集計用の値を返す
// キー数が無い場合は THROUGHPUT × INSERTION_DURATION から求める
func (m WorkerMarkers) Sample() metrics.Sample {
	count := m.Keys
	if !m.HasKeys {
		count = int(m.Throughput*m.Duration.Seconds() + 0.5)
	}
	return metrics.Sample{Count: count, Duration: m.Duration}
}

// ParseMarkers はマーカー行を読み取り、ラベルごとにまとめて返す
// ラベルのない行は defaultLabel に属するものとして扱う。マーカー以外の行は無視する
func ParseMarkers(r io.Reader, defaultLabel string) ([]WorkerMarkers, error) {
	byLabel := make(map[string]*WorkerMarkers)
	var order []string

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		m := markerPattern.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		label := m[1]
		if label == "" {
			label = defaultLabel
		}
		v, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s value %q: %w", m[2], m[3], err)
		}

		wm, ok := byLabel[label]
		if !ok {
			wm = &WorkerMarkers{Label: label}
			byLabel[label] = wm
			order = append(order, label)
		}
		switch m[2] + ":" {
		case MarkerDuration:
			wm.Duration = time.Duration(v * float64(time.Second))
			wm.HasDuration = true
		case MarkerKeys:
			wm.Keys = int(v)
			wm.HasKeys = true
		case MarkerThroughput:
			wm.Throughput = v
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]WorkerMarkers, 0, len(order))
	for _, label := range order {
		out = append(out, *byLabel[label])
	}
	return out, nil
}

// Aggregate はマーカーから集計する（metrics.AggregateSamples と同じ方針）
func Aggregate(markers []WorkerMarkers) metrics.Aggregate {
	samples := make([]metrics.Sample, 0, len(markers))
	for _, m := range markers {
		samples = append(samples, m.Sample())
	}
	return metrics.AggregateSamples(samples)
}
