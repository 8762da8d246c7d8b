package metrics

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordZeroSuccess(t *testing.T) {
	r := NewRecord(0, "node-0")

	assert.Equal(t, 0, r.Count())
	assert.Equal(t, time.Duration(0), r.Duration())
	assert.Equal(t, 0.0, r.Rate())
	assert.True(t, r.First().IsZero())
	assert.Equal(t, time.Duration(0), r.AverageLatency())
	assert.Equal(t, time.Duration(0), r.P99Latency())
}

func TestRecordDurationAndRate(t *testing.T) {
	r := NewRecord(1, "node-1")
	t0 := time.Unix(100, 0)
	t1 := time.Unix(105, 0)

	// 50キーを t0..t1 の間に挿入
	for i := range 49 {
		r.Success(t0.Add(time.Duration(i)*100*time.Millisecond), time.Millisecond)
	}
	r.Success(t1, time.Millisecond)

	assert.Equal(t, 50, r.Count())
	assert.Equal(t, t0, r.First())
	assert.Equal(t, t1, r.Last())
	assert.Equal(t, 5*time.Second, r.Duration())
	assert.InDelta(t, 10.0, r.Rate(), 1e-9)
	assert.Equal(t, time.Millisecond, r.AverageLatency())
}

func TestRecordSingleSuccess(t *testing.T) {
	r := NewRecord(2, "node-2")
	r.Success(time.Unix(100, 0), time.Millisecond)

	assert.Equal(t, 1, r.Count())
	assert.Equal(t, time.Duration(0), r.Duration())
	assert.Equal(t, 0.0, r.Rate(), "zero duration must not yield Inf")
}

func TestRecordStopKeepsFirstReason(t *testing.T) {
	r := NewRecord(0, "node-0")
	first := errors.New("insert timeout")

	r.Stop(first)
	r.Stop(errors.New("later"))

	assert.Equal(t, first, r.Err())
	assert.Equal(t, "insert timeout", r.Snapshot().StopReason)
}

func TestRecordP99(t *testing.T) {
	r := NewRecord(0, "node-0")
	base := time.Unix(0, 0)
	for i := 1; i <= 100; i++ {
		r.Success(base.Add(time.Duration(i)*time.Millisecond), time.Duration(i)*time.Millisecond)
	}

	assert.Equal(t, 100*time.Millisecond, r.P99Latency())
}

func TestRecordConcurrentReads(t *testing.T) {
	r := NewRecord(0, "node-0")
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 200 {
			r.Attempt()
			r.Success(time.Unix(int64(i), 0), time.Microsecond)
		}
	}()

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				_ = r.Snapshot()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 200, r.Count())
	assert.Equal(t, 200, r.Attempted())
}

func TestAggregateSamples(t *testing.T) {
	tests := []struct {
		name      string
		samples   []Sample
		succeeded int
		total     int
		expected  float64
	}{
		{
			name:     "empty",
			samples:  nil,
			expected: 0,
		},
		{
			name:     "all zero successes",
			samples:  []Sample{{0, 0}, {0, 0}},
			expected: 0,
		},
		{
			name:      "single success has zero duration",
			samples:   []Sample{{1, 0}},
			succeeded: 1,
			total:     1,
			expected:  0,
		},
		{
			name:      "max duration among succeeded workers",
			samples:   []Sample{{50, 5 * time.Second}, {30, 2 * time.Second}, {0, 0}},
			succeeded: 2,
			total:     80,
			expected:  16,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := AggregateSamples(tt.samples)
			assert.Equal(t, len(tt.samples), agg.Workers)
			assert.Equal(t, tt.succeeded, agg.Succeeded)
			assert.Equal(t, tt.total, agg.TotalInserted)
			assert.InDelta(t, tt.expected, agg.Throughput, 1e-9)
			assert.False(t, math.IsInf(agg.Throughput, 0) || math.IsNaN(agg.Throughput))
		})
	}
}

func TestSummarize(t *testing.T) {
	a := NewRecord(0, "node-0")
	a.Success(time.Unix(100, 0), 0)
	a.Success(time.Unix(104, 0), 0)

	b := NewRecord(1, "node-1")

	agg := Summarize([]*Record{a, b, nil})
	require.Equal(t, 2, agg.Workers)
	assert.Equal(t, 1, agg.Succeeded)
	assert.Equal(t, 4*time.Second, agg.MaxDuration)
	assert.InDelta(t, 0.5, agg.Throughput, 1e-9)
}
