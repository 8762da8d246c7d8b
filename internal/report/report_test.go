package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chord-bench/internal/metrics"
)

func TestSummaryLine(t *testing.T) {
	assert.Equal(t, "k=3, consistency=chain-replication: 123.5 keys/sec", SummaryLine(3, "chain-replication", 123.456))
	assert.Equal(t, "k=1, consistency=eventual-consistency: 0.0 keys/sec", SummaryLine(1, "eventual-consistency", 0))
}

func TestWriteAndParseMarkers(t *testing.T) {
	rec := metrics.NewRecord(4, "node-4")
	for i := range 49 {
		rec.Success(time.Unix(100, 0).Add(time.Duration(i)*100*time.Millisecond), 0)
	}
	rec.Success(time.Unix(105, 0), 0)

	var buf bytes.Buffer
	require.NoError(t, WriteMarkers(&buf, "node-4", rec))

	out := buf.String()
	assert.Contains(t, out, "node-4 INSERTION_DURATION: 5.000000")
	assert.Contains(t, out, "node-4 INSERTED_KEYS: 50")
	assert.Contains(t, out, "node-4 THROUGHPUT: 10.000000")

	markers, err := ParseMarkers(&buf, "")
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, "node-4", markers[0].Label)
	assert.Equal(t, 5*time.Second, markers[0].Duration)
	assert.Equal(t, 50, markers[0].Keys)
}

func TestParseMarkersMixedOutput(t *testing.T) {
	input := strings.Join([]string{
		"Server is up and running in 10.0.0.5:5050 !",
		"node-1 INSERTION_DURATION: 4.0",
		"Key inserted successfully.",
		"node-1 INSERTED_KEYS: 40",
		"node-0 INSERTION_DURATION: 2.5",
		"node-0 THROUGHPUT: 20",
		"INSERTION_DURATION: 1.0",
		"INSERTED_KEYS: 3",
	}, "\n")

	markers, err := ParseMarkers(strings.NewReader(input), "agent")
	require.NoError(t, err)
	require.Len(t, markers, 3)

	assert.Equal(t, "agent", markers[0].Label)
	assert.Equal(t, 3, markers[0].Keys)

	// node-0 はキー数がないので THROUGHPUT × 所要時間から復元する
	assert.Equal(t, "node-0", markers[1].Label)
	assert.False(t, markers[1].HasKeys)
	assert.Equal(t, 50, markers[1].Sample().Count)

	agg := Aggregate(markers)
	assert.Equal(t, 3, agg.Succeeded)
	assert.Equal(t, 93, agg.TotalInserted)
	assert.Equal(t, 4*time.Second, agg.MaxDuration)
	assert.InDelta(t, 23.25, agg.Throughput, 1e-9)
}

func TestAggregateNoMarkers(t *testing.T) {
	markers, err := ParseMarkers(strings.NewReader("nothing here\n"), "")
	require.NoError(t, err)
	assert.Empty(t, markers)
	assert.Equal(t, 0.0, Aggregate(markers).Throughput)
}
