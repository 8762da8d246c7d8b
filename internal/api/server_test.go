package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"chord-bench/internal/events"
	"chord-bench/internal/experiment"
	"chord-bench/internal/metrics"
)

type stubEngine struct {
	status  experiment.Status
	results []*experiment.Result
}

func (s *stubEngine) Status() experiment.Status      { return s.status }
func (s *stubEngine) Results() []*experiment.Result { return s.results }

func newStub() *stubEngine {
	return &stubEngine{
		status: experiment.Status{
			Name:      "quick",
			Running:   true,
			Completed: 1,
			Total:     2,
			Workers: []experiment.WorkerStatus{
				{NodeID: 0, Label: "node-0", Role: "bootstrap", State: "running", Inserted: 12},
			},
		},
		results: []*experiment.Result{
			{
				Config: experiment.ExperimentConfig{K: 3, Consistency: experiment.ChainReplication},
				Aggregate: metrics.Aggregate{
					Workers:       2,
					Succeeded:     2,
					TotalInserted: 100,
					MaxDuration:   4 * time.Second,
					Throughput:    25,
				},
			},
			{
				Config: experiment.ExperimentConfig{K: 5, Consistency: experiment.EventualConsistency},
				Err:    errors.New("bootstrap failed"),
				Error:  "bootstrap failed",
			},
		},
	}
}

func TestStatus(t *testing.T) {
	srv := NewServer("", newStub(), nil, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got experiment.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "quick", got.Name)
	assert.True(t, got.Running)
	require.Len(t, got.Workers, 1)
	assert.Equal(t, 12, got.Workers[0].Inserted)
}

func TestStatus_MethodNotAllowed(t *testing.T) {
	srv := NewServer("", newStub(), nil, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestResults(t *testing.T) {
	srv := NewServer("", newStub(), nil, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/results", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []ResultSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 2)

	assert.Equal(t, 3, got[0].K)
	assert.Equal(t, "chain-replication", got[0].Consistency)
	assert.Equal(t, "k=3, consistency=chain-replication: 25.0 keys/sec", got[0].Summary)
	assert.Equal(t, 100, got[0].TotalInserted)
	assert.Empty(t, got[0].Error)

	assert.Equal(t, "k=5, consistency=eventual-consistency: 0.0 keys/sec", got[1].Summary)
	assert.Equal(t, "bootstrap failed", got[1].Error)
}

func TestResults_Detail(t *testing.T) {
	srv := NewServer("", newStub(), nil, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/results?detail=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "aggregate")
	assert.Contains(t, got[0], "config")
}

func TestPresets(t *testing.T) {
	srv := NewServer("", newStub(), nil, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/presets", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []PresetInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))

	var names []string
	for _, p := range got {
		names = append(names, p.Name)
	}
	assert.Equal(t, experiment.ListPresets(), names)
}

func TestMetricsRoute(t *testing.T) {
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("chord_bench_up 1\n"))
	})

	srv := NewServer("", newStub(), nil, metricsHandler)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chord_bench_up")

	// metrics 未指定なら登録されない
	srv = NewServer("", newStub(), nil, nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebSocket_StreamsEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	srv := NewServer("", newStub(), bus, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.broadcastLoop(ctx, bus.Subscribe())

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, err := websocket.Dial(wsURL, "", ts.URL)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	// 最初のメッセージは現在の状況
	var hello map[string]any
	require.NoError(t, websocket.JSON.Receive(ws, &hello))
	assert.Equal(t, "status", hello["type"])
	assert.Equal(t, 1, srv.ClientCount())

	bus.Publish(events.NewExperimentResultEvent(3, "eventual", 100, 25, nil))

	var ev events.Event
	require.NoError(t, websocket.JSON.Receive(ws, &ev))
	assert.Equal(t, events.EventExperimentResult, ev.Type)
	assert.Equal(t, 3, ev.Data.K)
	assert.Equal(t, 100, ev.Data.Count)
	assert.InDelta(t, 25.0, ev.Data.Throughput, 1e-9)
}
