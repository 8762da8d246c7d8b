package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chord-bench/internal/events"
)

func TestObserveExperimentLifecycle(t *testing.T) {
	c := New()

	c.Observe(events.NewExperimentStartEvent(3, "chain-replication", 2))
	c.Observe(events.NewWorkerStateEvent("node-0", "bootstrap", "created", "starting", nil))
	c.Observe(events.NewWorkerStateEvent("node-1", "follower", "created", "starting", nil))
	c.Observe(events.NewWorkerStateEvent("node-1", "follower", "starting", "failed", errors.New("join timeout")))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.workers.WithLabelValues("starting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.workers.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.transitions.WithLabelValues("starting")))

	c.Observe(events.NewWorkerResultEvent("node-0", 50, 5*time.Second, 10, nil))
	assert.Equal(t, 50.0, testutil.ToFloat64(c.keysInserted.WithLabelValues("3", "chain-replication")))

	c.Observe(events.NewExperimentResultEvent(3, "chain-replication", 50, 10, nil))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.throughput.WithLabelValues("3", "chain-replication")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.experiments.WithLabelValues("3", "chain-replication", "ok")))

	c.Observe(events.NewExperimentResultEvent(1, "eventual-consistency", 0, 0, errors.New("bootstrap failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.experiments.WithLabelValues("1", "eventual-consistency", "failed")))

	// 次の構成の開始で状態別ゲージはリセットされる
	c.Observe(events.NewExperimentStartEvent(5, "chain-replication", 1))
	assert.Equal(t, 0, testutil.CollectAndCount(c.workers))
}

func TestRunConsumesUntilClosed(t *testing.T) {
	c := New()
	bus := events.NewBus()
	ch := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), ch)
		close(done)
	}()

	bus.Publish(events.NewExperimentResultEvent(1, "chain-replication", 10, 2.5, nil))
	bus.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the channel closed")
	}
	assert.Equal(t, 2.5, testutil.ToFloat64(c.throughput.WithLabelValues("1", "chain-replication")))
}

func TestHandler(t *testing.T) {
	c := New()
	c.Observe(events.NewExperimentResultEvent(1, "chain-replication", 10, 2.5, nil))

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `chord_bench_throughput_keys_per_second{consistency="chain-replication",k="1"} 2.5`)
}
