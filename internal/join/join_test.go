package join

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chord-bench/internal/cluster"
	"chord-bench/internal/node"
)

const fakeNode = "../../testdata/fakenode.sh"

func testConfig(mode Mode) Config {
	return Config{
		Mode:           mode,
		ReadyTimeout:   2 * time.Second,
		JoinTimeout:    500 * time.Millisecond,
		SettleDelay:    10 * time.Millisecond,
		StabilizeDelay: 10 * time.Millisecond,
	}
}

func setup(t *testing.T, n int, env ...string) (*cluster.Launcher, *cluster.Cluster) {
	t.Helper()
	spawner := cluster.NewSpawner(cluster.NodeCommand{
		Args: []string{"sh", fakeNode, "{k}", "{consistency}", "{role}"},
		Env:  env,
	}, cluster.DefaultRemoteConfig())
	l := cluster.NewLauncher(spawner, cluster.Options{Stagger: 5 * time.Millisecond})

	c, err := l.Prepare(cluster.Spec{
		K:           3,
		Consistency: "chain-replication",
		Placements:  cluster.Distribute(n, nil),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Teardown(2 * time.Second) })
	return l, c
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in       string
		expected Mode
		wantErr  bool
	}{
		{"", ModeSequential, false},
		{"sequential", ModeSequential, false},
		{"Concurrent", ModeConcurrent, false},
		{"parallel", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.expected, got)
	}
}

func TestRunSequential(t *testing.T) {
	l, c := setup(t, 3)

	out, err := New(testConfig(ModeSequential), l).Run(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", out.Bootstrap.IP)
	assert.Equal(t, "5050", out.Bootstrap.Port)
	assert.Len(t, out.Joined, 3)
	assert.Empty(t, out.Failed)
	assert.Equal(t, 3, c.CountState(node.StateJoined))
}

func TestRunConcurrent(t *testing.T) {
	l, c := setup(t, 4)

	out, err := New(testConfig(ModeConcurrent), l).Run(context.Background(), c)
	require.NoError(t, err)

	assert.Len(t, out.Joined, 4)
	assert.Equal(t, 4, c.CountState(node.StateJoined))
}

func TestRunWithPrestartedCluster(t *testing.T) {
	l, c := setup(t, 2)
	require.Equal(t, 2, l.StartAll(context.Background(), c, c.Workers()))

	out, err := New(testConfig(ModeSequential), l).Run(context.Background(), c)
	require.NoError(t, err)
	assert.Len(t, out.Joined, 2)
}

func TestBootstrapReadinessTimeout(t *testing.T) {
	l, c := setup(t, 3, "FAKENODE_SILENT=1")
	cfg := testConfig(ModeConcurrent)
	cfg.ReadyTimeout = 200 * time.Millisecond

	start := time.Now()
	out, err := New(cfg, l).Run(context.Background(), c)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.ErrorIs(t, err, ErrBootstrapFailed)
	assert.ErrorIs(t, err, ErrReadinessTimeout)
	assert.ErrorIs(t, c.Bootstrap().Err(), ErrReadinessTimeout)

	// 構成は中断され、どのワーカーも負荷フェーズへ進まない
	assert.Empty(t, out.Joined)
	assert.Equal(t, 3, c.CountState(node.StateFailed))
}

func TestBootstrapJoinTimeout(t *testing.T) {
	l, c := setup(t, 2, "FAKENODE_NOJOIN_ROLE=bootstrap")

	_, err := New(testConfig(ModeSequential), l).Run(context.Background(), c)
	assert.ErrorIs(t, err, ErrBootstrapFailed)
	assert.ErrorIs(t, err, ErrJoinTimeout)

	// 逐次モードではフォロワーは起動されない
	f, _ := c.Get(1)
	assert.False(t, f.Started())
	assert.Equal(t, node.StateFailed, f.State())
}

func TestFollowerJoinTimeoutIsIsolated(t *testing.T) {
	for _, mode := range []Mode{ModeSequential, ModeConcurrent} {
		t.Run(string(mode), func(t *testing.T) {
			l, c := setup(t, 3, "FAKENODE_NOJOIN_ROLE=follower")

			out, err := New(testConfig(mode), l).Run(context.Background(), c)
			require.NoError(t, err)

			require.Len(t, out.Joined, 1)
			assert.Equal(t, node.RoleBootstrap, out.Joined[0].Role())
			assert.Len(t, out.Failed, 2)
			for _, f := range out.Failed {
				assert.ErrorIs(t, f.Err(), ErrJoinTimeout)
			}
		})
	}
}

func TestRunCancelled(t *testing.T) {
	l, c := setup(t, 2)
	cfg := testConfig(ModeSequential)
	cfg.StabilizeDelay = 10 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	start := time.Now()
	_, err := New(cfg, l).Run(ctx, c)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}
