package agent

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chord-bench/internal/join"
	"chord-bench/internal/report"
)

func testConfig(t *testing.T, bootstrap bool, keys int, env ...string) Config {
	t.Helper()

	fake, err := filepath.Abs("../../testdata/fakenode.sh")
	require.NoError(t, err)

	dir := t.TempDir()
	var b strings.Builder
	for i := range keys {
		fmt.Fprintf(&b, "song_%d\n", i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "insert_03_part.txt"), []byte(b.String()), 0o644))

	c := DefaultConfig()
	c.NodeID = 3
	c.K = 3
	c.Bootstrap = bootstrap
	c.JoinDelay = 10 * time.Millisecond
	c.Node.Args = []string{"sh", fake, "{k}", "{consistency}", "{role}"}
	c.Node.Env = env
	c.Source.Dir = dir
	c.Join = join.Config{
		Mode:           join.ModeSequential,
		ReadyTimeout:   2 * time.Second,
		JoinTimeout:    300 * time.Millisecond,
		SettleDelay:    5 * time.Millisecond,
		StabilizeDelay: 0,
	}
	c.Workload.InsertTimeout = time.Second
	c.TeardownGrace = time.Second
	return c
}

func TestRun_Bootstrap(t *testing.T) {
	var out bytes.Buffer
	a := New(testConfig(t, true, 20))
	a.SetOutput(&out)

	rec, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, rec.Count())

	markers, err := report.ParseMarkers(&out, "host")
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, "host", markers[0].Label)
	assert.Equal(t, 20, markers[0].Keys)
	assert.True(t, markers[0].HasDuration)
}

func TestRun_Follower(t *testing.T) {
	var out bytes.Buffer
	a := New(testConfig(t, false, 5))
	a.SetOutput(&out)

	rec, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Count())
	assert.Contains(t, out.String(), report.MarkerKeys+" 5")
}

func TestRun_JoinTimeout(t *testing.T) {
	var out bytes.Buffer
	a := New(testConfig(t, false, 5, "FAKENODE_NOJOIN_ROLE=follower"))
	a.SetOutput(&out)

	rec, err := a.Run(context.Background())
	require.ErrorIs(t, err, join.ErrJoinTimeout)
	assert.Equal(t, 0, rec.Count())
	assert.Empty(t, out.String(), "no markers without a joined node")
}

func TestRun_NotReady(t *testing.T) {
	c := testConfig(t, false, 5, "FAKENODE_SILENT=1")
	c.Join.ReadyTimeout = 100 * time.Millisecond
	a := New(c)
	a.SetOutput(&bytes.Buffer{})

	_, err := a.Run(context.Background())
	require.ErrorIs(t, err, ErrNotReady)
}

func TestRun_BootstrapNotReady(t *testing.T) {
	c := testConfig(t, true, 5, "FAKENODE_SILENT=1")
	c.Join.ReadyTimeout = 100 * time.Millisecond
	a := New(c)
	a.SetOutput(&bytes.Buffer{})

	_, err := a.Run(context.Background())
	require.ErrorIs(t, err, join.ErrReadinessTimeout)
}

func TestRun_RejectedInsertStillEmitsMarkers(t *testing.T) {
	var out bytes.Buffer
	a := New(testConfig(t, true, 10, "FAKENODE_FAIL_AFTER=4"))
	a.SetOutput(&out)

	rec, err := a.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 4, rec.Count())
	assert.Contains(t, out.String(), report.MarkerKeys+" 4")
}

func TestRun_MissingPartition(t *testing.T) {
	c := testConfig(t, true, 5)
	c.NodeID = 7
	a := New(c)
	a.SetOutput(&bytes.Buffer{})

	_, err := a.Run(context.Background())
	require.ErrorIs(t, err, ErrNoWorkload)
}

func TestRun_Cancelled(t *testing.T) {
	c := testConfig(t, false, 5)
	c.JoinDelay = 10 * time.Second
	a := New(c)
	a.SetOutput(&bytes.Buffer{})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := a.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
