package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chord-bench/internal/logger"
	"chord-bench/internal/node"
	"chord-bench/internal/worker"
)

var (
	// ErrLaunch はプロセスまたはリモート接続を開始できなかったことを示す
	ErrLaunch = errors.New("worker launch failed")
	// ErrNoPlacements は配置先が空であることを示す
	ErrNoPlacements = errors.New("cluster has no worker placements")
)

// Spec は1つの実験構成でのクラスタ定義
type Spec struct {
	K           int
	Consistency string
	Placements  []node.Placement
}

// Distribute は n 個のワーカーをホストへラウンドロビンで割り当てる
// ノード0（ブートストラップ）は常に先頭ホストに置かれる
func Distribute(n int, hosts []node.Placement) []node.Placement {
	out := make([]node.Placement, n)
	if len(hosts) == 0 {
		return out
	}
	for i := range n {
		out[i] = hosts[i%len(hosts)]
	}
	return out
}

// Cluster は1つの構成で起動したワーカーの集合
type Cluster struct {
	spec    Spec
	workers []*node.Worker
}

// Spec はクラスタ定義を返す
func (c *Cluster) Spec() Spec {
	return c.spec
}

// Workers は全ワーカーを node_id 順で返す
func (c *Cluster) Workers() []*node.Worker {
	return append([]*node.Worker(nil), c.workers...)
}

// Bootstrap はブートストラップワーカーを返す
func (c *Cluster) Bootstrap() *node.Worker {
	return c.workers[0]
}

// Followers はブートストラップ以外のワーカーを返す
func (c *Cluster) Followers() []*node.Worker {
	return append([]*node.Worker(nil), c.workers[1:]...)
}

// Get はノードIDでワーカーを取得する
func (c *Cluster) Get(id int) (*node.Worker, bool) {
	if id < 0 || id >= len(c.workers) {
		return nil, false
	}
	return c.workers[id], true
}

// Size はワーカー数を返す
func (c *Cluster) Size() int {
	return len(c.workers)
}

// CountState は指定状態のワーカー数を返す
func (c *Cluster) CountState(s node.State) int {
	count := 0
	for _, w := range c.workers {
		if w.State() == s {
			count++
		}
	}
	return count
}

// InState は指定状態のワーカーを返す
func (c *Cluster) InState(s node.State) []*node.Worker {
	var out []*node.Worker
	for _, w := range c.workers {
		if w.State() == s {
			out = append(out, w)
		}
	}
	return out
}

// Teardown は起動済みの全ワーカーを並列に終了させる
// 各ワーカーの終了処理は1回だけ行われるため、何度呼んでもよい
func (c *Cluster) Teardown(grace time.Duration) error {
	logger.Info("", "Tearing down cluster (count: %d)", len(c.workers))

	var wg sync.WaitGroup
	errCh := make(chan error, len(c.workers))

	for _, w := range c.workers {
		wg.Add(1)
		go func(w *node.Worker) {
			defer wg.Done()
			if err := w.Teardown(grace); err != nil {
				errCh <- err
			}
		}(w)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		logger.Warn("", "Failed to reap %d workers", len(errs))
		return errors.Join(errs...)
	}

	logger.Info("", "All workers torn down")
	return nil
}

// Options はランチャーの設定
type Options struct {
	Parallelism int           // 同時に起動処理を行う数（0でCPU数）
	Stagger     time.Duration // 並列起動時の各ワーカー間の開始ずらし
	Start       node.StartOptions
}

// Launcher は構成ごとにワーカープロセスを起動する
type Launcher struct {
	spawner *Spawner
	opts    Options
	hook    node.StateHook
}

// NewLauncher は新しいLauncherを作成する
func NewLauncher(spawner *Spawner, opts Options) *Launcher {
	return &Launcher{spawner: spawner, opts: opts}
}

// SetStateHook は以後 Prepare で作られる全ワーカーに設定するフックを指定する
func (l *Launcher) SetStateHook(hook node.StateHook) {
	l.hook = hook
}

// Prepare はワーカーハンドルを作成する（プロセスはまだ起動しない）
// ノード0がブートストラップ、それ以外がフォロワーになる
func (l *Launcher) Prepare(spec Spec) (*Cluster, error) {
	if len(spec.Placements) == 0 {
		return nil, ErrNoPlacements
	}

	c := &Cluster{spec: spec, workers: make([]*node.Worker, len(spec.Placements))}
	for i, p := range spec.Placements {
		role := node.RoleFollower
		if i == 0 {
			role = node.RoleBootstrap
		}
		w := node.New(i, role, p)
		if l.hook != nil {
			w.SetStateHook(l.hook)
		}
		c.workers[i] = w
	}

	logger.Debug("", "Prepared %d workers (k=%d, consistency=%s)", len(c.workers), spec.K, spec.Consistency)
	return c, nil
}

// Start はワーカー1つを起動する。失敗したワーカーは Failed になる
func (l *Launcher) Start(ctx context.Context, c *Cluster, w *node.Worker) error {
	if err := ctx.Err(); err != nil {
		w.Fail(err)
		return err
	}

	cmd, err := l.spawner.Command(w, Params{
		K:           c.spec.K,
		Consistency: c.spec.Consistency,
		NodeID:      w.ID(),
		Role:        w.Role(),
	})
	if err != nil {
		w.Fail(err)
		return err
	}

	if err := w.Start(cmd, l.opts.Start); err != nil {
		return fmt.Errorf("%w: %s on %s: %v", ErrLaunch, w.Label(), w.Placement(), err)
	}
	return nil
}

// StartAll は複数のワーカーを並列に、Stagger ずつずらして起動する
// 個々の起動失敗は該当ワーカーを Failed にするだけで、残りの起動は続ける。
// 起動に成功した数を返す
func (l *Launcher) StartAll(ctx context.Context, c *Cluster, ws []*node.Worker) int {
	if len(ws) == 0 {
		return 0
	}

	pool := worker.NewPool(l.opts.Parallelism)
	pool.Start(ctx)
	defer pool.Stop()

	var mu sync.Mutex
	started := 0

	// 起動時刻は t0 + i*Stagger。プールの空き待ちの時間は含めない
	t0 := time.Now()
	for i, w := range ws {
		at := t0.Add(time.Duration(i) * l.opts.Stagger)
		submitted := pool.Submit(func(ctx context.Context) {
			if delay := time.Until(at); delay > 0 && !sleep(ctx, delay) {
				w.Fail(ctx.Err())
				return
			}
			if err := l.Start(ctx, c, w); err != nil {
				logger.Warn(w.Label(), "Launch failed: %v", err)
				return
			}
			mu.Lock()
			started++
			mu.Unlock()
		})
		if !submitted {
			w.Fail(fmt.Errorf("%w: launch not scheduled: %v", ErrLaunch, context.Cause(ctx)))
		}
	}
	pool.Wait()

	logger.Info("", "Started %d/%d workers", started, len(ws))
	return started
}

// Launch はクラスタを準備し、全ワーカーを起動する
func (l *Launcher) Launch(ctx context.Context, spec Spec) (*Cluster, error) {
	c, err := l.Prepare(spec)
	if err != nil {
		return nil, err
	}
	l.StartAll(ctx, c, c.workers)
	return c, nil
}

// sleep は ctx がキャンセルされなければ d だけ待って true を返す
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
