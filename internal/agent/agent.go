package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"chord-bench/internal/cluster"
	"chord-bench/internal/join"
	"chord-bench/internal/logger"
	"chord-bench/internal/metrics"
	"chord-bench/internal/node"
	"chord-bench/internal/protocol"
	"chord-bench/internal/report"
	"chord-bench/internal/watcher"
	"chord-bench/internal/workload"
)

var (
	// ErrNotReady はノードが準備完了行を出さなかったことを示す
	ErrNotReady = errors.New("node never became ready")
	// ErrNoWorkload はパーティションファイルを読めなかったことを示す
	ErrNoWorkload = errors.New("workload partition unavailable")
)

// Config はエージェント1回分の設定
type Config struct {
	NodeID      int
	K           int
	Consistency string
	Bootstrap   bool
	// JoinDelay はフォロワーが参加コマンドを送る前に待つ時間
	// ブートストラップが別ホストで自己参加を終えるのを待つために使う
	JoinDelay     time.Duration
	Node          cluster.NodeCommand
	Start         node.StartOptions
	Join          join.Config
	Workload      workload.Config
	Source        workload.Source
	TeardownGrace time.Duration
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Consistency:   "eventual-consistency",
		JoinDelay:     5 * time.Second,
		Node:          cluster.DefaultNodeCommand(),
		Start:         node.StartOptions{WriteTimeout: 5 * time.Second},
		Join:          join.DefaultConfig(),
		Workload:      workload.DefaultConfig(),
		Source:        workload.DefaultSource(),
		TeardownGrace: 5 * time.Second,
	}
}

// Agent はこのホスト上の1ノードを起動し、参加させ、担当パーティションを挿入する
type Agent struct {
	config  Config
	spawner *cluster.Spawner
	out     io.Writer
}

// New は新しいAgentを作成する
func New(config Config) *Agent {
	return &Agent{
		config:  config,
		spawner: cluster.NewSpawner(config.Node, cluster.DefaultRemoteConfig()),
		out:     os.Stdout,
	}
}

// SetOutput はマーカーの出力先を設定する（デフォルトは標準出力）
func (a *Agent) SetOutput(w io.Writer) {
	a.out = w
}

func (a *Agent) role() node.Role {
	if a.config.Bootstrap {
		return node.RoleBootstrap
	}
	return node.RoleFollower
}

// Run はノードを起動して参加・挿入を行い、マーカーを出力してからノードを終了させる
// 挿入の途中で失敗した場合もそれまでの記録でマーカーを出力する。
// 参加に失敗した場合はマーカーを出力せずにエラーを返す
func (a *Agent) Run(ctx context.Context) (*metrics.Record, error) {
	w := node.New(a.config.NodeID, a.role(), node.Placement{})
	rec := metrics.NewRecord(w.ID(), w.Label())

	cmd, err := a.spawner.Command(w, cluster.Params{
		K:           a.config.K,
		Consistency: a.config.Consistency,
		NodeID:      a.config.NodeID,
		Role:        w.Role(),
	})
	if err != nil {
		return rec, fmt.Errorf("%w: %w", cluster.ErrLaunch, err)
	}
	if err := w.Start(cmd, a.config.Start); err != nil {
		return rec, fmt.Errorf("%w: %w", cluster.ErrLaunch, err)
	}
	defer func() {
		if err := w.Teardown(a.config.TeardownGrace); err != nil {
			logger.Warn(w.Label(), "Teardown: %v", err)
		}
	}()

	if err := a.join(ctx, w); err != nil {
		return rec, err
	}

	if err := w.Transition(node.StateRunning); err != nil {
		return rec, err
	}

	batch, err := a.config.Source.Load(a.config.NodeID)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrNoWorkload, err)
		rec.Stop(err)
		return rec, err
	}

	runErr := workload.NewDriver(a.config.Workload).Run(ctx, w, batch, rec)

	if err := report.WriteMarkers(a.out, "", rec); err != nil {
		logger.Warn(w.Label(), "Failed to write markers: %v", err)
	}
	return rec, runErr
}

// join はブートストラップなら自己参加を、フォロワーなら待機の後に参加を行う
func (a *Agent) join(ctx context.Context, w *node.Worker) error {
	p := join.New(a.config.Join, nil)

	if a.config.Bootstrap {
		_, err := p.JoinBootstrap(ctx, w)
		return err
	}

	if _, err := w.Await(ctx, protocol.Ready(), a.config.Join.ReadyTimeout); err != nil {
		if errors.Is(err, watcher.ErrMiss) || errors.Is(err, watcher.ErrClosed) {
			err = fmt.Errorf("%w: %w", ErrNotReady, err)
		}
		w.Fail(err)
		return err
	}

	logger.Info(w.Label(), "Waiting %v before joining", a.config.JoinDelay)
	if !sleep(ctx, a.config.JoinDelay) {
		w.Fail(ctx.Err())
		return ctx.Err()
	}
	return p.JoinFollower(ctx, w)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
