package join

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"chord-bench/internal/cluster"
	"chord-bench/internal/logger"
	"chord-bench/internal/node"
	"chord-bench/internal/protocol"
	"chord-bench/internal/watcher"
)

var (
	// ErrReadinessTimeout はブートストラップの準備完了行が期限内に現れなかったことを示す
	ErrReadinessTimeout = errors.New("readiness timeout")
	// ErrJoinTimeout は参加確認が期限内に現れなかったことを示す
	ErrJoinTimeout = errors.New("join timeout")
	// ErrBadReadiness は準備完了行からアドレスを取り出せなかったことを示す
	ErrBadReadiness = errors.New("unparsable readiness line")
	// ErrBootstrapFailed はブートストラップ失敗により構成が中断されたことを示す
	ErrBootstrapFailed = errors.New("bootstrap failed")
)

// Mode はフォロワーの起動・参加の方式
type Mode string

const (
	// ModeSequential はブートストラップ完了後にフォロワーを1つずつ起動・参加させる
	ModeSequential Mode = "sequential"
	// ModeConcurrent はブートストラップ待ちと並行してフォロワーをずらしながら起動し、参加は並列に行う
	ModeConcurrent Mode = "concurrent"
)

// ParseMode は文字列から Mode を解決する
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSequential, "":
		return ModeSequential, nil
	case ModeConcurrent:
		return ModeConcurrent, nil
	default:
		return "", fmt.Errorf("unknown join mode: %s", s)
	}
}

// Config は参加プロトコルの設定
type Config struct {
	Mode           Mode          `json:"mode" yaml:"mode"`
	ReadyTimeout   time.Duration `json:"ready_timeout" yaml:"ready_timeout"`
	JoinTimeout    time.Duration `json:"join_timeout" yaml:"join_timeout"`
	SettleDelay    time.Duration `json:"settle_delay" yaml:"settle_delay"`
	StabilizeDelay time.Duration `json:"stabilize_delay" yaml:"stabilize_delay"`
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Mode:           ModeSequential,
		ReadyTimeout:   30 * time.Second,
		JoinTimeout:    10 * time.Second,
		SettleDelay:    500 * time.Millisecond,
		StabilizeDelay: 3 * time.Second,
	}
}

// Launcher はフォロワーの起動に使う（cluster.Launcher が満たす）
type Launcher interface {
	Start(ctx context.Context, c *cluster.Cluster, w *node.Worker) error
	StartAll(ctx context.Context, c *cluster.Cluster, ws []*node.Worker) int
}

var _ Launcher = (*cluster.Launcher)(nil)

// Outcome は参加フェーズの結果
type Outcome struct {
	Bootstrap protocol.Endpoint
	Joined    []*node.Worker // Joined に到達したワーカー（ブートストラップを含む）
	Failed    []*node.Worker
}

// Protocol はクラスタ1つ分の参加手順を実行する
type Protocol struct {
	config   Config
	launcher Launcher
}

// New は新しいProtocolを作成する
func New(config Config, launcher Launcher) *Protocol {
	return &Protocol{config: config, launcher: launcher}
}

// Config は設定を返す
func (p *Protocol) Config() Config {
	return p.config
}

// Run はブートストラップの準備完了と自己参加、フォロワーの参加、安定化待ちを順に行う
// ブートストラップが失敗した場合は ErrBootstrapFailed を返す。
// フォロワーの失敗はそのワーカーを Failed にするだけで、構成は続行する
func (p *Protocol) Run(ctx context.Context, c *cluster.Cluster) (Outcome, error) {
	bootstrap := c.Bootstrap()
	if bootstrap.State() == node.StateCreated {
		if err := p.launcher.Start(ctx, c, bootstrap); err != nil {
			p.abandon(c, err)
			return Outcome{Failed: c.InState(node.StateFailed)}, fmt.Errorf("%w: %w", ErrBootstrapFailed, err)
		}
	}

	// 並列モードではブートストラップの準備完了待ちと並行してフォロワーを起動する
	var starts errgroup.Group
	if p.config.Mode == ModeConcurrent {
		followers := c.InState(node.StateCreated)
		starts.Go(func() error {
			p.launcher.StartAll(ctx, c, followers)
			return nil
		})
	}

	ep, err := p.JoinBootstrap(ctx, bootstrap)
	if err != nil {
		_ = starts.Wait()
		p.abandon(c, err)
		return Outcome{Failed: c.InState(node.StateFailed)}, fmt.Errorf("%w: %w", ErrBootstrapFailed, err)
	}
	_ = starts.Wait()

	outcome := Outcome{Bootstrap: ep}

	switch p.config.Mode {
	case ModeConcurrent:
		p.joinConcurrent(ctx, c)
	default:
		p.joinSequential(ctx, c)
	}

	if err := ctx.Err(); err != nil {
		p.abandon(c, err)
		outcome.Failed = c.InState(node.StateFailed)
		return outcome, err
	}

	outcome.Joined = c.InState(node.StateJoined)
	outcome.Failed = c.InState(node.StateFailed)
	logger.Info("", "Join phase done: %d joined, %d failed; stabilizing for %v",
		len(outcome.Joined), len(outcome.Failed), p.config.StabilizeDelay)

	if !sleep(ctx, p.config.StabilizeDelay) {
		p.abandon(c, ctx.Err())
		outcome.Failed = c.InState(node.StateFailed)
		return outcome, ctx.Err()
	}
	return outcome, nil
}

func (p *Protocol) joinSequential(ctx context.Context, c *cluster.Cluster) {
	for _, f := range c.Followers() {
		if ctx.Err() != nil {
			return
		}
		if f.State() == node.StateCreated {
			if err := p.launcher.Start(ctx, c, f); err != nil {
				logger.Warn(f.Label(), "Launch failed: %v", err)
				continue
			}
		}
		if f.State() != node.StateStarting {
			continue
		}
		_ = p.JoinFollower(ctx, f)
	}
}

func (p *Protocol) joinConcurrent(ctx context.Context, c *cluster.Cluster) {
	var g errgroup.Group
	for _, f := range c.Followers() {
		if f.State() != node.StateStarting {
			continue
		}
		g.Go(func() error {
			_ = p.JoinFollower(ctx, f)
			return nil
		})
	}
	_ = g.Wait()
}

// JoinBootstrap は準備完了行を待ってアドレスを取り出し、自己参加を行う
// 成功するとワーカーは Joined になる。失敗時はワーカーを Failed にしてエラーを返す
func (p *Protocol) JoinBootstrap(ctx context.Context, w *node.Worker) (protocol.Endpoint, error) {
	line, err := w.Await(ctx, protocol.Ready(), p.config.ReadyTimeout)
	if err != nil {
		err = p.classify(w, err, ErrReadinessTimeout, "readiness")
		w.Fail(err)
		return protocol.Endpoint{}, err
	}

	ep, err := protocol.ParseReadiness(line.Text)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrBadReadiness, err)
		w.Fail(err)
		return protocol.Endpoint{}, err
	}
	logger.Info(w.Label(), "Bootstrap is up at %s", ep)

	if err := w.Send(ctx, protocol.BootstrapJoinCommand(ep)); err != nil {
		w.Fail(err)
		return ep, err
	}
	if err := w.Transition(node.StateReady); err != nil {
		return ep, err
	}

	if err := p.awaitJoin(ctx, w); err != nil {
		return ep, err
	}
	return ep, nil
}

// JoinFollower は安定待ちの後に参加コマンドを送り、参加確認を待つ
// 成功するとワーカーは Joined になる。失敗時はワーカーを Failed にしてエラーを返す
func (p *Protocol) JoinFollower(ctx context.Context, w *node.Worker) error {
	if !sleep(ctx, p.config.SettleDelay) {
		w.Fail(ctx.Err())
		return ctx.Err()
	}

	if err := w.Send(ctx, protocol.JoinCommand()); err != nil {
		w.Fail(err)
		return err
	}
	if err := w.Transition(node.StateReady); err != nil {
		return err
	}
	return p.awaitJoin(ctx, w)
}

func (p *Protocol) awaitJoin(ctx context.Context, w *node.Worker) error {
	line, err := w.Await(ctx, protocol.JoinConfirmed(), p.config.JoinTimeout)
	if err != nil {
		err = p.classify(w, err, ErrJoinTimeout, "join confirmation")
		w.Fail(err)
		return err
	}
	logger.Debug(w.Label(), "Join confirmed: %s", line.Text)

	if err := w.Transition(node.StateJoined); err != nil {
		return err
	}
	logger.Info(w.Label(), "Joined the ring")
	return nil
}

// classify は待機エラーを失敗の種類に変換する
func (p *Protocol) classify(w *node.Worker, err, timeout error, what string) error {
	switch {
	case errors.Is(err, watcher.ErrMiss):
		return fmt.Errorf("%w: no %s from %s", timeout, what, w.Label())
	case errors.Is(err, watcher.ErrClosed):
		return fmt.Errorf("%w: %s exited before %s: %v", timeout, w.Label(), what, err)
	default:
		return err
	}
}

// abandon は参加フェーズを打ち切り、まだ参加していないワーカーを Failed にする
func (p *Protocol) abandon(c *cluster.Cluster, cause error) {
	for _, w := range c.Workers() {
		switch w.State() {
		case node.StateJoined, node.StateFailed, node.StateTerminated:
		default:
			w.Fail(fmt.Errorf("join phase abandoned: %w", cause))
		}
	}
}

// sleep は ctx がキャンセルされなければ d だけ待って true を返す
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
