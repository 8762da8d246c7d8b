package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"chord-bench/internal/command"
	"chord-bench/internal/logger"
	"chord-bench/internal/watcher"
)

// Role はクラスタ内でのワーカーの役割
type Role int

const (
	RoleFollower Role = iota
	RoleBootstrap
)

func (r Role) String() string {
	switch r {
	case RoleBootstrap:
		return "bootstrap"
	case RoleFollower:
		return "follower"
	default:
		return "unknown"
	}
}

// State はワーカーのライフサイクル状態
// Created -> Starting -> Ready -> Joined -> Running -> Terminated の順に単調に進む
// Failed は終端以外の任意の状態から遷移できる
type State int

const (
	StateCreated State = iota
	StateStarting
	StateReady
	StateJoined
	StateRunning
	StateTerminated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateJoined:
		return "joined"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal は終端状態かどうかを返す
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateFailed
}

// ErrInvalidTransition は許可されていない状態遷移
var ErrInvalidTransition = errors.New("invalid state transition")

// Placement はワーカーの配置先
type Placement struct {
	Host    string `json:"host" yaml:"host"`
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
}

// IsLocal はローカル実行すべき配置かどうかを返す
func (p Placement) IsLocal() bool {
	switch p.Host {
	case "", "local", "localhost":
		return p.Address == ""
	default:
		return false
	}
}

// Target はリモート接続先を返す（解決済みアドレスがあれば優先）
func (p Placement) Target() string {
	if p.Address != "" {
		return p.Address
	}
	return p.Host
}

func (p Placement) String() string {
	if p.IsLocal() {
		return "local"
	}
	if p.Address != "" && p.Address != p.Host {
		return fmt.Sprintf("%s(%s)", p.Host, p.Address)
	}
	return p.Host
}

// StateHook は状態遷移の通知を受け取る
type StateHook func(w *Worker, from, to State)

// StartOptions はプロセス起動時のオプション
type StartOptions struct {
	WriteTimeout time.Duration // 標準入力への1回の書き込み上限
	LogOutput    bool          // 生出力をDEBUGログへ流す
}

// Worker はオーケストレータが管理する1つのストアノードプロセス
type Worker struct {
	id        int
	label     string
	role      Role
	placement Placement

	mu      sync.RWMutex
	state   State
	failure error
	hook    StateHook

	cmd     *exec.Cmd
	pgid    int
	started atomic.Bool
	channel *command.Channel
	watcher *watcher.Watcher
	exited  chan struct{}
	exitErr error

	teardownOnce sync.Once
	teardowns    atomic.Int32
	teardownErr  error
}

// New は新しいWorkerを作成する
func New(id int, role Role, placement Placement) *Worker {
	return &Worker{
		id:        id,
		label:     fmt.Sprintf("node-%d", id),
		role:      role,
		placement: placement,
		state:     StateCreated,
		exited:    make(chan struct{}),
	}
}

// ID はノードIDを返す
func (w *Worker) ID() int {
	return w.id
}

// Label はログ用のラベルを返す
func (w *Worker) Label() string {
	return w.label
}

// Role は役割を返す
func (w *Worker) Role() Role {
	return w.role
}

// Placement は配置先を返す
func (w *Worker) Placement() Placement {
	return w.placement
}

// SetStateHook は状態遷移フックを設定する
func (w *Worker) SetStateHook(hook StateHook) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hook = hook
}

// State は現在の状態を返す
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Err は Failed に至った原因を返す
func (w *Worker) Err() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.failure
}

// Transition は次の状態へ遷移する
func (w *Worker) Transition(to State) error {
	w.mu.Lock()
	from := w.state
	if !allowed(from, to) {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, w.label, from, to)
	}
	w.state = to
	hook := w.hook
	w.mu.Unlock()

	if hook != nil {
		hook(w, from, to)
	}
	return nil
}

// Fail はワーカーを Failed にする（終端状態なら何もしない）
func (w *Worker) Fail(cause error) {
	w.mu.Lock()
	from := w.state
	if from.Terminal() {
		w.mu.Unlock()
		return
	}
	w.state = StateFailed
	w.failure = cause
	hook := w.hook
	w.mu.Unlock()

	logger.Warn(w.label, "Worker failed in state %s: %v", from, cause)
	if hook != nil {
		hook(w, from, StateFailed)
	}
}

func allowed(from, to State) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StateFailed, StateTerminated:
		return true
	default:
		return to == from+1
	}
}

// Start はプロセスを自身のプロセスグループで起動し、入出力を接続する
// 失敗した場合ワーカーは Failed になる
func (w *Worker) Start(cmd *exec.Cmd, opts StartOptions) error {
	if err := w.start(cmd, opts); err != nil {
		w.Fail(err)
		return err
	}
	return nil
}

func (w *Worker) start(cmd *exec.Cmd, opts StartOptions) error {
	if w.State() != StateCreated {
		return fmt.Errorf("%w: %s already started", ErrInvalidTransition, w.label)
	}

	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW)
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW)
		return fmt.Errorf("stderr pipe: %w", err)
	}

	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW)
		return fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	// 子プロセス側の端は親では不要
	closeAll(stdinR, stdoutW, stderrW)

	w.cmd = cmd
	w.pgid = cmd.Process.Pid
	w.started.Store(true)

	w.watcher = watcher.New(w.label)
	if opts.LogOutput {
		w.watcher.SetTap(func(tag string, l watcher.Line) {
			logger.Output(tag, string(l.Stream), l.Text)
		})
	}
	w.watcher.Attach(watcher.Stdout, stdoutR)
	w.watcher.Attach(watcher.Stderr, stderrR)

	w.channel = command.New(stdinW, w.exited)
	w.channel.SetWriteTimeout(opts.WriteTimeout)

	go func() {
		w.exitErr = cmd.Wait()
		close(w.exited)
	}()

	logger.Info(w.label, "Started %s worker on %s (pid %d)", w.role, w.placement, w.pgid)
	return w.Transition(StateStarting)
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// Started はプロセスが起動済みかどうかを返す
func (w *Worker) Started() bool {
	return w.started.Load()
}

// Exited はプロセス終了時に close されるチャネルを返す
func (w *Worker) Exited() <-chan struct{} {
	return w.exited
}

// Send はコマンドを1行送信する
func (w *Worker) Send(ctx context.Context, text string) error {
	if !w.Started() {
		return fmt.Errorf("%w: %s not started", command.ErrChannelBroken, w.label)
	}
	return w.channel.Send(ctx, text)
}

// Await は出力から条件に一致する行を待つ
func (w *Worker) Await(ctx context.Context, match watcher.Matcher, timeout time.Duration) (watcher.Line, error) {
	if !w.Started() {
		return watcher.Line{}, watcher.ErrClosed
	}
	return w.watcher.AwaitMatch(ctx, match, timeout)
}

// Discard は未読の出力行を捨てる
func (w *Worker) Discard() int {
	if !w.Started() {
		return 0
	}
	return w.watcher.Discard()
}

// Teardown はプロセスグループを終了させる
// SIGTERM を送って grace だけ待ち、終了しなければ SIGKILL へ昇格する。
// 何度呼ばれても実際の処理は1回だけ行われる
func (w *Worker) Teardown(grace time.Duration) error {
	w.teardownOnce.Do(func() {
		if !w.Started() {
			return
		}
		w.teardowns.Add(1)
		w.teardownErr = w.teardown(grace)
	})
	return w.teardownErr
}

func (w *Worker) teardown(grace time.Duration) error {
	defer func() {
		_ = w.channel.Close()
		if w.State() != StateFailed {
			_ = w.Transition(StateTerminated)
		}
	}()

	if err := signalGroup(w.pgid, syscall.SIGTERM); err != nil {
		logger.Warn(w.label, "SIGTERM failed: %v", err)
	}

	select {
	case <-w.exited:
		logger.Debug(w.label, "Worker exited after SIGTERM")
		return nil
	case <-time.After(grace):
	}

	logger.Warn(w.label, "Worker did not exit within %v, sending SIGKILL", grace)
	if err := signalGroup(w.pgid, syscall.SIGKILL); err != nil {
		logger.Warn(w.label, "SIGKILL failed: %v", err)
	}

	select {
	case <-w.exited:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("%s: process group %d not reaped after SIGKILL", w.label, w.pgid)
	}
}

// signalGroup はプロセスグループ全体にシグナルを送る（既に消えていれば成功とみなす）
func signalGroup(pgid int, sig syscall.Signal) error {
	err := syscall.Kill(-pgid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// TeardownCount は実際に終了処理が行われた回数を返す（0または1）
func (w *Worker) TeardownCount() int {
	return int(w.teardowns.Load())
}

// ExitErr はプロセスの終了結果を返す（未終了なら nil）
func (w *Worker) ExitErr() error {
	select {
	case <-w.exited:
		return w.exitErr
	default:
		return nil
	}
}
