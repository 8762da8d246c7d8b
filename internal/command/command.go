package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrChannelBroken はワーカーの入力ストリームが閉じているか、プロセスが終了済みであることを示す
// 呼び出し側はリトライせず、そのワーカーへの送信を即座に打ち切ること
var ErrChannelBroken = errors.New("command channel broken")

// deadlineWriter は書き込み期限を設定できるライター（*os.File のパイプなど）
type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

// Channel はワーカーの標準入力へ改行終端のコマンドを書き込む
type Channel struct {
	mu      sync.Mutex
	w       io.WriteCloser
	bw      *bufio.Writer
	exited  <-chan struct{}
	timeout time.Duration
	broken  error

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New は新しいChannelを作成する
// exited はプロセス終了時に close されるチャネル（nil可）
func New(w io.WriteCloser, exited <-chan struct{}) *Channel {
	return &Channel{
		w:      w,
		bw:     bufio.NewWriter(w),
		exited: exited,
	}
}

// SetWriteTimeout は1回の書き込みの上限時間を設定する（0で無制限）
// 期限設定に対応しないライターでは無視される
func (c *Channel) SetWriteTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// Send は text に改行を付けて書き込み、フラッシュする
func (c *Channel) Send(ctx context.Context, text string) error {
	if strings.ContainsAny(text, "\r\n") {
		return fmt.Errorf("command must be a single line: %q", text)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return c.broken
	}
	if c.closed.Load() {
		return c.markBroken(errors.New("channel closed"))
	}
	if c.exited != nil {
		select {
		case <-c.exited:
			return c.markBroken(errors.New("worker process exited"))
		default:
		}
	}

	if dw, ok := c.w.(deadlineWriter); ok && c.timeout > 0 {
		_ = dw.SetWriteDeadline(time.Now().Add(c.timeout))
	}

	if _, err := c.bw.WriteString(text + "\n"); err != nil {
		return c.markBroken(err)
	}
	if err := c.bw.Flush(); err != nil {
		return c.markBroken(err)
	}
	return nil
}

// markBroken は以降の送信を全て失敗させる
func (c *Channel) markBroken(cause error) error {
	c.broken = fmt.Errorf("%w: %v", ErrChannelBroken, cause)
	return c.broken
}

// Broken はチャネルが壊れているかを返す
func (c *Channel) Broken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken != nil
}

// Close は入力ストリームを閉じる
// Send がブロック中でも呼べるよう、ロックを取らずにライターを閉じる
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.w.Close()
	})
	return c.closeErr
}
