package watcher

import (
	"bufio"
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"
)

var (
	// ErrMiss は期限までに一致する行が現れなかったことを示す
	ErrMiss = errors.New("no matching output line before deadline")
	// ErrClosed は全ストリームが閉じ、未読行も尽きたことを示す
	ErrClosed = errors.New("worker output streams closed")
)

// Stream は出力ストリームの種類
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Line はワーカーが出力した1行
type Line struct {
	Stream Stream
	Text   string
	At     time.Time
}

// Matcher は行が条件を満たすかを判定する
type Matcher func(Line) bool

// Contains はいずれかの部分文字列を含む行に一致する
func Contains(subs ...string) Matcher {
	return func(l Line) bool {
		for _, s := range subs {
			if strings.Contains(l.Text, s) {
				return true
			}
		}
		return false
	}
}

// Regexp は正規表現に一致する行に一致する
func Regexp(re *regexp.Regexp) Matcher {
	return func(l Line) bool {
		return re.MatchString(l.Text)
	}
}

// Any はいずれかのMatcherに一致する行に一致する
func Any(matchers ...Matcher) Matcher {
	return func(l Line) bool {
		for _, m := range matchers {
			if m(l) {
				return true
			}
		}
		return false
	}
}

const defaultMaxPending = 1 << 16

// Watcher はワーカーの出力を行単位でバッファリングし、条件待ちを提供する
type Watcher struct {
	tag string

	mu         sync.Mutex
	pending    []Line
	open       int
	dropped    uint64
	maxPending int
	tap        func(tag string, l Line)

	notify chan struct{}
	wg     sync.WaitGroup
}

// New は新しいWatcherを作成する
func New(tag string) *Watcher {
	return &Watcher{
		tag:        tag,
		maxPending: defaultMaxPending,
		notify:     make(chan struct{}, 1),
	}
}

// SetTap は読み取った全行を受け取るコールバックを設定する（Attach前に呼ぶこと）
func (w *Watcher) SetTap(fn func(tag string, l Line)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tap = fn
}

// SetMaxPending は未読行の保持上限を設定する（超過分は古い行から捨てる）
func (w *Watcher) SetMaxPending(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n > 0 {
		w.maxPending = n
	}
}

// Attach はストリームを登録し、専用のゴルーチンで読み出しを開始する
// 各ストリームは独立して読み切られるため、読まれないパイプがワーカーを詰まらせることはない
func (w *Watcher) Attach(stream Stream, r io.Reader) {
	w.mu.Lock()
	w.open++
	w.mu.Unlock()

	w.wg.Add(1)
	go w.drain(stream, r)
}

// drain はEOFまで行を読み続ける
func (w *Watcher) drain(stream Stream, r io.Reader) {
	defer w.wg.Done()
	defer func() {
		if c, ok := r.(io.Closer); ok {
			_ = c.Close()
		}
		w.mu.Lock()
		w.open--
		w.mu.Unlock()
		w.signal()
	}()

	br := bufio.NewReader(r)
	for {
		text, err := br.ReadString('\n')
		if text != "" {
			w.push(Line{
				Stream: stream,
				Text:   strings.TrimRight(text, "\r\n"),
				At:     time.Now(),
			})
		}
		if err != nil {
			return
		}
	}
}

// push は行をバッファに追加して待機側に通知する
func (w *Watcher) push(l Line) {
	w.mu.Lock()
	if len(w.pending) >= w.maxPending {
		w.pending = w.pending[1:]
		w.dropped++
	}
	w.pending = append(w.pending, l)
	tap := w.tap
	w.mu.Unlock()

	if tap != nil {
		tap(w.tag, l)
	}
	w.signal()
}

func (w *Watcher) signal() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// scan は未読行を先頭から消費し、最初に一致した行を返す
// 一致行より後ろの行はバッファに残る
func (w *Watcher) scan(match Matcher) (Line, bool, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, l := range w.pending {
		if match(l) {
			w.pending = w.pending[i+1:]
			if len(w.pending) == 0 {
				w.pending = nil
			}
			return l, true, false
		}
	}
	w.pending = nil
	return Line{}, false, w.open == 0
}

// AwaitMatch は条件に一致する最初の行を待つ
// timeout が経過すると ErrMiss、ストリームが全て閉じると ErrClosed、
// ctx がキャンセルされると ctx.Err() を返す。timeout <= 0 の場合は ctx のみで打ち切る
func (w *Watcher) AwaitMatch(ctx context.Context, match Matcher, timeout time.Duration) (Line, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		line, ok, closed := w.scan(match)
		if ok {
			return line, nil
		}
		if closed {
			return Line{}, ErrClosed
		}

		select {
		case <-w.notify:
		case <-deadline:
			return Line{}, ErrMiss
		case <-ctx.Done():
			return Line{}, ctx.Err()
		}
	}
}

// Discard は未読行を全て捨て、捨てた行数を返す
// 直前のコマンドより前に出力された行を次の待機に持ち越さないために使う
func (w *Watcher) Discard() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.pending)
	w.pending = nil
	return n
}

// Pending は未読行数を返す
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Dropped は保持上限により捨てられた行数を返す
func (w *Watcher) Dropped() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Closed は全ストリームがEOFに達したかを返す
func (w *Watcher) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open == 0
}

// Wait は全ての読み出しゴルーチンの終了を待つ
func (w *Watcher) Wait() {
	w.wg.Wait()
}
