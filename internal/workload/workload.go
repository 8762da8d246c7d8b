package workload

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chord-bench/internal/command"
	"chord-bench/internal/logger"
	"chord-bench/internal/metrics"
	"chord-bench/internal/protocol"
	"chord-bench/internal/watcher"
)

var (
	// ErrInsertTimeout は挿入の応答が期限内に返らなかったことを示す
	ErrInsertTimeout = errors.New("insertion timeout")
	// ErrInsertRejected はノードがエラー行で挿入を拒否したことを示す
	ErrInsertRejected = errors.New("insertion rejected")
)

// Source はワーカーごとのキー分割ファイルの場所
type Source struct {
	Dir     string `json:"dir" yaml:"dir"`
	Pattern string `json:"pattern" yaml:"pattern"` // node_id を1つ受け取る書式
}

// DefaultSource はデフォルトの分割ファイル配置を返す
func DefaultSource() Source {
	return Source{
		Dir:     "../insert",
		Pattern: "insert_%02d_part.txt",
	}
}

// Path はノードIDに対応する分割ファイルのパスを返す
func (s Source) Path(nodeID int) string {
	return filepath.Join(s.Dir, fmt.Sprintf(s.Pattern, nodeID))
}

// KeyBatch は1ワーカーに割り当てられたキー列（挿入順）
type KeyBatch struct {
	NodeID int
	Path   string
	Keys   []string
}

// Len はキー数を返す
func (b KeyBatch) Len() int {
	return len(b.Keys)
}

// Load はノードIDの分割ファイルを読み込む
func (s Source) Load(nodeID int) (KeyBatch, error) {
	path := s.Path(nodeID)
	f, err := os.Open(path)
	if err != nil {
		return KeyBatch{NodeID: nodeID, Path: path}, fmt.Errorf("open key partition: %w", err)
	}
	defer func() { _ = f.Close() }()

	keys, err := ReadKeys(f)
	if err != nil {
		return KeyBatch{NodeID: nodeID, Path: path}, fmt.Errorf("read key partition %s: %w", path, err)
	}
	return KeyBatch{NodeID: nodeID, Path: path, Keys: keys}, nil
}

// ReadKeys は1行1キーで読み込む（前後の空白を除き、空行は無視、順序は保持）
func ReadKeys(r io.Reader) ([]string, error) {
	var keys []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		key := strings.TrimSpace(sc.Text())
		if key == "" {
			continue
		}
		keys = append(keys, key)
	}
	return keys, sc.Err()
}

// Config は負荷ドライバの設定
type Config struct {
	InsertTimeout time.Duration `json:"insert_timeout" yaml:"insert_timeout"`
	Value         string        `json:"value,omitempty" yaml:"value,omitempty"` // 空ならキー自身を値に使う
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{InsertTimeout: 5 * time.Second}
}

// Target は負荷を受けるワーカー（node.Worker が満たす）
type Target interface {
	Label() string
	Send(ctx context.Context, text string) error
	Discard() int
	Await(ctx context.Context, match watcher.Matcher, timeout time.Duration) (watcher.Line, error)
}

// Driver はキー列を挿入コマンドとして1つずつ再生する
type Driver struct {
	config Config
	now    func() time.Time
}

// NewDriver は新しいDriverを作成する
func NewDriver(config Config) *Driver {
	return &Driver{config: config, now: time.Now}
}

// Run はバッチのキーを順に挿入し、結果を rec に記録する
// 次のキーは直前のキーの結果が分かってから送る。エラー行・タイムアウト・チャネル断のいずれかで
// 以降のキーは送らずに打ち切り、それまでの記録を残したまま理由を返す
func (d *Driver) Run(ctx context.Context, t Target, batch KeyBatch, rec *metrics.Record) error {
	logger.Debug(t.Label(), "Replaying %d keys", batch.Len())

	for _, key := range batch.Keys {
		if err := ctx.Err(); err != nil {
			rec.Stop(err)
			return err
		}

		if err := d.insert(ctx, t, key, rec); err != nil {
			rec.Stop(err)
			logger.Warn(t.Label(), "Workload stopped after %d/%d keys: %v", rec.Count(), batch.Len(), err)
			return err
		}
	}

	logger.Info(t.Label(), "Inserted %d keys in %v", rec.Count(), rec.Duration())
	return nil
}

func (d *Driver) insert(ctx context.Context, t Target, key string, rec *metrics.Record) error {
	value := d.config.Value
	if value == "" {
		value = key
	}

	// 参加・安定化フェーズや直前のキーの残り行をこのキーの結果と取り違えない
	if n := t.Discard(); n > 0 {
		logger.Debug(t.Label(), "Discarded %d stale output lines before %q", n, key)
	}

	sent := d.now()
	rec.Attempt()
	if err := t.Send(ctx, protocol.InsertCommand(key, value)); err != nil {
		return err
	}

	line, err := t.Await(ctx, protocol.InsertOutcome(), d.config.InsertTimeout)
	switch {
	case errors.Is(err, watcher.ErrMiss):
		return fmt.Errorf("%w: key %q after %v", ErrInsertTimeout, key, d.config.InsertTimeout)
	case errors.Is(err, watcher.ErrClosed):
		return fmt.Errorf("%w: output closed while inserting %q", command.ErrChannelBroken, key)
	case err != nil:
		return err
	}

	if !protocol.IsInsertAck(line.Text) {
		return fmt.Errorf("%w: key %q: %s", ErrInsertRejected, key, line.Text)
	}

	at := d.now()
	rec.Success(at, at.Sub(sent))
	return nil
}
