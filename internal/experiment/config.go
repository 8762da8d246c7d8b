package experiment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"chord-bench/internal/cluster"
	"chord-bench/internal/join"
	"chord-bench/internal/node"
	"chord-bench/internal/workload"
)

// Consistency はストアノードの一貫性ポリシー（起動引数としてそのまま渡す）
type Consistency string

const (
	ChainReplication    Consistency = "chain-replication"
	EventualConsistency Consistency = "eventual-consistency"
)

// ParseConsistency は文字列から一貫性ポリシーを解決する
func ParseConsistency(s string) (Consistency, error) {
	switch c := Consistency(strings.ToLower(strings.TrimSpace(s))); c {
	case ChainReplication, EventualConsistency:
		return c, nil
	default:
		return "", fmt.Errorf("unknown consistency policy: %s", s)
	}
}

// ExperimentConfig はマトリクスの1構成
type ExperimentConfig struct {
	K           int              `json:"k"`
	Consistency Consistency      `json:"consistency"`
	Placements  []node.Placement `json:"placements"`
}

func (c ExperimentConfig) String() string {
	return fmt.Sprintf("k=%d/%s", c.K, c.Consistency)
}

// MatrixEntry はマトリクスの1要素（k と一貫性ポリシーの組）
type MatrixEntry struct {
	K           int         `json:"k" yaml:"k"`
	Consistency Consistency `json:"consistency" yaml:"consistency"`
}

// Config は実験マトリクス全体の設定
type Config struct {
	Name        string
	Description string

	// マトリクス。Entries が空なら Replication x Consistencies の直積を使う
	Replication   []int         // k の一覧
	Consistencies []Consistency // 一貫性ポリシーの一覧
	Entries       []MatrixEntry // 明示的な実行順

	// クラスタ
	Workers           int              // 1構成あたりのワーカー数
	Hosts             []node.Placement // 空ならローカル実行
	Node              cluster.NodeCommand
	Remote            cluster.RemoteConfig
	LaunchParallelism int           // 同時起動数
	Stagger           time.Duration // 並列起動時のずらし
	WriteTimeout      time.Duration // 標準入力への1回の書き込み上限
	LogOutput         bool          // ワーカーの生出力をDEBUGログへ流す

	// 参加・負荷
	Join     join.Config
	Workload workload.Config
	Source   workload.Source

	// 後片付け
	TeardownGrace time.Duration
	Cooldown      time.Duration

	// 出力
	EmitMarkers bool // ワーカーごとのスクレイプ用マーカーを出力する
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Name:              "default",
		Description:       "Replication factor x consistency matrix on local workers",
		Replication:       []int{1, 3, 5},
		Consistencies:     []Consistency{ChainReplication, EventualConsistency},
		Workers:           10,
		Node:              cluster.DefaultNodeCommand(),
		Remote:            cluster.DefaultRemoteConfig(),
		LaunchParallelism: 4,
		Stagger:           500 * time.Millisecond,
		WriteTimeout:      5 * time.Second,
		Join:              join.DefaultConfig(),
		Workload:          workload.DefaultConfig(),
		Source:            workload.DefaultSource(),
		TeardownGrace:     5 * time.Second,
		Cooldown:          2 * time.Second,
		EmitMarkers:       true,
	}
}

// MatrixEntries は実行順のマトリクス要素を返す（直積の場合は k が外側、一貫性ポリシーが内側）
func (c Config) MatrixEntries() []MatrixEntry {
	if len(c.Entries) > 0 {
		return append([]MatrixEntry(nil), c.Entries...)
	}
	out := make([]MatrixEntry, 0, len(c.Replication)*len(c.Consistencies))
	for _, k := range c.Replication {
		for _, cons := range c.Consistencies {
			out = append(out, MatrixEntry{K: k, Consistency: cons})
		}
	}
	return out
}

// Matrix は実行順の構成一覧を返す
func (c Config) Matrix() []ExperimentConfig {
	placements := cluster.Distribute(c.Workers, c.Hosts)
	entries := c.MatrixEntries()
	out := make([]ExperimentConfig, 0, len(entries))
	for _, m := range entries {
		out = append(out, ExperimentConfig{
			K:           m.K,
			Consistency: m.Consistency,
			Placements:  append([]node.Placement(nil), placements...),
		})
	}
	return out
}

// Validate は設定の妥当性を検証する
func (c Config) Validate() error {
	var errs []error
	entries := c.MatrixEntries()
	if len(entries) == 0 {
		errs = append(errs, errors.New("experiment matrix is empty"))
	}
	for _, m := range entries {
		if m.K < 1 {
			errs = append(errs, fmt.Errorf("replication factor must be positive: %d", m.K))
		}
		if _, err := ParseConsistency(string(m.Consistency)); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1: %d", c.Workers))
	}
	if len(c.Node.Args) == 0 {
		errs = append(errs, errors.New("node command is empty"))
	}
	if _, err := join.ParseMode(string(c.Join.Mode)); err != nil {
		errs = append(errs, err)
	}
	if c.Join.ReadyTimeout <= 0 || c.Join.JoinTimeout <= 0 || c.Workload.InsertTimeout <= 0 {
		errs = append(errs, errors.New("ready, join and insert timeouts must be positive"))
	}
	if c.TeardownGrace <= 0 {
		errs = append(errs, errors.New("teardown grace must be positive"))
	}
	if c.Stagger < 0 || c.Cooldown < 0 || c.Join.SettleDelay < 0 || c.Join.StabilizeDelay < 0 {
		errs = append(errs, errors.New("delays must not be negative"))
	}
	return errors.Join(errs...)
}
