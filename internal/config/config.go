package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chord-bench/internal/experiment"
	"chord-bench/internal/join"
	"chord-bench/internal/node"

	"gopkg.in/yaml.v3"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Experiment ExperimentConfig `yaml:"experiment" json:"experiment"`
}

// ExperimentConfig は実験設定
type ExperimentConfig struct {
	Preset      string `yaml:"preset" json:"preset"` // 基にするプリセット（省略時はデフォルト）
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`

	Replication   []int         `yaml:"replication" json:"replication"`
	Consistencies []string      `yaml:"consistencies" json:"consistencies"`
	Matrix        []MatrixEntry `yaml:"matrix" json:"matrix"`

	Workers int          `yaml:"workers" json:"workers"`
	Hosts   []HostConfig `yaml:"hosts" json:"hosts"`

	Node     NodeConfig     `yaml:"node" json:"node"`
	Remote   RemoteConfig   `yaml:"remote" json:"remote"`
	Launch   LaunchConfig   `yaml:"launch" json:"launch"`
	Join     JoinConfig     `yaml:"join" json:"join"`
	Workload WorkloadConfig `yaml:"workload" json:"workload"`

	TeardownGrace string `yaml:"teardown_grace" json:"teardown_grace"`
	Cooldown      string `yaml:"cooldown" json:"cooldown"`
	Markers       *bool  `yaml:"markers" json:"markers"`
}

// MatrixEntry は明示的なマトリクス要素
type MatrixEntry struct {
	K           int    `yaml:"k" json:"k"`
	Consistency string `yaml:"consistency" json:"consistency"`
}

// HostConfig はワーカーの配置先ホスト
type HostConfig struct {
	Host    string `yaml:"host" json:"host"`
	Address string `yaml:"address" json:"address"`
}

// NodeConfig はストアノードの起動設定
type NodeConfig struct {
	Command []string `yaml:"command" json:"command"`
	Dir     string   `yaml:"dir" json:"dir"`
	Env     []string `yaml:"env" json:"env"`
}

// RemoteConfig はssh設定
type RemoteConfig struct {
	SSH     string   `yaml:"ssh" json:"ssh"`
	SSHArgs []string `yaml:"ssh_args" json:"ssh_args"`
	Dir     string   `yaml:"dir" json:"dir"`
}

// LaunchConfig は起動設定
type LaunchConfig struct {
	Parallelism  int    `yaml:"parallelism" json:"parallelism"`
	Stagger      string `yaml:"stagger" json:"stagger"`
	WriteTimeout string `yaml:"write_timeout" json:"write_timeout"`
	LogOutput    bool   `yaml:"log_output" json:"log_output"`
}

// JoinConfig は参加プロトコル設定
type JoinConfig struct {
	Mode           string `yaml:"mode" json:"mode"`
	ReadyTimeout   string `yaml:"ready_timeout" json:"ready_timeout"`
	JoinTimeout    string `yaml:"join_timeout" json:"join_timeout"`
	SettleDelay    string `yaml:"settle_delay" json:"settle_delay"`
	StabilizeDelay string `yaml:"stabilize_delay" json:"stabilize_delay"`
}

// WorkloadConfig は負荷設定
type WorkloadConfig struct {
	Dir           string `yaml:"dir" json:"dir"`
	Pattern       string `yaml:"pattern" json:"pattern"`
	InsertTimeout string `yaml:"insert_timeout" json:"insert_timeout"`
	Value         string `yaml:"value" json:"value"`
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// ToExperimentConfig はFileConfigをexperiment.Configに変換する
func (f *FileConfig) ToExperimentConfig() (experiment.Config, error) {
	ec := f.Experiment

	// ベース設定
	config := experiment.DefaultConfig()
	if ec.Preset != "" {
		preset, ok := experiment.GetPreset(ec.Preset)
		if !ok {
			return config, fmt.Errorf("unknown preset: %s", ec.Preset)
		}
		config = preset
	}

	if ec.Name != "" {
		config.Name = ec.Name
	}
	if ec.Description != "" {
		config.Description = ec.Description
	}

	// マトリクス
	if len(ec.Replication) > 0 {
		config.Replication = ec.Replication
	}
	if len(ec.Consistencies) > 0 {
		cons, err := parseConsistencies(ec.Consistencies)
		if err != nil {
			return config, err
		}
		config.Consistencies = cons
	}
	if len(ec.Matrix) > 0 {
		config.Entries = make([]experiment.MatrixEntry, 0, len(ec.Matrix))
		for _, m := range ec.Matrix {
			c, err := experiment.ParseConsistency(m.Consistency)
			if err != nil {
				return config, err
			}
			config.Entries = append(config.Entries, experiment.MatrixEntry{K: m.K, Consistency: c})
		}
	}

	// クラスタ
	if ec.Workers > 0 {
		config.Workers = ec.Workers
	}
	if len(ec.Hosts) > 0 {
		config.Hosts = make([]node.Placement, 0, len(ec.Hosts))
		for _, h := range ec.Hosts {
			config.Hosts = append(config.Hosts, node.Placement{Host: h.Host, Address: h.Address})
		}
	}
	if len(ec.Node.Command) > 0 {
		config.Node.Args = ec.Node.Command
	}
	if ec.Node.Dir != "" {
		config.Node.Dir = ec.Node.Dir
	}
	if len(ec.Node.Env) > 0 {
		config.Node.Env = ec.Node.Env
	}
	if ec.Remote.SSH != "" {
		config.Remote.SSHCommand = ec.Remote.SSH
	}
	if ec.Remote.SSHArgs != nil {
		config.Remote.SSHArgs = ec.Remote.SSHArgs
	}
	if ec.Remote.Dir != "" {
		config.Remote.Dir = ec.Remote.Dir
	}

	// 起動
	if ec.Launch.Parallelism > 0 {
		config.LaunchParallelism = ec.Launch.Parallelism
	}
	config.LogOutput = config.LogOutput || ec.Launch.LogOutput

	// 参加
	if ec.Join.Mode != "" {
		mode, err := join.ParseMode(ec.Join.Mode)
		if err != nil {
			return config, err
		}
		config.Join.Mode = mode
	}

	// 負荷
	if ec.Workload.Dir != "" {
		config.Source.Dir = ec.Workload.Dir
	}
	if ec.Workload.Pattern != "" {
		config.Source.Pattern = ec.Workload.Pattern
	}
	if ec.Workload.Value != "" {
		config.Workload.Value = ec.Workload.Value
	}
	if ec.Markers != nil {
		config.EmitMarkers = *ec.Markers
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"launch.stagger", ec.Launch.Stagger, &config.Stagger},
		{"launch.write_timeout", ec.Launch.WriteTimeout, &config.WriteTimeout},
		{"join.ready_timeout", ec.Join.ReadyTimeout, &config.Join.ReadyTimeout},
		{"join.join_timeout", ec.Join.JoinTimeout, &config.Join.JoinTimeout},
		{"join.settle_delay", ec.Join.SettleDelay, &config.Join.SettleDelay},
		{"join.stabilize_delay", ec.Join.StabilizeDelay, &config.Join.StabilizeDelay},
		{"workload.insert_timeout", ec.Workload.InsertTimeout, &config.Workload.InsertTimeout},
		{"teardown_grace", ec.TeardownGrace, &config.TeardownGrace},
		{"cooldown", ec.Cooldown, &config.Cooldown},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return config, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}

	return config, nil
}

// parseConsistencies は文字列の一貫性ポリシーをパースする
func parseConsistencies(values []string) ([]experiment.Consistency, error) {
	var out []experiment.Consistency

	for _, v := range values {
		c, err := experiment.ParseConsistency(v)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}

	return out, nil
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	ec := f.Experiment

	if ec.Workers < 0 {
		return fmt.Errorf("workers must be non-negative")
	}

	for _, k := range ec.Replication {
		if k < 1 {
			return fmt.Errorf("replication factors must be positive")
		}
	}

	for _, m := range ec.Matrix {
		if m.K < 1 {
			return fmt.Errorf("matrix entries must have a positive k")
		}
	}

	for i, h := range ec.Hosts {
		if h.Host == "" && h.Address == "" {
			return fmt.Errorf("hosts[%d] needs a host or an address", i)
		}
	}

	if ec.Launch.Parallelism < 0 {
		return fmt.Errorf("launch.parallelism must be non-negative")
	}

	return nil
}

// Load は設定ファイルを読み込み、検証して experiment.Config を返す
func Load(path string) (experiment.Config, error) {
	fc, err := LoadFile(path)
	if err != nil {
		return experiment.Config{}, err
	}
	if err := fc.Validate(); err != nil {
		return experiment.Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	config, err := fc.ToExperimentConfig()
	if err != nil {
		return config, err
	}
	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}
