package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"chord-bench/internal/api"
	"chord-bench/internal/config"
	"chord-bench/internal/events"
	"chord-bench/internal/experiment"
	"chord-bench/internal/join"
	"chord-bench/internal/logger"
	"chord-bench/internal/node"
	"chord-bench/internal/publish"
	"chord-bench/internal/telemetry"
)

type runOptions struct {
	configFile   string
	presetName   string
	replication  []int
	consistency  []string
	workers      int
	hosts        []string
	nodeCommand  []string
	nodeDir      string
	partitions   string
	joinMode     string
	parallelism  int
	logOutput    bool
	noMarkers    bool
	serveAddr    string
	mqttBroker   string
	mqttTopic    string
	mqttClientID string
	jsonOut      string
	report       bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "実験マトリクスを実行",
	Example: `  # プリセットで実行
  chord-bench run --preset local

  # 設定ファイルから実行し、一部をフラグで上書き
  chord-bench run --config experiment.yaml --k 1,3 --consistency eventual-consistency

  # VM上で実行し、状況をHTTPで公開
  chord-bench run --preset vm --serve :8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildExperimentConfig(runOpts, cmd.Flags())
		if err != nil {
			return err
		}
		return runExperiment(cmd.Context(), cfg, runOpts)
	},
}

func init() {
	bindRunFlags(runCmd.Flags(), &runOpts)
	rootCmd.AddCommand(runCmd)
}

// bindRunFlags は run のフラグを o に結び付ける
func bindRunFlags(f *pflag.FlagSet, o *runOptions) {
	f.StringVar(&o.configFile, "config", "", "設定ファイルパス (YAML/JSON)")
	f.StringVar(&o.presetName, "preset", "", "プリセット名 (local, vm, paper, quick)")
	f.IntSliceVar(&o.replication, "k", nil, "レプリケーション係数の一覧 (例: 1,3,5)")
	f.StringSliceVar(&o.consistency, "consistency", nil, "一貫性ポリシーの一覧 (chain-replication, eventual-consistency)")
	f.IntVar(&o.workers, "workers", 0, "1構成あたりのワーカー数")
	f.StringSliceVar(&o.hosts, "hosts", nil, "配置先ホスト (host または host=address)")
	f.StringArrayVar(&o.nodeCommand, "node-cmd", nil, "ストアノードの起動コマンド（引数ごとに指定、{k} {consistency} {node_id} {role} を展開）")
	f.StringVar(&o.nodeDir, "node-dir", "", "ストアノードの作業ディレクトリ")
	f.StringVar(&o.partitions, "partitions", "", "パーティションファイルのディレクトリ")
	f.StringVar(&o.joinMode, "join-mode", "", "フォロワーの参加方式 (sequential, concurrent)")
	f.IntVar(&o.parallelism, "parallelism", 0, "同時起動数")
	f.BoolVar(&o.logOutput, "log-output", false, "ワーカーの生出力をDEBUGログへ流す")
	f.BoolVar(&o.noMarkers, "no-markers", false, "ワーカーごとのマーカー行を出力しない")
	f.StringVar(&o.serveAddr, "serve", "", "状況APIのアドレス (例: :8080)")
	f.StringVar(&o.mqttBroker, "mqtt-broker", "", "イベントを送るMQTTブローカー (例: localhost:1883)")
	f.StringVar(&o.mqttTopic, "mqtt-topic", publish.DefaultConfig().TopicPrefix, "MQTTトピックのプレフィックス")
	f.StringVar(&o.mqttClientID, "mqtt-client-id", "", "MQTTクライアントID")
	f.StringVar(&o.jsonOut, "json-out", "", "全結果をJSONで書き出すファイル")
	f.BoolVar(&o.report, "report", false, "構成ごとの詳細レポートを出力する")
}

// buildExperimentConfig は設定ファイル → プリセット → デフォルトの順に基礎設定を決め、
// 明示的に指定されたフラグで上書きする
func buildExperimentConfig(opts runOptions, flags *pflag.FlagSet) (experiment.Config, error) {
	var cfg experiment.Config

	switch {
	case opts.configFile != "":
		loaded, err := config.Load(opts.configFile)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	case opts.presetName != "":
		preset, ok := experiment.GetPreset(opts.presetName)
		if !ok {
			return cfg, fmt.Errorf("unknown preset: %s (available: %v)", opts.presetName, experiment.ListPresets())
		}
		cfg = preset
	default:
		cfg = experiment.DefaultConfig()
	}

	if flags.Changed("k") {
		cfg.Replication = opts.replication
		cfg.Entries = nil
	}
	if flags.Changed("consistency") {
		cons := make([]experiment.Consistency, 0, len(opts.consistency))
		for _, s := range opts.consistency {
			c, err := experiment.ParseConsistency(s)
			if err != nil {
				return cfg, err
			}
			cons = append(cons, c)
		}
		cfg.Consistencies = cons
		cfg.Entries = nil
	}
	if flags.Changed("workers") {
		cfg.Workers = opts.workers
	}
	if flags.Changed("hosts") {
		hosts, err := parsePlacements(opts.hosts)
		if err != nil {
			return cfg, err
		}
		cfg.Hosts = hosts
	}
	if flags.Changed("node-cmd") {
		cfg.Node.Args = opts.nodeCommand
	}
	if flags.Changed("node-dir") {
		cfg.Node.Dir = opts.nodeDir
	}
	if flags.Changed("partitions") {
		cfg.Source.Dir = opts.partitions
	}
	if flags.Changed("join-mode") {
		mode, err := join.ParseMode(opts.joinMode)
		if err != nil {
			return cfg, err
		}
		cfg.Join.Mode = mode
	}
	if flags.Changed("parallelism") {
		cfg.LaunchParallelism = opts.parallelism
	}
	if opts.logOutput {
		cfg.LogOutput = true
	}
	if opts.noMarkers {
		cfg.EmitMarkers = false
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// parsePlacements は "host" または "host=address" 形式の指定をパースする
func parsePlacements(values []string) ([]node.Placement, error) {
	out := make([]node.Placement, 0, len(values))
	for _, v := range values {
		host, addr, _ := strings.Cut(strings.TrimSpace(v), "=")
		if host == "" && addr == "" {
			return nil, fmt.Errorf("empty host in %q", v)
		}
		out = append(out, node.Placement{Host: host, Address: addr})
	}
	return out, nil
}

// runExperiment はマトリクスを実行し、結果行（とオプションの詳細・JSON）を出力する
func runExperiment(parent context.Context, cfg experiment.Config, opts runOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("", "chord-bench %s: experiment '%s', %d configurations, %d workers each",
		version, cfg.Name, len(cfg.MatrixEntries()), cfg.Workers)

	bus := events.NewBus()
	defer bus.Close()

	collector := telemetry.New()
	go collector.Run(ctx, bus.Subscribe())

	if opts.mqttBroker != "" {
		pcfg := publish.DefaultConfig()
		pcfg.Broker = opts.mqttBroker
		pcfg.TopicPrefix = opts.mqttTopic
		pcfg.ClientID = opts.mqttClientID
		pub, err := publish.Connect(pcfg)
		if err != nil {
			// 通知先が無くても実験自体は行う
			logger.Warn("", "MQTT disabled: %v", err)
		} else {
			defer pub.Close()
			go pub.Run(ctx, bus.Subscribe())
		}
	}

	engine := experiment.New(cfg)
	engine.SetEventBus(bus)

	if opts.serveAddr != "" {
		srv := api.NewServer(opts.serveAddr, engine, bus, collector.Handler())
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("", "API server: %v", err)
			}
		}()
	}

	results, runErr := engine.Run(ctx)

	if opts.report {
		for _, res := range results {
			fmt.Println(res.Report())
		}
	}

	if opts.jsonOut != "" {
		if err := writeResults(opts.jsonOut, cfg, results); err != nil {
			logger.Error("", "Failed to write results: %v", err)
		} else {
			logger.Info("", "Results written to %s", opts.jsonOut)
		}
	}

	if errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("interrupted after %d configurations", len(results))
	}
	return runErr
}

// resultFile は --json-out の内容
type resultFile struct {
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Workers     int                  `json:"workers"`
	JoinMode    join.Mode            `json:"join_mode"`
	Results     []*experiment.Result `json:"results"`
}

func writeResults(path string, cfg experiment.Config, results []*experiment.Result) error {
	mode := cfg.Join.Mode
	if mode == "" {
		mode = join.ModeSequential
	}
	data, err := json.MarshalIndent(resultFile{
		Name:        cfg.Name,
		Description: cfg.Description,
		Workers:     cfg.Workers,
		JoinMode:    mode,
		Results:     results,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
