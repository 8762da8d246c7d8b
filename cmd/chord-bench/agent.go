package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chord-bench/internal/agent"
	"chord-bench/internal/experiment"
)

var agentCfg = agent.DefaultConfig()

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "このホストでノードを1つ起動し、担当パーティションを挿入してマーカーを出力",
	Example: `  # 1台目（ブートストラップ）
  chord-bench agent --node-id 0 --k 3 --consistency chain-replication --bootstrap

  # 2台目以降
  chord-bench agent --node-id 1 --k 3 --consistency chain-replication --join-delay 10s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := experiment.ParseConsistency(agentCfg.Consistency)
		if err != nil {
			return err
		}
		agentCfg.Consistency = string(c)
		if agentCfg.K < 1 {
			return fmt.Errorf("--k must be positive")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a := agent.New(agentCfg)
		a.SetOutput(cmd.OutOrStdout())
		_, err = a.Run(ctx)
		if err != nil && ctx.Err() != nil {
			return fmt.Errorf("interrupted: %w", context.Cause(ctx))
		}
		return err
	},
}

func init() {
	f := agentCmd.Flags()
	f.IntVar(&agentCfg.NodeID, "node-id", 0, "ノードID（パーティション番号）")
	f.IntVar(&agentCfg.K, "k", 1, "レプリケーション係数")
	f.StringVar(&agentCfg.Consistency, "consistency", agentCfg.Consistency, "一貫性ポリシー")
	f.BoolVar(&agentCfg.Bootstrap, "bootstrap", false, "ブートストラップとして自己参加する")
	f.DurationVar(&agentCfg.JoinDelay, "join-delay", agentCfg.JoinDelay, "フォロワーが参加するまでの待ち時間")
	f.StringArrayVar(&agentCfg.Node.Args, "node-cmd", agentCfg.Node.Args, "ストアノードの起動コマンド（引数ごとに指定）")
	f.StringVar(&agentCfg.Node.Dir, "node-dir", "", "ストアノードの作業ディレクトリ")
	f.StringVar(&agentCfg.Source.Dir, "partitions", agentCfg.Source.Dir, "パーティションファイルのディレクトリ")
	f.DurationVar(&agentCfg.Join.ReadyTimeout, "ready-timeout", agentCfg.Join.ReadyTimeout, "準備完了行の待ち時間")
	f.DurationVar(&agentCfg.Join.JoinTimeout, "join-timeout", agentCfg.Join.JoinTimeout, "参加確認の待ち時間")
	f.DurationVar(&agentCfg.Workload.InsertTimeout, "insert-timeout", agentCfg.Workload.InsertTimeout, "挿入1件あたりの待ち時間")
	f.DurationVar(&agentCfg.TeardownGrace, "teardown-grace", agentCfg.TeardownGrace, "SIGTERM から SIGKILL までの猶予")
	f.BoolVar(&agentCfg.Start.LogOutput, "log-output", false, "ノードの生出力をDEBUGログへ流す")

	rootCmd.AddCommand(agentCmd)
}
