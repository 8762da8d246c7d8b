package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"chord-bench/internal/experiment"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "利用可能なプリセットを表示",
	Run: func(cmd *cobra.Command, args []string) {
		printPresets(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(presetsCmd)
}

// printPresets は利用可能なプリセットを表示する
func printPresets(w io.Writer) {
	fmt.Fprintln(w, "利用可能なプリセット:")
	fmt.Fprintln(w)

	for _, name := range experiment.ListPresets() {
		cfg, _ := experiment.GetPreset(name)
		cons := make([]string, 0, len(cfg.Consistencies))
		for _, c := range cfg.Consistencies {
			cons = append(cons, string(c))
		}
		where := "local"
		if len(cfg.Hosts) > 0 {
			where = fmt.Sprintf("%d hosts", len(cfg.Hosts))
		}
		fmt.Fprintf(w, "  %-8s %s\n", name, cfg.Description)
		fmt.Fprintf(w, "  %-8s k=%v consistency=[%s] workers=%d (%s)\n",
			"", cfg.Replication, strings.Join(cons, ","), cfg.Workers, where)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "使用例: chord-bench run --preset quick")
}
