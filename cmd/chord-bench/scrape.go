package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"chord-bench/internal/report"
)

var scrapeOpts struct {
	k           int
	consistency string
	perWorker   bool
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [files...]",
	Short: "エージェントの出力からマーカーを集計",
	Long: `scrape reads captured agent outputs (one file per host, or stdin when no
file is given), extracts the INSERTION_DURATION / INSERTED_KEYS / THROUGHPUT
markers and prints the aggregate throughput.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		markers, err := scrapeInputs(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		return printScrape(cmd.OutOrStdout(), markers)
	},
}

func init() {
	f := scrapeCmd.Flags()
	f.IntVar(&scrapeOpts.k, "k", 0, "結果行に表示するレプリケーション係数")
	f.StringVar(&scrapeOpts.consistency, "consistency", "", "結果行に表示する一貫性ポリシー")
	f.BoolVar(&scrapeOpts.perWorker, "per-worker", false, "ワーカーごとの値も表示する")

	rootCmd.AddCommand(scrapeCmd)
}

// scrapeInputs は各入力からマーカーを読み取る。ラベルのない行はファイル名に属する
func scrapeInputs(stdin io.Reader, paths []string) ([]report.WorkerMarkers, error) {
	if len(paths) == 0 {
		return report.ParseMarkers(stdin, "stdin")
	}

	var all []report.WorkerMarkers
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		label := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		markers, err := report.ParseMarkers(f, label)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		all = append(all, markers...)
	}
	return all, nil
}

func printScrape(w io.Writer, markers []report.WorkerMarkers) error {
	if len(markers) == 0 {
		return fmt.Errorf("no markers found")
	}

	if scrapeOpts.perWorker {
		for _, m := range markers {
			s := m.Sample()
			fmt.Fprintf(w, "%-16s keys=%-8d duration=%.3fs throughput=%.1f\n",
				m.Label, s.Count, s.Duration.Seconds(), m.Throughput)
		}
	}

	agg := report.Aggregate(markers)
	if scrapeOpts.consistency != "" {
		fmt.Fprintln(w, report.SummaryLine(scrapeOpts.k, scrapeOpts.consistency, agg.Throughput))
		return nil
	}
	fmt.Fprintf(w, "%d workers (%d succeeded): %d keys in %.3fs, %.1f keys/sec\n",
		agg.Workers, agg.Succeeded, agg.TotalInserted, agg.MaxDuration.Seconds(), agg.Throughput)
	return nil
}
