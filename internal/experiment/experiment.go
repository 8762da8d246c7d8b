package experiment

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"chord-bench/internal/cluster"
	"chord-bench/internal/events"
	"chord-bench/internal/join"
	"chord-bench/internal/logger"
	"chord-bench/internal/metrics"
	"chord-bench/internal/node"
	"chord-bench/internal/report"
	"chord-bench/internal/workload"
)

// Engine は実験マトリクスを順に実行する
type Engine struct {
	config   Config
	eventBus *events.Bus
	out      io.Writer
	spawner  *cluster.Spawner

	mu      sync.RWMutex
	running bool
	current *ExperimentConfig
	cluster *cluster.Cluster
	records map[int]*metrics.Record
	results []*Result
	total   int
}

// New は新しいEngineを作成する
func New(config Config) *Engine {
	return &Engine{
		config:  config,
		out:     os.Stdout,
		spawner: cluster.NewSpawner(config.Node, config.Remote),
	}
}

// SetEventBus はイベントバスを設定する
func (e *Engine) SetEventBus(bus *events.Bus) {
	e.eventBus = bus
}

// SetOutput は結果行とマーカーの出力先を設定する（デフォルトは標準出力）
func (e *Engine) SetOutput(w io.Writer) {
	e.out = w
}

// Config は設定を返す
func (e *Engine) Config() Config {
	return e.config
}

func (e *Engine) publish(ev events.Event) {
	if e.eventBus != nil {
		e.eventBus.Publish(ev)
	}
}

// Run はマトリクスの全構成を実行し、最後に構成ごとの結果行を出力する
// 構成単位の失敗は結果に記録して次へ進む。キャンセルされた場合は以降の構成を
// スケジュールせず、それまでの結果と ctx.Err() を返す
func (e *Engine) Run(ctx context.Context) ([]*Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("experiment is already running")
	}
	matrix := e.config.Matrix()
	e.running = true
	e.results = nil
	e.total = len(matrix)
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	logger.Info("", "=== Experiment '%s' started (%d configurations) ===", e.config.Name, len(matrix))

	var results []*Result
	for i, ec := range matrix {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && e.config.Cooldown > 0 {
			logger.Debug("", "Cooling down for %v", e.config.Cooldown)
			if !sleep(ctx, e.config.Cooldown) {
				break
			}
		}

		res := e.RunOne(ctx, ec)
		results = append(results, res)

		e.mu.Lock()
		e.results = append(e.results, res)
		e.mu.Unlock()
	}

	if ctx.Err() != nil {
		logger.Warn("", "Experiment cancelled after %d/%d configurations", len(results), len(matrix))
	}

	_, _ = fmt.Fprintln(e.out, "\n=========== Experiment Results ===========")
	for _, res := range results {
		_, _ = fmt.Fprintln(e.out, res.SummaryLine())
	}

	e.publish(events.NewMatrixCompleteEvent(len(results)))
	logger.Info("", "=== Experiment '%s' completed ===", e.config.Name)

	return results, ctx.Err()
}

// RunOne は1構成を launch -> join -> workload -> teardown の順に実行する
// どの段階で失敗しても起動済みのワーカーは必ず終了させ、部分的な結果を返す
func (e *Engine) RunOne(ctx context.Context, ec ExperimentConfig) *Result {
	res := &Result{
		Config:    ec,
		StartTime: time.Now(),
		Records:   make(map[int]*metrics.Record),
	}

	logger.Info("", "--- Running %s with %d workers ---", ec, len(ec.Placements))
	e.publish(events.NewExperimentStartEvent(ec.K, string(ec.Consistency), len(ec.Placements)))

	launcher := cluster.NewLauncher(e.spawner, cluster.Options{
		Parallelism: e.config.LaunchParallelism,
		Stagger:     e.config.Stagger,
		Start: node.StartOptions{
			WriteTimeout: e.config.WriteTimeout,
			LogOutput:    e.config.LogOutput,
		},
	})
	launcher.SetStateHook(e.onStateChange)

	c, err := launcher.Prepare(cluster.Spec{
		K:           ec.K,
		Consistency: string(ec.Consistency),
		Placements:  ec.Placements,
	})
	if err != nil {
		return e.finish(res, nil, err)
	}

	for _, w := range c.Workers() {
		res.Records[w.ID()] = metrics.NewRecord(w.ID(), w.Label())
	}
	e.setCurrent(&ec, c, res.Records)

	err = e.execute(ctx, launcher, c, res)

	if terr := c.Teardown(e.config.TeardownGrace); terr != nil {
		logger.Warn("", "Teardown of %s: %v", ec, terr)
	}
	e.setCurrent(nil, nil, nil)

	return e.finish(res, c, err)
}

// execute は参加フェーズと負荷フェーズを実行する
func (e *Engine) execute(ctx context.Context, launcher *cluster.Launcher, c *cluster.Cluster, res *Result) error {
	outcome, err := join.New(e.config.Join, launcher).Run(ctx, c)
	res.Bootstrap = outcome.Bootstrap
	if err != nil {
		logger.Error("", "Configuration %s aborted: %v", res.Config, err)
		return err
	}
	e.publish(events.NewBootstrapReadyEvent(c.Bootstrap().Label(), outcome.Bootstrap.String()))

	e.runWorkload(ctx, outcome.Joined, res.Records)
	return ctx.Err()
}

// runWorkload は参加済みワーカーごとに負荷ドライバを並行実行する
func (e *Engine) runWorkload(ctx context.Context, joined []*node.Worker, records map[int]*metrics.Record) {
	driver := workload.NewDriver(e.config.Workload)

	var g errgroup.Group
	for _, w := range joined {
		rec := records[w.ID()]
		if err := w.Transition(node.StateRunning); err != nil {
			rec.Stop(err)
			continue
		}

		batch, err := e.config.Source.Load(w.ID())
		if err != nil {
			logger.Warn(w.Label(), "No workload: %v", err)
			rec.Stop(err)
			continue
		}

		g.Go(func() error {
			_ = driver.Run(ctx, w, batch, rec)
			return nil
		})
	}
	_ = g.Wait()

	for _, w := range joined {
		rec := records[w.ID()]
		e.publish(events.NewWorkerResultEvent(w.Label(), rec.Count(), rec.Duration(), rec.Rate(), rec.Err()))
		if e.config.EmitMarkers {
			if err := report.WriteMarkers(e.out, w.Label(), rec); err != nil {
				logger.Warn(w.Label(), "Failed to write markers: %v", err)
			}
		}
	}
}

// finish は集計して結果を確定する
func (e *Engine) finish(res *Result, c *cluster.Cluster, err error) *Result {
	records := make([]*metrics.Record, 0, len(res.Records))
	for id := 0; id < len(res.Records); id++ {
		records = append(records, res.Records[id])
	}
	res.Aggregate = metrics.Summarize(records)
	res.Err = err
	if err != nil {
		res.Error = err.Error()
	}

	if c != nil {
		for _, w := range c.Workers() {
			wr := WorkerResult{
				Snapshot:  res.Records[w.ID()].Snapshot(),
				Role:      w.Role().String(),
				Placement: w.Placement().String(),
				State:     w.State().String(),
			}
			if werr := w.Err(); werr != nil {
				wr.Error = werr.Error()
			}
			res.Workers = append(res.Workers, wr)
		}
	}
	res.EndTime = time.Now()

	logger.Info("", "Result %s: %d keys, %.1f keys/sec (%d/%d workers succeeded)",
		res.Config, res.Aggregate.TotalInserted, res.Aggregate.Throughput,
		res.Aggregate.Succeeded, res.Aggregate.Workers)
	e.publish(events.NewExperimentResultEvent(res.Config.K, string(res.Config.Consistency),
		res.Aggregate.TotalInserted, res.Aggregate.Throughput, err))
	return res
}

func (e *Engine) onStateChange(w *node.Worker, from, to node.State) {
	var cause error
	if to == node.StateFailed {
		cause = w.Err()
	}
	logger.Debug(w.Label(), "%s -> %s", from, to)
	e.publish(events.NewWorkerStateEvent(w.Label(), w.Role().String(), from.String(), to.String(), cause))
}

func (e *Engine) setCurrent(ec *ExperimentConfig, c *cluster.Cluster, records map[int]*metrics.Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = ec
	e.cluster = c
	e.records = records
}

// IsRunning は実行中かどうかを返す
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Results はこれまでに完了した構成の結果を返す
func (e *Engine) Results() []*Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*Result(nil), e.results...)
}

// WorkerStatus は実行中ワーカーの状態
type WorkerStatus struct {
	NodeID    int    `json:"node_id"`
	Label     string `json:"label"`
	Role      string `json:"role"`
	Placement string `json:"placement"`
	State     string `json:"state"`
	Inserted  int    `json:"inserted"`
	Error     string `json:"error,omitempty"`
}

// Status は実行状況のスナップショット
type Status struct {
	Name      string            `json:"name"`
	Running   bool              `json:"running"`
	Completed int               `json:"completed"`
	Total     int               `json:"total"`
	Current   *ExperimentConfig `json:"current,omitempty"`
	Workers   []WorkerStatus    `json:"workers"`
}

// Status は現在の実行状況を返す
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Status{
		Name:      e.config.Name,
		Running:   e.running,
		Completed: len(e.results),
		Total:     e.total,
		Current:   e.current,
		Workers:   []WorkerStatus{},
	}
	if e.cluster == nil {
		return s
	}
	for _, w := range e.cluster.Workers() {
		ws := WorkerStatus{
			NodeID:    w.ID(),
			Label:     w.Label(),
			Role:      w.Role().String(),
			Placement: w.Placement().String(),
			State:     w.State().String(),
		}
		if rec := e.records[w.ID()]; rec != nil {
			ws.Inserted = rec.Count()
		}
		if err := w.Err(); err != nil {
			ws.Error = err.Error()
		}
		s.Workers = append(s.Workers, ws)
	}
	return s
}

// sleep は ctx がキャンセルされなければ d だけ待って true を返す
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
