package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"chord-bench/internal/logger"
)

// Job はワーカーが実行するジョブを表す
// ctx はプールのコンテキストで、キャンセル後もキュー済みジョブは呼ばれる（ctx.Err() で判定すること）
type Job func(ctx context.Context)

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	NumWorkers  int // 同時実行数（0でCPU数）
	QueueFactor int // キューサイズ = NumWorkers * QueueFactor
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		NumWorkers:  0,
		QueueFactor: 4,
	}
}

// Pool は同時実行数を制限してジョブを実行する
// ワーカーの起動（ローカル/ssh）を並列かつ上限付きで行うために使う
type Pool struct {
	numWorkers int
	jobs       chan Job
	wg         sync.WaitGroup
	inflight   sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	started    bool
	stopping   atomic.Bool
	submitted  atomic.Uint64
	completed  atomic.Uint64
	mu         sync.Mutex
}

// NewPool は新しいワーカープールを作成する
// numWorkers が 0 以下の場合は CPU 数を使用
func NewPool(numWorkers int) *Pool {
	config := DefaultPoolConfig()
	config.NumWorkers = numWorkers
	return NewPoolWithConfig(config)
}

// NewPoolWithConfig は設定を指定してワーカープールを作成する
func NewPoolWithConfig(config PoolConfig) *Pool {
	numWorkers := config.NumWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	queueFactor := config.QueueFactor
	if queueFactor <= 0 {
		queueFactor = 4
	}
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan Job, numWorkers*queueFactor),
	}
}

// Start はワーカープールを起動する
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = true

	for range p.numWorkers {
		p.wg.Add(1)
		go p.worker()
	}

	logger.Debug("", "Pool started with %d workers", p.numWorkers)
}

// worker はキューが閉じられるまでジョブを実行する
func (p *Pool) worker() {
	defer p.wg.Done()

	for job := range p.jobs {
		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	defer p.inflight.Done()
	defer p.completed.Add(1)
	job(p.ctx)
}

// Submit はジョブをキューに入れる。キューに空きがなければブロックする
// 停止中またはコンテキストがキャンセル済みなら false を返す
func (p *Pool) Submit(job Job) bool {
	p.mu.Lock()
	if !p.started || p.stopping.Load() {
		p.mu.Unlock()
		return false
	}
	ctx := p.ctx
	p.inflight.Add(1)
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		p.inflight.Done()
		return false
	default:
	}

	select {
	case <-ctx.Done():
		p.inflight.Done()
		return false
	case p.jobs <- job:
		p.submitted.Add(1)
		return true
	}
}

// Wait は受け付けた全ジョブの完了を待つ
func (p *Pool) Wait() {
	p.inflight.Wait()
}

// Stop はワーカープールを停止する。受け付け済みのジョブは全て実行される
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopping.Load() {
		p.mu.Unlock()
		return
	}
	p.stopping.Store(true)
	p.mu.Unlock()

	p.inflight.Wait()
	close(p.jobs)
	p.wg.Wait()
	p.cancel()

	logger.Debug("", "Pool stopped (%d jobs completed)", p.completed.Load())
}

// NumWorkers はワーカー数を返す
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// QueueSize は現在のキューサイズを返す
func (p *Pool) QueueSize() int {
	return len(p.jobs)
}

// Completed は完了したジョブ数を返す
func (p *Pool) Completed() uint64 {
	return p.completed.Load()
}
