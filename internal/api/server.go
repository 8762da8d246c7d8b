package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"chord-bench/internal/events"
	"chord-bench/internal/experiment"
	"chord-bench/internal/logger"

	"golang.org/x/net/websocket"
)

// Engine はサーバーが参照する実験エンジン
type Engine interface {
	Status() experiment.Status
	Results() []*experiment.Result
}

// Server はAPIサーバー
type Server struct {
	addr    string
	engine  Engine
	bus     *events.Bus
	metrics http.Handler

	mu        sync.RWMutex
	wsClients map[*websocket.Conn]struct{}

	server *http.Server
}

// NewServer は新しいAPIサーバーを作成する
// bus が nil の場合 /ws はイベントを配信しない。metrics が nil の場合 /metrics は登録しない
func NewServer(addr string, engine Engine, bus *events.Bus, metrics http.Handler) *Server {
	return &Server{
		addr:      addr,
		engine:    engine,
		bus:       bus,
		metrics:   metrics,
		wsClients: make(map[*websocket.Conn]struct{}),
	}
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/results", s.handleResults)
	mux.HandleFunc("/api/presets", s.handlePresets)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))
	return mux
}

// Start はサーバーを開始し、ctx がキャンセルされるまでブロックする
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.bus != nil {
		go s.broadcastLoop(ctx, s.bus.Subscribe())
	}

	logger.Info("", "API Server starting on http://%s", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.engine.Status())
}

// ResultSummary は構成1つ分の結果の要約
type ResultSummary struct {
	K             int     `json:"k"`
	Consistency   string  `json:"consistency"`
	Summary       string  `json:"summary"`
	Throughput    float64 `json:"throughput"`
	TotalInserted int     `json:"total_inserted"`
	Succeeded     int     `json:"succeeded"`
	Workers       int     `json:"workers"`
	Error         string  `json:"error,omitempty"`
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// ?detail=1 の場合はワーカー単位の記録を含む完全な結果を返す
	if r.URL.Query().Get("detail") != "" {
		s.writeJSON(w, s.engine.Results())
		return
	}

	summaries := []ResultSummary{}
	for _, res := range s.engine.Results() {
		summaries = append(summaries, ResultSummary{
			K:             res.Config.K,
			Consistency:   string(res.Config.Consistency),
			Summary:       res.SummaryLine(),
			Throughput:    res.Throughput(),
			TotalInserted: res.Aggregate.TotalInserted,
			Succeeded:     res.Aggregate.Succeeded,
			Workers:       res.Aggregate.Workers,
			Error:         res.Error,
		})
	}
	s.writeJSON(w, summaries)
}

// PresetInfo はプリセット情報
type PresetInfo struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Workers       int      `json:"workers"`
	Replication   []int    `json:"replication"`
	Consistencies []string `json:"consistencies"`
	Hosts         []string `json:"hosts,omitempty"`
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var presets []PresetInfo
	for _, name := range experiment.ListPresets() {
		cfg, _ := experiment.GetPreset(name)
		info := PresetInfo{
			Name:        name,
			Description: cfg.Description,
			Workers:     cfg.Workers,
			Replication: cfg.Replication,
		}
		for _, c := range cfg.Consistencies {
			info.Consistencies = append(info.Consistencies, string(c))
		}
		for _, h := range cfg.Hosts {
			info.Hosts = append(info.Hosts, h.String())
		}
		presets = append(presets, info)
	}

	s.writeJSON(w, presets)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// 接続直後に現在の状況を送る
	_ = websocket.JSON.Send(ws, map[string]any{
		"type":   "status",
		"status": s.engine.Status(),
	})

	// Keep connection alive
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

// ClientCount は接続中のWebSocketクライアント数を返す
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

func (s *Server) broadcast(data any) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

// broadcastLoop はバスのイベントを全クライアントへ中継する
func (s *Server) broadcastLoop(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.broadcast(ev)
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("", "Failed to encode JSON: %v", err)
	}
}
