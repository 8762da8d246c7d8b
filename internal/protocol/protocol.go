package protocol

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"chord-bench/internal/watcher"
)

// ノードがそのまま出力するマーカー
const (
	MarkerReady        = "Server is up and running in"
	MarkerNodeAdded    = "New node added successfully!"
	MarkerChordCreated = "New chord created."
	MarkerInserted     = "Key inserted successfully."
)

var (
	readyPattern = regexp.MustCompile(`Server is up and running in ([0-9A-Za-z.\-]+):(\d+)`)
	errorPattern = regexp.MustCompile(`[Ee]rror`)
)

// ErrNoEndpoint は準備完了行からアドレスを読み取れなかったことを示す
var ErrNoEndpoint = errors.New("readiness line carries no endpoint")

// Endpoint はノードが準備完了行で通知するアドレス
type Endpoint struct {
	IP   string `json:"ip"`
	Port string `json:"port"`
}

func (e Endpoint) String() string {
	if e.IP == "" && e.Port == "" {
		return ""
	}
	return net.JoinHostPort(e.IP, e.Port)
}

// IsZero は未設定かどうかを返す
func (e Endpoint) IsZero() bool {
	return e.IP == "" && e.Port == ""
}

// ParseReadiness は準備完了行からアドレスを取り出す
func ParseReadiness(line string) (Endpoint, error) {
	m := readyPattern.FindStringSubmatch(line)
	if m == nil {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrNoEndpoint, line)
	}
	return Endpoint{IP: m[1], Port: m[2]}, nil
}

// JoinCommand はフォロワーの参加コマンド（ブートストラップのアドレスはノード側が解決する）
func JoinCommand() string {
	return "join"
}

// BootstrapJoinCommand はブートストラップ自身のアドレスで新しいリングを作るコマンド
func BootstrapJoinCommand(ep Endpoint) string {
	return fmt.Sprintf("join -b %s %s", ep.IP, ep.Port)
}

// InsertCommand はキーと値を1組挿入するコマンド
func InsertCommand(key, value string) string {
	return fmt.Sprintf("insert %s %s", key, value)
}

// IsError は要求の拒否を示す行かどうかを返す
func IsError(line string) bool {
	return errorPattern.MatchString(line)
}

// IsInsertAck は挿入成功の応答行かどうかを返す
func IsInsertAck(line string) bool {
	return strings.Contains(line, MarkerInserted)
}

// Ready は準備完了行に一致する
func Ready() watcher.Matcher {
	return watcher.Contains(MarkerReady)
}

// JoinConfirmed はいずれかの参加確認行に一致する
func JoinConfirmed() watcher.Matcher {
	return watcher.Contains(MarkerNodeAdded, MarkerChordCreated)
}

// InsertOutcome は挿入成功行またはエラー行に一致する
func InsertOutcome() watcher.Matcher {
	return func(l watcher.Line) bool {
		return IsInsertAck(l.Text) || IsError(l.Text)
	}
}
