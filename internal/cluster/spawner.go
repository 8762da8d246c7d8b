package cluster

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"chord-bench/internal/node"
)

// NodeCommand はストアノードの起動コマンドのテンプレート
// Args には {k} {consistency} {node_id} {role} のプレースホルダを使える
type NodeCommand struct {
	Args []string `json:"args" yaml:"args"`
	Dir  string   `json:"dir,omitempty" yaml:"dir,omitempty"`
	Env  []string `json:"env,omitempty" yaml:"env,omitempty"`
}

// DefaultNodeCommand はデフォルトの起動コマンドを返す
func DefaultNodeCommand() NodeCommand {
	return NodeCommand{
		Args: []string{"python3", "chordify.py", "{k}", "{consistency}"},
	}
}

// Params はテンプレート展開に使う値
type Params struct {
	K           int
	Consistency string
	NodeID      int
	Role        node.Role
}

// Expand はプレースホルダを展開した引数列を返す
func (c NodeCommand) Expand(p Params) []string {
	r := strings.NewReplacer(
		"{k}", strconv.Itoa(p.K),
		"{consistency}", p.Consistency,
		"{node_id}", strconv.Itoa(p.NodeID),
		"{role}", p.Role.String(),
	)
	out := make([]string, len(c.Args))
	for i, a := range c.Args {
		out[i] = r.Replace(a)
	}
	return out
}

// RemoteConfig はリモート実行（ssh）の設定
type RemoteConfig struct {
	SSHCommand string   `json:"ssh_command" yaml:"ssh_command"`
	SSHArgs    []string `json:"ssh_args,omitempty" yaml:"ssh_args,omitempty"`
	Dir        string   `json:"dir,omitempty" yaml:"dir,omitempty"` // リモート側の作業ディレクトリ
}

// DefaultRemoteConfig はデフォルトのリモート設定を返す
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		SSHCommand: "ssh",
		SSHArgs:    []string{"-o", "BatchMode=yes"},
	}
}

// Spawner は配置先に応じて起動用の exec.Cmd を組み立てる
type Spawner struct {
	Node   NodeCommand
	Remote RemoteConfig
}

// NewSpawner は新しいSpawnerを作成する
func NewSpawner(nc NodeCommand, rc RemoteConfig) *Spawner {
	if rc.SSHCommand == "" {
		rc.SSHCommand = "ssh"
	}
	return &Spawner{Node: nc, Remote: rc}
}

// Command はワーカー1つ分の起動コマンドを返す
// ローカル配置は直接、リモート配置は ssh 経由で実行する
func (s *Spawner) Command(w *node.Worker, p Params) (*exec.Cmd, error) {
	args := s.Node.Expand(p)
	if len(args) == 0 || args[0] == "" {
		return nil, fmt.Errorf("%w: empty node command", ErrLaunch)
	}

	pl := w.Placement()
	if pl.IsLocal() {
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Dir = s.Node.Dir
		cmd.Env = append(os.Environ(), s.Node.Env...)
		return cmd, nil
	}

	sshArgs := append([]string{}, s.Remote.SSHArgs...)
	sshArgs = append(sshArgs, pl.Target(), s.RemoteScript(args))
	return exec.Command(s.Remote.SSHCommand, sshArgs...), nil
}

// RemoteScript はリモートシェルで実行するコマンド文字列を返す
func (s *Spawner) RemoteScript(args []string) string {
	var b strings.Builder
	dir := s.Remote.Dir
	if dir == "" {
		dir = s.Node.Dir
	}
	if dir != "" {
		b.WriteString("cd ")
		b.WriteString(shellQuote(dir))
		b.WriteString(" && ")
	}
	b.WriteString("exec ")
	if len(s.Node.Env) > 0 {
		b.WriteString("env ")
		for _, e := range s.Node.Env {
			b.WriteString(shellQuote(e))
			b.WriteByte(' ')
		}
	}
	for i, a := range args {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(shellQuote(a))
	}
	return b.String()
}

// shellQuote はPOSIXシェル向けにシングルクォートで囲む
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, unsafeShellRune) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func unsafeShellRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./=:,@+", r)
}
