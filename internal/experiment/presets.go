package experiment

import (
	"fmt"
	"time"

	"chord-bench/internal/node"
)

// LocalPreset は全ワーカーをローカルで起動する標準マトリクスを返す
func LocalPreset() Config {
	c := DefaultConfig()
	c.Name = "local"
	c.Description = "10 local workers, k in {1,3,5} x both consistency policies"
	return c
}

// VMPreset は6台のVMにラウンドロビンで配置するマトリクスを返す
// ブートストラップは vm1 に置かれる
func VMPreset() Config {
	c := DefaultConfig()
	c.Name = "vm"
	c.Description = "10 workers over team_32-vm1..vm6 via ssh"
	c.Hosts = make([]node.Placement, 0, 6)
	for i := 1; i <= 6; i++ {
		c.Hosts = append(c.Hosts, node.Placement{Host: fmt.Sprintf("team_32-vm%d", i)})
	}
	c.LaunchParallelism = 6
	return c
}

// PaperPreset は解決済みアドレスを持つ5台構成のマトリクスを返す
func PaperPreset() Config {
	c := DefaultConfig()
	c.Name = "paper"
	c.Description = "10 workers over 5 hosts with pre-resolved 10.0.0.x addresses"
	c.Hosts = make([]node.Placement, 0, 5)
	for i := 1; i <= 5; i++ {
		c.Hosts = append(c.Hosts, node.Placement{
			Host:    fmt.Sprintf("team_32-vm%d", i),
			Address: fmt.Sprintf("10.0.0.%d", i),
		})
	}
	c.LaunchParallelism = 5
	c.Join.SettleDelay = 1 * time.Second
	return c
}

// QuickPreset は動作確認用の小さなマトリクスを返す
func QuickPreset() Config {
	c := DefaultConfig()
	c.Name = "quick"
	c.Description = "Quick check: 3 local workers, k=1, eventual consistency"
	c.Replication = []int{1}
	c.Consistencies = []Consistency{EventualConsistency}
	c.Workers = 3
	c.Stagger = 100 * time.Millisecond
	c.Join.ReadyTimeout = 10 * time.Second
	c.Join.JoinTimeout = 5 * time.Second
	c.Join.SettleDelay = 100 * time.Millisecond
	c.Join.StabilizeDelay = 1 * time.Second
	c.Workload.InsertTimeout = 2 * time.Second
	c.TeardownGrace = 2 * time.Second
	c.Cooldown = 500 * time.Millisecond
	return c
}

var presets = map[string]func() Config{
	"local": LocalPreset,
	"vm":    VMPreset,
	"paper": PaperPreset,
	"quick": QuickPreset,
}

// GetPreset は名前からプリセットを取得する
func GetPreset(name string) (Config, bool) {
	if fn, ok := presets[name]; ok {
		return fn(), true
	}
	return Config{}, false
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	return []string{"local", "vm", "paper", "quick"}
}
