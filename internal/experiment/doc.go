// Package experiment は実験マトリクスの実行機能を提供する。
//
// Engine は (k, 一貫性ポリシー) の各構成について
// 起動 → 参加 → 並行負荷 → 後片付け → クールダウン を順に実行し、
// 構成ごとの結果（ExperimentResult）を蓄積する。
//
// # 障害の閉じ込め
//
// ある構成のどの段階で失敗しても、その構成の結果に記録して次の構成へ進む。
// マトリクス全体を止めるのは ctx のキャンセルだけで、その場合も起動済みの
// ワーカーは全て終了させる。
//
// # プリセット
//
// - local: ローカルで10ワーカー、k ∈ {1,3,5} × 両ポリシー
// - vm: team_32-vm1..vm6 に ssh でラウンドロビン配置
// - paper: 解決済みアドレス付きの5ホスト構成
// - quick: 3ワーカー、k=1 のみの動作確認
//
// # 使用例
//
//	engine := experiment.New(experiment.LocalPreset())
//	results, err := engine.Run(ctx)
//	for _, r := range results {
//	    fmt.Println(r.Report())
//	}
package experiment
