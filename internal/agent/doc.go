// Package agent はホスト1台ぶんのエージェントモードを提供する。
//
// ワーカーを1つだけローカルで起動し、ブートストラップなら自己参加、
// フォロワーなら待機の後に参加させ、担当パーティションを挿入してから
// スクレイプ用マーカー（INSERTION_DURATION / INSERTED_KEYS / THROUGHPUT）を
// 標準出力へ書き出す。各ホストの出力はコーディネータ側で scrape により集計する。
package agent
