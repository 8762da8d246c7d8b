// Package protocol はストアノードと交わす行単位のテキストプロトコルを定義する。
//
// 標準入力へ書くコマンド（join -b <ip> <port>、join、insert <key> <value>）と、
// 出力から探すマーカー文字列（準備完了・参加確認・挿入成功・エラー）を扱う。
//
//	line, _ := w.Await(ctx, protocol.Ready(), timeout)
//	ep, _ := protocol.ParseReadiness(line.Text)
//	_ = w.Send(ctx, protocol.BootstrapJoinCommand(ep))
package protocol
