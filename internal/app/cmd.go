package app

import (
	"fmt"
	"strconv"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe は管理APIとフォーム送信APIを提供する。
	CommandServe Command = "serve"
	// CommandWorker はフィード処理ジョブとクリーンアップを実行する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行する。"migrate down [N]" でN段戻す。
	CommandMigrate Command = "migrate"
	// CommandUpgrade は旧アドオンからの移行を一度だけ実行して終了する。
	CommandUpgrade Command = "upgrade"
	// CommandHealthcheck は起動中のAPIサーバーの /health を確認する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandUpgrade):     CommandUpgrade,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}

// rollbackSteps は "migrate down [N]" で戻すステップ数を返す。
// down 以外は0（適用方向）。Nを省略した場合は1。
func rollbackSteps(args []string) (int, error) {
	if len(args) < 2 || args[1] != "down" {
		return 0, nil
	}
	if len(args) < 3 {
		return 1, nil
	}
	n, err := strconv.Atoi(args[2])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid rollback steps: %q", args[2])
	}
	return n, nil
}
